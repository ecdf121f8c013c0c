package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"hmchain/core/types"
	"hmchain/storage"
)

const (
	ReceiptStatusSuccess  = "success"
	ReceiptStatusReverted = "reverted"
)

var (
	headKey       = []byte("hm/head")
	receiptPrefix = []byte("hm/receipt/")
)

// Receipt records the outcome of an executed call.
type Receipt struct {
	CallHash  string          `json:"callHash"`
	Height    uint64          `json:"height"`
	From      string          `json:"from"`
	Method    string          `json:"method"`
	Nonce     uint64          `json:"nonce"`
	Value     uint64          `json:"value"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Events    []types.Event   `json:"events"`
	Timestamp uint64          `json:"timestamp"`
	StateRoot string          `json:"stateRoot"`
}

// Succeeded reports whether the call committed its effects.
func (r *Receipt) Succeeded() bool { return r != nil && r.Status == ReceiptStatusSuccess }

// head is the last committed ledger position. It lives outside the trie.
type head struct {
	Root      common.Hash
	Height    uint64
	Timestamp uint64
}

func loadHead(db storage.Database) (head, bool, error) {
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return head{}, false, nil
	}
	if err != nil {
		return head{}, false, err
	}
	var h head
	if err := rlp.DecodeBytes(raw, &h); err != nil {
		return head{}, false, fmt.Errorf("decode head: %w", err)
	}
	return h, true, nil
}

func storeHead(db storage.Database, h head) error {
	encoded, err := rlp.EncodeToBytes(&h)
	if err != nil {
		return err
	}
	return db.Put(headKey, encoded)
}

func receiptKey(hash []byte) []byte {
	key := make([]byte, 0, len(receiptPrefix)+len(hash))
	key = append(key, receiptPrefix...)
	return append(key, hash...)
}

func loadReceipt(db storage.Database, hash []byte) (*Receipt, error) {
	raw, err := db.Get(receiptKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", hex.EncodeToString(hash), err)
	}
	return &receipt, nil
}

func storeReceipt(db storage.Database, hash []byte, receipt *Receipt) error {
	encoded, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return db.Put(receiptKey(hash), encoded)
}
