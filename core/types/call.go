package types

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var errUnsigned = errors.New("call: missing signature")

// Call is a signed invocation of a market entry point. Value is the amount of
// the native asset the caller attaches; it is moved into the contract account
// before the entry point runs.
type Call struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Value  uint64          `json:"value"`
	Nonce  uint64          `json:"nonce"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from *[20]byte
}

type unsignedCall struct {
	Method string
	Params []byte
	Value  uint64
	Nonce  uint64
}

// Hash is keccak256 over the RLP encoding of the unsigned fields.
func (c *Call) Hash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(unsignedCall{
		Method: c.Method,
		Params: []byte(c.Params),
		Value:  c.Value,
		Nonce:  c.Nonce,
	})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

func (c *Call) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	c.R = new(big.Int).SetBytes(sig[:32])
	c.S = new(big.Int).SetBytes(sig[32:64])
	c.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	c.from = nil
	return nil
}

// From recovers the signer address.
func (c *Call) From() ([20]byte, error) {
	if c.from != nil {
		return *c.from, nil
	}
	if c.R == nil || c.S == nil || c.V == nil {
		return [20]byte{}, errUnsigned
	}
	hash, err := c.Hash()
	if err != nil {
		return [20]byte{}, err
	}
	rBytes, sBytes := c.R.Bytes(), c.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 || c.V.Uint64() < 27 {
		return [20]byte{}, errors.New("call: malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(c.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return [20]byte{}, err
	}
	from := [20]byte(crypto.PubkeyToAddress(*pubKey))
	c.from = &from
	return from, nil
}
