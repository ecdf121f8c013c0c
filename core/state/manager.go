package state

import (
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"hmchain/storage/trie"
)

// Manager reads and writes ledger state on top of the state trie. It holds no
// cache: the trie is the source of truth within and across calls.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

var (
	nativeBalancePrefix = []byte("native-balance:")
	noncePrefix         = []byte("nonce:")
)

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Singleton returns the key of a named singleton value.
func Singleton(name string) []byte {
	return []byte(name)
}

// AddressKey returns the key of addr within an address-keyed namespace.
func AddressKey(namespace string, addr [20]byte) []byte {
	return prefixedKey([]byte(namespace+"/addr/"), addr[:])
}

// BytesKey returns the key of b within a byte-keyed namespace.
func BytesKey(namespace string, b []byte) []byte {
	return prefixedKey([]byte(namespace+"/bytes/"), b)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the trie.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVGetList decodes an RLP list stored under key into the slice pointed to by
// out. Absent keys yield an empty, non-nil slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// NativeBalance returns the host-asset balance of addr.
func (m *Manager) NativeBalance(addr [20]byte) (*uint256.Int, error) {
	data, err := m.trie.Get(kvKey(prefixedKey(nativeBalancePrefix, addr[:])))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(data), nil
}

// SetNativeBalance overwrites the host-asset balance of addr.
func (m *Manager) SetNativeBalance(addr [20]byte, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return m.trie.Update(kvKey(prefixedKey(nativeBalancePrefix, addr[:])), amount.Bytes())
}

// Nonce returns the next expected call nonce for addr.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(prefixedKey(noncePrefix, addr[:]), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (m *Manager) SetNonce(addr [20]byte, nonce uint64) error {
	return m.KVPut(prefixedKey(noncePrefix, addr[:]), nonce)
}
