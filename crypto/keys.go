package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 address.
type AddressPrefix string

const HMPrefix AddressPrefix = "hm"

// AddressLength is the size of a raw account address.
const AddressLength = 20

// Address is a 20-byte account address rendered with a bech32 prefix.
type Address struct {
	prefix AddressPrefix
	raw    [AddressLength]byte
}

// NewAddress wraps raw address bytes. It fails when b is not 20 bytes long.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("crypto: address must be %d bytes, got %d", AddressLength, len(b))
	}
	var raw [AddressLength]byte
	copy(raw[:], b)
	return Address{prefix: prefix, raw: raw}, nil
}

// FromRaw wraps a fixed-size address with the default prefix.
func FromRaw(raw [AddressLength]byte) Address {
	return Address{prefix: HMPrefix, raw: raw}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.raw[:])
	return out
}

// Raw returns the fixed-size address used as a state key.
func (a Address) Raw() [AddressLength]byte { return a.raw }

func (a Address) Prefix() AddressPrefix { return a.prefix }

// DecodeAddress parses a bech32 address. Only the hm prefix is accepted.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if AddressPrefix(prefix) != HMPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// FormatRaw renders raw address bytes as a bech32 string.
func FormatRaw(raw [AddressLength]byte) string {
	return FromRaw(raw).String()
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the account address controlled by the key.
func (k *PublicKey) Address() Address {
	return FromRaw(crypto.PubkeyToAddress(*k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
