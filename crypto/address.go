package crypto

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	AccountPrefix    AddressPrefix = "mm"
	MarketPrefix     AddressPrefix = "mmkt"
	AssetPrefix      AddressPrefix = "mmtok"
	ControllerPrefix AddressPrefix = "mmctl"
)

// AddressLength is the size of the raw address payload.
const AddressLength = 20

// Address represents a 20-byte ledger identity with a human-readable prefix.
// Addresses are comparable and may be used directly as map keys.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	addr := Address{prefix: prefix}
	copy(addr.bytes[:], b)
	return addr
}

// DeriveAddress deterministically maps a label (a market name, an account
// alias) to an address by hashing it together with the prefix.
func DeriveAddress(prefix AddressPrefix, label string) Address {
	label = strings.TrimSpace(label)
	digest := ethcrypto.Keccak256([]byte(string(prefix) + ":" + label))
	return NewAddress(prefix, digest[len(digest)-AddressLength:])
}

func (a Address) String() string {
	if a.prefix == "" {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the payload is all zero bytes.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

// Compare orders addresses by prefix and then payload. It is used to produce
// deterministic iteration orders over address keyed maps.
func (a Address) Compare(b Address) int {
	if c := strings.Compare(string(a.prefix), string(b.prefix)); c != 0 {
		return c
	}
	return bytes.Compare(a.bytes[:], b.bytes[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}
