package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLength is the size of a Solana public key in bytes.
const PubkeyLength = 32

// Pubkey is a fixed-size account identifier. The canonical text form is base58.
type Pubkey [PubkeyLength]byte

// ParsePubkey parses a base58-encoded public key.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("invalid pubkey %q: %w", s, err)
	}
	if len(raw) != PubkeyLength {
		return pk, fmt.Errorf("invalid pubkey %q: expected %d bytes, got %d", s, PubkeyLength, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// PubkeyFromBytes builds a Pubkey from a raw byte slice.
func PubkeyFromBytes(raw []byte) (Pubkey, error) {
	var pk Pubkey
	if len(raw) != PubkeyLength {
		return pk, fmt.Errorf("invalid pubkey bytes: expected %d bytes, got %d", PubkeyLength, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// String returns the base58 representation.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether the pubkey is the all-zero value.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Bytes returns a copy of the raw key bytes.
func (p Pubkey) Bytes() []byte {
	out := make([]byte, PubkeyLength)
	copy(out, p[:])
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}
