package ledger

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of an account address in bytes.
const PublicKeyLength = 32

// Limits enforced by the runtime on program-derived address seeds.
const (
	MaxSeedLength = 32
	MaxSeeds      = 16
)

// pdaMarker is appended to every program-derived address preimage.
const pdaMarker = "ProgramDerivedAddress"

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("ledger: unable to find a viable program address bump seed")

// PublicKey is a 32-byte account address, rendered as base58.
type PublicKey [PublicKeyLength]byte

// PublicKeyFromBase58 decodes a base58 address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("ledger: invalid base58 public key %q: %w", s, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, fmt.Errorf("ledger: public key %q decodes to %d bytes, want %d", s, len(raw), PublicKeyLength)
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKey decodes a base58 address and panics on failure.
// Only for compile-time constants.
func MustPublicKey(s string) PublicKey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies b into a PublicKey. b must be exactly 32 bytes.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("ledger: public key must be %d bytes, got %d", PublicKeyLength, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 form.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether pk is the all-zero key.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Equals reports whether two keys are identical.
func (pk PublicKey) Equals(other PublicKey) bool {
	return pk == other
}

// Bytes returns a copy of the raw key.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeyLength)
	copy(out, pk[:])
	return out
}

// MarshalText renders the key as base58, so keys encode as JSON strings.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText parses a base58 key.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := PublicKeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// IsOnCurve reports whether the key is a valid compressed ed25519 point.
// Program-derived addresses are by construction off the curve.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress derives an address from seeds and a program id.
// It fails when the resulting hash lands on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return PublicKey{}, fmt.Errorf("ledger: %d seeds exceeds the limit of %d", len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return PublicKey{}, fmt.Errorf("ledger: seed %d is %d bytes, limit is %d", i, len(seed), MaxSeedLength)
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)

	if IsOnCurve(sum) {
		return PublicKey{}, errors.New("ledger: derived address is on the ed25519 curve")
	}
	return PublicKeyFromBytes(sum)
}

// FindProgramAddress searches bump seeds from 255 downwards and returns the
// first off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}
