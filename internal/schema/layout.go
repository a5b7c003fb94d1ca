// Package schema describes the Seed Society program's wire format: the
// fixed binary layouts of its plant and gardener accounts, the water
// instruction encoding and the program's custom error codes.
//
// All integers are little endian. Every account starts with an 8-byte
// discriminator, the first 8 bytes of sha256("account:<Name>");
// instructions start with sha256("global:<name>")[:8].
package schema

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/sprinkler/internal/ledger"
)

// DiscriminatorLength is the size of the account and instruction tag.
const DiscriminatorLength = 8

// NameLength is the fixed size of a plant name.
const NameLength = 12

// Account sizes, discriminator included.
const (
	PlantSize    = DiscriminatorLength + NameLength + ledger.PublicKeyLength + 4 + 8 + 1 + 1
	GardenerSize = DiscriminatorLength + 4 + 4 + 4 + 8 + ledger.PublicKeyLength + 1 + 1
)

// Discriminator is an 8-byte type tag.
type Discriminator [DiscriminatorLength]byte

// Domain prefixes for discriminators.
const (
	accountNamespace     = "account"
	instructionNamespace = "global"
)

// discriminator computes sha256(namespace + ":" + name)[:8].
func discriminator(namespace, name string) Discriminator {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorLength])
	return d
}

var (
	PlantDiscriminator    = discriminator(accountNamespace, "Plant")
	GardenerDiscriminator = discriminator(accountNamespace, "Gardener")
	WaterDiscriminator    = discriminator(instructionNamespace, "water")
)

// Name is a zero-padded plant label.
type Name [NameLength]byte

// String strips padding and returns the NFC-normalised label.
func (n Name) String() string {
	var b strings.Builder
	for _, c := range n {
		if c != 0 {
			b.WriteByte(c)
		}
	}
	return norm.NFC.String(b.String())
}

// NameFromString pads s into a Name. Labels longer than NameLength bytes
// are rejected.
func NameFromString(s string) (Name, error) {
	var n Name
	if len(s) > NameLength {
		return n, fmt.Errorf("schema: name %q is %d bytes, limit is %d", s, len(s), NameLength)
	}
	copy(n[:], s)
	return n, nil
}

// Plant is the decoded plant account.
type Plant struct {
	Address      ledger.PublicKey
	Name         Name
	Mint         ledger.PublicKey
	Watered      uint32
	WaterTimeout int64 // unix seconds before which watering is disallowed
	Level        uint8
	Bump         uint8
}

// Gardener is the decoded gardener (quota) account.
type Gardener struct {
	Address            ledger.PublicKey
	WateredOthers      uint32
	Watered            uint32
	WateredInTimeframe uint32
	WaterTimeout       int64
	Authority          ledger.PublicKey
	Bump               uint8
	Initialized        bool
}

// DecodeError reports a payload that does not match the expected layout.
type DecodeError struct {
	Account string // "plant" or "gardener"
	Address ledger.PublicKey
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("schema: cannot decode %s %s: %s", e.Account, e.Address, e.Reason)
}

// DecodePlant decodes a plant account. The payload must be exactly
// PlantSize bytes and carry the plant discriminator.
func DecodePlant(address ledger.PublicKey, data []byte) (*Plant, error) {
	if err := checkHeader("plant", address, data, PlantSize, PlantDiscriminator); err != nil {
		return nil, err
	}

	r := reader{buf: data[DiscriminatorLength:]}
	p := &Plant{Address: address}
	copy(p.Name[:], r.next(NameLength))
	p.Mint = r.publicKey()
	p.Watered = r.u32()
	p.WaterTimeout = r.i64()
	p.Level = r.u8()
	p.Bump = r.u8()
	return p, nil
}

// DecodeGardener decodes a gardener account.
func DecodeGardener(address ledger.PublicKey, data []byte) (*Gardener, error) {
	if err := checkHeader("gardener", address, data, GardenerSize, GardenerDiscriminator); err != nil {
		return nil, err
	}

	r := reader{buf: data[DiscriminatorLength:]}
	g := &Gardener{Address: address}
	g.WateredOthers = r.u32()
	g.Watered = r.u32()
	g.WateredInTimeframe = r.u32()
	g.WaterTimeout = r.i64()
	g.Authority = r.publicKey()
	g.Bump = r.u8()
	switch flag := r.u8(); flag {
	case 0:
	case 1:
		g.Initialized = true
	default:
		return nil, &DecodeError{Account: "gardener", Address: address, Reason: fmt.Sprintf("invalid bool byte %#x", flag)}
	}
	return g, nil
}

func checkHeader(account string, address ledger.PublicKey, data []byte, size int, want Discriminator) error {
	if len(data) != size {
		return &DecodeError{Account: account, Address: address, Reason: fmt.Sprintf("size %d, want %d", len(data), size)}
	}
	var got Discriminator
	copy(got[:], data[:DiscriminatorLength])
	if got != want {
		return &DecodeError{Account: account, Address: address, Reason: fmt.Sprintf("discriminator %x, want %x", got, want)}
	}
	return nil
}

// reader walks a buffer whose length has already been validated.
type reader struct {
	buf []byte
	off int
}

func (r *reader) next(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8   { return r.next(1)[0] }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.next(4)) }
func (r *reader) i64() int64  { return int64(binary.LittleEndian.Uint64(r.next(8))) }

func (r *reader) publicKey() ledger.PublicKey {
	var pk ledger.PublicKey
	copy(pk[:], r.next(ledger.PublicKeyLength))
	return pk
}
