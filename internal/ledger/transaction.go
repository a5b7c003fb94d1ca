package ledger

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
)

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Writable returns a writable, non-signing account reference.
func Writable(pk PublicKey) AccountMeta {
	return AccountMeta{PublicKey: pk, IsWritable: true}
}

// Readonly returns a read-only, non-signing account reference.
func Readonly(pk PublicKey) AccountMeta {
	return AccountMeta{PublicKey: pk}
}

// WritableSigner returns a writable signing account reference.
func WritableSigner(pk PublicKey) AccountMeta {
	return AccountMeta{PublicKey: pk, IsSigner: true, IsWritable: true}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// Message is a compiled legacy transaction message.
type Message struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
	AccountKeys                 []PublicKey
	RecentBlockhash             Hash
	Instructions                []CompiledInstruction
}

// CompiledInstruction references accounts by index into Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// maxAccountKeys bounds account indices to a single byte.
const maxAccountKeys = 256

// CompileMessage orders accounts the way the runtime requires:
// writable signers (fee payer first), read-only signers, writable
// non-signers, read-only non-signers. Within each group the first-seen
// order is kept.
func CompileMessage(feePayer PublicKey, blockhash Hash, instructions ...Instruction) (*Message, error) {
	if len(instructions) == 0 {
		return nil, errors.New("ledger: message needs at least one instruction")
	}

	type entry struct {
		meta  AccountMeta
		order int
	}
	seen := map[PublicKey]*entry{}
	var ordered []*entry
	add := func(meta AccountMeta) {
		if e, ok := seen[meta.PublicKey]; ok {
			e.meta.IsSigner = e.meta.IsSigner || meta.IsSigner
			e.meta.IsWritable = e.meta.IsWritable || meta.IsWritable
			return
		}
		e := &entry{meta: meta, order: len(ordered)}
		seen[meta.PublicKey] = e
		ordered = append(ordered, e)
	}

	add(WritableSigner(feePayer))
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			add(meta)
		}
		add(Readonly(ix.ProgramID))
	}

	group := func(m AccountMeta) int {
		switch {
		case m.IsSigner && m.IsWritable:
			return 0
		case m.IsSigner:
			return 1
		case m.IsWritable:
			return 2
		default:
			return 3
		}
	}

	var buckets [4][]PublicKey
	for _, e := range ordered {
		g := group(e.meta)
		buckets[g] = append(buckets[g], e.meta.PublicKey)
	}

	msg := &Message{RecentBlockhash: blockhash}
	for _, bucket := range buckets {
		msg.AccountKeys = append(msg.AccountKeys, bucket...)
	}
	if len(msg.AccountKeys) > maxAccountKeys {
		return nil, fmt.Errorf("ledger: message references %d accounts, limit is %d", len(msg.AccountKeys), maxAccountKeys)
	}
	msg.NumRequiredSignatures = uint8(len(buckets[0]) + len(buckets[1]))
	msg.NumReadonlySignedAccounts = uint8(len(buckets[1]))
	msg.NumReadonlyUnsignedAccounts = uint8(len(buckets[3]))

	index := make(map[PublicKey]uint8, len(msg.AccountKeys))
	for i, pk := range msg.AccountKeys {
		index[pk] = uint8(i)
	}
	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Data:           ix.Data,
		}
		for _, meta := range ix.Accounts {
			compiled.Accounts = append(compiled.Accounts, index[meta.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

// Signers returns the keys whose signatures the message requires, in order.
func (m *Message) Signers() []PublicKey {
	return m.AccountKeys[:m.NumRequiredSignatures]
}

// Serialize encodes the message in the legacy wire format.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.NumRequiredSignatures)
	buf.WriteByte(m.NumReadonlySignedAccounts)
	buf.WriteByte(m.NumReadonlyUnsignedAccounts)

	writeCompactU16(&buf, len(m.AccountKeys))
	for _, pk := range m.AccountKeys {
		buf.Write(pk[:])
	}
	buf.Write(m.RecentBlockhash[:])

	writeCompactU16(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeCompactU16(&buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeCompactU16(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Signatures []Signature
	Message    *Message
}

// SignTransaction signs msg with the given signers. Every required signer
// must be present.
func SignTransaction(msg *Message, signers ...*Signer) (*Transaction, error) {
	payload := msg.Serialize()
	byKey := make(map[PublicKey]*Signer, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}

	tx := &Transaction{Message: msg}
	for _, required := range msg.Signers() {
		s, ok := byKey[required]
		if !ok {
			return nil, fmt.Errorf("ledger: missing signer for %s", required)
		}
		tx.Signatures = append(tx.Signatures, s.Sign(payload))
	}
	return tx, nil
}

// Serialize encodes the signed transaction for submission.
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	writeCompactU16(&buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf.Write(sig[:])
	}
	buf.Write(tx.Message.Serialize())
	return buf.Bytes()
}

// Signature returns the transaction id (the fee payer's signature).
func (tx *Transaction) Signature() Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}
	return tx.Signatures[0]
}

// writeCompactU16 writes n as a little-endian base-128 varint (shortvec).
func writeCompactU16(buf *bytes.Buffer, n int) {
	rem := uint16(n)
	for {
		b := byte(rem & 0x7f)
		rem >>= 7
		if rem == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// Signer holds an ed25519 keypair.
type Signer struct {
	key ed25519.PrivateKey
	pub PublicKey
}

// NewSigner wraps a 64-byte ed25519 secret key (seed followed by public key).
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ledger: secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}
	key := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	derived := key.Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, secret[ed25519.SeedSize:]) {
		return nil, errors.New("ledger: secret key public half does not match its seed")
	}
	s := &Signer{key: key}
	copy(s.pub[:], derived)
	return s, nil
}

// NewSignerFromSeed derives a signer from a 32-byte seed.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ledger: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	s := &Signer{key: key}
	copy(s.pub[:], key.Public().(ed25519.PublicKey))
	return s, nil
}

// PublicKey returns the signer's address.
func (s *Signer) PublicKey() PublicKey {
	return s.pub
}

// Sign signs payload.
func (s *Signer) Sign(payload []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(s.key, payload))
	return sig
}
