package ledger

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ErrAccountNotFound is returned by Client.GetAccountData for missing accounts.
var ErrAccountNotFound = errors.New("ledger: account not found")

// SignatureFromBase58 parses a base58 transaction signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("ledger: invalid signature %q: %w", s, err)
	}
	if len(raw) != SignatureLength {
		return sig, fmt.Errorf("ledger: signature decodes to %d bytes, want %d", len(raw), SignatureLength)
	}
	copy(sig[:], raw)
	return sig, nil
}

// HashFromBase58 parses a base58 blockhash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	raw, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("ledger: invalid blockhash %q: %w", s, err)
	}
	if len(raw) != HashLength {
		return h, fmt.Errorf("ledger: blockhash decodes to %d bytes, want %d", len(raw), HashLength)
	}
	copy(h[:], raw)
	return h, nil
}
