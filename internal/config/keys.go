package config

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"

	"github.com/roach88/sprinkler/internal/ledger"
)

// ParseWalletKey parses a base58-encoded 64-byte ed25519 secret key, the
// form wallets export.
func ParseWalletKey(encoded string) (*ledger.Signer, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, configError("wallet_key", "not base58: %w", err)
	}
	return signerFromSecret("wallet_key", raw)
}

// LoadWalletKeyFile reads a keypair file holding the secret key as a JSON
// array of 64 byte values, as written by solana-keygen.
func LoadWalletKeyFile(path string) (*ledger.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("wallet_key_file", "%w", err)
	}
	var raw []byte
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, configError("wallet_key_file", "%s is not a JSON byte array: %w", path, err)
	}
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, configError("wallet_key_file", "%s: element %d out of byte range: %d", path, i, v)
		}
		raw = append(raw, byte(v))
	}
	return signerFromSecret("wallet_key_file", raw)
}

func signerFromSecret(key string, raw []byte) (*ledger.Signer, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, configError(key, "secret key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	signer, err := ledger.NewSigner(raw)
	if err != nil {
		return nil, &ConfigurationError{Key: key, Err: err}
	}
	return signer, nil
}

// EncodeWalletKey is the inverse of ParseWalletKey.
func EncodeWalletKey(secret ed25519.PrivateKey) string {
	return base58.Encode(secret)
}

func describeSigner(s *ledger.Signer) string {
	if s == nil {
		return "none (read-only)"
	}
	return fmt.Sprint(s.PublicKey())
}
