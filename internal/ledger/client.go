package ledger

import (
	"context"

	"github.com/mr-tron/base58"
)

// Client is the set of cluster operations the pipeline consumes.
// Every method may fail with a transport error or a remote error; callers
// decide how far a failure propagates.
type Client interface {
	// GetProgramAccounts returns every account owned by program that
	// matches all filters.
	GetProgramAccounts(ctx context.Context, program PublicKey, filters ...Filter) ([]KeyedAccount, error)

	// GetAccountData returns the raw data of a single account.
	// ErrAccountNotFound is returned when the account does not exist.
	GetAccountData(ctx context.Context, address PublicKey) ([]byte, error)

	// GetTokenLargestAccounts returns the largest holders of mint.
	GetTokenLargestAccounts(ctx context.Context, mint PublicKey) ([]TokenHolder, error)

	// GetTokenAccountOwner returns the owning wallet of a token account,
	// read from the cluster's parsed account representation.
	GetTokenAccountOwner(ctx context.Context, tokenAccount PublicKey) (PublicKey, error)

	// GetLatestBlockhash returns a blockhash usable for a new transaction.
	GetLatestBlockhash(ctx context.Context) (Hash, error)

	// SendTransaction submits a fully signed, serialized transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, wire []byte) (Signature, error)

	// ConfirmTransaction blocks until the transaction is confirmed or has
	// failed. A failed transaction is reported as an error.
	ConfirmTransaction(ctx context.Context, sig Signature) error
}

// Filter narrows a program account query. Exactly one of DataSize or
// Memcmp is set.
type Filter struct {
	DataSize uint64
	Memcmp   *Memcmp
}

// Memcmp matches accounts whose data contains Bytes at Offset.
type Memcmp struct {
	Offset uint64
	Bytes  []byte
}

// DataSizeFilter matches accounts of exactly size bytes.
func DataSizeFilter(size uint64) Filter {
	return Filter{DataSize: size}
}

// MemcmpFilter matches accounts with prefix at offset.
func MemcmpFilter(offset uint64, prefix []byte) Filter {
	return Filter{Memcmp: &Memcmp{Offset: offset, Bytes: prefix}}
}

// KeyedAccount is an account address together with its raw data.
type KeyedAccount struct {
	Address PublicKey
	Data    []byte
}

// TokenHolder is one entry of a largest-holders query. Amount is in base
// units; Decimals gives the mint's precision.
type TokenHolder struct {
	Address  PublicKey
	Amount   uint64
	Decimals uint8
}

// maxDecimals is the largest precision whose unit fits in a uint64.
const maxDecimals = 19

// HoldsExactlyOne reports whether the holder's balance is one whole token.
// Precisions beyond maxDecimals never match.
func (h TokenHolder) HoldsExactlyOne() bool {
	if h.Decimals > maxDecimals {
		return false
	}
	one := uint64(1)
	for i := uint8(0); i < h.Decimals; i++ {
		one *= 10
	}
	return h.Amount == one
}

// SignatureLength is the size of an ed25519 signature.
const SignatureLength = 64

// Signature identifies a submitted transaction.
type Signature [SignatureLength]byte

// String returns the base58 form used by explorers and RPC.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// HashLength is the size of a blockhash.
const HashLength = 32

// Hash is a recent blockhash.
type Hash [HashLength]byte

// String returns the base58 form.
func (h Hash) String() string {
	return base58.Encode(h[:])
}
