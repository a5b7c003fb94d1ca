package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/schema"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("testutil: injected failure")

// Key returns a deterministic public key for n. Distinct n give distinct keys.
func Key(n int) ledger.PublicKey {
	return ledger.PublicKey(sha256.Sum256([]byte("key-" + strconv.Itoa(n))))
}

// FakeLedger is an in-memory ledger.Client.
//
// Accounts are returned by GetProgramAccounts in insertion order and are
// filtered by the same data-size and memcmp rules the cluster applies.
// Failures can be injected per address: any call that touches a failing
// address returns its error, and SendTransaction fails when the serialized
// transaction references one.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeLedger struct {
	mu sync.Mutex

	order    []ledger.PublicKey
	accounts map[ledger.PublicKey][]byte
	holders  map[ledger.PublicKey][]ledger.TokenHolder
	owners   map[ledger.PublicKey]ledger.PublicKey

	failures       map[ledger.PublicKey]error
	confirmFailure map[ledger.PublicKey]error
	sent           map[ledger.Signature][]byte
	sentOrder      []ledger.Signature
	calls          map[string]int

	// ProgramAccountsErr, when set, is returned by GetProgramAccounts.
	ProgramAccountsErr error
	// BlockhashErr, when set, is returned by GetLatestBlockhash.
	BlockhashErr error
	// Blockhash is returned by GetLatestBlockhash.
	Blockhash ledger.Hash
}

var _ ledger.Client = (*FakeLedger)(nil)

// NewFakeLedger creates an empty ledger.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		accounts:       make(map[ledger.PublicKey][]byte),
		holders:        make(map[ledger.PublicKey][]ledger.TokenHolder),
		owners:         make(map[ledger.PublicKey]ledger.PublicKey),
		failures:       make(map[ledger.PublicKey]error),
		confirmFailure: make(map[ledger.PublicKey]error),
		sent:           make(map[ledger.Signature][]byte),
		calls:          make(map[string]int),
		Blockhash:      ledger.Hash(sha256.Sum256([]byte("blockhash"))),
	}
}

// SetAccount stores raw account data at address.
func (f *FakeLedger) SetAccount(address ledger.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[address]; !ok {
		f.order = append(f.order, address)
	}
	f.accounts[address] = append([]byte(nil), data...)
}

// SetHolders replaces the largest-holder list for mint.
func (f *FakeLedger) SetHolders(mint ledger.PublicKey, holders ...ledger.TokenHolder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holders[mint] = holders
}

// SetTokenOwner records the wallet owning tokenAccount.
func (f *FakeLedger) SetTokenOwner(tokenAccount, owner ledger.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners[tokenAccount] = owner
}

// Fail makes every call touching address return err. A nil err uses
// ErrInjected.
func (f *FakeLedger) Fail(address ledger.PublicKey, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[address] = err
}

// FailConfirm makes confirmation fail for transactions referencing address.
func (f *FakeLedger) FailConfirm(address ledger.PublicKey, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmFailure[address] = err
}

// AddPlant stores p and makes owner the sole holder of its mint through a
// token account derived from the mint. It returns the plant's address.
func (f *FakeLedger) AddPlant(p schema.Plant, owner ledger.PublicKey) ledger.PublicKey {
	tokenAccount := ledger.PublicKey(sha256.Sum256(append([]byte("token-"), p.Mint[:]...)))
	f.SetAccount(p.Address, schema.EncodePlant(&p))
	f.SetHolders(p.Mint, ledger.TokenHolder{Address: tokenAccount, Amount: 1})
	f.SetTokenOwner(tokenAccount, owner)
	return p.Address
}

// AddGardener stores g at g.Address.
func (f *FakeLedger) AddGardener(g schema.Gardener) {
	f.SetAccount(g.Address, schema.EncodeGardener(&g))
}

// Calls returns how many times method was invoked.
func (f *FakeLedger) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Sent returns the serialized transactions in submission order.
func (f *FakeLedger) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, 0, len(f.sentOrder))
	for _, sig := range f.sentOrder {
		out = append(out, f.sent[sig])
	}
	return out
}

func (f *FakeLedger) enter(method string, addresses ...ledger.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	for _, a := range addresses {
		if err, ok := f.failures[a]; ok {
			return fmt.Errorf("%s %s: %w", method, a, err)
		}
	}
	return nil
}

// GetProgramAccounts implements ledger.Client. The program argument is
// ignored; every stored account is a candidate.
func (f *FakeLedger) GetProgramAccounts(ctx context.Context, program ledger.PublicKey, filters ...ledger.Filter) ([]ledger.KeyedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.enter("getProgramAccounts"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ProgramAccountsErr != nil {
		return nil, f.ProgramAccountsErr
	}
	var out []ledger.KeyedAccount
	for _, address := range f.order {
		data := f.accounts[address]
		if matches(data, filters) {
			out = append(out, ledger.KeyedAccount{Address: address, Data: append([]byte(nil), data...)})
		}
	}
	return out, nil
}

func matches(data []byte, filters []ledger.Filter) bool {
	for _, filter := range filters {
		if filter.Memcmp != nil {
			end := filter.Memcmp.Offset + uint64(len(filter.Memcmp.Bytes))
			if end > uint64(len(data)) || !bytes.Equal(data[filter.Memcmp.Offset:end], filter.Memcmp.Bytes) {
				return false
			}
			continue
		}
		if uint64(len(data)) != filter.DataSize {
			return false
		}
	}
	return true
}

// GetAccountData implements ledger.Client.
func (f *FakeLedger) GetAccountData(ctx context.Context, address ledger.PublicKey) ([]byte, error) {
	if err := f.enter("getAccountInfo", address); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, ledger.ErrAccountNotFound)
	}
	return append([]byte(nil), data...), nil
}

// GetTokenLargestAccounts implements ledger.Client.
func (f *FakeLedger) GetTokenLargestAccounts(ctx context.Context, mint ledger.PublicKey) ([]ledger.TokenHolder, error) {
	if err := f.enter("getTokenLargestAccounts", mint); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.TokenHolder(nil), f.holders[mint]...), nil
}

// GetTokenAccountOwner implements ledger.Client.
func (f *FakeLedger) GetTokenAccountOwner(ctx context.Context, tokenAccount ledger.PublicKey) (ledger.PublicKey, error) {
	if err := f.enter("getTokenAccountOwner", tokenAccount); err != nil {
		return ledger.PublicKey{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[tokenAccount]
	if !ok {
		return ledger.PublicKey{}, fmt.Errorf("%s: %w", tokenAccount, ledger.ErrAccountNotFound)
	}
	return owner, nil
}

// GetLatestBlockhash implements ledger.Client.
func (f *FakeLedger) GetLatestBlockhash(ctx context.Context) (ledger.Hash, error) {
	if err := f.enter("getLatestBlockhash"); err != nil {
		return ledger.Hash{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BlockhashErr != nil {
		return ledger.Hash{}, f.BlockhashErr
	}
	return f.Blockhash, nil
}

// SendTransaction implements ledger.Client. The returned signature is the
// first signature in wire.
func (f *FakeLedger) SendTransaction(ctx context.Context, wire []byte) (ledger.Signature, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Signature{}, err
	}
	if err := f.enter("sendTransaction"); err != nil {
		return ledger.Signature{}, err
	}
	if len(wire) < 1+ledger.SignatureLength {
		return ledger.Signature{}, errors.New("testutil: transaction too short")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := referenced(wire, f.failures); err != nil {
		return ledger.Signature{}, err
	}
	var sig ledger.Signature
	copy(sig[:], wire[1:1+ledger.SignatureLength])
	f.sent[sig] = append([]byte(nil), wire...)
	f.sentOrder = append(f.sentOrder, sig)
	return sig, nil
}

// ConfirmTransaction implements ledger.Client.
func (f *FakeLedger) ConfirmTransaction(ctx context.Context, sig ledger.Signature) error {
	if err := f.enter("confirmTransaction"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	wire, ok := f.sent[sig]
	if !ok {
		return fmt.Errorf("testutil: unknown signature %s", sig)
	}
	return referenced(wire, f.confirmFailure)
}

// referenced returns the error of the first failing address found in wire.
func referenced(wire []byte, failures map[ledger.PublicKey]error) error {
	for address, err := range failures {
		if bytes.Contains(wire, address[:]) {
			return fmt.Errorf("transaction references %s: %w", address, err)
		}
	}
	return nil
}
