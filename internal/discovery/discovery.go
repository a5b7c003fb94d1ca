// Package discovery finds plant accounts on the ledger, decodes them and
// resolves each plant's current owner.
//
// Discovery is a two-stage filter. The program-account query carries a
// data-size and discriminator pre-filter, so the node returns only
// candidates. Each candidate is then decoded strictly and its owner is
// resolved through the mint's largest-holder index. Candidates are
// processed in chunks with bounded concurrency; a candidate that fails to
// decode or resolve is logged and dropped without affecting the others.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/sprinkler/internal/fanout"
	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/schema"
)

// Plant is a decoded plant together with its resolved owner. It is a
// point-in-time snapshot; re-run discovery to observe later state.
type Plant struct {
	schema.Plant
	Owner ledger.PublicKey
}

// OwnerResolutionError reports a plant whose owner could not be
// determined: the holder lookup failed, no holder or several holders have
// a balance of one, or the holder's token account has no owner.
type OwnerResolutionError struct {
	Plant  ledger.PublicKey
	Mint   ledger.PublicKey
	Reason string
	Err    error
}

func (e *OwnerResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery: owner of plant %s (mint %s): %s: %v", e.Plant, e.Mint, e.Reason, e.Err)
	}
	return fmt.Sprintf("discovery: owner of plant %s (mint %s): %s", e.Plant, e.Mint, e.Reason)
}

func (e *OwnerResolutionError) Unwrap() error {
	return e.Err
}

// Config holds configuration for creating a Decoder.
type Config struct {
	// Client is the ledger to query. Required.
	Client ledger.Client
	// Program owns the plant accounts. Required.
	Program ledger.PublicKey
	// ChunkSize bounds concurrent decodes. Defaults to fanout.DefaultChunkSize.
	ChunkSize int
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Decoder discovers and decodes plants.
type Decoder struct {
	client    ledger.Client
	program   ledger.PublicKey
	chunkSize int
	logger    *slog.Logger
}

// New creates a Decoder.
func New(config Config) (*Decoder, error) {
	if config.Client == nil {
		return nil, errors.New("discovery: Client is required")
	}
	if config.Program.IsZero() {
		return nil, errors.New("discovery: Program is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = fanout.DefaultChunkSize
	}
	return &Decoder{
		client:    config.Client,
		program:   config.Program,
		chunkSize: chunkSize,
		logger:    logger,
	}, nil
}

// Stats counts what discovery saw.
type Stats struct {
	Fetched int // accounts returned by the pre-filtered query
	Decoded int // plants fully decoded with an owner
	Dropped int // accounts dropped for decode or owner errors
}

// Discover queries all plant accounts and returns the ones that decode
// and resolve cleanly, in query order. The returned error is non-nil only
// when the query itself fails.
func (d *Decoder) Discover(ctx context.Context) ([]Plant, Stats, error) {
	accounts, err := d.client.GetProgramAccounts(ctx, d.program,
		ledger.DataSizeFilter(schema.PlantSize),
		ledger.MemcmpFilter(0, schema.PlantDiscriminator[:]),
	)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("discovery: querying plant accounts: %w", err)
	}

	stats := Stats{Fetched: len(accounts)}
	results := fanout.Settle(ctx, accounts, d.chunkSize, d.Decode)
	for _, r := range results {
		if !r.OK() {
			d.logger.Error("failed to decode plant",
				"plant", r.Input.Address,
				"error", r.Err,
			)
		}
	}

	plants := fanout.Successes(results)
	stats.Decoded = len(plants)
	stats.Dropped = stats.Fetched - stats.Decoded
	return plants, stats, nil
}

// Decode decodes one account and resolves its owner.
func (d *Decoder) Decode(ctx context.Context, account ledger.KeyedAccount) (Plant, error) {
	decoded, err := schema.DecodePlant(account.Address, account.Data)
	if err != nil {
		return Plant{}, err
	}

	owner, err := d.ResolveOwner(ctx, decoded.Address, decoded.Mint)
	if err != nil {
		return Plant{}, err
	}
	return Plant{Plant: *decoded, Owner: owner}, nil
}

// ResolveOwner finds the wallet holding mint. Exactly one of the largest
// holders must hold a balance of one token.
func (d *Decoder) ResolveOwner(ctx context.Context, plant, mint ledger.PublicKey) (ledger.PublicKey, error) {
	holders, err := d.client.GetTokenLargestAccounts(ctx, mint)
	if err != nil {
		return ledger.PublicKey{}, &OwnerResolutionError{Plant: plant, Mint: mint, Reason: "holder lookup failed", Err: err}
	}

	var matches []ledger.TokenHolder
	for _, h := range holders {
		if h.HoldsExactlyOne() {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return ledger.PublicKey{}, &OwnerResolutionError{Plant: plant, Mint: mint, Reason: "no holder with balance 1"}
	case 1:
	default:
		return ledger.PublicKey{}, &OwnerResolutionError{
			Plant:  plant,
			Mint:   mint,
			Reason: fmt.Sprintf("%d holders with balance 1", len(matches)),
		}
	}

	owner, err := d.client.GetTokenAccountOwner(ctx, matches[0].Address)
	if err != nil {
		return ledger.PublicKey{}, &OwnerResolutionError{
			Plant:  plant,
			Mint:   mint,
			Reason: fmt.Sprintf("no owner for token account %s", matches[0].Address),
			Err:    err,
		}
	}
	return owner, nil
}

// IsOwnerResolutionError reports whether err is an OwnerResolutionError.
func IsOwnerResolutionError(err error) bool {
	var oe *OwnerResolutionError
	return errors.As(err, &oe)
}
