package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/fanout"
	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/schema"
)

// Submitter signs, sends and confirms single instructions.
// *ledger.Sender implements it.
type Submitter interface {
	Submit(ctx context.Context, ix ledger.Instruction) (ledger.Signature, error)
	Confirm(ctx context.Context, sig ledger.Signature) error
}

var _ Submitter = (*ledger.Sender)(nil)

// Authorities are the program's fixed signing authorities referenced by
// every water instruction.
type Authorities struct {
	Freeze   ledger.PublicKey
	Metadata ledger.PublicKey
}

// WaterContext is the agent-side context shared by every water in a run.
type WaterContext struct {
	// Gardener is the agent's decoded quota record. Its authority signs and
	// its bump is passed to the program.
	Gardener *schema.Gardener
	// OwnedMint is the mint of the agent's own plant.
	OwnedMint ledger.PublicKey
}

// Outcome is the settled result of watering one plant.
type Outcome struct {
	Plant     discovery.Plant
	Signature ledger.Signature
	Err       error
	Skipped   bool
}

// Report collects the outcomes of a batch.
type Report struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Skipped   int
}

// BatchSubmitterConfig holds configuration for creating a BatchSubmitter.
type BatchSubmitterConfig struct {
	// Submitter sends transactions. If nil, the submitter is read-only:
	// plants are logged and counted as skipped.
	Submitter Submitter
	// Program is the plant program. Required.
	Program     ledger.PublicKey
	Authorities Authorities
	// ChunkSize bounds in-flight submissions. Defaults to fanout.DefaultChunkSize.
	ChunkSize int
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// BatchSubmitter waters plants in chunks. Each plant's outcome is
// independent: failures are logged and counted, never retried, and never
// stop the remaining plants.
type BatchSubmitter struct {
	submitter   Submitter
	program     ledger.PublicKey
	authorities Authorities
	chunkSize   int
	logger      *slog.Logger
}

// NewBatchSubmitter creates a BatchSubmitter.
func NewBatchSubmitter(config BatchSubmitterConfig) (*BatchSubmitter, error) {
	if config.Program.IsZero() {
		return nil, errors.New("engine: Program is required")
	}
	if config.Authorities.Freeze.IsZero() || config.Authorities.Metadata.IsZero() {
		return nil, errors.New("engine: freeze and metadata authorities are required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = fanout.DefaultChunkSize
	}
	return &BatchSubmitter{
		submitter:   config.Submitter,
		program:     config.Program,
		authorities: config.Authorities,
		chunkSize:   chunkSize,
		logger:      logger,
	}, nil
}

// WithLogger returns a copy of b that logs to logger.
func (b *BatchSubmitter) WithLogger(logger *slog.Logger) *BatchSubmitter {
	clone := *b
	clone.logger = logger
	return &clone
}

// ReadOnly reports whether the submitter has no signing capability.
func (b *BatchSubmitter) ReadOnly() bool {
	return b.submitter == nil
}

// WaterAll waters plants in order, chunkSize at a time.
func (b *BatchSubmitter) WaterAll(ctx context.Context, plants []discovery.Plant, wc WaterContext) Report {
	var report Report
	if len(plants) == 0 {
		return report
	}

	if b.ReadOnly() {
		for _, p := range plants {
			b.logger.Info("would water plant (read-only)",
				"plant", p.Address,
				"name", p.Name.String(),
				"owner", p.Owner,
			)
			report.Outcomes = append(report.Outcomes, Outcome{Plant: p, Skipped: true})
			report.Skipped++
		}
		return report
	}

	results := fanout.Settle(ctx, plants, b.chunkSize, func(ctx context.Context, p discovery.Plant) (ledger.Signature, error) {
		return b.water(ctx, p, wc)
	})
	for _, r := range results {
		outcome := Outcome{Plant: r.Input, Signature: r.Value, Err: r.Err}
		if r.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report
}

// water submits and confirms one water instruction. Failures are logged
// here and returned as submission errors.
func (b *BatchSubmitter) water(ctx context.Context, p discovery.Plant, wc WaterContext) (ledger.Signature, error) {
	logger := b.logger.With("plant", p.Address)
	logger.Info("watering plant", "name", p.Name.String(), "owner", p.Owner)

	sig, err := b.submitAndConfirm(ctx, p, wc)
	if err != nil {
		err = NewSubmissionError(p.Address, err)
		attrs := []any{"error", err}
		if name, ok := ProgramErrorName(err); ok {
			attrs = append(attrs, "program_error", name)
		}
		logger.Error("failed watering plant", attrs...)
		return ledger.Signature{}, err
	}

	logger.Info("successfully watered plant", "signature", sig.String())
	return sig, nil
}

func (b *BatchSubmitter) submitAndConfirm(ctx context.Context, p discovery.Plant, wc WaterContext) (ledger.Signature, error) {
	ix, err := b.BuildWater(p, wc)
	if err != nil {
		return ledger.Signature{}, err
	}
	sig, err := b.submitter.Submit(ctx, ix)
	if err != nil {
		return ledger.Signature{}, err
	}
	if err := b.submitter.Confirm(ctx, sig); err != nil {
		return sig, fmt.Errorf("confirming %s: %w", sig, err)
	}
	return sig, nil
}

// BuildWater builds the water instruction for p. The agent's token and
// metadata accounts are derived from the owned mint and the gardener's
// authority; the plant's from its mint and resolved owner.
func (b *BatchSubmitter) BuildWater(p discovery.Plant, wc WaterContext) (ledger.Instruction, error) {
	if wc.Gardener == nil {
		return ledger.Instruction{}, errors.New("no gardener record")
	}
	authority := wc.Gardener.Authority

	ownedToken, err := ledger.AssociatedTokenAddress(authority, wc.OwnedMint)
	if err != nil {
		return ledger.Instruction{}, fmt.Errorf("deriving owned token account: %w", err)
	}
	ownedMetadata, err := ledger.MetadataAddress(wc.OwnedMint)
	if err != nil {
		return ledger.Instruction{}, fmt.Errorf("deriving owned metadata: %w", err)
	}
	plantToken, err := ledger.AssociatedTokenAddress(p.Owner, p.Mint)
	if err != nil {
		return ledger.Instruction{}, fmt.Errorf("deriving plant token account: %w", err)
	}
	plantMetadata, err := ledger.MetadataAddress(p.Mint)
	if err != nil {
		return ledger.Instruction{}, fmt.Errorf("deriving plant metadata: %w", err)
	}

	return schema.WaterInstruction(b.program, p.Name, wc.Gardener.Bump, schema.WaterAccounts{
		Plant:             p.Address,
		Gardener:          wc.Gardener.Address,
		OwnedPlantMint:    wc.OwnedMint,
		OwnedPlantToken:   ownedToken,
		OwnedMetadata:     ownedMetadata,
		PlantMint:         p.Mint,
		PlantToken:        plantToken,
		PlantMetadata:     plantMetadata,
		FreezeAuthority:   b.authorities.Freeze,
		MetadataAuthority: b.authorities.Metadata,
		Authority:         authority,
	}), nil
}
