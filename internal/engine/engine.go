package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/identity"
	"github.com/roach88/sprinkler/internal/ledger"
)

// Discoverer finds and decodes plants. *discovery.Decoder implements it.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.Plant, discovery.Stats, error)
}

var _ Discoverer = (*discovery.Decoder)(nil)

// ErrAuthorityMismatch is returned when the signing key is not the
// gardener's authority.
var ErrAuthorityMismatch = errors.New("signer is not the gardener authority")

// Config holds configuration for creating an Engine.
type Config struct {
	// Discoverer supplies decoded plants. Required.
	Discoverer Discoverer
	// Identity resolves the agent's gardener and owned mint. Required.
	Identity identity.Strategy
	// Governor computes the remaining budget. Required.
	Governor *Governor
	// Submitter waters budgeted plants. Required.
	Submitter *BatchSubmitter
	// Signer is the signing key's address; zero in read-only mode.
	Signer ledger.PublicKey
	// DeadThreshold defaults to DefaultDeadThreshold.
	DeadThreshold time.Duration
	// Clock defaults to SystemClock.
	Clock Clock
	// RunIDs defaults to UUIDv7Generator.
	RunIDs RunIDGenerator
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Engine runs one pass of the watering pipeline:
//
//  1. discover and decode plants
//  2. resolve the agent's gardener and read its budget
//  3. classify and order plants
//  4. slice the ordered candidates to the budget
//  5. water the slice in chunks
//  6. log a summary
//
// Each step is fault-isolated. Discovery and budget failures degrade the
// run to zero candidates or zero budget; identity failures and an
// authority mismatch end the run before any submission. Per-plant
// failures never end the run.
//
// Thread-safety: Run may be called concurrently; each call has its own
// state.
type Engine struct {
	discoverer    Discoverer
	identity      identity.Strategy
	governor      *Governor
	submitter     *BatchSubmitter
	signer        ledger.PublicKey
	deadThreshold time.Duration
	clock         Clock
	runIDs        RunIDGenerator
	logger        *slog.Logger
}

// New creates an Engine.
func New(config Config) (*Engine, error) {
	switch {
	case config.Discoverer == nil:
		return nil, errors.New("engine: Discoverer is required")
	case config.Identity == nil:
		return nil, errors.New("engine: Identity is required")
	case config.Governor == nil:
		return nil, errors.New("engine: Governor is required")
	case config.Submitter == nil:
		return nil, errors.New("engine: Submitter is required")
	}
	if !config.Signer.IsZero() && config.Submitter.ReadOnly() {
		return nil, errors.New("engine: Signer set on a read-only submitter")
	}

	e := &Engine{
		discoverer:    config.Discoverer,
		identity:      config.Identity,
		governor:      config.Governor,
		submitter:     config.Submitter,
		signer:        config.Signer,
		deadThreshold: config.DeadThreshold,
		clock:         config.Clock,
		runIDs:        config.RunIDs,
		logger:        config.Logger,
	}
	if e.deadThreshold <= 0 {
		e.deadThreshold = DefaultDeadThreshold
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.runIDs == nil {
		e.runIDs = UUIDv7Generator{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Summary reports what one run did.
type Summary struct {
	RunID      string
	Discovered int // plants decoded with an owner
	Dropped    int // candidates dropped for decode or owner errors
	Eligible   int // actionable plants
	NotYetDue  int
	Expired    int
	Remaining  int // budget left in the gardener's window
	Budgeted   int // plants selected for watering
	Succeeded  int
	Failed     int
	Skipped    int // budgeted plants not sent in read-only mode
	ReadOnly   bool
	Outcomes   []Outcome
}

// Run executes one pipeline pass. The returned error is non-nil only when
// a step ended the run early; the summary is populated up to that step and
// always logged.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: e.runIDs.Generate(), ReadOnly: e.submitter.ReadOnly()}
	logger := e.logger.With("run", summary.RunID)

	err := e.run(ctx, logger, &summary)
	if err != nil {
		logger.Error("run ended early",
			"kind", Classify(err),
			"error", err,
		)
	}
	logSummary(logger, summary)
	return summary, err
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	logger.Info("run starting", "identity", e.identity.Name(), "read_only", summary.ReadOnly)

	// 1. Discover.
	plants, stats, err := e.discoverer.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return NewStepError("discover", err)
		}
		logger.Error("failed to discover plants, continuing with none",
			"kind", Classify(err),
			"error", err,
		)
		plants = nil
	}
	summary.Discovered = len(plants)
	summary.Dropped = stats.Dropped
	logger.Info("fetched plants", "count", len(plants), "dropped", stats.Dropped)

	// 2. Resolve identity and read the gardener.
	agent, err := e.identity.Resolve(ctx)
	if err != nil {
		return NewStepError("resolve identity", err)
	}
	logger.Info("resolved agent",
		"gardener", agent.Gardener,
		"owned_mint", agent.OwnedMint,
	)
	budget := e.governor.WithLogger(logger).Budget(ctx, agent.Gardener)
	summary.Remaining = budget.Remaining

	// 3. Evaluate.
	eval := Evaluate(plants, e.clock.Now(), e.deadThreshold)
	summary.Eligible = len(eval.Actionable)
	summary.NotYetDue = eval.NotYetDue
	summary.Expired = eval.Expired
	logger.Info("found waterable plants",
		"count", summary.Eligible,
		"not_yet_due", eval.NotYetDue,
		"expired", eval.Expired,
	)

	// 4. Budget.
	batch := eval.Actionable[:min(budget.Remaining, len(eval.Actionable))]
	summary.Budgeted = len(batch)
	if len(batch) == 0 {
		return nil
	}

	if !summary.ReadOnly && !e.signer.Equals(budget.Gardener.Authority) {
		return NewStepError("authorize", fmt.Errorf("%w: signer %s, authority %s",
			ErrAuthorityMismatch, e.signer, budget.Gardener.Authority))
	}

	// 5. Submit.
	report := e.submitter.WithLogger(logger).WaterAll(ctx, batch, WaterContext{
		Gardener:  budget.Gardener,
		OwnedMint: agent.OwnedMint,
	})
	summary.Succeeded = report.Succeeded
	summary.Failed = report.Failed
	summary.Skipped = report.Skipped
	summary.Outcomes = report.Outcomes

	if err := ctx.Err(); err != nil {
		return NewStepError("water", err)
	}
	return nil
}

func logSummary(logger *slog.Logger, s Summary) {
	logger.Info("run complete",
		"discovered", s.Discovered,
		"dropped", s.Dropped,
		"eligible", s.Eligible,
		"remaining", s.Remaining,
		"budgeted", s.Budgeted,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"skipped", s.Skipped,
	)
}
