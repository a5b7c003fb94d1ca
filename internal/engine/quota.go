package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/schema"
)

// DefaultWindowCap is the number of waters a gardener may perform per
// window.
const DefaultWindowCap = 5

// Budget is the number of waters the agent may still submit this window,
// together with the gardener record it was computed from.
type Budget struct {
	// Remaining is max(0, cap - watered_in_timeframe), or 0 when the
	// gardener could not be read.
	Remaining int

	// Gardener is the decoded record, nil when it could not be read.
	Gardener *schema.Gardener

	// Err is the fetch or decode failure, if any.
	Err error
}

// Governor reads the gardener record and computes the remaining budget.
//
// The window counter is owned by the program: the governor only reads it
// and never resets or caches it across runs.
type Governor struct {
	client    ledger.Client
	windowCap int
	logger    *slog.Logger
}

// NewGovernor creates a Governor with the given per-window cap.
// A negative cap is treated as zero.
func NewGovernor(client ledger.Client, windowCap int, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{client: client, windowCap: max(windowCap, 0), logger: logger}
}

// WithLogger returns a copy of g that logs to logger.
func (g *Governor) WithLogger(logger *slog.Logger) *Governor {
	clone := *g
	clone.logger = logger
	return &clone
}

// Cap returns the per-window cap.
func (g *Governor) Cap() int {
	return g.windowCap
}

// Budget fetches the gardener at address and returns the remaining
// budget. A failed fetch is logged and yields a zero budget rather than an
// error.
func (g *Governor) Budget(ctx context.Context, address ledger.PublicKey) Budget {
	gardener, err := g.fetch(ctx, address)
	if err != nil {
		g.logger.Error("failed to fetch gardener, no waters this run",
			"gardener", address,
			"kind", Classify(err),
			"error", err,
		)
		return Budget{Err: err}
	}

	remaining := g.Remaining(gardener.WateredInTimeframe)
	g.logger.Info("remaining waters",
		"gardener", address,
		"watered_in_timeframe", gardener.WateredInTimeframe,
		"cap", g.windowCap,
		"remaining", remaining,
	)
	return Budget{Remaining: remaining, Gardener: gardener}
}

// Remaining computes max(0, cap - acted).
func (g *Governor) Remaining(acted uint32) int {
	if uint64(acted) >= uint64(g.windowCap) {
		return 0
	}
	return g.windowCap - int(acted)
}

func (g *Governor) fetch(ctx context.Context, address ledger.PublicKey) (*schema.Gardener, error) {
	data, err := g.client.GetAccountData(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetching gardener %s: %w", address, err)
	}
	return schema.DecodeGardener(address, data)
}
