package engine

import (
	"github.com/google/uuid"
)

// RunIDGenerator generates unique run ids for log correlation.
// Implemented by UUIDv7Generator (production) and
// testutil.FixedRunIDGenerator (tests).
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids of
// successive scheduled runs sort by start time in aggregated logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Format: "550e8400-e29b-41d4-a716-446655440000" (36 characters)
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
