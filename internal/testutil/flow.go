package testutil

// FixedRunIDGenerator returns the same run id every time.
//
// Runs normally get a fresh UUIDv7 so their log lines can be correlated.
// Tests use a fixed id so log output and summaries are byte-stable.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator that always returns id.
// If id is empty, Generate() returns "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run id.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
