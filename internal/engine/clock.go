package engine

import "time"

// Clock supplies the wall-clock time used for eligibility.
//
// Eligibility compares plant timeouts, stored as unix seconds on the
// ledger, against Now. Tests substitute a fake clock to hit boundaries
// exactly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the local wall clock.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
