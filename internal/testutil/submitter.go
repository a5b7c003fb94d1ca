package testutil

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/sprinkler/internal/ledger"
)

// FakeSubmitter records water instructions instead of sending them.
//
// Instructions are keyed by their first account, the plant. Failures are
// injected per plant for either the submit or the confirm stage.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeSubmitter struct {
	mu            sync.Mutex
	submitted     []ledger.Instruction
	submitErrs    map[ledger.PublicKey]error
	confirmErrs   map[ledger.PublicKey]error
	bySignature   map[ledger.Signature]ledger.PublicKey
	confirmations int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	// Gate, when non-nil, is received from before each Submit returns.
	Gate chan struct{}
}

// NewFakeSubmitter creates a submitter where every instruction succeeds.
func NewFakeSubmitter() *FakeSubmitter {
	return &FakeSubmitter{
		submitErrs:  make(map[ledger.PublicKey]error),
		confirmErrs: make(map[ledger.PublicKey]error),
		bySignature: make(map[ledger.Signature]ledger.PublicKey),
	}
}

// FailSubmit makes Submit fail for plant.
func (s *FakeSubmitter) FailSubmit(plant ledger.PublicKey, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErrs[plant] = err
}

// FailConfirm makes Confirm fail for plant.
func (s *FakeSubmitter) FailConfirm(plant ledger.PublicKey, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmErrs[plant] = err
}

// Submit records ix and returns a signature derived from its plant.
func (s *FakeSubmitter) Submit(ctx context.Context, ix ledger.Instruction) (ledger.Signature, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if current <= peak || s.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return ledger.Signature{}, ctx.Err()
		}
	}
	if len(ix.Accounts) == 0 {
		return ledger.Signature{}, fmt.Errorf("testutil: instruction has no accounts")
	}
	plant := ix.Accounts[0].PublicKey

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, ix)
	if err, ok := s.submitErrs[plant]; ok {
		return ledger.Signature{}, err
	}
	var sig ledger.Signature
	sum := sha256.Sum256(plant[:])
	copy(sig[:], sum[:])
	copy(sig[32:], sum[:])
	s.bySignature[sig] = plant
	return sig, nil
}

// Confirm fails when the signature's plant has an injected confirm error.
func (s *FakeSubmitter) Confirm(ctx context.Context, sig ledger.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations++
	plant, ok := s.bySignature[sig]
	if !ok {
		return fmt.Errorf("testutil: unknown signature %s", sig)
	}
	return s.confirmErrs[plant]
}

// Submitted returns the recorded instructions in arrival order.
func (s *FakeSubmitter) Submitted() []ledger.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Instruction(nil), s.submitted...)
}

// SubmittedPlants returns the plant of each recorded instruction.
func (s *FakeSubmitter) SubmittedPlants() []ledger.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.PublicKey, 0, len(s.submitted))
	for _, ix := range s.submitted {
		out = append(out, ix.Accounts[0].PublicKey)
	}
	return out
}

// Confirmations returns how many times Confirm was called.
func (s *FakeSubmitter) Confirmations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmations
}

// MaxInFlight returns the highest number of concurrent Submit calls seen.
func (s *FakeSubmitter) MaxInFlight() int {
	return int(s.maxInFlight.Load())
}
