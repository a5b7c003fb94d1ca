// Package identity resolves who the agent is on the ledger: the address of
// its gardener (quota) record and the mint of the plant it owns.
//
// Two interchangeable strategies exist. Fixed uses configured addresses.
// Derived computes the gardener address from the agent's key and finds the
// owned plant through an HTTP owner lookup.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/sprinkler/internal/ledger"
)

// Strategy names accepted by configuration.
const (
	StrategyFixed   = "fixed"
	StrategyDerived = "derived"
)

// DefaultGardenerSeed is the label mixed into the derived gardener address.
const DefaultGardenerSeed = "gardener"

// Agent is the acting identity's on-ledger context.
type Agent struct {
	// Gardener is the address of the agent's quota record.
	Gardener ledger.PublicKey
	// OwnedMint is the mint of the plant the agent holds. The program
	// requires it as proof of membership when watering others.
	OwnedMint ledger.PublicKey
	// OwnedName is the owned plant's name when known.
	OwnedName string
}

// Strategy resolves the agent's context.
type Strategy interface {
	Resolve(ctx context.Context) (Agent, error)
	Name() string
}

// Fixed returns configured addresses unchanged.
type Fixed struct {
	agent Agent
}

var _ Strategy = (*Fixed)(nil)

// NewFixed creates a Fixed strategy.
func NewFixed(gardener, ownedMint ledger.PublicKey) (*Fixed, error) {
	if gardener.IsZero() {
		return nil, errors.New("identity: gardener address is required")
	}
	if ownedMint.IsZero() {
		return nil, errors.New("identity: owned plant mint is required")
	}
	return &Fixed{agent: Agent{Gardener: gardener, OwnedMint: ownedMint}}, nil
}

// Resolve implements Strategy.
func (f *Fixed) Resolve(ctx context.Context) (Agent, error) {
	return f.agent, nil
}

// Name implements Strategy.
func (f *Fixed) Name() string {
	return StrategyFixed
}

// DerivedConfig holds configuration for creating a Derived strategy.
type DerivedConfig struct {
	// Program owns the gardener record. Required.
	Program ledger.PublicKey
	// Agent is the agent's signing key. Required.
	Agent ledger.PublicKey
	// Seed is the address label. Defaults to DefaultGardenerSeed.
	Seed string
	// Lookup finds the agent's owned plants. Required.
	Lookup *OwnerLookup
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Derived computes the gardener address as the program address of
// [seed, agent] and asks the owner lookup for the agent's plant.
type Derived struct {
	program ledger.PublicKey
	agent   ledger.PublicKey
	seed    string
	lookup  *OwnerLookup
	logger  *slog.Logger
}

var _ Strategy = (*Derived)(nil)

// NewDerived creates a Derived strategy.
func NewDerived(config DerivedConfig) (*Derived, error) {
	if config.Program.IsZero() {
		return nil, errors.New("identity: program is required")
	}
	if config.Agent.IsZero() {
		return nil, errors.New("identity: agent key is required for the derived strategy")
	}
	if config.Lookup == nil {
		return nil, errors.New("identity: owner lookup is required for the derived strategy")
	}
	seed := config.Seed
	if seed == "" {
		seed = DefaultGardenerSeed
	}
	if len(seed) > ledger.MaxSeedLength {
		return nil, fmt.Errorf("identity: seed %q longer than %d bytes", seed, ledger.MaxSeedLength)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Derived{
		program: config.Program,
		agent:   config.Agent,
		seed:    seed,
		lookup:  config.Lookup,
		logger:  logger,
	}, nil
}

// GardenerAddress returns the derived gardener address and its bump.
func (d *Derived) GardenerAddress() (ledger.PublicKey, uint8, error) {
	return ledger.FindProgramAddress([][]byte{[]byte(d.seed), d.agent.Bytes()}, d.program)
}

// Resolve implements Strategy. The first plant the lookup reports is used.
func (d *Derived) Resolve(ctx context.Context) (Agent, error) {
	gardener, _, err := d.GardenerAddress()
	if err != nil {
		return Agent{}, fmt.Errorf("identity: deriving gardener address: %w", err)
	}

	owned, err := d.lookup.OwnedPlants(ctx, d.agent)
	if err != nil {
		return Agent{}, err
	}
	if len(owned) == 0 {
		return Agent{}, fmt.Errorf("identity: agent %s owns no plants", d.agent)
	}
	if len(owned) > 1 {
		d.logger.Debug("agent owns several plants, using the first",
			"owner", d.agent,
			"count", len(owned),
		)
	}

	return Agent{
		Gardener:  gardener,
		OwnedMint: owned[0].Mint,
		OwnedName: owned[0].Name,
	}, nil
}

// Name implements Strategy.
func (d *Derived) Name() string {
	return StrategyDerived
}
