package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/sprinkler/internal/config"
	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/engine"
	"github.com/roach88/sprinkler/internal/identity"
	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/rpc"
)

// summaryView is the JSON form of a run summary.
type summaryView struct {
	RunID      string        `json:"run_id"`
	ReadOnly   bool          `json:"read_only"`
	Discovered int           `json:"discovered"`
	Dropped    int           `json:"dropped"`
	Eligible   int           `json:"eligible"`
	NotYetDue  int           `json:"not_yet_due"`
	Expired    int           `json:"expired"`
	Remaining  int           `json:"remaining"`
	Budgeted   int           `json:"budgeted"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Outcomes   []outcomeView `json:"outcomes"`
}

type outcomeView struct {
	Plant     string `json:"plant"`
	Name      string `json:"name"`
	Signature string `json:"signature,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newSummaryView(s engine.Summary) summaryView {
	view := summaryView{
		RunID:      s.RunID,
		ReadOnly:   s.ReadOnly,
		Discovered: s.Discovered,
		Dropped:    s.Dropped,
		Eligible:   s.Eligible,
		NotYetDue:  s.NotYetDue,
		Expired:    s.Expired,
		Remaining:  s.Remaining,
		Budgeted:   s.Budgeted,
		Succeeded:  s.Succeeded,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		Outcomes:   make([]outcomeView, 0, len(s.Outcomes)),
	}
	for _, o := range s.Outcomes {
		ov := outcomeView{
			Plant:   o.Plant.Address.String(),
			Name:    o.Plant.Name.String(),
			Skipped: o.Skipped,
		}
		switch {
		case o.Err != nil:
			ov.Error = o.Err.Error()
		case !o.Skipped:
			ov.Signature = o.Signature.String()
		}
		view.Outcomes = append(view.Outcomes, ov)
	}
	return view
}

func runPipeline(opts *RootOptions, cmd *cobra.Command) error {
	logger := opts.logger

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "config", cfg)
	if cfg.ReadOnly() {
		logger.Warn("no wallet key configured, running read-only")
	}

	client, err := newClient(opts, cfg, logger)
	if err != nil {
		return err
	}
	eng, err := newEngine(opts, cfg, client, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	summary, err := eng.Run(ctx)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err != nil {
		if formatter.JSON() {
			_ = formatter.Error(string(engine.Classify(err)), err.Error())
		}
		return WrapExitError(ExitFailure, "run ended early", err)
	}

	if formatter.JSON() {
		return formatter.Success(newSummaryView(summary))
	}
	return formatter.Success(describeSummary(summary))
}

func describeSummary(s engine.Summary) string {
	if s.ReadOnly {
		return fmt.Sprintf("read-only: would water %d of %d eligible plants", s.Skipped, s.Eligible)
	}
	return fmt.Sprintf("watered %d of %d budgeted plants (%d failed, %d eligible, %d remaining)",
		s.Succeeded, s.Budgeted, s.Failed, s.Eligible, s.Remaining)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.Options{EnvFile: opts.EnvFile, File: opts.ConfigFile})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func newClient(opts *RootOptions, cfg *config.Config, logger *slog.Logger) (ledger.Client, error) {
	if opts.NewClient != nil {
		client, err := opts.NewClient(cfg, logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create ledger client", err)
		}
		return client, nil
	}

	// Zero retries in the settings means none; rpc treats zero as default.
	maxRetries := cfg.RPCMaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	client, err := rpc.New(rpc.Config{
		URL:            cfg.RPC,
		Logger:         logger,
		Commitment:     cfg.Commitment,
		RateLimit:      cfg.RPCRateLimit,
		MaxRetries:     maxRetries,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create ledger client", err)
	}
	return client, nil
}

func newDecoder(cfg *config.Config, client ledger.Client, logger *slog.Logger) (*discovery.Decoder, error) {
	decoder, err := discovery.New(discovery.Config{
		Client:    client,
		Program:   cfg.Program,
		ChunkSize: cfg.ChunkSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create plant decoder", err)
	}
	return decoder, nil
}

func newIdentity(cfg *config.Config, logger *slog.Logger) (identity.Strategy, error) {
	if cfg.IdentityStrategy != identity.StrategyDerived {
		fixed, err := identity.NewFixed(cfg.Gardener, cfg.OwnedMint)
		if err != nil {
			return nil, err
		}
		return fixed, nil
	}
	lookup, err := identity.NewOwnerLookup(cfg.OwnerLookupURL, nil)
	if err != nil {
		return nil, err
	}
	derived, err := identity.NewDerived(identity.DerivedConfig{
		Program: cfg.Program,
		Agent:   cfg.Signer.PublicKey(),
		Seed:    cfg.GardenerSeed,
		Lookup:  lookup,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return derived, nil
}

func newEngine(opts *RootOptions, cfg *config.Config, client ledger.Client, logger *slog.Logger) (*engine.Engine, error) {
	decoder, err := newDecoder(cfg, client, logger)
	if err != nil {
		return nil, err
	}
	strategy, err := newIdentity(cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create identity strategy", err)
	}

	submitterConfig := engine.BatchSubmitterConfig{
		Program: cfg.Program,
		Authorities: engine.Authorities{
			Freeze:   cfg.FreezeAuthority,
			Metadata: cfg.MetadataAuthority,
		},
		ChunkSize: cfg.ChunkSize,
		Logger:    logger,
	}
	var signer ledger.PublicKey
	if !cfg.ReadOnly() {
		submitterConfig.Submitter = ledger.NewSender(client, cfg.Signer)
		signer = cfg.Signer.PublicKey()
	}
	submitter, err := engine.NewBatchSubmitter(submitterConfig)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create submitter", err)
	}

	eng, err := engine.New(engine.Config{
		Discoverer:    decoder,
		Identity:      strategy,
		Governor:      engine.NewGovernor(client, cfg.WindowCap, logger),
		Submitter:     submitter,
		Signer:        signer,
		DeadThreshold: cfg.DeadThreshold,
		Clock:         opts.Clock,
		RunIDs:        opts.RunIDs,
		Logger:        logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return eng, nil
}
