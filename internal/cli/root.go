package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/sprinkler/internal/config"
	"github.com/roach88/sprinkler/internal/engine"
	"github.com/roach88/sprinkler/internal/ledger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "json" | "text"
	ConfigFile string
	EnvFile    string
	NoColor    bool

	// NewClient overrides how the ledger client is built (for testing).
	// If nil, an rpc.Client is created from the configuration.
	NewClient func(cfg *config.Config, logger *slog.Logger) (ledger.Client, error)
	// Clock overrides the wall clock (for testing).
	Clock engine.Clock
	// RunIDs overrides the run id generator (for testing).
	RunIDs engine.RunIDGenerator

	logger *slog.Logger
}

// ValidFormats defines the allowed output and log formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Invoked without a subcommand
// it runs one watering pass.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sprinkler",
		Short: "Water Seed Society plants",
		Long: `Run one pass of the Seed Society watering agent.

The sprinkler discovers every plant account, keeps the ones that are due
for water and not yet dead, orders them by next watering time and tier,
and waters as many as the gardener's window allows.

Without a wallet key the pass is read-only: it reports what it would
water and sends nothing.

Example:
  sprinkler
  sprinkler --config ./sprinkler.yaml --verbose
  sprinkler plants --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !isValidFormat(opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			if opts.NoColor {
				color.NoColor = true
			}
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.LogFormat, opts.Verbose)
			slog.SetDefault(opts.logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML settings file (default $"+config.ConfigFileEnv+")")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", config.DefaultEnvFile, "dotenv file loaded when present")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable coloured output")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	cmd.AddCommand(NewPlantsCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// newLogger builds the process logger. Logs always go to w, keeping
// stdout free for command output.
func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
