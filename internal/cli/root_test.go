package cli

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sprinkler/internal/config"
	"github.com/roach88/sprinkler/internal/engine"
	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/schema"
	"github.com/roach88/sprinkler/internal/testutil"
)

const testNow = 1_700_000_000

// settingsEnv lists every variable the configuration reads.
var settingsEnv = []string{
	config.ConfigFileEnv,
	"RPC", "COMMITMENT", "PROGRAM_ID", "FREEZE_AUTHORITY", "METADATA_AUTHORITY",
	"IDENTITY_STRATEGY", "GARDENER_PUBKEY", "OWNED_TUBER", "OWNER_LOOKUP_URL",
	"GARDENER_SEED", "WALLET_KEY", "WALLET_KEY_FILE", "DEAD_THRESHOLD", "WINDOW_CAP",
	"CHUNK_SIZE", "RPC_RATE_LIMIT", "RPC_MAX_RETRIES", "CONFIRM_TIMEOUT",
}

// harness runs commands against an in-memory ledger.
type harness struct {
	ledger *testutil.FakeLedger
	opts   *RootOptions
	stdout bytes.Buffer
	stderr bytes.Buffer
	envDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, name := range settingsEnv {
		t.Setenv(name, "")
	}
	t.Setenv("GARDENER_PUBKEY", testutil.Key(500).String())
	t.Setenv("OWNED_TUBER", testutil.Key(502).String())

	h := &harness{ledger: testutil.NewFakeLedger(), envDir: t.TempDir()}
	h.opts = &RootOptions{
		NewClient: func(*config.Config, *slog.Logger) (ledger.Client, error) {
			return h.ledger, nil
		},
		Clock:  testutil.NewFakeClockUnix(testNow),
		RunIDs: testutil.NewFixedRunIDGenerator("cli-run"),
	}
	return h
}

func (h *harness) execute(args ...string) error {
	cmd := newRootCommand(h.opts)
	cmd.SetOut(&h.stdout)
	cmd.SetErr(&h.stderr)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(h.envDir, "missing.env"), "--no-color"))
	return cmd.Execute()
}

// seedGarden stores a gardener with the given authority and five plants:
// two actionable, one not yet due, one expired and one whose owner is
// ambiguous.
func (h *harness) seedGarden(t *testing.T, authority ledger.PublicKey) {
	t.Helper()
	h.ledger.AddGardener(schema.Gardener{
		Address:     testutil.Key(500),
		Authority:   authority,
		Bump:        254,
		Initialized: true,
	})
	h.addPlant(t, 1, "Fern", testNow-3600, 2, 4)
	h.addPlant(t, 2, "Moss", testNow-3600, 0, 1)
	h.addPlant(t, 3, "Cactus", testNow+7200, 1, 0)
	h.addPlant(t, 4, "Ivy", testNow-8*24*3600, 0, 9)
	h.addPlant(t, 5, "Rose", testNow-60, 0, 0)
	h.ledger.SetHolders(testutil.Key(1005),
		ledger.TokenHolder{Address: testutil.Key(3001), Amount: 1},
		ledger.TokenHolder{Address: testutil.Key(3002), Amount: 1},
	)
}

func (h *harness) addPlant(t *testing.T, n int, name string, timeout int64, level uint8, watered uint32) {
	t.Helper()
	label, err := schema.NameFromString(name)
	require.NoError(t, err)
	h.ledger.AddPlant(schema.Plant{
		Address:      testutil.Key(n),
		Name:         label,
		Mint:         testutil.Key(1000 + n),
		Watered:      watered,
		WaterTimeout: timeout,
		Level:        level,
		Bump:         250,
	}, testutil.Key(2000+n))
}

func testWallet(t *testing.T) (string, ledger.PublicKey) {
	t.Helper()
	secret := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	pub, err := ledger.PublicKeyFromBytes(secret.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return config.EncodeWalletKey(secret), pub
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sprinkler", cmd.Use)
	assert.Contains(t, cmd.Long, "read-only")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, cmdName := range []string{"plants", "version"} {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	logFormatFlag := cmd.PersistentFlags().Lookup("log-format")
	require.NotNil(t, logFormatFlag)
	assert.Equal(t, "text", logFormatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	envFileFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFileFlag)
	assert.Equal(t, config.DefaultEnvFile, envFileFlag.DefValue)
}

func TestRoot_InvalidFormat(t *testing.T) {
	h := newHarness(t)

	err := h.execute("--format", "yaml")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRoot_InvalidLogFormat(t *testing.T) {
	h := newHarness(t)

	err := h.execute("--log-format", "xml")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRoot_UnknownFlag(t *testing.T) {
	h := newHarness(t)

	err := h.execute("--no-such-flag")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRoot_ConfigurationError(t *testing.T) {
	h := newHarness(t)
	t.Setenv("OWNED_TUBER", "")

	err := h.execute()

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, config.IsConfigurationError(err))
	assert.Empty(t, h.ledger.Sent())
}

func TestRoot_ReadOnlyRun(t *testing.T) {
	h := newHarness(t)
	h.seedGarden(t, testutil.Key(501))

	err := h.execute()

	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, GetExitCode(err))
	assert.Contains(t, h.stdout.String(), "read-only: would water 2 of 2 eligible plants")
	assert.Empty(t, h.ledger.Sent())
	assert.Contains(t, h.stderr.String(), "no wallet key configured")
	assert.Contains(t, h.stderr.String(), "run=cli-run")
	assert.Equal(t, 2, strings.Count(h.stderr.String(), "would water plant (read-only)"))
}

func TestRoot_WatersBudgetedPlants(t *testing.T) {
	h := newHarness(t)
	wallet, signer := testWallet(t)
	t.Setenv("WALLET_KEY", wallet)
	h.seedGarden(t, signer)

	err := h.execute("--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   summaryView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "cli-run", resp.Data.RunID)
	assert.False(t, resp.Data.ReadOnly)
	assert.Equal(t, 4, resp.Data.Discovered)
	assert.Equal(t, 1, resp.Data.Dropped)
	assert.Equal(t, 2, resp.Data.Eligible)
	assert.Equal(t, 1, resp.Data.NotYetDue)
	assert.Equal(t, 1, resp.Data.Expired)
	assert.Equal(t, 5, resp.Data.Remaining)
	assert.Equal(t, 2, resp.Data.Succeeded)
	require.Len(t, resp.Data.Outcomes, 2)
	for _, o := range resp.Data.Outcomes {
		assert.NotEmpty(t, o.Signature)
		assert.Empty(t, o.Error)
	}
	assert.Len(t, h.ledger.Sent(), 2)
	assert.Equal(t, 2, h.ledger.Calls("confirmTransaction"))
}

func TestRoot_WindowCapLimitsBatch(t *testing.T) {
	h := newHarness(t)
	wallet, signer := testWallet(t)
	t.Setenv("WALLET_KEY", wallet)
	t.Setenv("WINDOW_CAP", "1")
	h.seedGarden(t, signer)

	err := h.execute()

	require.NoError(t, err)
	assert.Len(t, h.ledger.Sent(), 1)
	assert.Contains(t, h.stdout.String(), "watered 1 of 1 budgeted plants")
}

func TestRoot_AuthorityMismatchEndsRun(t *testing.T) {
	h := newHarness(t)
	wallet, _ := testWallet(t)
	t.Setenv("WALLET_KEY", wallet)
	h.seedGarden(t, testutil.Key(501))

	err := h.execute("--format", "json")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.Is(err, engine.ErrAuthorityMismatch))
	assert.Empty(t, h.ledger.Sent())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN", resp.Error.Code)
}

func TestRoot_JSONLogs(t *testing.T) {
	h := newHarness(t)
	h.seedGarden(t, testutil.Key(501))

	require.NoError(t, h.execute("--log-format", "json"))

	lines := strings.Split(strings.TrimSpace(h.stderr.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), line)
		assert.Contains(t, record, "msg")
	}
}
