// Package config loads the sprinkler's settings.
//
// Settings are layered, later sources winning: schema defaults, an
// optional YAML file, then environment variables (a .env file in the
// working directory is loaded into the environment first and never
// overrides variables already set). The merged document is validated
// against an embedded CUE schema that rejects unknown keys and fills in
// defaults.
package config

import (
	_ "embed"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sprinkler/internal/identity"
	"github.com/roach88/sprinkler/internal/ledger"
)

//go:embed schema.cue
var schemaSource string

// ConfigFileEnv names the environment variable holding the YAML path.
const ConfigFileEnv = "SPRINKLER_CONFIG"

// DefaultEnvFile is loaded when present.
const DefaultEnvFile = ".env"

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
)

// envOverrides maps environment variables onto schema keys.
var envOverrides = []struct {
	env  string
	key  string
	kind valueKind
}{
	{"RPC", "rpc", kindString},
	{"COMMITMENT", "commitment", kindString},
	{"PROGRAM_ID", "program_id", kindString},
	{"FREEZE_AUTHORITY", "freeze_authority", kindString},
	{"METADATA_AUTHORITY", "metadata_authority", kindString},
	{"IDENTITY_STRATEGY", "identity_strategy", kindString},
	{"GARDENER_PUBKEY", "gardener_pubkey", kindString},
	{"OWNED_TUBER", "owned_tuber", kindString},
	{"OWNER_LOOKUP_URL", "owner_lookup_url", kindString},
	{"GARDENER_SEED", "gardener_seed", kindString},
	{"WALLET_KEY", "wallet_key", kindString},
	{"WALLET_KEY_FILE", "wallet_key_file", kindString},
	{"DEAD_THRESHOLD", "dead_threshold", kindString},
	{"WINDOW_CAP", "window_cap", kindInt},
	{"CHUNK_SIZE", "chunk_size", kindInt},
	{"RPC_RATE_LIMIT", "rpc_rate_limit", kindFloat},
	{"RPC_MAX_RETRIES", "rpc_max_retries", kindInt},
	{"CONFIRM_TIMEOUT", "confirm_timeout", kindString},
}

// document is the validated, defaulted schema value.
type document struct {
	RPC               string  `json:"rpc"`
	Commitment        string  `json:"commitment"`
	ProgramID         string  `json:"program_id"`
	FreezeAuthority   string  `json:"freeze_authority"`
	MetadataAuthority string  `json:"metadata_authority"`
	IdentityStrategy  string  `json:"identity_strategy"`
	GardenerPubkey    string  `json:"gardener_pubkey"`
	OwnedTuber        string  `json:"owned_tuber"`
	OwnerLookupURL    string  `json:"owner_lookup_url"`
	GardenerSeed      string  `json:"gardener_seed"`
	WalletKey         string  `json:"wallet_key"`
	WalletKeyFile     string  `json:"wallet_key_file"`
	DeadThreshold     string  `json:"dead_threshold"`
	WindowCap         int     `json:"window_cap"`
	ChunkSize         int     `json:"chunk_size"`
	RPCRateLimit      float64 `json:"rpc_rate_limit"`
	RPCMaxRetries     int     `json:"rpc_max_retries"`
	ConfirmTimeout    string  `json:"confirm_timeout"`
}

// Config is the fully parsed configuration.
type Config struct {
	RPC        string
	Commitment string

	Program           ledger.PublicKey
	FreezeAuthority   ledger.PublicKey
	MetadataAuthority ledger.PublicKey

	IdentityStrategy string
	// Gardener and OwnedMint are set for the fixed strategy.
	Gardener  ledger.PublicKey
	OwnedMint ledger.PublicKey
	// OwnerLookupURL and GardenerSeed are used by the derived strategy.
	OwnerLookupURL string
	GardenerSeed   string

	// Signer is nil when no key is configured; the pipeline then runs
	// read-only.
	Signer *ledger.Signer

	DeadThreshold  time.Duration
	WindowCap      int
	ChunkSize      int
	RPCRateLimit   float64
	RPCMaxRetries  int
	ConfirmTimeout time.Duration
}

// ReadOnly reports whether no signing key is configured.
func (c *Config) ReadOnly() bool {
	return c.Signer == nil
}

// LogValue implements slog.LogValuer. Key material is never logged.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("rpc", redactURL(c.RPC)),
		slog.String("program", c.Program.String()),
		slog.String("identity", c.IdentityStrategy),
		slog.String("signer", describeSigner(c.Signer)),
		slog.Duration("dead_threshold", c.DeadThreshold),
		slog.Int("window_cap", c.WindowCap),
		slog.Int("chunk_size", c.ChunkSize),
	)
}

// redactURL drops credentials and query parameters, which RPC providers
// commonly use for API keys.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// Options controls where Load reads from.
type Options struct {
	// EnvFile is loaded into the environment if it exists. Defaults to
	// DefaultEnvFile.
	EnvFile string
	// File is a YAML settings file. If empty, $SPRINKLER_CONFIG is used;
	// if that is empty too, no file is read.
	File string
}

// Load reads, validates and parses the configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, configError("", "loading %s: %w", envFile, err)
		}
	}

	values := make(map[string]any)
	file := opts.File
	if file == "" {
		file = os.Getenv(ConfigFileEnv)
	}
	if file != "" {
		if err := readYAML(file, values); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(values); err != nil {
		return nil, err
	}

	doc, err := validate(values)
	if err != nil {
		return nil, err
	}
	return parse(doc)
}

func readYAML(path string, into map[string]any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return configError("", "reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &into); err != nil {
		return configError("", "parsing %s: %w", path, err)
	}
	return nil
}

func applyEnv(values map[string]any) error {
	for _, o := range envOverrides {
		raw, ok := os.LookupEnv(o.env)
		if !ok || raw == "" {
			continue
		}
		switch o.kind {
		case kindInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return configError(o.key, "%s=%q is not an integer", o.env, raw)
			}
			values[o.key] = n
		case kindFloat:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return configError(o.key, "%s=%q is not a number", o.env, raw)
			}
			values[o.key] = f
		default:
			values[o.key] = raw
		}
	}
	return nil
}

// validate unifies values with the schema and decodes the result.
func validate(values map[string]any) (document, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return document{}, configError("", "compiling schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(values))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return document{}, &ConfigurationError{Err: err}
	}

	var doc document
	if err := value.Decode(&doc); err != nil {
		return document{}, &ConfigurationError{Err: err}
	}
	return doc, nil
}

// parse converts the validated document into typed settings and checks
// the rules that span several keys.
func parse(doc document) (*Config, error) {
	c := &Config{
		RPC:              doc.RPC,
		Commitment:       doc.Commitment,
		IdentityStrategy: doc.IdentityStrategy,
		OwnerLookupURL:   doc.OwnerLookupURL,
		GardenerSeed:     doc.GardenerSeed,
		WindowCap:        doc.WindowCap,
		ChunkSize:        doc.ChunkSize,
		RPCRateLimit:     doc.RPCRateLimit,
		RPCMaxRetries:    doc.RPCMaxRetries,
	}

	var err error
	keys := []struct {
		key   string
		value string
		into  *ledger.PublicKey
	}{
		{"program_id", doc.ProgramID, &c.Program},
		{"freeze_authority", doc.FreezeAuthority, &c.FreezeAuthority},
		{"metadata_authority", doc.MetadataAuthority, &c.MetadataAuthority},
		{"gardener_pubkey", doc.GardenerPubkey, &c.Gardener},
		{"owned_tuber", doc.OwnedTuber, &c.OwnedMint},
	}
	for _, k := range keys {
		if k.value == "" {
			continue
		}
		if *k.into, err = ledger.PublicKeyFromBase58(k.value); err != nil {
			return nil, &ConfigurationError{Key: k.key, Err: err}
		}
	}

	if c.DeadThreshold, err = parseDuration("dead_threshold", doc.DeadThreshold); err != nil {
		return nil, err
	}
	if c.ConfirmTimeout, err = parseDuration("confirm_timeout", doc.ConfirmTimeout); err != nil {
		return nil, err
	}

	switch {
	case doc.WalletKey != "" && doc.WalletKeyFile != "":
		return nil, configError("wallet_key", "set only one of WALLET_KEY and WALLET_KEY_FILE")
	case doc.WalletKey != "":
		c.Signer, err = ParseWalletKey(doc.WalletKey)
	case doc.WalletKeyFile != "":
		c.Signer, err = LoadWalletKeyFile(doc.WalletKeyFile)
	}
	if err != nil {
		return nil, err
	}

	if err := c.checkIdentity(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Err: err}
	}
	if d <= 0 {
		return 0, configError(key, "must be positive, got %s", d)
	}
	return d, nil
}

func (c *Config) checkIdentity() error {
	switch c.IdentityStrategy {
	case identity.StrategyFixed:
		if c.Gardener.IsZero() {
			return configError("gardener_pubkey", "required by the fixed identity strategy")
		}
		if c.OwnedMint.IsZero() {
			return configError("owned_tuber", "required by the fixed identity strategy")
		}
	case identity.StrategyDerived:
		if c.OwnerLookupURL == "" {
			return configError("owner_lookup_url", "required by the derived identity strategy")
		}
		if c.Signer == nil {
			return configError("wallet_key", "required by the derived identity strategy")
		}
	default:
		return configError("identity_strategy", "unknown strategy %q", c.IdentityStrategy)
	}
	return nil
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
