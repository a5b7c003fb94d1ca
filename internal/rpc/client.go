// Package rpc implements ledger.Client over the cluster's JSON-RPC 2.0
// HTTP interface.
//
// Every request passes through a token-bucket rate limiter. Transient
// transport failures (connection errors, HTTP 429 and 5xx) are retried
// with exponential backoff up to MaxRetries times; JSON-RPC error objects
// are returned to the caller immediately, since they describe a decision
// the node has already made.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultCommitment     = "confirmed"
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 250 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 64 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// URL is the JSON-RPC endpoint, e.g. "https://api.devnet.solana.com".
	URL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Commitment is the commitment level for reads and confirmation.
	Commitment string

	// RateLimit is the sustained request rate per second. Zero disables
	// limiting.
	RateLimit float64
	// Burst is the limiter's bucket size. Defaults to 1.
	Burst int

	// MaxRetries is the number of retries after the first attempt for
	// transient transport failures. Negative disables retries.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ConfirmTimeout bounds ConfirmTransaction.
	ConfirmTimeout time.Duration
	// PollInterval is the delay between signature status polls.
	PollInterval time.Duration
}

// Client is a JSON-RPC client for a single endpoint. It is safe for
// concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	commitment string
	limiter    *rate.Limiter

	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration

	confirmTimeout time.Duration
	pollInterval   time.Duration

	nextID atomic.Uint64
}

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("rpc: URL is required")
	}
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid URL %q: %w", config.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("rpc: URL %q must be http or https", config.URL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		url:            config.URL,
		httpClient:     httpClient,
		logger:         logger,
		commitment:     orDefault(config.Commitment, DefaultCommitment),
		limiter:        rate.NewLimiter(limit, burst),
		initialBackoff: orDefault(config.InitialBackoff, DefaultInitialBackoff),
		maxBackoff:     orDefault(config.MaxBackoff, DefaultMaxBackoff),
		confirmTimeout: orDefault(config.ConfirmTimeout, DefaultConfirmTimeout),
		pollInterval:   orDefault(config.PollInterval, DefaultPollInterval),
	}
	switch {
	case config.MaxRetries < 0:
		c.maxRetries = 0
	case config.MaxRetries == 0:
		c.maxRetries = DefaultMaxRetries
	default:
		c.maxRetries = uint64(config.MaxRetries)
	}
	return c, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call performs method with params and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("rpc: failed to encode %s request: %w", method, err)
	}

	var result json.RawMessage
	attempt := 0
	operation := func() error {
		attempt++
		raw, err := c.post(ctx, method, body)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = raw
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying rpc call",
			"method", method,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return &TransportError{Method: method, Err: fmt.Errorf("malformed result: %w", err)}
	}
	return nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.MaxInterval = c.maxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.maxRetries), ctx)
}

// post sends one HTTP request and returns the raw JSON-RPC result.
func (c *Client) post(ctx context.Context, method string, body []byte) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	defer httpResponse.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Method: method, StatusCode: httpResponse.StatusCode, Err: err}
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return nil, &TransportError{
			Method:     method,
			StatusCode: httpResponse.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", bytes.TrimSpace(responseBody)),
		}
	}

	var decoded response
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return nil, &TransportError{Method: method, StatusCode: httpResponse.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if decoded.Error != nil {
		decoded.Error.Method = method
		return nil, decoded.Error
	}
	return decoded.Result, nil
}
