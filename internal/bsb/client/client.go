package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/bsblan-bridge/internal/bsb/param"
)

// Defaults for Options.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultAttempts   = 2
	DefaultRetryDelay = 2 * time.Second

	// DefaultBatchSize is the number of ids per /JQ or /JC request. Larger
	// batches overflow the gateway's URL and response buffers.
	DefaultBatchSize = 30

	// maxBodySize caps a single device response.
	maxBodySize = 4 << 20
)

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Override replaces the firmware-v1 guesses for one parameter.
type Override struct {
	// RW forces the read/write flag. nil keeps the default (writable).
	RW *bool

	// WriteType forces the /JS "Type" tag. nil keeps DefaultWriteType.
	WriteType *int

	// Legacy routes writes through GET /I{id}={value}.
	Legacy bool
}

// Options configures a Client.
type Options struct {
	// Host is the gateway address ("192.168.1.50", "bsb:8080" or a full
	// "http://..." base URL). Required.
	Host string

	// User and Password enable HTTP Basic auth when both are non-empty.
	User     string
	Password string

	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration
	BatchSize  int

	// Overrides is keyed by parameter id. Empty by default.
	Overrides map[string]Override

	// HTTPClient replaces the default client. Its Timeout is left alone.
	HTTPClient *http.Client

	// Metrics is optional.
	Metrics *Metrics
}

// Client is the single point of contact with a BSB-LAN gateway.
//
// Every request, read or write, acquires a FIFO semaphore of weight one,
// so the gateway never sees two requests at once and requests run in the
// order they were issued. Once a request has started it runs to completion
// or until its attempts are exhausted; only waiting for the semaphore
// honours context cancellation.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	baseURL    string
	user       string
	password   string
	attempts   int
	retryDelay time.Duration
	batchSize  int
	overrides  map[string]Override

	http    *http.Client
	queue   *semaphore.Weighted
	metrics *Metrics

	profileMu sync.Mutex
	profile   *FirmwareProfile

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a client. No request is made until the first call.
func New(opts Options) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(opts.Host), "/")
	if host == "" {
		return nil, ErrHostRequired
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	overrides := make(map[string]Override, len(opts.Overrides))
	for id, ov := range opts.Overrides {
		overrides[param.Trim(id)] = ov
	}

	c := &Client{
		baseURL:    host,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		batchSize:  opts.BatchSize,
		overrides:  overrides,
		http:       httpClient,
		queue:      semaphore.NewWeighted(1),
		metrics:    opts.Metrics,
		logger:     noopLogger{},
	}
	if opts.User != "" && opts.Password != "" {
		c.user, c.password = opts.User, opts.Password
	}
	return c, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// BaseURL returns the resolved gateway URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// getJSON issues a GET and decodes the JSON answer into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		// do() already validated the body as JSON when asked to.
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// do runs one logical request through the queue with retries and returns
// the raw response body. A nil payload sends no body.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.queue.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.queue.Release(1)

	// The queue wait may be cancelled; the request itself may not.
	reqCtx := context.WithoutCancel(ctx)
	endpoint := endpointLabel(path)
	expectJSON := !strings.HasPrefix(path, "/I")

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		start := time.Now()
		body, err := c.roundTrip(reqCtx, method, path, payload, expectJSON)
		c.metrics.observe(endpoint, time.Since(start), err)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if attempt < c.attempts {
			c.metrics.retry(endpoint)
			c.log().Warn("device request failed, retrying",
				"method", method, "path", path, "attempt", attempt, "error", err)
			time.Sleep(c.retryDelay)
		}
	}

	return nil, &TransportError{Method: method, Path: path, Attempts: c.attempts, Err: lastErr}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, expectJSON bool) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	// A truncated answer from an overloaded gateway is worth another attempt.
	if expectJSON && !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON from %s (%d bytes)", path, len(body))
	}

	c.log().Debug("device request", "method", method, "path", path, "bytes", len(body))
	return body, nil
}

// endpointLabel reduces a request path to its command, e.g. "/JQ=700,710" -> "JQ".
func endpointLabel(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(p, "=?"); i >= 0 {
		p = p[:i]
	}
	if strings.HasPrefix(p, "I") && len(p) > 1 && p[1] >= '0' && p[1] <= '9' {
		return "I"
	}
	return p
}
