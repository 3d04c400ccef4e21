package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	// deviceTag is added to every point so several bridges can share a bucket.
	deviceTag = "device"
)

// Stats describes the history writer for the system metrics endpoint.
type Stats struct {
	Connected   bool       `json:"connected"`
	Points      uint64     `json:"points"`
	WriteErrors uint64     `json:"write_errors"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// Client records parameter history in an InfluxDB v2 bucket.
//
// Points are queued on the non-blocking write API and sent in batches.
// Batch failures arrive asynchronously: they are counted, passed to the
// SetOnError callback and reported once by the next HealthCheck.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected bool
	onError   func(err error)
	lastErr   error
	lastErrAt time.Time
	mu        sync.RWMutex

	// unreported is set by a batch failure and cleared by HealthCheck.
	unreported atomic.Bool
	points     atomic.Uint64
	errCount   atomic.Uint64
}

// Connect pings the server and prepares the batched write API. device is
// the gateway host and tags every point; empty leaves the tag off.
//
// Returns ErrDisabled when history is switched off in the configuration.
func Connect(cfg config.InfluxDBConfig, device string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg)).
		SetFlushInterval(flushIntervalMs(cfg))
	if device != "" {
		opts.AddDefaultTag(deviceTag, device)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go c.collectErrors(c.writeAPI.Errors())

	return c, nil
}

func batchSize(cfg config.InfluxDBConfig) uint {
	if cfg.BatchSize <= 0 {
		return defaultBatchSize
	}
	return uint(cfg.BatchSize) // #nosec G115 -- positive
}

func flushIntervalMs(cfg config.InfluxDBConfig) uint {
	d := time.Duration(cfg.FlushInterval) * time.Second
	if d <= 0 {
		d = defaultFlushInterval
	}
	return uint(d.Milliseconds()) // #nosec G115 -- positive
}

// collectErrors drains the write API error channel until Close.
func (c *Client) collectErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
		c.errCount.Add(1)
		c.unreported.Store(true)

		c.mu.Lock()
		c.lastErr = err
		c.lastErrAt = time.Now().UTC()
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(err)
		}
	}
}

// writePoint queues one point. Points written after Close are dropped.
func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.points.Add(1)
	c.writeAPI.WritePoint(p)
}

// Close flushes pending points and closes the connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server. A batch that failed since the previous
// check is reported once as ErrWriteFailed, so the API shows history as
// degraded while points are being lost.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	if c.unreported.Swap(false) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.lastErr
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close was not called.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns write counters and the last batch failure.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Connected:   c.connected,
		Points:      c.points.Load(),
		WriteErrors: c.errCount.Load(),
	}
	if c.lastErr != nil {
		at := c.lastErrAt
		s.LastError = c.lastErr.Error()
		s.LastErrorAt = &at
	}
	return s
}

// SetOnError sets a callback for asynchronous batch failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until queued points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
