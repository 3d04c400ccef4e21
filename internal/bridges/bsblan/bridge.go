package bsblan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/client"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/param"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/bsblan-bridge/internal/object"
)

// Bridge timing constants.
const (
	// DefaultInterval is the pause between two sync cycles.
	DefaultInterval = 60 * time.Second

	// MinInterval is the shortest accepted pause; smaller values are raised.
	MinInterval = 10 * time.Second

	// writeQueueSize bounds the number of writes waiting for the device.
	writeQueueSize = 32
)

// Bridge mirrors the parameters of one BSB-LAN gateway into the object
// store and carries requested value changes back to the device.
// It handles:
//   - The sync cycle: info, new parameters, object creation, values, averages
//   - Startup reconciliation of existing objects
//   - Writes from the registry (REST, WebSocket) and MQTT commands
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client  DeviceClient
	store   ObjectStore
	mqtt    MQTTClient    // Optional
	history HistoryWriter // Optional
	metrics *Metrics      // Optional
	health  *HealthReporter
	topics  mqtt.Topics

	interval time.Duration
	values   string
	host     string

	// Tracked parameters keyed by trimmed id, plus the reverse object index.
	tracked     []string
	params      map[string]trackedParam
	objectToID  map[string]string
	trackedMu   sync.RWMutex
	startedOnce atomic.Bool

	// Cycle state and device health
	state          atomic.Int32
	connected      atomic.Bool
	connectedKnown atomic.Bool

	stats   BridgeMetrics
	statsMu sync.RWMutex

	// Command IDs waiting for their write, keyed by object ID
	pending   map[string]string
	pendingMu sync.Mutex

	refresh chan struct{}
	writes  chan writeRequest

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// trackedParam is what the cycle needs to publish a value without a
// store lookup.
type trackedParam struct {
	objectID string
	dataType bsb.DataType
	unit     string
}

// DeviceClient is the gateway API used by the bridge.
// This interface is satisfied by *client.Client.
type DeviceClient interface {
	Query(ctx context.Context, ids []string) (map[string]bsb.ParameterValue, error)
	Categories(ctx context.Context) (map[string]bsb.CategoryDescriptor, error)
	Category(ctx context.Context, id string) (map[string]bsb.ParameterDefinition, error)
	Info(ctx context.Context) (map[string]any, error)
	Profile(ctx context.Context) (client.FirmwareProfile, error)
	Averages(ctx context.Context) (map[string]bsb.ParameterValue, error)
	Write(ctx context.Context, id, value string, dataType bsb.DataType) (client.WriteAck, error)
	IsReadWrite(id string) bool
}

// ObjectStore is the local object store.
// This interface is satisfied by *object.Registry.
type ObjectStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*object.Object, error)
	Create(ctx context.Context, obj *object.Object) error
	Update(ctx context.Context, obj *object.Object) error
	SetValue(ctx context.Context, id string, value any, ack bool) error
	ListAll(ctx context.Context) (map[string]*object.Object, error)
	OnStateChange(listener object.StateListener)
}

// MQTTClient is the interface for MQTT operations.
// This interface is satisfied by *mqtt.Client.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HistoryWriter records numeric values as time series.
// This interface is satisfied by *influxdb.Client.
type HistoryWriter interface {
	WriteParameterValue(paramID, name string, value float64, ts time.Time)
	WriteCycle(duration time.Duration, created int, ok bool, ts time.Time)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Client talks to the gateway. Required.
	Client DeviceClient

	// Store holds the local objects. Required.
	Store ObjectStore

	// MQTT is optional; without it nothing is published and no commands
	// are received.
	MQTT MQTTClient

	// History is optional time series storage for numeric values.
	History HistoryWriter

	// Metrics is optional.
	Metrics *Metrics

	// Logger is optional structured logger.
	Logger Logger

	// Topics sets the MQTT topic prefix.
	Topics mqtt.Topics

	// Interval between cycles. Zero means DefaultInterval; values below
	// MinInterval are raised to it.
	Interval time.Duration

	// Values is the configured tracking list ("700, 710\n8700!1").
	Values string

	// Host and Version are reported in health messages.
	Host    string
	Version string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: device client", ErrMissingDependency)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: object store", ErrMissingDependency)
	}

	interval := opts.Interval
	switch {
	case interval <= 0:
		interval = DefaultInterval
	case interval < MinInterval:
		interval = MinInterval
	}

	// Create bridge-level context for in-flight work on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		client:     opts.Client,
		store:      opts.Store,
		mqtt:       opts.MQTT,
		history:    opts.History,
		metrics:    opts.Metrics,
		topics:     opts.Topics,
		interval:   interval,
		values:     opts.Values,
		host:       opts.Host,
		params:     make(map[string]trackedParam),
		objectToID: make(map[string]string),
		pending:    make(map[string]string),
		refresh:    make(chan struct{}, 1),
		writes:     make(chan writeRequest, writeQueueSize),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}
	b.state.Store(int32(StateIdle))

	var publisher HealthPublisher
	if opts.MQTT != nil {
		publisher = opts.MQTT
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Topic:     opts.Topics.Health(),
		Publisher: publisher,
		Device:    b.deviceHealth,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start resolves the tracking list, reconciles existing objects and
// starts the cycle loop. The first cycle runs immediately.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.startedOnce.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	b.resolveTracked()

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.ensureObject(ctx, connectionObject()); err != nil {
		b.logError("failed to create connection object", err)
	}

	if b.mqtt != nil {
		topic := b.topics.CommandWildcard()
		if err := b.mqtt.Subscribe(topic, 1, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", topic)
	}

	if err := b.reconcile(ctx); err != nil {
		b.logError("startup reconciliation failed", err)
	}

	b.store.OnStateChange(b.handleStateChange)

	b.wg.Add(2)
	go b.writeLoop()
	go b.loop(ctx)

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"host", b.host,
		"tracked", len(b.trackedIDs()),
		"interval", b.interval)
	return nil
}

// Stop gracefully shuts down the bridge. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort queued device requests
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.wg.Wait()
		b.setState(StateIdle)

		b.logInfo("bridge stopped")
	})
}

// Refresh asks for an immediate cycle. It does not wait for the cycle;
// a refresh that is already pending absorbs this one.
func (b *Bridge) Refresh(ctx context.Context) error {
	if !b.startedOnce.Load() {
		return ErrNotRunning
	}
	select {
	case <-b.done:
		return ErrNotRunning
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.refresh <- struct{}{}:
	default:
	}
	return nil
}

// loop runs cycles until the bridge stops. Every cycle, failed or not,
// re-arms the timer.
func (b *Bridge) loop(ctx context.Context) {
	defer b.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-timer.C:
		case <-b.refresh:
			timer.Stop()
		}

		b.runCycle(b.ctx)

		b.setState(StateScheduleNext)
		timer.Reset(b.interval)
		b.setState(StateIdle)
	}
}

// resolveTracked parses the configured list. Invalid entries are logged
// and skipped; entries that collapse onto a tracked identity are
// reported as duplicates.
func (b *Bridge) resolveTracked() {
	list := param.ParseList(b.values)
	for _, err := range list.Invalid {
		b.logWarn("ignoring invalid parameter id", "error", err)
	}
	for _, dup := range list.Duplicates {
		b.warn(WarnDuplicateAddress, "parameter listed more than once", "param", dup)
	}

	b.trackedMu.Lock()
	b.tracked = list.IDs
	b.trackedMu.Unlock()

	b.metrics.setTracked(len(list.IDs))
	if len(list.IDs) == 0 {
		b.logWarn("no parameters configured for tracking")
	}
}

// trackedIDs returns a copy of the tracked ids in canonical order.
func (b *Bridge) trackedIDs() []string {
	b.trackedMu.RLock()
	defer b.trackedMu.RUnlock()
	return append([]string(nil), b.tracked...)
}

func (b *Bridge) isTracked(id string) bool {
	b.trackedMu.RLock()
	defer b.trackedMu.RUnlock()
	for _, t := range b.tracked {
		if t == id {
			return true
		}
	}
	return false
}

// bindParam records the object of a tracked parameter.
func (b *Bridge) bindParam(id string, p trackedParam) {
	b.trackedMu.Lock()
	defer b.trackedMu.Unlock()
	if old, ok := b.params[id]; ok && old.objectID != p.objectID {
		delete(b.objectToID, old.objectID)
	}
	b.params[id] = p
	b.objectToID[p.objectID] = id
}

func (b *Bridge) trackedParam(id string) (trackedParam, bool) {
	b.trackedMu.RLock()
	defer b.trackedMu.RUnlock()
	p, ok := b.params[id]
	return p, ok
}

func (b *Bridge) paramForObject(objectID string) (string, bool) {
	b.trackedMu.RLock()
	defer b.trackedMu.RUnlock()
	id, ok := b.objectToID[objectID]
	return id, ok
}

// State returns the current cycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Connected reports the device connection health flag.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// setConnected overwrites the health flag and mirrors changes into the
// connection object and the health topic.
func (b *Bridge) setConnected(ctx context.Context, connected bool) {
	prev := b.connected.Swap(connected)
	if b.connectedKnown.Swap(true) && prev == connected {
		return
	}

	if err := b.store.SetValue(ctx, ConnectionObject, connected, true); err != nil {
		b.logError("failed to store connection state", err)
	}
	if !connected {
		b.logWarn("device connection lost", "host", b.host)
	} else if prev != connected {
		b.logInfo("device connected", "host", b.host)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
}

// deviceHealth is the health reporter's view of the bridge.
func (b *Bridge) deviceHealth() DeviceHealth {
	m := b.GetMetrics()
	h := DeviceHealth{
		Host:      b.host,
		Connected: m.Connected,
		Firmware:  m.Firmware,
		Tracked:   m.Tracked,
		State:     m.State,
	}
	if !m.LastCycle.IsZero() {
		last := m.LastCycle
		h.LastCycle = &last
	}
	return h
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// warn logs a reconciliation warning.
func (b *Bridge) warn(kind WarningKind, msg string, keysAndValues ...any) {
	b.logWarn(msg, append([]any{"warning", string(kind)}, keysAndValues...)...)
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
	State     State  `json:"state"`
	Firmware  string `json:"firmware,omitempty"`
	Tracked   int    `json:"tracked"`
	Objects   int    `json:"objects"`

	Cycles        uint64 `json:"cycles"`
	CycleFailures uint64 `json:"cycle_failures"`
	Writes        uint64 `json:"writes"`
	WriteFailures uint64 `json:"write_failures"`

	// LastNew is the number of parameters the last cycle had to create.
	LastNew      int           `json:"last_new"`
	LastCycle    time.Time     `json:"last_cycle"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	b.statsMu.RLock()
	m := b.stats
	b.statsMu.RUnlock()

	b.trackedMu.RLock()
	m.Tracked = len(b.tracked)
	m.Objects = len(b.params)
	b.trackedMu.RUnlock()

	m.Connected = b.connected.Load()
	m.State = b.State()
	m.Status = "disconnected"
	if m.Connected {
		m.Status = "healthy"
	}
	return m
}

func (b *Bridge) updateStats(fn func(s *BridgeMetrics)) {
	b.statsMu.Lock()
	fn(&b.stats)
	b.statsMu.Unlock()
}
