package bsblan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/client"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/param"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/database"
	"github.com/nerrad567/bsblan-bridge/internal/object"
	_ "github.com/nerrad567/bsblan-bridge/migrations"
)

// mockDevice is an in-memory gateway. Query answers with destination-less
// keys like the real firmware does.
type mockDevice struct {
	mu sync.Mutex

	profile     client.FirmwareProfile
	categories  map[string]bsb.CategoryDescriptor
	definitions map[string]map[string]bsb.ParameterDefinition
	values      map[string]bsb.ParameterValue
	info        map[string]any
	averages    map[string]bsb.ParameterValue
	readWrite   map[string]bool

	queryErr    error
	queryPanic  bool
	averagesErr error
	writeErr    error

	queries        [][]string
	categoryCalls  []string
	categoriesCall int
	writes         []writeCall
}

type writeCall struct {
	id       string
	value    string
	dataType bsb.DataType
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		profile:     client.FirmwareProfile{Generation: client.GenerationV1},
		categories:  map[string]bsb.CategoryDescriptor{},
		definitions: map[string]map[string]bsb.ParameterDefinition{},
		values:      map[string]bsb.ParameterValue{},
		readWrite:   map[string]bool{},
		averagesErr: client.ErrUnsupported,
	}
}

func (m *mockDevice) Query(_ context.Context, ids []string) (map[string]bsb.ParameterValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryPanic {
		panic("device exploded")
	}
	m.queries = append(m.queries, append([]string(nil), ids...))
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := make(map[string]bsb.ParameterValue, len(ids))
	for _, id := range ids {
		if v, ok := m.values[id]; ok {
			out[param.ID(id)] = v
		}
	}
	return out, nil
}

func (m *mockDevice) Categories(context.Context) (map[string]bsb.CategoryDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categoriesCall++
	return m.categories, nil
}

func (m *mockDevice) Category(_ context.Context, id string) (map[string]bsb.ParameterDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categoryCalls = append(m.categoryCalls, id)
	defs, ok := m.definitions[id]
	if !ok {
		return nil, fmt.Errorf("no category %s", id)
	}
	return defs, nil
}

func (m *mockDevice) Info(context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.profile.V2() {
		return nil, client.ErrUnsupported
	}
	return m.info, nil
}

func (m *mockDevice) Profile(context.Context) (client.FirmwareProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile, nil
}

func (m *mockDevice) Averages(context.Context) (map[string]bsb.ParameterValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.averagesErr != nil {
		return nil, m.averagesErr
	}
	return m.averages, nil
}

func (m *mockDevice) Write(_ context.Context, id, value string, dataType bsb.DataType) (client.WriteAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, writeCall{id: id, value: value, dataType: dataType})
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	v := m.values[id]
	v.Value = bsb.Text(value)
	m.values[id] = v
	return client.WriteAck{param.ID(id): {Status: client.StatusOK}}, nil
}

func (m *mockDevice) IsReadWrite(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rw, ok := m.readWrite[id]; ok {
		return rw
	}
	return true
}

func (m *mockDevice) setValue(id, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.values[id]
	v.Value = bsb.Text(value)
	m.values[id] = v
}

func (m *mockDevice) getWrites() []writeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]writeCall(nil), m.writes...)
}

func (m *mockDevice) getQueries() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.queries...)
}

// heatingDevice returns a v1 gateway with two categories.
func heatingDevice() *mockDevice {
	m := newMockDevice()
	m.categories = map[string]bsb.CategoryDescriptor{
		"2":  {Name: "Heizkreis 1", Min: 700, Max: 900},
		"50": {Name: "Diagnose Verbraucher", Min: 8700, Max: 9099},
	}
	m.definitions = map[string]map[string]bsb.ParameterDefinition{
		"2": {
			"700": {
				Name:     "Betriebsart",
				DataType: bsb.TypeEnum,
				PossibleValues: []bsb.PossibleValue{
					{EnumValue: "0", Desc: "Schutzbetrieb"},
					{EnumValue: "1", Desc: "Automatik"},
				},
			},
			"710":  {Name: "Komfortsollwert", DataType: bsb.TypeNumber, Unit: "&deg;C"},
			"1610": {Name: "Trinkwasser Nennsollwert", DataType: bsb.TypeNumber, Unit: "&deg;C"},
		},
		"50": {
			"8700": {Name: "Außentemperatur", DataType: bsb.TypeNumber, Unit: "&deg;C"},
		},
	}
	ro := bsb.Flag(true)
	m.values = map[string]bsb.ParameterValue{
		"700":  {Name: "Betriebsart", Value: "1"},
		"710":  {Name: "Komfortsollwert", Value: "20.5", Unit: "&deg;C"},
		"8700": {Name: "Außentemperatur", Value: "---", Unit: "&deg;C", Readonly: &ro},
	}
	return m
}

// MockMQTTClient records publishes and subscriptions.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]func(topic string, payload []byte) error
	connected bool
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		handlers:  make(map[string]func(topic string, payload []byte) error),
		connected: true,
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

// SimulateMessage delivers a message to the handler subscribed to pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	h, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler for %s", pattern)
	}
	return h(topic, payload)
}

func (m *MockMQTTClient) messages(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// recordingLogger keeps warnings for assertions.
type recordingLogger struct {
	mu       sync.Mutex
	warnings []map[string]any
	errors   []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, args ...any) {
	attrs := map[string]any{"msg": msg}
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			attrs[k] = args[i+1]
		}
	}
	l.mu.Lock()
	l.warnings = append(l.warnings, attrs)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

// warned reports whether a warning of kind mentioned value in any attribute.
func (l *recordingLogger) warned(kind WarningKind, value string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warnings {
		if w["warning"] != string(kind) {
			continue
		}
		for _, v := range w {
			if s, ok := v.(string); ok && s == value {
				return true
			}
		}
	}
	return false
}

func newTestStore(t *testing.T) *object.Registry {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return object.NewRegistry(object.NewSQLiteRepository(db.DB))
}

// mockHistory records time series writes.
type mockHistory struct {
	mu     sync.Mutex
	values map[string][]float64
	cycles []bool
}

func (h *mockHistory) WriteParameterValue(paramID, _ string, value float64, _ time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.values == nil {
		h.values = make(map[string][]float64)
	}
	h.values[paramID] = append(h.values[paramID], value)
}

func (h *mockHistory) WriteCycle(_ time.Duration, _ int, ok bool, _ time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles = append(h.cycles, ok)
}

type testBridge struct {
	*Bridge
	device  *mockDevice
	store   *object.Registry
	mqtt    *MockMQTTClient
	history *mockHistory
	logger  *recordingLogger
}

func newTestBridge(t *testing.T, device *mockDevice, values string) *testBridge {
	t.Helper()
	store := newTestStore(t)
	mq := NewMockMQTTClient()
	logger := &recordingLogger{}
	history := &mockHistory{}

	b, err := NewBridge(BridgeOptions{
		Client:  device,
		Store:   store,
		MQTT:    mq,
		History: history,
		Logger:  logger,
		Values:  values,
		Host:    "bsb-lan.local",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return &testBridge{Bridge: b, device: device, store: store, mqtt: mq, history: history, logger: logger}
}

// prepare does the synchronous part of Start without the goroutines.
func (tb *testBridge) prepare(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	tb.resolveTracked()
	if err := tb.ensureObject(ctx, connectionObject()); err != nil {
		t.Fatalf("ensureObject() error = %v", err)
	}
	if err := tb.reconcile(ctx); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}
}

func (tb *testBridge) stateOf(t *testing.T, id string) *object.State {
	t.Helper()
	s, err := tb.store.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("GetState(%q) error = %v", id, err)
	}
	return s
}

func (tb *testBridge) objectOf(t *testing.T, id string) *object.Object {
	t.Helper()
	obj, err := tb.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", id, err)
	}
	return obj
}

func decodeAck(t *testing.T, msg publishedMessage) AckMessage {
	t.Helper()
	var ack AckMessage
	if err := json.Unmarshal(msg.payload, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	return ack
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func joined(ids []string) string {
	return strings.Join(ids, ",")
}
