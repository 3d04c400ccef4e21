package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/bsblan-bridge/internal/bridges/bsblan"
	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/database"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/bsblan-bridge/internal/object"
	_ "github.com/nerrad567/bsblan-bridge/migrations"
)

// fakeChecker is a HealthChecker with a settable result.
type fakeChecker struct {
	err error
}

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

// fakeHistory is a healthy checker that also reports write statistics.
type fakeHistory struct {
	fakeChecker
	stats influxdb.Stats
}

func (f fakeHistory) Stats() influxdb.Stats { return f.stats }

// fakeBridge records Refresh calls.
type fakeBridge struct {
	mu         sync.Mutex
	refreshes  int
	refreshErr error
	metrics    bsblan.BridgeMetrics
}

func (b *fakeBridge) Refresh(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refreshErr != nil {
		return b.refreshErr
	}
	b.refreshes++
	return nil
}

func (b *fakeBridge) GetMetrics() bsblan.BridgeMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// testRegistry returns a registry over in-memory SQLite holding a writable
// parameter, a read-only parameter and the connection indicator.
func testRegistry(t *testing.T) (*object.Registry, *database.DB) {
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

	registry := object.NewRegistry(object.NewSQLiteRepository(db.DB))
	objects := []*object.Object{
		{
			ID:   "Komfortsollwert (710)",
			Type: object.TypeState,
			Common: object.Common{
				Name: "Komfortsollwert (710)", Type: bsb.StorageNumber, Role: "level",
				Read: true, Write: true, Unit: "°C",
			},
			Native: object.Native{ID: "710", BSB: &bsb.ParameterDefinition{Name: "Komfortsollwert", Unit: "&deg;C"}},
		},
		{
			ID:   "Außentemperatur (8700)",
			Type: object.TypeState,
			Common: object.Common{
				Name: "Außentemperatur (8700)", Type: bsb.StorageNumber, Role: "value", Read: true,
			},
			Native: object.Native{ID: "8700", BSB: &bsb.ParameterDefinition{Name: "Außentemperatur"}},
		},
		{
			ID:     "info.connection",
			Type:   object.TypeState,
			Common: object.Common{Name: "Device connected", Type: bsb.StorageBoolean, Role: "indicator.connected", Read: true},
		},
	}
	for _, obj := range objects {
		if err := registry.Create(ctx, obj); err != nil {
			t.Fatalf("Create(%s) error = %v", obj.ID, err)
		}
	}
	if err := registry.SetValue(ctx, "Komfortsollwert (710)", 20.5, true); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	return registry, db
}

// testServer creates a Server backed by a real registry.
func testServer(t *testing.T, deps Deps) (*Server, *object.Registry) {
	t.Helper()

	registry, db := testRegistry(t)
	deps.Registry = registry
	if deps.DB == nil {
		deps.DB = db
	}
	deps.Logger = logging.Discard()
	deps.Version = "test"

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, registry
}

func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func objectPath(id string) string {
	return "/api/v1/objects/" + url.PathEscape(id)
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Registry: &object.Registry{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without registry should fail")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       Deps
		wantCode   int
		wantStatus string
		wantDevice string
	}{
		{
			name:       "all healthy",
			deps:       Deps{MQTT: fakeChecker{}, Bridge: &fakeBridge{metrics: bsblan.BridgeMetrics{Connected: true, Status: "healthy"}}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantDevice: "ok",
		},
		{
			name:       "mqtt down",
			deps:       Deps{MQTT: fakeChecker{err: errors.New("mqtt: client not connected")}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantDevice: "disabled",
		},
		{
			name:       "device unreachable",
			deps:       Deps{Bridge: &fakeBridge{metrics: bsblan.BridgeMetrics{Status: "disconnected"}}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantDevice: "disconnected",
		},
		{
			name:       "database down",
			deps:       Deps{DB: fakeChecker{err: errors.New("database: closed")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantDevice: "disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, tt.deps)
			w := serve(srv, http.MethodGet, "/api/v1/health", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			resp := decode[HealthResponse](t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Components["device"] != tt.wantDevice {
				t.Errorf("device = %q, want %q", resp.Components["device"], tt.wantDevice)
			}
			if resp.Components["influxdb"] != "disabled" {
				t.Errorf("influxdb = %q, want disabled", resp.Components["influxdb"])
			}
			if resp.Version != "test" {
				t.Errorf("Version = %q", resp.Version)
			}
		})
	}
}

// ─── Objects ───────────────────────────────────────────────────────

func TestListObjects(t *testing.T) {
	srv, _ := testServer(t, Deps{})

	tests := []struct {
		target string
		want   []string
	}{
		{"/api/v1/objects", []string{"Außentemperatur (8700)", "Komfortsollwert (710)", "info.connection"}},
		{"/api/v1/objects?prefix=info.", []string{"info.connection"}},
		{"/api/v1/objects?prefix=none", nil},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := serve(srv, http.MethodGet, tt.target, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			resp := decode[struct {
				Objects []ObjectResponse `json:"objects"`
				Count   int              `json:"count"`
			}](t, w)

			var ids []string
			for _, o := range resp.Objects {
				ids = append(ids, o.ID)
			}
			if strings.Join(ids, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
			if resp.Count != len(tt.want) {
				t.Errorf("Count = %d, want %d", resp.Count, len(tt.want))
			}
		})
	}
}

func TestGetObject(t *testing.T) {
	srv, _ := testServer(t, Deps{})

	w := serve(srv, http.MethodGet, objectPath("Komfortsollwert (710)"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[ObjectResponse](t, w)
	if resp.Native.ID != "710" || !resp.Common.Write {
		t.Errorf("object = %+v", resp.Object)
	}
	if resp.State == nil || resp.State.Value != 20.5 || !resp.State.Ack {
		t.Errorf("state = %+v, want 20.5 acked", resp.State)
	}

	w = serve(srv, http.MethodGet, objectPath("nope"), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing object status = %d, want 404", w.Code)
	}
}

func TestSetObjectState(t *testing.T) {
	srv, registry := testServer(t, Deps{})

	var mu sync.Mutex
	var changes []object.StateChange
	registry.OnStateChange(func(c object.StateChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	tests := []struct {
		name     string
		id       string
		body     string
		wantCode int
	}{
		{"accepted", "Komfortsollwert (710)", `{"value": 21.5}`, http.StatusAccepted},
		{"read-only", "Außentemperatur (8700)", `{"value": 3}`, http.StatusConflict},
		{"not a parameter", "info.connection", `{"value": true}`, http.StatusConflict},
		{"unknown", "nope", `{"value": 1}`, http.StatusNotFound},
		{"missing value", "Komfortsollwert (710)", `{}`, http.StatusBadRequest},
		{"invalid json", "Komfortsollwert (710)", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(srv, http.MethodPut, objectPath(tt.id)+"/state", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	if c := changes[0]; c.ID != "Komfortsollwert (710)" || c.State.Ack || c.State.Value != 21.5 {
		t.Errorf("change = %+v, want unacked 21.5", c)
	}
}

// ─── Sync ──────────────────────────────────────────────────────────

func TestSync(t *testing.T) {
	bridge := &fakeBridge{}
	srv, _ := testServer(t, Deps{Bridge: bridge})

	w := serve(srv, http.MethodPost, "/api/v1/sync", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if bridge.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", bridge.refreshes)
	}

	bridge.refreshErr = bsblan.ErrNotRunning
	w = serve(srv, http.MethodPost, "/api/v1/sync", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped bridge status = %d, want 503", w.Code)
	}
}

func TestSync_NoBridge(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	w := serve(srv, http.MethodPost, "/api/v1/sync", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestSystemMetrics(t *testing.T) {
	bridge := &fakeBridge{metrics: bsblan.BridgeMetrics{Connected: true, Cycles: 4, Tracked: 2}}
	srv, _ := testServer(t, Deps{Bridge: bridge, MQTT: fakeChecker{}})

	w := serve(srv, http.MethodGet, "/api/v1/system/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Bridge == nil || m.Bridge.Cycles != 4 || m.Bridge.Tracked != 2 {
		t.Errorf("Bridge = %+v", m.Bridge)
	}
	if !m.MQTT.Enabled || !m.MQTT.Connected {
		t.Errorf("MQTT = %+v", m.MQTT)
	}
	if m.Objects.Objects != 3 || m.Objects.Parameters != 2 {
		t.Errorf("Objects = %+v", m.Objects)
	}
	if m.Runtime.Goroutines == 0 || m.Runtime.GoVersion == "" {
		t.Errorf("Runtime = %+v", m.Runtime)
	}
	if m.History != nil {
		t.Errorf("History = %+v, want nil without InfluxDB", m.History)
	}
}

func TestSystemMetrics_History(t *testing.T) {
	history := fakeHistory{stats: influxdb.Stats{Connected: true, Points: 42, WriteErrors: 1, LastError: "influxdb: write failed"}}
	srv, _ := testServer(t, Deps{InfluxDB: history})

	w := serve(srv, http.MethodGet, "/api/v1/system/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.History == nil || m.History.Points != 42 || m.History.WriteErrors != 1 || !m.History.Connected {
		t.Errorf("History = %+v", m.History)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "bsblan_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv, _ := testServer(t, Deps{Prometheus: reg})
	w := serve(srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bsblan_test_total 1") {
		t.Errorf("exposition missing counter:\n%s", w.Body.String())
	}

	srv, _ = testServer(t, Deps{})
	if w := serve(srv, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("without registry status = %d, want 404", w.Code)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, Deps{})

	w := serve(srv, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t, Deps{Config: config.APIConfig{
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://panel.local"}},
	}})

	tests := []struct {
		origin     string
		wantHeader string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/objects", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodeInternal {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	body := `{"value": "` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := serve(srv, http.MethodPut, objectPath("Komfortsollwert (710)")+"/state", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
