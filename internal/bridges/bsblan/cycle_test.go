package bsblan

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/client"
	"github.com/nerrad567/bsblan-bridge/internal/object"
)

func TestCycle_CreatesObjectsAndPublishes(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, heatingDevice(), "700, 710\n8700")
	tb.prepare(t)

	tb.runCycle(ctx)

	mode := tb.objectOf(t, "Betriebsart (700)")
	if mode.Common.Type != bsb.StorageNumber {
		t.Errorf("700 type = %q, want number", mode.Common.Type)
	}
	if !mode.Common.Write || mode.Common.Role != "level" {
		t.Errorf("700 write/role = %v/%q, want true/level", mode.Common.Write, mode.Common.Role)
	}
	wantStates := map[string]string{"0": "Schutzbetrieb", "1": "Automatik"}
	if !reflect.DeepEqual(mode.Common.States, wantStates) {
		t.Errorf("700 states = %v, want %v", mode.Common.States, wantStates)
	}
	if mode.Native.ID != "700" || mode.Native.BSB == nil || mode.Native.BSB.DataType != bsb.TypeEnum {
		t.Errorf("700 native = %+v", mode.Native)
	}

	comfort := tb.objectOf(t, "Komfortsollwert (710)")
	if comfort.Common.Unit != "°C" {
		t.Errorf("710 unit = %q, want °C", comfort.Common.Unit)
	}
	if comfort.Common.States != nil {
		t.Errorf("710 states = %v, want nil", comfort.Common.States)
	}

	outside := tb.objectOf(t, "Außentemperatur (8700)")
	if outside.Common.Write || outside.Common.Role != "value" {
		t.Errorf("8700 write/role = %v/%q, want false/value", outside.Common.Write, outside.Common.Role)
	}

	tests := []struct {
		id   string
		want any
	}{
		{"Betriebsart (700)", float64(1)},
		{"Komfortsollwert (710)", 20.5},
		{"Außentemperatur (8700)", float64(0)},
		{ConnectionObject, true},
	}
	for _, tt := range tests {
		s := tb.stateOf(t, tt.id)
		if s.Value != tt.want || !s.Ack {
			t.Errorf("state %q = %v (ack %v), want %v acked", tt.id, s.Value, s.Ack, tt.want)
		}
	}

	msgs := tb.mqtt.messages("bsblan/state/710")
	if len(msgs) == 0 {
		t.Fatal("no state published for 710")
	}
	var sm StateMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].payload, &sm); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if sm.ParamID != "710" || sm.Value != 20.5 || sm.Unit != "°C" || !msgs[0].retained {
		t.Errorf("state message = %+v retained=%v", sm, msgs[0].retained)
	}

	m := tb.GetMetrics()
	if m.Cycles != 1 || m.CycleFailures != 0 || m.LastNew != 3 || !m.Connected {
		t.Errorf("metrics = %+v", m)
	}
	if tb.State() != StateScheduleNext {
		t.Errorf("State() = %v, want SCHEDULE_NEXT", tb.State())
	}
}

func TestCycle_DuplicateEntriesTrackedOnce(t *testing.T) {
	ctx := context.Background()
	device := newMockDevice()
	device.categories = map[string]bsb.CategoryDescriptor{"1": {Name: "Bedieneinheit", Min: 0, Max: 199}}
	device.definitions = map[string]map[string]bsb.ParameterDefinition{
		"1": {"100": {Name: "Uhrzeit und Datum - Stunden/Minuten", DataType: bsb.TypeTime}},
	}
	device.values = map[string]bsb.ParameterValue{"100": {Value: "07:30"}}

	tb := newTestBridge(t, device, "100, 100.0")
	tb.prepare(t)

	if got := joined(tb.trackedIDs()); got != "100" {
		t.Fatalf("trackedIDs() = %q, want %q", got, "100")
	}
	if !tb.logger.warned(WarnDuplicateAddress, "100.0") {
		t.Error("expected duplicate_address warning for 100.0")
	}

	tb.runCycle(ctx)
	if got := tb.GetMetrics().LastNew; got != 1 {
		t.Fatalf("first cycle LastNew = %d, want 1", got)
	}

	tb.runCycle(ctx)
	if got := tb.GetMetrics().LastNew; got != 0 {
		t.Errorf("second cycle LastNew = %d, want 0", got)
	}
	if device.categoriesCall != 1 {
		t.Errorf("categories fetched %d times, want 1", device.categoriesCall)
	}

	obj := tb.objectOf(t, "Uhrzeit und Datum - Stunden/Minuten (100)")
	if obj.Common.Type != bsb.StorageString {
		t.Errorf("type = %q, want string", obj.Common.Type)
	}
	if s := tb.stateOf(t, obj.ID); s.Value != "07:30" {
		t.Errorf("value = %v, want 07:30", s.Value)
	}
}

func TestCycle_DestinationsAreDistinct(t *testing.T) {
	ctx := context.Background()
	device := heatingDevice()
	device.values["710!1"] = bsb.ParameterValue{Name: "Komfortsollwert", Value: "22", Unit: "&deg;C"}

	tb := newTestBridge(t, device, "710!1, 710")
	tb.prepare(t)
	tb.runCycle(ctx)

	if s := tb.stateOf(t, "Komfortsollwert (710)"); s.Value != 20.5 {
		t.Errorf("710 = %v, want 20.5", s.Value)
	}
	if s := tb.stateOf(t, "Komfortsollwert (710!1)"); s.Value != float64(22) {
		t.Errorf("710!1 = %v, want 22", s.Value)
	}

	// Snapshot and value reads: destination-less group first, then "!1".
	var got []string
	for _, q := range device.getQueries() {
		got = append(got, joined(q))
	}
	want := []string{"710", "710!1", "710", "710!1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("queries = %v, want %v", got, want)
	}
}

func TestCycle_ValueNotFound(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, heatingDevice(), "700, 750, 9999")
	tb.prepare(t)
	tb.runCycle(ctx)

	if !tb.logger.warned(WarnValueNotFound, "9999") {
		t.Error("expected value_not_found for 9999 (no category)")
	}
	if !tb.logger.warned(WarnValueNotFound, "750") {
		t.Error("expected value_not_found for 750 (not defined)")
	}
	if ok, _ := tb.store.Exists(ctx, "Betriebsart (700)"); !ok {
		t.Error("700 should still be created")
	}
	if tb.GetMetrics().CycleFailures != 0 {
		t.Error("missing parameters must not fail the cycle")
	}
}

func TestCycle_ErrorMarksDisconnected(t *testing.T) {
	ctx := context.Background()
	device := heatingDevice()
	tb := newTestBridge(t, device, "710")
	tb.prepare(t)

	tb.runCycle(ctx)
	if !tb.Connected() {
		t.Fatal("expected connected after a good cycle")
	}

	device.mu.Lock()
	device.queryErr = &client.TransportError{Method: "GET", Path: "/JQ=710", Attempts: 2, Err: errors.New("timeout")}
	device.mu.Unlock()

	tb.runCycle(ctx)

	if tb.Connected() {
		t.Error("expected disconnected after a failed cycle")
	}
	if tb.State() != StateError {
		t.Errorf("State() = %v, want ERROR", tb.State())
	}
	m := tb.GetMetrics()
	if m.CycleFailures != 1 || !strings.Contains(m.LastError, "fetching values") {
		t.Errorf("metrics = %+v", m)
	}
	if s := tb.stateOf(t, ConnectionObject); s.Value != false {
		t.Errorf("connection state = %v, want false", s.Value)
	}

	tb.history.mu.Lock()
	defer tb.history.mu.Unlock()
	if !reflect.DeepEqual(tb.history.cycles, []bool{true, false}) {
		t.Errorf("history cycles = %v, want [true false]", tb.history.cycles)
	}
	if !reflect.DeepEqual(tb.history.values["710"], []float64{20.5}) {
		t.Errorf("history 710 = %v, want [20.5]", tb.history.values["710"])
	}
}

func TestCycle_NewParameterPublishedOncePerCycle(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, heatingDevice(), "710")
	tb.prepare(t)

	tb.runCycle(ctx)
	if got := len(tb.mqtt.messages("bsblan/state/710")); got != 1 {
		t.Errorf("creating cycle published 710 %d times, want 1", got)
	}

	tb.runCycle(ctx)
	if got := len(tb.mqtt.messages("bsblan/state/710")); got != 2 {
		t.Errorf("after second cycle 710 published %d times, want 2", got)
	}

	tb.history.mu.Lock()
	defer tb.history.mu.Unlock()
	if !reflect.DeepEqual(tb.history.values["710"], []float64{20.5, 20.5}) {
		t.Errorf("history 710 = %v, want one point per cycle", tb.history.values["710"])
	}
}

func TestCycle_PanicIsRecovered(t *testing.T) {
	device := heatingDevice()
	device.queryPanic = true
	tb := newTestBridge(t, device, "710")
	tb.prepare(t)

	tb.runCycle(context.Background())

	m := tb.GetMetrics()
	if m.CycleFailures != 1 || !strings.Contains(m.LastError, "panic") {
		t.Errorf("metrics = %+v, want a recorded panic", m)
	}
	if tb.Connected() {
		t.Error("expected disconnected after a panic")
	}
}

func TestLoop_KeepsTickingAfterFailure(t *testing.T) {
	device := heatingDevice()
	device.queryErr = errors.New("connection refused")
	tb := newTestBridge(t, device, "710")

	if err := tb.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := tb.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	waitFor(t, "first cycle", func() bool { return tb.GetMetrics().Cycles >= 1 })

	device.mu.Lock()
	device.queryErr = nil
	device.mu.Unlock()

	if err := tb.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	waitFor(t, "recovery cycle", func() bool { return tb.Connected() })

	m := tb.GetMetrics()
	if m.CycleFailures < 1 || m.Cycles < 2 {
		t.Errorf("metrics = %+v", m)
	}

	tb.Stop()
	if err := tb.Refresh(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Refresh() after Stop = %v, want ErrNotRunning", err)
	}
}

func TestRefresh_NotStarted(t *testing.T) {
	tb := newTestBridge(t, heatingDevice(), "710")
	if err := tb.Refresh(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Refresh() error = %v, want ErrNotRunning", err)
	}
}

func TestCycle_Averages(t *testing.T) {
	ctx := context.Background()
	device := heatingDevice()
	device.averagesErr = nil
	device.averages = map[string]bsb.ParameterValue{
		"8700":   {Name: "Außentemperatur", Value: "5.2", Unit: "&deg;C"},
		"8743.0": {Name: "Vorlauftemperatur 1", Value: "---", Unit: "&deg;C"},
	}

	tb := newTestBridge(t, device, "8700")
	tb.prepare(t)
	tb.runCycle(ctx)

	channel := tb.objectOf(t, AveragesChannel)
	if channel.Type != object.TypeChannel {
		t.Errorf("avg type = %q, want channel", channel.Type)
	}

	avg := tb.objectOf(t, "avg.Außentemperatur (8700)")
	if avg.Common.Unit != "°C" || avg.Common.Type != bsb.StorageNumber {
		t.Errorf("avg common = %+v", avg.Common)
	}
	if s := tb.stateOf(t, avg.ID); s.Value != 5.2 {
		t.Errorf("avg value = %v, want 5.2", s.Value)
	}
	if s := tb.stateOf(t, "avg.Vorlauftemperatur 1 (8743)"); s.Value != float64(0) {
		t.Errorf("avg 8743 = %v, want 0", s.Value)
	}
	if avg.IsParameter() {
		t.Error("average objects must not count as tracked parameters")
	}
}

func TestCycle_AveragesUnsupported(t *testing.T) {
	tb := newTestBridge(t, heatingDevice(), "8700")
	tb.prepare(t)
	tb.runCycle(context.Background())

	if tb.GetMetrics().CycleFailures != 0 {
		t.Error("unsupported averages must not fail the cycle")
	}
	if ok, _ := tb.store.Exists(context.Background(), AveragesChannel); ok {
		t.Error("avg channel created without averages")
	}
}

func TestUpdateInfo(t *testing.T) {
	ctx := context.Background()
	device := heatingDevice()
	device.profile = client.FirmwareProfile{APIVersion: "2.1", Generation: client.GenerationV2}
	device.info = map[string]any{
		"name":    "BSB-LAN",
		"version": "3.1.0",
		"freeram": float64(12345),
		"uptime":  map[string]any{"value": float64(1000)},
		"MAC":     "00:80:41:ae:fd:7e",
		"bus":     "BSB",
		"busaddr": "66",
	}

	tb := newTestBridge(t, device, "")
	tb.prepare(t)
	tb.updateInfo(ctx)

	tests := []struct {
		id   string
		want any
	}{
		{"info.name", "BSB-LAN"},
		{"info.version", "3.1.0"},
		{"info.freeram", float64(12345)},
		{"info.uptime", float64(1000)},
		{"info.MAC", "00:80:41:ae:fd:7e"},
		{"info.bus", "BSB"},
		{"info.busaddr", float64(66)},
	}
	for _, tt := range tests {
		if s := tb.stateOf(t, tt.id); s.Value != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.id, s.Value, s.Value, tt.want)
		}
	}

	mac := tb.objectOf(t, "info.MAC")
	if mac.Common.Type != bsb.StorageString || mac.Common.Unit != "" {
		t.Errorf("info.MAC common = %+v", mac.Common)
	}
	if ok, _ := tb.store.Exists(ctx, "info.monitor"); ok {
		t.Error("info.monitor created without a value")
	}
	if len(tb.mqtt.messages("bsblan/state/info/name")) != 1 {
		t.Error("expected info publish for name")
	}
	if fw := tb.GetMetrics().Firmware; !strings.Contains(fw, "3.1.0") {
		t.Errorf("Firmware = %q, want it to contain 3.1.0", fw)
	}
}

func TestUpdateInfo_V1Skipped(t *testing.T) {
	tb := newTestBridge(t, heatingDevice(), "")
	tb.prepare(t)
	tb.updateInfo(context.Background())

	if ok, _ := tb.store.Exists(context.Background(), "info.name"); ok {
		t.Error("v1 firmware has no info objects")
	}
	if fw := tb.GetMetrics().Firmware; fw != "v1" {
		t.Errorf("Firmware = %q, want v1", fw)
	}
}

func TestCycle_Metrics(t *testing.T) {
	metrics := NewMetrics()
	store := newTestStore(t)
	b, err := NewBridge(BridgeOptions{
		Client:  heatingDevice(),
		Store:   store,
		Metrics: metrics,
		Values:  "700,710,710",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	t.Cleanup(b.Stop)

	b.resolveTracked()
	b.runCycle(context.Background())

	if got := testutil.ToFloat64(metrics.cycles.WithLabelValues("ok")); got != 1 {
		t.Errorf("cycles{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.tracked); got != 2 {
		t.Errorf("tracked = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.objects); got != 2 {
		t.Errorf("objects created = %v, want 2", got)
	}
}

func TestNumericLess(t *testing.T) {
	in := []string{"10", "", "2", "abc", "1"}
	want := []string{"", "1", "2", "10", "abc"}

	got := append([]string(nil), in...)
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			if numericLess(got[j], got[i]) {
				got[i], got[j] = got[j], got[i]
			}
		}
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sorted = %v, want %v", got, want)
	}
}
