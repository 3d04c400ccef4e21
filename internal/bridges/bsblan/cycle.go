package bsblan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/client"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/param"
	"github.com/nerrad567/bsblan-bridge/internal/object"
)

// categoryGroup is one touched category and the new parameters inside it.
type categoryGroup struct {
	id     string
	params []string
}

// runCycle executes one sync cycle. It never panics and never returns an
// error: failures are logged, flip the connection flag and are counted.
func (b *Bridge) runCycle(ctx context.Context) {
	start := time.Now()
	cycleID := uuid.NewString()

	created, err := b.safeCycle(ctx, cycleID)
	duration := time.Since(start)

	b.updateStats(func(s *BridgeMetrics) {
		s.Cycles++
		s.LastNew = created
		s.LastCycle = start
		s.LastDuration = duration
		s.LastError = ""
		if err != nil {
			s.CycleFailures++
			s.LastError = err.Error()
		}
	})
	if b.history != nil {
		b.history.WriteCycle(duration, created, err == nil, start)
	}

	if err != nil {
		failedIn := b.State()
		b.setState(StateError)
		b.logError("sync cycle failed", err, "cycle", cycleID, "state", failedIn.String(), "duration", duration)
		b.metrics.observeCycle("error", duration)
		b.setConnected(ctx, false)
		return
	}

	b.metrics.observeCycle("ok", duration)
	b.setConnected(ctx, true)
	b.logDebug("sync cycle complete", "cycle", cycleID, "duration", duration, "new", created)
}

// safeCycle turns a panic anywhere in the cycle into an error.
func (b *Bridge) safeCycle(ctx context.Context, cycleID string) (created int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", b.State(), r, debug.Stack())
		}
	}()
	return b.cycle(ctx, cycleID)
}

// cycle walks the state machine once and returns the number of new
// parameters it found.
func (b *Bridge) cycle(ctx context.Context, cycleID string) (int, error) {
	b.setState(StateUpdateInfo)
	b.updateInfo(ctx)

	b.setState(StateDetectNew)
	fresh, err := b.detectNew(ctx)
	if err != nil {
		return 0, fmt.Errorf("detecting new parameters: %w", err)
	}

	var published map[string]bool
	if len(fresh) > 0 {
		b.logInfo("new parameters to create", "cycle", cycleID, "count", len(fresh), "params", fresh)

		b.setState(StateFetchCategories)
		groups, err := b.fetchCategories(ctx, fresh)
		if err != nil {
			return len(fresh), fmt.Errorf("fetching categories: %w", err)
		}

		b.setState(StateCreateObjects)
		published, err = b.createObjects(ctx, fresh, groups)
		if err != nil {
			return len(fresh), fmt.Errorf("creating objects: %w", err)
		}
	}

	b.setState(StateFetchValues)
	values, err := b.queryGrouped(ctx, b.trackedIDs())
	if err != nil {
		return len(fresh), fmt.Errorf("fetching values: %w", err)
	}

	b.setState(StatePublishValues)
	b.publishValues(ctx, values, published)

	b.setState(StateFetchAverages)
	averages, err := b.client.Averages(ctx)
	switch {
	case errors.Is(err, client.ErrUnsupported):
		averages = nil
	case err != nil:
		return len(fresh), fmt.Errorf("fetching averages: %w", err)
	}

	b.setState(StatePublishAverages)
	b.publishAverages(ctx, averages)

	b.setState(StateScheduleNext)
	return len(fresh), nil
}

// updateInfo publishes the gateway info fields. Nothing here fails the cycle.
func (b *Bridge) updateInfo(ctx context.Context) {
	profile, err := b.client.Profile(ctx)
	if err != nil {
		b.logWarn("firmware probe failed", "error", err)
		return
	}
	b.updateStats(func(s *BridgeMetrics) { s.Firmware = profile.String() })

	info, err := b.client.Info(ctx)
	if errors.Is(err, client.ErrUnsupported) {
		b.logDebug("device info not supported", "firmware", profile.String())
		return
	}
	if err != nil {
		b.logWarn("device info unavailable", "error", err)
		return
	}

	for _, f := range infoFields {
		raw, ok := info[f.key]
		if !ok {
			continue
		}
		value := infoValue(raw, f.valType)

		obj := f.object()
		if err := b.ensureObject(ctx, obj); err != nil {
			b.logWarn("failed to create info object", "id", obj.ID, "error", err)
			continue
		}
		if err := b.store.SetValue(ctx, obj.ID, value, true); err != nil {
			b.logWarn("failed to store info value", "id", obj.ID, "error", err)
			continue
		}
		if f.key == "version" {
			b.updateStats(func(s *BridgeMetrics) {
				s.Firmware = bsb.FormatValue(value) + " (" + profile.String() + ")"
			})
		}
		b.publishState(b.topics.Info(f.key), StateMessage{
			ObjectID:  obj.ID,
			Value:     value,
			Unit:      f.unit,
			Ack:       true,
			Timestamp: time.Now().UTC(),
		})
	}
}

// infoValue unwraps {"value": x} entries and coerces to the object type.
func infoValue(raw any, t bsb.StorageType) any {
	if m, ok := raw.(map[string]any); ok {
		if v, ok := m["value"]; ok {
			raw = v
		}
	}
	if t != bsb.StorageNumber {
		return bsb.FormatValue(raw)
	}
	switch v := raw.(type) {
	case float64:
		return v
	case bool:
		if v {
			return float64(1)
		}
		return float64(0)
	default:
		if n, err := bsb.ParseNumber(bsb.FormatValue(v)); err == nil {
			return n
		}
		return bsb.FormatValue(v)
	}
}

// detectNew returns the tracked ids without a parameter object and binds
// the ones that have one. Identity is the trimmed id with its destination.
func (b *Bridge) detectNew(ctx context.Context) ([]string, error) {
	objects, err := b.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]*object.Object, len(objects))
	for _, obj := range objects {
		if !obj.IsParameter() {
			continue
		}
		id := param.Trim(obj.Native.ID)
		if prev, dup := existing[id]; dup {
			// Keep one deterministically; the other shows up as a stale object.
			if prev.ID < obj.ID {
				continue
			}
		}
		existing[id] = obj
	}

	var fresh []string
	for _, id := range b.trackedIDs() {
		obj, ok := existing[id]
		if !ok {
			fresh = append(fresh, id)
			continue
		}
		b.bindParam(id, trackedParam{
			objectID: obj.ID,
			dataType: obj.Native.BSB.DataType,
			unit:     obj.Common.Unit,
		})
	}
	return fresh, nil
}

// fetchCategories partitions the new ids into categories. Categories are
// tried in numeric order and the first containing range wins.
func (b *Bridge) fetchCategories(ctx context.Context, fresh []string) ([]categoryGroup, error) {
	categories, err := b.client.Categories(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(categories))
	for k := range categories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return numericLess(keys[i], keys[j]) })

	var groups []categoryGroup
	index := make(map[string]int)
	for _, id := range fresh {
		found := false
		for _, k := range keys {
			c := categories[k]
			if !param.InCategory(id, c.Min, c.Max) {
				continue
			}
			i, ok := index[k]
			if !ok {
				i = len(groups)
				index[k] = i
				groups = append(groups, categoryGroup{id: k})
			}
			groups[i].params = append(groups[i].params, id)
			found = true
			break
		}
		if !found {
			b.warn(WarnValueNotFound, "parameter is in no category", "param", id)
		}
	}
	return groups, nil
}

// createObjects fetches each touched category once and creates (or
// refreshes) the object of every new parameter it defines.
// It returns the ids whose snapshot value was already published.
func (b *Bridge) createObjects(ctx context.Context, fresh []string, groups []categoryGroup) (map[string]bool, error) {
	snapshot, err := b.queryGrouped(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("reading current values: %w", err)
	}

	published := make(map[string]bool)
	assigned := make(map[string]string)
	for _, g := range groups {
		defs, err := b.client.Category(ctx, g.id)
		if err != nil {
			return published, fmt.Errorf("category %s: %w", g.id, err)
		}

		for _, id := range g.params {
			def, ok := lookupDefinition(defs, id)
			if !ok {
				b.warn(WarnValueNotFound, "parameter not defined by device", "param", id, "category", g.id)
				continue
			}

			var value *bsb.ParameterValue
			if v, ok := snapshot[id]; ok {
				value = &v
			}
			obj := b.buildParameterObject(id, def, value)

			if other, dup := assigned[obj.ID]; dup {
				b.warn(WarnDuplicateAddress, "parameters map to the same object",
					"param", id, "other", other, "object", obj.ID)
				continue
			}
			assigned[obj.ID] = id

			if err := b.saveObject(ctx, obj); err != nil {
				return published, fmt.Errorf("saving %s: %w", obj.ID, err)
			}

			p := trackedParam{objectID: obj.ID, dataType: obj.Native.BSB.DataType, unit: obj.Common.Unit}
			b.bindParam(id, p)
			b.logInfo("parameter object created", "param", id, "object", obj.ID, "type", p.dataType.String())

			if value != nil {
				b.publishValue(ctx, id, p, *value)
				published[id] = true
			}
		}
	}
	return published, nil
}

// buildParameterObject resolves type, writability and unit for a new
// parameter, preferring what the current value reports.
func (b *Bridge) buildParameterObject(id string, def bsb.ParameterDefinition, value *bsb.ParameterValue) *object.Object {
	dataType := def.DataType
	unit := def.Unit
	if value != nil {
		if value.DataType != nil {
			dataType = *value.DataType
		}
		if value.Unit != "" {
			unit = value.Unit
		}
		if def.Readonly == nil && value.Readonly != nil {
			ro := *value.Readonly
			def.Readonly = &ro
		}
		if def.Name == "" {
			def.Name = value.Name
		}
	}
	rw := b.resolveRW(id, value, def)
	return parameterObject(id, def, dataType, rw, unit)
}

// resolveRW decides writability: the value's readonly flag, then the
// definition's, then the client's guess for firmware that reports neither.
func (b *Bridge) resolveRW(id string, value *bsb.ParameterValue, def bsb.ParameterDefinition) bool {
	if value != nil && value.Readonly != nil {
		return !value.Readonly.Bool()
	}
	if def.Readonly != nil {
		return !def.Readonly.Bool()
	}
	return b.client.IsReadWrite(id)
}

// saveObject creates obj, or updates it when the ID is taken.
func (b *Bridge) saveObject(ctx context.Context, obj *object.Object) error {
	exists, err := b.store.Exists(ctx, obj.ID)
	if err != nil {
		return err
	}
	if exists {
		return b.store.Update(ctx, obj)
	}
	if err := b.store.Create(ctx, obj); err != nil {
		return err
	}
	b.metrics.objectCreated()
	return nil
}

// ensureObject creates obj unless an object with its ID exists.
func (b *Bridge) ensureObject(ctx context.Context, obj *object.Object) error {
	exists, err := b.store.Exists(ctx, obj.ID)
	if err != nil || exists {
		return err
	}
	if err := b.store.Create(ctx, obj); err != nil && !errors.Is(err, object.ErrObjectExists) {
		return err
	}
	return nil
}

// lookupDefinition finds the definition of id in a category map, which
// is keyed without destination and usually without address.
func lookupDefinition(defs map[string]bsb.ParameterDefinition, id string) (bsb.ParameterDefinition, bool) {
	for _, key := range []string{param.ID(id), param.Trim(param.ID(id)), param.BaseID(id)} {
		if def, ok := defs[key]; ok {
			return def, true
		}
	}
	return bsb.ParameterDefinition{}, false
}

// queryGrouped reads ids one destination at a time, starting with ids
// without destination, and returns the values keyed by the requested id.
// The device answers with destination-less keys, so responses are matched
// by their trimmed id within each group.
func (b *Bridge) queryGrouped(ctx context.Context, ids []string) (map[string]bsb.ParameterValue, error) {
	groups := make(map[string][]string)
	for _, id := range ids {
		dest := param.Destination(id)
		groups[dest] = append(groups[dest], id)
	}

	dests := make([]string, 0, len(groups))
	for d := range groups {
		dests = append(dests, d)
	}
	sort.Slice(dests, func(i, j int) bool { return numericLess(dests[i], dests[j]) })

	result := make(map[string]bsb.ParameterValue, len(ids))
	for _, dest := range dests {
		wanted := make(map[string]string, len(groups[dest]))
		for _, id := range groups[dest] {
			wanted[param.Trim(param.ID(id))] = id
		}

		values, err := b.client.Query(ctx, groups[dest])
		if err != nil {
			return nil, err
		}
		for key, v := range values {
			if id, ok := wanted[param.Trim(param.ID(key))]; ok {
				result[id] = v
			}
		}
	}
	return result, nil
}

// publishValues stores the values of all bound parameters. Ids in skip
// already carry this cycle's snapshot value from object creation.
func (b *Bridge) publishValues(ctx context.Context, values map[string]bsb.ParameterValue, skip map[string]bool) {
	for _, id := range b.trackedIDs() {
		if skip[id] {
			continue
		}
		p, ok := b.trackedParam(id)
		if !ok {
			continue
		}
		v, ok := values[id]
		if !ok {
			b.logDebug("no value returned", "param", id)
			continue
		}
		b.publishValue(ctx, id, p, v)
	}
}

// publishValue stores one device value with ack and fans it out to MQTT
// and history.
func (b *Bridge) publishValue(ctx context.Context, id string, p trackedParam, v bsb.ParameterValue) {
	dataType := p.dataType
	if v.DataType != nil {
		dataType = *v.DataType
	}
	value := bsb.DecodeValue(string(v.Value), dataType)

	if err := b.store.SetValue(ctx, p.objectID, value, true); err != nil {
		b.logWarn("failed to store value", "param", id, "object", p.objectID, "error", err)
		return
	}

	now := time.Now().UTC()
	b.publishState(b.topics.State(id), StateMessage{
		ParamID:   id,
		ObjectID:  p.objectID,
		Value:     value,
		Unit:      p.unit,
		Ack:       true,
		Timestamp: now,
	})

	if n, ok := value.(float64); ok && b.history != nil {
		b.history.WriteParameterValue(id, p.objectID, n, now)
	}
}

// publishAverages stores the 24h averages below the "avg" channel.
func (b *Bridge) publishAverages(ctx context.Context, averages map[string]bsb.ParameterValue) {
	if len(averages) == 0 {
		return
	}
	if err := b.ensureObject(ctx, averagesChannel()); err != nil {
		b.logWarn("failed to create averages channel", "error", err)
		return
	}

	keys := make([]string, 0, len(averages))
	for k := range averages {
		keys = append(keys, k)
	}
	param.Sort(keys)

	for _, key := range keys {
		v := averages[key]
		id := param.Trim(key)
		objID := AverageObjectID(v.Name, id)

		if err := b.ensureObject(ctx, averageObject(objID, id, v)); err != nil {
			b.logWarn("failed to create average object", "object", objID, "error", err)
			continue
		}
		value := bsb.DecodeValue(string(v.Value), bsb.TypeNumber)
		if err := b.store.SetValue(ctx, objID, value, true); err != nil {
			b.logWarn("failed to store average", "object", objID, "error", err)
			continue
		}
		b.publishState(b.topics.State(AveragesChannel+"/"+id), StateMessage{
			ParamID:   id,
			ObjectID:  objID,
			Value:     value,
			Unit:      bsb.ParseUnit(v.Unit),
			Ack:       true,
			Timestamp: time.Now().UTC(),
		})
	}
}

// publishState sends a retained state message when MQTT is configured.
func (b *Bridge) publishState(topic string, msg StateMessage) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err, "topic", topic)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logDebug("state publish failed", "topic", topic, "error", err)
	}
}

// numericLess orders numeric strings by value; "" sorts first and
// non-numeric strings last, lexically.
func numericLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case a == "" || b == "":
		return a == "" && b != ""
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
