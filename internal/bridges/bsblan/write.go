package bsblan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/client"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/param"
	"github.com/nerrad567/bsblan-bridge/internal/object"
)

// writeRequest is one pending device write.
type writeRequest struct {
	objectID  string
	paramID   string
	value     any
	commandID string
}

// handleStateChange queues un-acknowledged changes of tracked parameter
// objects for the device. Writes run one at a time in arrival order.
func (b *Bridge) handleStateChange(change object.StateChange) {
	if change.State.Ack {
		return
	}
	id, ok := b.paramForObject(change.ID)
	if !ok {
		return
	}

	req := writeRequest{
		objectID:  change.ID,
		paramID:   id,
		value:     change.State.Value,
		commandID: b.takePending(change.ID),
	}

	select {
	case b.writes <- req:
	case <-b.done:
	}
}

// writeLoop drains the write queue until the bridge stops.
func (b *Bridge) writeLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case req := <-b.writes:
			b.write(b.ctx, req)
		}
	}
}

// write sends one value to the device and republishes what the device
// acknowledged. Rejections are logged and swallowed; any other failure
// marks the device unhealthy.
func (b *Bridge) write(ctx context.Context, req writeRequest) {
	p, ok := b.trackedParam(req.paramID)
	if !ok {
		return
	}

	obj, err := b.store.Get(ctx, req.objectID)
	dataType := p.dataType
	if err == nil && obj.IsParameter() {
		dataType = obj.Native.BSB.DataType
	}

	value := bsb.FormatValue(req.value)
	b.logDebug("writing parameter", "param", req.paramID, "value", value, "type", dataType.String())

	ack, err := b.client.Write(ctx, req.paramID, value, dataType)

	var rejected *client.WriteRejectedError
	switch {
	case errors.As(err, &rejected):
		b.logWarn("device rejected write",
			"param", req.paramID, "value", value, "status", rejected.Status.String(), "response", rejected.Raw)
		b.metrics.write("rejected")
		b.countWrite(false)

		code := ErrCodeDeviceRejected
		if rejected.ReadOnly() {
			code = ErrCodeReadOnly
		}
		b.publishAck(req, AckRejected, &AckError{Code: code, Message: rejected.Error()})

		// Put the device's value back in place of the refused one.
		b.republish(ctx, []string{req.paramID})
		return

	case err != nil:
		b.logError("parameter write failed", err, "param", req.paramID)
		b.metrics.write("error")
		b.countWrite(false)
		b.setConnected(ctx, false)
		b.publishAck(req, AckFailed, &AckError{Code: ErrCodeDeviceUnreached, Message: err.Error()})
		return
	}

	b.metrics.write("ok")
	b.countWrite(true)
	b.logInfo("parameter written", "param", req.paramID, "value", value)

	b.republish(ctx, ackIDs(ack.Keys(), req.paramID))
	b.publishAck(req, AckAccepted, nil)
}

// republish reads ids and stores the device's values.
func (b *Bridge) republish(ctx context.Context, ids []string) {
	values, err := b.queryGrouped(ctx, ids)
	if err != nil {
		b.logWarn("failed to read back written parameters", "params", ids, "error", err)
		return
	}
	for _, id := range ids {
		p, ok := b.trackedParam(id)
		if !ok {
			continue
		}
		if v, ok := values[id]; ok {
			b.publishValue(ctx, id, p, v)
		}
	}
}

// ackIDs maps acknowledged keys back onto tracked ids. The device drops
// the destination in its answer, so a key matching the written id without
// destination stands for the written id.
func ackIDs(keys []string, written string) []string {
	base := param.Trim(param.ID(written))
	seen := make(map[string]bool, len(keys))
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := param.Trim(k)
		if param.Destination(id) == "" && id == base {
			id = written
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (b *Bridge) countWrite(ok bool) {
	b.updateStats(func(s *BridgeMetrics) {
		s.Writes++
		if !ok {
			s.WriteFailures++
		}
	})
}

// handleCommand processes an MQTT command. The value is stored as an
// un-acknowledged change, which queues the write like any other change.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	id, ok := b.topics.ParseCommand(topic)
	if !ok {
		return nil
	}
	id = param.Trim(id)

	cmd, err := ParseCommandMessage(payload)
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	req := writeRequest{paramID: id, commandID: cmd.ID}
	if err != nil {
		b.publishAck(req, AckFailed, &AckError{Code: ErrCodeInvalidCommand, Message: err.Error()})
		return nil
	}

	p, ok := b.trackedParam(id)
	if !ok {
		b.logWarn("command for unknown parameter", "param", id, "command_id", cmd.ID)
		b.publishAck(req, AckFailed, &AckError{Code: ErrCodeNotConfigured, Message: ErrUnknownParameter.Error()})
		return nil
	}
	req.objectID = p.objectID

	b.setPending(p.objectID, cmd.ID)
	if err := b.store.SetValue(b.ctx, p.objectID, cmd.Value, false); err != nil {
		b.takePending(p.objectID)
		b.publishAck(req, AckFailed, &AckError{Code: ErrCodeInvalidCommand, Message: err.Error()})
		return nil
	}

	b.logDebug("command received", "param", id, "command_id", cmd.ID, "source", cmd.Source)
	return nil
}

func (b *Bridge) setPending(objectID, commandID string) {
	b.pendingMu.Lock()
	b.pending[objectID] = commandID
	b.pendingMu.Unlock()
}

func (b *Bridge) takePending(objectID string) string {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	id := b.pending[objectID]
	delete(b.pending, objectID)
	return id
}

// publishAck reports a command outcome. Writes that did not come from an
// MQTT command are acknowledged too, without a command ID.
func (b *Bridge) publishAck(req writeRequest, status AckStatus, ackErr *AckError) {
	if b.mqtt == nil {
		return
	}
	msg := AckMessage{
		CommandID: req.commandID,
		ParamID:   req.paramID,
		ObjectID:  req.objectID,
		Status:    status,
		Error:     ackErr,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(req.paramID), payload, 1, false); err != nil {
		b.logDebug("ack publish failed", "param", req.paramID, "error", err)
	}
}
