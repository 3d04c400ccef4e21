package bsblan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types of the bridge.

// StateMessage is published whenever a value is stored.
// Topic: bsblan/state/{paramId} or bsblan/state/info/{key}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// ParamID is the trimmed parameter id; empty for info fields.
	ParamID string `json:"param_id,omitempty"`

	// ObjectID is the local object identifier.
	ObjectID string `json:"object_id"`

	Value any    `json:"value"`
	Unit  string `json:"unit,omitempty"`

	// Ack is true for values read from the device.
	Ack bool `json:"ack"`

	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage asks the bridge to write a parameter.
// Topic: bsblan/command/{paramId}
//
// A bare JSON value or plain text payload ("21.5") is accepted as well.
type CommandMessage struct {
	// ID correlates the command with its AckMessage. Generated when empty.
	ID string `json:"id,omitempty"`

	Value  any    `json:"value"`
	Source string `json:"source,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ParseCommandMessage decodes a command payload.
func ParseCommandMessage(payload []byte) (CommandMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return CommandMessage{}, fmt.Errorf("empty command payload")
	}

	if payload[0] == '{' {
		var cmd CommandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return CommandMessage{}, fmt.Errorf("decoding command: %w", err)
		}
		return cmd, nil
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		v = string(payload)
	}
	return CommandMessage{Value: v}, nil
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted: the device confirmed the write.
	AckAccepted AckStatus = "accepted"

	// AckRejected: the device refused the write (status 0 or 2).
	AckRejected AckStatus = "rejected"

	// AckFailed: the write could not be delivered.
	AckFailed AckStatus = "failed"
)

// Error codes for failed commands.
const (
	ErrCodeNotConfigured   = "NOT_CONFIGURED"
	ErrCodeInvalidCommand  = "INVALID_COMMAND"
	ErrCodeReadOnly        = "READ_ONLY"
	ErrCodeDeviceRejected  = "DEVICE_REJECTED"
	ErrCodeDeviceUnreached = "DEVICE_UNREACHABLE"
)

// AckMessage reports the outcome of a command.
// Topic: bsblan/ack/{paramId}
// QoS: 1, Retained: No
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	ParamID   string    `json:"param_id"`
	ObjectID  string    `json:"object_id,omitempty"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckError details a rejected or failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus is the bridge's overall health.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published periodically and on every status change.
// Topic: bsblan/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Status    HealthStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Version   string       `json:"version,omitempty"`
	Uptime    int64        `json:"uptime_seconds"`
	Timestamp time.Time    `json:"timestamp"`
	Device    DeviceHealth `json:"device"`
}

// DeviceHealth describes the gateway connection inside a HealthMessage.
type DeviceHealth struct {
	Host      string     `json:"host,omitempty"`
	Connected bool       `json:"connected"`
	Firmware  string     `json:"firmware,omitempty"`
	Tracked   int        `json:"tracked"`
	State     State      `json:"state"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
}
