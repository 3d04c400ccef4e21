package mqtt

import "strings"

// DefaultTopicPrefix is the root of every bridge topic.
const DefaultTopicPrefix = "bsblan"

// Topics builds the bridge's MQTT topics under one prefix.
//
//	topics := mqtt.Topics{Prefix: "bsblan"}
//	topics.State("700")   // "bsblan/state/700"
//	topics.Command("700") // "bsblan/command/700"
//
// A zero Topics uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimRight(t.Prefix, "/")
}

// State returns the retained value topic of one parameter.
//
// Example: bsblan/state/8700
func (t Topics) State(paramID string) string {
	return t.prefix() + "/state/" + paramID
}

// Info returns the retained topic of one gateway info field.
//
// Example: bsblan/state/info/version
func (t Topics) Info(key string) string {
	return t.prefix() + "/state/info/" + key
}

// Command returns the topic a client publishes to in order to change a parameter.
//
// Example: bsblan/command/700
func (t Topics) Command(paramID string) string {
	return t.prefix() + "/command/" + paramID
}

// CommandWildcard subscribes to commands for every parameter.
//
// Example: bsblan/command/+
func (t Topics) CommandWildcard() string {
	return t.prefix() + "/command/+"
}

// Ack returns the topic carrying the outcome of a command.
//
// Example: bsblan/ack/700
func (t Topics) Ack(paramID string) string {
	return t.prefix() + "/ack/" + paramID
}

// Health returns the bridge health topic.
//
// Example: bsblan/health
func (t Topics) Health() string {
	return t.prefix() + "/health"
}

// Status returns the connection status topic that also carries the
// Last Will and Testament.
//
// Example: bsblan/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// ParseCommand extracts the parameter id from a command topic.
func (t Topics) ParseCommand(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
