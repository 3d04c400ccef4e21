// Package bsblan implements the parameter synchronisation engine between a
// BSB-LAN heating gateway and the local object store.
//
// # Architecture
//
//	┌──────────────┐  HTTP/JSON  ┌──────────────┐        ┌──────────────┐
//	│   BSB-LAN    │◄───────────►│    Bridge    │───────►│ Object store │
//	│   gateway    │  (1 queue)  │  (this pkg)  │◄───────│  (registry)  │
//	└──────────────┘             └──────┬───────┘ writes └──────────────┘
//	                                    │
//	                                    ▼ MQTT state / ack / health, InfluxDB history
//
// # Sync cycle
//
// One goroutine runs a cycle per interval (60s by default, never below 10s):
//
//	UPDATE_INFO → DETECT_NEW → FETCH_CATEGORIES → CREATE_OBJECTS →
//	FETCH_VALUES → PUBLISH_VALUES → FETCH_AVERAGES → PUBLISH_AVERAGES →
//	SCHEDULE_NEXT
//
// Any step may fail into ERROR, which logs the failure, marks the device
// connection unhealthy and still schedules the next cycle.
//
// Before the first cycle every existing parameter object is reconciled
// against its stored definition: stale read/write flags and storage types
// are corrected, empty enum state maps are cleared and objects whose ID the
// current name sanitiser would not produce are reported for manual removal.
//
// # Writes
//
// Un-acknowledged value changes in the object store (from the REST API,
// the WebSocket feed or an MQTT command) are written to the device. The
// parameters named in the device's acknowledgement are then read back and
// published with ack=true.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Every device request
// goes through the client's single-slot queue, so cycle reads and writes
// interleave but never overlap.
package bsblan
