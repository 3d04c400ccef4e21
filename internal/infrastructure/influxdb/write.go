package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementValue = "bsblan_value"
	measurementCycle = "bsblan_cycle"
)

// WriteParameterValue records one numeric parameter reading.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Parameters:
//   - paramID: Parameter id including any destination (e.g., "710", "710!1")
//   - name: Object id of the parameter (e.g., "Komfortsollwert (710)")
//   - value: The numeric value read from the device
//   - ts: Time of the reading
func (c *Client) WriteParameterValue(paramID, name string, value float64, ts time.Time) {
	point := write.NewPoint(
		measurementValue,
		map[string]string{
			"param": paramID,
			"name":  name,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)

	c.writePoint(point)
}

// WriteCycle records the outcome of one sync cycle.
//
// Parameters:
//   - duration: Time the cycle took
//   - created: Number of parameters created during the cycle
//   - ok: Whether the cycle completed without error
//   - ts: Start of the cycle
func (c *Client) WriteCycle(duration time.Duration, created int, ok bool, ts time.Time) {
	result := "ok"
	if !ok {
		result = "error"
	}

	point := write.NewPoint(
		measurementCycle,
		map[string]string{
			"result": result,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"created":     created,
		},
		ts,
	)

	c.writePoint(point)
}
