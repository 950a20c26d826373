package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordSample writes one performance sample from the command layer.
//
// Kind is the sample category ("command", "connect", "scan"). The
// write is non-blocking; data is batched and sent asynchronously.
// This satisfies the controller's telemetry sink interface.
//
// Parameters:
//   - kind: Sample category
//   - latency: Observed round-trip latency
//   - ok: Whether the operation succeeded
func (c *Client) RecordSample(kind string, latency time.Duration, ok bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"ble_samples",
		map[string]string{
			"kind": kind,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Microseconds()) / 1000.0,
			"success":    ok,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandOutcome writes one dispatched command outcome.
//
// Parameters:
//   - deviceID: Logical device id
//   - groupID: Group id, "" for individual commands
//   - percent: Commanded brightness
//   - success: Whether the gateway acknowledged
//   - simulated: Whether the command ran in simulation
//   - latency: Command round-trip latency
func (c *Client) WriteCommandOutcome(deviceID, groupID string, percent int, success, simulated bool, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id": deviceID,
	}
	if groupID != "" {
		tags["group_id"] = groupID
	}

	point := write.NewPoint(
		"commands",
		tags,
		map[string]interface{}{
			"percent":    percent,
			"success":    success,
			"simulated":  simulated,
			"latency_ms": float64(latency.Microseconds()) / 1000.0,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("host_stats",
//	    map[string]string{"tier": "constrained"},
//	    map[string]interface{}{"memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
