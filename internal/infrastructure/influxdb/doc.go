// Package influxdb provides InfluxDB connectivity for the controller.
//
// It wraps the official influxdb-client-go v2 library with the
// controller's patterns for connection management, telemetry writing,
// and health monitoring.
//
// # Purpose
//
// This package handles time-series storage for:
//   - Command, connect, and scan latency samples
//   - Dispatched command outcomes
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "brightline",
//	    Bucket: "dalilink",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.RecordSample("command", 120*time.Millisecond, true)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval), which keeps network overhead low on constrained
// hosts.
package influxdb
