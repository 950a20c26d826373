package ble

import (
	"context"
	"fmt"
	"time"
)

// HealthReport is a point-in-time diagnostic of the device layer.
type HealthReport struct {
	Timestamp          time.Time `json:"timestamp"`
	TransportAvailable bool      `json:"transport_available"`
	Simulated          bool      `json:"simulated"`
	KnownDevices       int       `json:"known_devices"`
	ActiveDevices      int       `json:"active_devices"`
	PooledConnections  int       `json:"pooled_connections"`
	ScanPerformed      bool      `json:"scan_performed"`
	Discovered         int       `json:"discovered,omitempty"`
	DiscoveredKnown    []string  `json:"discovered_known,omitempty"`
	Issues             []string  `json:"issues,omitempty"`
}

// Healthy reports whether the check found no issues.
func (r HealthReport) Healthy() bool {
	return len(r.Issues) == 0
}

// HealthCheck assembles a diagnostic report. With includeScan set, a
// discovery scan runs and its results are matched against the
// directory's known gateway addresses.
//
// Parameters:
//   - ctx: Context for cancellation
//   - scanTimeout: Scan duration; 0 uses the configured default
//   - includeScan: Whether to run a live discovery scan
//
// Returns:
//   - HealthReport: Findings; never an error, problems land in Issues
func (c *Controller) HealthCheck(ctx context.Context, scanTimeout time.Duration, includeScan bool) HealthReport {
	report := HealthReport{
		Timestamp:          time.Now(),
		TransportAvailable: c.transport != nil && c.transport.Available(),
		Simulated:          c.simulated.Load(),
		PooledConnections:  c.pool.Size(),
	}

	devices := c.dir.DeviceMap()
	report.KnownDevices = len(devices)
	report.ActiveDevices = len(c.dir.ActiveDevices())

	if !report.TransportAvailable {
		report.Issues = append(report.Issues, "BLE transport unavailable")
	}
	if report.Simulated {
		report.Issues = append(report.Issues, "running in simulation mode")
	}
	if report.KnownDevices == 0 {
		report.Issues = append(report.Issues, "device directory is empty")
	}

	if !includeScan {
		return report
	}

	results, err := c.Scan(ctx, scanTimeout)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("scan failed: %v", err))
		return report
	}
	report.ScanPerformed = true
	report.Discovered = len(results)

	// Match discovered addresses against known gateways.
	byMAC := make(map[string]string, len(devices))
	for id, dev := range devices {
		if !dev.IsPlaceholder() {
			byMAC[dev.MAC] = id
		}
	}
	for _, r := range results {
		if id, ok := byMAC[r.Address]; ok {
			report.DiscoveredKnown = append(report.DiscoveredKnown, id)
		}
	}

	if !report.Simulated && len(byMAC) > 0 && len(report.DiscoveredKnown) == 0 {
		report.Issues = append(report.Issues, "no known gateway visible in scan")
	}
	return report
}
