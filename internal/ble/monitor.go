package ble

import (
	"fmt"
	"sync"
	"time"
)

// Rolling window capacities. Commands are frequent, connections less
// so, scans rare; the windows are sized so each covers a comparable
// stretch of recent activity.
const (
	commandWindowSize = 100
	connectWindowSize = 50
	scanWindowSize    = 20
)

// Bottleneck thresholds.
const (
	commandSlowMs      = 1000
	commandSevereMs    = 2000
	connectSlowMs      = 5000
	successRateFlagsAt = 0.90
)

// sample is one recorded operation.
type sample struct {
	latency time.Duration
	ok      bool
}

// window is a fixed-capacity ring of recent samples.
type window struct {
	mu      sync.Mutex
	samples []sample
	next    int
	filled  bool
}

func newWindow(capacity int) *window {
	return &window{samples: make([]sample, capacity)}
}

func (w *window) add(s sample) {
	w.mu.Lock()
	w.samples[w.next] = s
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
	w.mu.Unlock()
}

// snapshot returns count, average latency, and success rate over the
// window's current contents.
func (w *window) snapshot() (count int, avg time.Duration, successRate float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.next
	if w.filled {
		count = len(w.samples)
	}
	if count == 0 {
		return 0, 0, 1
	}

	var total time.Duration
	succeeded := 0
	for i := 0; i < count; i++ {
		total += w.samples[i].latency
		if w.samples[i].ok {
			succeeded++
		}
	}
	return count, total / time.Duration(count), float64(succeeded) / float64(count)
}

// Stats is a point-in-time summary of recent pipeline performance.
type Stats struct {
	CommandCount   int
	AvgCommand     time.Duration
	CommandSuccess float64
	ConnectCount   int
	AvgConnect     time.Duration
	ConnectSuccess float64
	ScanCount      int
	AvgScan        time.Duration
	TotalCommands  uint64
	TotalFailures  uint64
}

// Bottleneck is one advisory finding about pipeline health. Findings
// never gate commands; they exist to be logged and published.
type Bottleneck struct {
	Kind     string
	Severity string
	Message  string
}

// TelemetrySink receives every recorded sample, typically backed by
// InfluxDB. Implementations must not block.
type TelemetrySink interface {
	RecordSample(kind string, latency time.Duration, ok bool)
}

// Monitor keeps rolling windows of command, connection, and scan
// latencies and derives advisory bottleneck findings from them.
type Monitor struct {
	commands *window
	connects *window
	scans    *window

	mu            sync.Mutex
	totalCommands uint64
	totalFailures uint64

	sink   TelemetrySink
	sinkMu sync.RWMutex
}

// NewMonitor returns a monitor with empty windows.
func NewMonitor() *Monitor {
	return &Monitor{
		commands: newWindow(commandWindowSize),
		connects: newWindow(connectWindowSize),
		scans:    newWindow(scanWindowSize),
	}
}

// SetTelemetrySink attaches a sink for recorded samples.
func (m *Monitor) SetTelemetrySink(sink TelemetrySink) {
	m.sinkMu.Lock()
	m.sink = sink
	m.sinkMu.Unlock()
}

// RecordCommand records one command dispatch outcome.
func (m *Monitor) RecordCommand(latency time.Duration, ok bool) {
	m.commands.add(sample{latency: latency, ok: ok})

	m.mu.Lock()
	m.totalCommands++
	if !ok {
		m.totalFailures++
	}
	m.mu.Unlock()

	m.forward("command", latency, ok)
}

// RecordConnect records one connection attempt outcome.
func (m *Monitor) RecordConnect(latency time.Duration, ok bool) {
	m.connects.add(sample{latency: latency, ok: ok})
	m.forward("connect", latency, ok)
}

// RecordScan records one discovery scan.
func (m *Monitor) RecordScan(latency time.Duration, ok bool) {
	m.scans.add(sample{latency: latency, ok: ok})
	m.forward("scan", latency, ok)
}

func (m *Monitor) forward(kind string, latency time.Duration, ok bool) {
	m.sinkMu.RLock()
	sink := m.sink
	m.sinkMu.RUnlock()
	if sink != nil {
		sink.RecordSample(kind, latency, ok)
	}
}

// Snapshot returns the current performance summary.
func (m *Monitor) Snapshot() Stats {
	var s Stats
	s.CommandCount, s.AvgCommand, s.CommandSuccess = m.commands.snapshot()
	s.ConnectCount, s.AvgConnect, s.ConnectSuccess = m.connects.snapshot()
	s.ScanCount, s.AvgScan, _ = m.scans.snapshot()

	m.mu.Lock()
	s.TotalCommands = m.totalCommands
	s.TotalFailures = m.totalFailures
	m.mu.Unlock()
	return s
}

// Bottlenecks evaluates the current windows against the thresholds.
func (m *Monitor) Bottlenecks() []Bottleneck {
	s := m.Snapshot()
	var out []Bottleneck

	if s.CommandCount > 0 {
		avgMs := s.AvgCommand.Milliseconds()
		switch {
		case avgMs > commandSevereMs:
			out = append(out, Bottleneck{
				Kind:     "command_latency",
				Severity: "severe",
				Message:  fmt.Sprintf("average command latency %dms exceeds %dms", avgMs, commandSevereMs),
			})
		case avgMs > commandSlowMs:
			out = append(out, Bottleneck{
				Kind:     "command_latency",
				Severity: "warning",
				Message:  fmt.Sprintf("average command latency %dms exceeds %dms", avgMs, commandSlowMs),
			})
		}

		if s.CommandSuccess < successRateFlagsAt {
			out = append(out, Bottleneck{
				Kind:     "success_rate",
				Severity: "warning",
				Message:  fmt.Sprintf("command success rate %.0f%% below %.0f%%", s.CommandSuccess*100, successRateFlagsAt*100),
			})
		}
	}

	if s.ConnectCount > 0 && s.AvgConnect.Milliseconds() > connectSlowMs {
		out = append(out, Bottleneck{
			Kind:     "connect_latency",
			Severity: "warning",
			Message:  fmt.Sprintf("average connection time %dms exceeds %dms", s.AvgConnect.Milliseconds(), connectSlowMs),
		})
	}

	return out
}
