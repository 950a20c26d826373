package ble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brightline-controls/dalilink/internal/dali"
	"github.com/brightline-controls/dalilink/internal/directory"
	"github.com/brightline-controls/dalilink/internal/hostprofile"
	"github.com/brightline-controls/dalilink/internal/relay"
)

func newTestDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	return directory.Open(filepath.Join(t.TempDir(), "devices.json"), nopLogger{})
}

// writeTestDirectory persists doc and opens a directory over it, for
// tests needing device sets beyond the synthesised default.
func writeTestDirectory(t *testing.T, doc directory.Document) *directory.Directory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.json")
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return directory.Open(path, nopLogger{})
}

func newTestController(t *testing.T, transport Transport, mutate func(*ControllerConfig)) *Controller {
	t.Helper()
	cfg := ControllerConfig{
		Transport:       transport,
		Directory:       newTestDirectory(t),
		Profile:         hostprofile.Profile{Tier: hostprofile.TierNormal},
		CommandInterval: 5 * time.Millisecond,
		ConnectTimeout:  time.Second,
		ScanTimeout:     100 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := NewController(cfg)
	c.SetLogger(nopLogger{})
	t.Cleanup(c.Stop)
	return c
}

func TestController_SetBrightness(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	if !c.SetBrightness(context.Background(), "DALLA1", 60) {
		t.Fatal("SetBrightness() = false, want success")
	}

	link := transport.link("E4:B3:23:A2:F6:F2")
	if link == nil {
		t.Fatal("no connection made to DALLA1's gateway")
	}
	if link.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1", link.writeCount())
	}
	want := dali.EncodeSetBrightness(1, 60)
	link.mu.Lock()
	got := link.writes[0]
	link.mu.Unlock()
	if !bytes.Equal(got, want) {
		t.Errorf("frame = %X, want %X", got, want)
	}
	if c.acks.Pending() != 0 {
		t.Errorf("Pending() = %d after command, want 0", c.acks.Pending())
	}
}

func TestController_UnknownDevice(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	if c.SetBrightness(context.Background(), "NOPE", 50) {
		t.Error("SetBrightness() succeeded for unknown device")
	}
	if transport.connectCount() != 0 {
		t.Errorf("connects = %d for unknown device, want 0", transport.connectCount())
	}
}

func TestController_PlaceholderShortCircuits(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	if err := c.dir.AddDevice("PENDING1", directory.Device{
		MAC:      directory.PlaceholderMACPrefix + ":09",
		DriverID: 9,
		Name:     "uncommissioned",
		Group:    "G1",
	}); err != nil {
		t.Fatal(err)
	}

	if !c.SetBrightness(context.Background(), "PENDING1", 40) {
		t.Error("SetBrightness() = false for placeholder, want success")
	}
	if transport.connectCount() != 0 {
		t.Errorf("connects = %d for placeholder device, want 0", transport.connectCount())
	}
}

func TestController_RejectedAck(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	// Pre-warm the connection so the gateway can be scripted.
	if !c.ConnectDevice(context.Background(), "DALLA2") {
		t.Fatal("ConnectDevice() failed")
	}
	link := transport.link("E4:B3:23:A2:D1:EE")
	link.mu.Lock()
	link.ackStatus = 0x00
	link.mu.Unlock()

	if c.SetBrightness(context.Background(), "DALLA2", 80) {
		t.Error("SetBrightness() = true despite rejected acknowledgement")
	}
}

func TestController_AckTimeout(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	if !c.ConnectDevice(context.Background(), "DALLA1") {
		t.Fatal("ConnectDevice() failed")
	}
	link := transport.link("E4:B3:23:A2:F6:F2")
	link.mu.Lock()
	link.dropAck = true
	link.mu.Unlock()

	start := time.Now()
	if c.SetBrightness(context.Background(), "DALLA1", 10) {
		t.Error("SetBrightness() = true despite missing acknowledgement")
	}
	if elapsed := time.Since(start); elapsed < c.ackTimeout {
		t.Errorf("command returned after %v, before ack timeout %v", elapsed, c.ackTimeout)
	}
	if c.acks.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", c.acks.Pending())
	}
}

func TestController_WriteErrorEvictsConnection(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	if !c.ConnectDevice(context.Background(), "DALLA1") {
		t.Fatal("ConnectDevice() failed")
	}
	link := transport.link("E4:B3:23:A2:F6:F2")
	link.mu.Lock()
	link.writeErr = ErrWriteFailed
	link.mu.Unlock()

	if c.SetBrightness(context.Background(), "DALLA1", 10) {
		t.Error("SetBrightness() = true despite write failure")
	}
	if c.pool.Size() != 0 {
		t.Errorf("pool size = %d after write failure, want entry evicted", c.pool.Size())
	}

	// Next command dials a fresh connection and succeeds.
	if !c.SetBrightness(context.Background(), "DALLA1", 10) {
		t.Error("SetBrightness() failed after reconnect")
	}
	if transport.connectCount() != 2 {
		t.Errorf("connects = %d, want 2", transport.connectCount())
	}
}

func TestController_EscalatesToSimulation(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = ErrConnectFailed
	c := newTestController(t, transport, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if c.SetBrightness(ctx, "DALLA1", 50) {
			t.Fatalf("command %d succeeded with failing transport", i)
		}
	}

	if !c.Simulated() {
		t.Fatal("controller did not latch simulation after 3 consecutive failures")
	}

	// Latched: commands now succeed without touching the transport.
	before := transport.connectCount()
	if !c.SetBrightness(ctx, "DALLA1", 50) {
		t.Error("SetBrightness() = false in simulation mode")
	}
	if transport.connectCount() != before {
		t.Error("simulated command touched the transport")
	}
}

func TestController_SuccessResetsFailureStreak(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	ctx := context.Background()
	transport.mu.Lock()
	transport.connectErr = ErrConnectFailed
	transport.mu.Unlock()
	c.SetBrightness(ctx, "DALLA1", 50)
	c.SetBrightness(ctx, "DALLA1", 50)

	transport.mu.Lock()
	transport.connectErr = nil
	transport.mu.Unlock()
	if !c.SetBrightness(ctx, "DALLA1", 50) {
		t.Fatal("SetBrightness() failed with healthy transport")
	}

	transport.mu.Lock()
	transport.connectErr = ErrConnectFailed
	transport.mu.Unlock()
	c.pool.ReleaseAll()
	c.SetBrightness(ctx, "DALLA1", 50)

	if c.Simulated() {
		t.Error("streak not reset by intervening success")
	}
}

func TestController_NilTransportStartsSimulated(t *testing.T) {
	c := newTestController(t, nil, nil)

	if !c.Simulated() {
		t.Fatal("controller with nil transport not simulated")
	}
	if !c.SetBrightness(context.Background(), "DALLA1", 100) {
		t.Error("simulated SetBrightness() = false")
	}

	results, err := c.Scan(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(results) != 1 || results[0].Address != SimMarkerAddress {
		t.Errorf("simulated Scan() = %v, want single marker device", results)
	}

	status := c.ConnectionStatus()
	if status.TransportAvailable || !status.Simulated {
		t.Errorf("ConnectionStatus() = %+v, want unavailable+simulated", status)
	}
}

func TestController_CommandPacing(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, func(cfg *ControllerConfig) {
		cfg.CommandInterval = 80 * time.Millisecond
	})

	ctx := context.Background()
	start := time.Now()
	if !c.SetBrightness(ctx, "DALLA1", 10) {
		t.Fatal("first command failed")
	}
	if !c.SetBrightness(ctx, "DALLA1", 20) {
		t.Fatal("second command failed")
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("two commands to one gateway completed in %v, pacing not applied", elapsed)
	}
}

func TestController_DirectoryCommandInterval(t *testing.T) {
	withInterval := func(ms int) *directory.Directory {
		return writeTestDirectory(t, directory.Document{
			Devices: map[string]directory.Device{
				"DALLA1": {MAC: "E4:B3:23:A2:F6:F2", DriverID: 1, Name: "Light A1", Group: "G1", Status: directory.StatusActive},
			},
			Groups:   map[string]directory.Group{"G1": {Name: "g", Devices: []string{"DALLA1"}}},
			Settings: directory.Settings{ActiveGroups: []string{"G1"}, CommandIntervalMs: ms},
		})
	}

	t.Run("directory setting applies", func(t *testing.T) {
		c := newTestController(t, newFakeTransport(), func(cfg *ControllerConfig) {
			cfg.Directory = withInterval(250)
			cfg.CommandInterval = 0
		})
		if got := c.commandInterval(); got != 250*time.Millisecond {
			t.Errorf("commandInterval() = %v, want directory's 250ms", got)
		}
	})

	t.Run("config override wins", func(t *testing.T) {
		c := newTestController(t, newFakeTransport(), func(cfg *ControllerConfig) {
			cfg.Directory = withInterval(250)
			cfg.CommandInterval = 5 * time.Millisecond
		})
		if got := c.commandInterval(); got != 5*time.Millisecond {
			t.Errorf("commandInterval() = %v, want config override 5ms", got)
		}
	})

	t.Run("tier default when unset", func(t *testing.T) {
		c := newTestController(t, newFakeTransport(), func(cfg *ControllerConfig) {
			cfg.Directory = withInterval(0)
			cfg.CommandInterval = 0
		})
		if got := c.commandInterval(); got != c.profile.CommandInterval() {
			t.Errorf("commandInterval() = %v, want tier default %v", got, c.profile.CommandInterval())
		}
	})

	t.Run("directory setting paces commands", func(t *testing.T) {
		c := newTestController(t, newFakeTransport(), func(cfg *ControllerConfig) {
			cfg.Directory = withInterval(80)
			cfg.CommandInterval = 0
		})

		ctx := context.Background()
		start := time.Now()
		if !c.SetBrightness(ctx, "DALLA1", 10) || !c.SetBrightness(ctx, "DALLA1", 20) {
			t.Fatal("commands failed")
		}
		if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
			t.Errorf("two commands completed in %v, directory pacing not applied", elapsed)
		}
	})
}

func TestController_GroupFanOut(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	res := c.SetGroupBrightness(context.Background(), "G1", 70)
	if !res.Success || len(res.Failed) != 0 {
		t.Fatalf("SetGroupBrightness() = %+v, want full success", res)
	}

	for _, mac := range []string{"E4:B3:23:A2:F6:F2", "E4:B3:23:A2:D1:EE", "E4:B3:23:A2:D1:CE"} {
		link := transport.link(mac)
		if link == nil || link.writeCount() != 1 {
			t.Errorf("gateway %s did not receive exactly one frame", mac)
		}
	}
}

func TestController_GroupReportsFailedMembers(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	ctx := context.Background()
	for _, id := range []string{"DALLA1", "DALLA2", "DALLA3"} {
		if !c.ConnectDevice(ctx, id) {
			t.Fatalf("ConnectDevice(%s) failed", id)
		}
	}
	link := transport.link("E4:B3:23:A2:D1:EE") // DALLA2
	link.mu.Lock()
	link.ackStatus = 0x00
	link.mu.Unlock()

	res := c.SetGroupBrightness(ctx, "G1", 70)
	if res.Success {
		t.Error("group reported success with a failing member")
	}
	if len(res.Failed) != 1 || res.Failed[0] != "DALLA2" {
		t.Errorf("Failed = %v, want [DALLA2]", res.Failed)
	}
}

func TestController_GroupConcurrencyByTier(t *testing.T) {
	run := func(t *testing.T, tier hostprofile.Tier) int32 {
		transport := newFakeTransport()
		c := newTestController(t, transport, func(cfg *ControllerConfig) {
			cfg.Profile = hostprofile.Profile{Tier: tier}
		})

		ctx := context.Background()
		for _, id := range []string{"DALLA1", "DALLA2", "DALLA3"} {
			if !c.ConnectDevice(ctx, id) {
				t.Fatalf("ConnectDevice(%s) failed", id)
			}
		}
		transport.mu.Lock()
		for _, link := range transport.links {
			link.mu.Lock()
			link.writeDelay = 30 * time.Millisecond
			link.mu.Unlock()
		}
		transport.mu.Unlock()

		if res := c.SetGroupBrightness(ctx, "G1", 50); !res.Success {
			t.Fatalf("SetGroupBrightness() = %+v", res)
		}
		return transport.maxInflight.Load()
	}

	t.Run("normal tier overlaps members", func(t *testing.T) {
		if max := run(t, hostprofile.TierNormal); max < 2 {
			t.Errorf("max in-flight = %d, want concurrent fan-out", max)
		}
	})

	t.Run("constrained tier is sequential", func(t *testing.T) {
		if max := run(t, hostprofile.TierConstrained); max != 1 {
			t.Errorf("max in-flight = %d, want 1", max)
		}
	})
}

func TestController_GroupRespectsPermitCeiling(t *testing.T) {
	profile := hostprofile.Profile{Tier: hostprofile.TierNormal}

	devices := make(map[string]directory.Device)
	var members []string
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("LAMP%d", i)
		devices[id] = directory.Device{
			MAC:      fmt.Sprintf("E4:00:00:00:00:%02X", i),
			DriverID: i,
			Name:     id,
			Group:    "G1",
			Status:   directory.StatusActive,
		}
		members = append(members, id)
	}
	dir := writeTestDirectory(t, directory.Document{
		Devices:  devices,
		Groups:   map[string]directory.Group{"G1": {Name: "g", Devices: members}},
		Settings: directory.Settings{ActiveGroups: []string{"G1"}},
	})

	transport := newFakeTransport()
	c := newTestController(t, transport, func(cfg *ControllerConfig) {
		cfg.Directory = dir
		cfg.Profile = profile
	})

	ctx := context.Background()
	for _, id := range members {
		if !c.ConnectDevice(ctx, id) {
			t.Fatalf("ConnectDevice(%s) failed", id)
		}
	}
	transport.mu.Lock()
	for _, link := range transport.links {
		link.mu.Lock()
		link.writeDelay = 30 * time.Millisecond
		link.mu.Unlock()
	}
	transport.mu.Unlock()

	if res := c.SetGroupBrightness(ctx, "G1", 40); !res.Success {
		t.Fatalf("SetGroupBrightness() = %+v", res)
	}

	max := int(transport.maxInflight.Load())
	if max > profile.MaxConcurrent() {
		t.Errorf("max in-flight writes = %d, exceeds permit count %d", max, profile.MaxConcurrent())
	}
	if max < 2 {
		t.Errorf("max in-flight writes = %d, want overlapping fan-out", max)
	}
}

func TestController_UnknownGroup(t *testing.T) {
	c := newTestController(t, newFakeTransport(), nil)

	if res := c.SetGroupBrightness(context.Background(), "G9", 50); res.Success {
		t.Error("SetGroupBrightness() succeeded for unknown group")
	}
}

type fakeRelay struct {
	mu     sync.Mutex
	names  map[string]bool
	groups map[string]bool
	err    error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{names: make(map[string]bool), groups: make(map[string]bool)}
}

func (r *fakeRelay) Set(name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.names[name] = on
	return nil
}

func (r *fakeRelay) SetForGroup(groupID string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.groups[groupID] = on
	return nil
}

func TestController_RelayOnlyGroup(t *testing.T) {
	transport := newFakeTransport()
	relays := newFakeRelay()
	c := newTestController(t, transport, func(cfg *ControllerConfig) {
		cfg.Relays = relays
	})

	res := c.SetGroupBrightness(context.Background(), RelayOnlyGroup, 100)
	if !res.Success {
		t.Fatalf("relay-only group command failed: %+v", res)
	}

	relays.mu.Lock()
	on, ok := relays.groups[RelayOnlyGroup]
	relays.mu.Unlock()
	if !ok || !on {
		t.Error("relay for reserved group not switched on")
	}
	if transport.connectCount() != 0 {
		t.Error("relay-only group generated gateway traffic")
	}
}

func TestController_GroupMirrorsRelay(t *testing.T) {
	relays := newFakeRelay()
	c := newTestController(t, newFakeTransport(), func(cfg *ControllerConfig) {
		cfg.Relays = relays
	})

	if res := c.SetGroupBrightness(context.Background(), "G1", 0); !res.Success {
		t.Fatalf("group off command failed: %+v", res)
	}

	relays.mu.Lock()
	on, ok := relays.groups["G1"]
	relays.mu.Unlock()
	if !ok {
		t.Fatal("group relay was not switched")
	}
	if on {
		t.Error("relay on for a zero-brightness command, want off")
	}
}

// captureLogger records warn messages for assertions on log output.
type captureLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Error(string, ...any) {}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *captureLogger) warnCount(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, w := range l.warns {
		if w == msg {
			n++
		}
	}
	return n
}

func TestController_GroupRelayUnmappedIsSilent(t *testing.T) {
	relays := newFakeRelay()
	log := &captureLogger{}
	c := newTestController(t, newFakeTransport(), func(cfg *ControllerConfig) {
		cfg.Relays = relays
	})
	c.SetLogger(log)

	relays.mu.Lock()
	relays.err = relay.ErrUnknownGroup
	relays.mu.Unlock()

	if res := c.SetGroupBrightness(context.Background(), "G1", 50); !res.Success {
		t.Fatalf("SetGroupBrightness() = %+v, relay mapping must not gate the group", res)
	}
	if n := log.warnCount("group relay switch failed"); n != 0 {
		t.Errorf("unmapped group relay logged %d warnings, want silence", n)
	}

	relays.mu.Lock()
	relays.err = errors.New("stuck contactor")
	relays.mu.Unlock()

	c.SetGroupBrightness(context.Background(), "G1", 50)
	if n := log.warnCount("group relay switch failed"); n != 1 {
		t.Errorf("relay fault logged %d warnings, want 1", n)
	}
}

func TestDeviceIDForComposite(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "G1-A", want: "DALLA1", wantOK: true},
		{in: "G1-C", want: "DALLA3", wantOK: true},
		{in: "G2-B", want: "DALLB2", wantOK: true},
		{in: "G4-A", want: "DALLD1", wantOK: true},
		{in: "G5-A", wantOK: false},
		{in: "G1-D", wantOK: false},
		{in: "G1", wantOK: false},
		{in: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := DeviceIDForComposite(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("DeviceIDForComposite(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("DeviceIDForComposite(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestController_ControlIndividual(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, nil)

	if !c.ControlIndividual(context.Background(), "G1-B", 55) {
		t.Fatal("ControlIndividual() = false")
	}
	// G1-B resolves to DALLA2.
	if link := transport.link("E4:B3:23:A2:D1:EE"); link == nil || link.writeCount() != 1 {
		t.Error("composite command did not reach DALLA2's gateway")
	}

	if c.ControlIndividual(context.Background(), "G9-X", 55) {
		t.Error("ControlIndividual() succeeded for invalid composite id")
	}
}

func TestController_HealthCheck(t *testing.T) {
	t.Run("simulated without scan", func(t *testing.T) {
		c := newTestController(t, nil, nil)

		report := c.HealthCheck(context.Background(), 0, false)
		if report.Healthy() {
			t.Error("simulated controller reported healthy")
		}
		if report.KnownDevices != 3 {
			t.Errorf("KnownDevices = %d, want 3", report.KnownDevices)
		}
		if report.ScanPerformed {
			t.Error("scan ran despite includeScan=false")
		}
	})

	t.Run("scan matches known gateways", func(t *testing.T) {
		transport := newFakeTransport()
		transport.scanResults = []ScanResult{
			{Address: "E4:B3:23:A2:F6:F2", Name: "DALI GW", RSSI: -60},
			{Address: "00:11:22:33:44:55", Name: "other", RSSI: -70},
		}
		c := newTestController(t, transport, nil)

		report := c.HealthCheck(context.Background(), 50*time.Millisecond, true)
		if !report.ScanPerformed {
			t.Fatal("scan did not run")
		}
		if report.Discovered != 2 {
			t.Errorf("Discovered = %d, want 2", report.Discovered)
		}
		if len(report.DiscoveredKnown) != 1 || report.DiscoveredKnown[0] != "DALLA1" {
			t.Errorf("DiscoveredKnown = %v, want [DALLA1]", report.DiscoveredKnown)
		}
		if !report.Healthy() {
			t.Errorf("Issues = %v, want none", report.Issues)
		}
	})
}
