package ble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brightline-controls/dalilink/internal/dali"
	"github.com/brightline-controls/dalilink/internal/directory"
	"github.com/brightline-controls/dalilink/internal/hostprofile"
	"github.com/brightline-controls/dalilink/internal/relay"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RelaySwitch controls the relay board backing the lighting circuits.
type RelaySwitch interface {
	// Set switches a relay by name.
	Set(name string, on bool) error

	// SetForGroup switches the relay wired to a lighting group.
	SetForGroup(groupID string, on bool) error
}

// HistoryRecorder persists command outcomes.
type HistoryRecorder interface {
	RecordCommand(rec CommandRecord)
}

// CommandRecord is one dispatched command outcome.
type CommandRecord struct {
	ID        string
	DeviceID  string
	GroupID   string
	Address   string
	Driver    int
	Percent   int
	Success   bool
	Simulated bool
	Latency   time.Duration
	Timestamp time.Time
}

// StatePublisher announces resulting device state, typically over MQTT.
type StatePublisher interface {
	PublishDeviceState(deviceID string, percent int, success bool)
}

// RelayOnlyGroup is the reserved group id whose commands toggle a
// relay circuit without any DALI traffic behind it.
const RelayOnlyGroup = "G0"

// ControllerConfig assembles a Controller.
type ControllerConfig struct {
	// Transport is the BLE stack. nil starts the controller in
	// simulation mode.
	Transport Transport

	// Directory resolves device and group ids.
	Directory *directory.Directory

	// Profile supplies the host-tier tuning defaults.
	Profile hostprofile.Profile

	// CommandInterval overrides the per-gateway command spacing when
	// non-zero, taking precedence over the directory setting and the
	// tier default.
	CommandInterval time.Duration

	// ConnectTimeout bounds a single gateway connection attempt.
	ConnectTimeout time.Duration

	// ScanTimeout is the default discovery scan duration.
	ScanTimeout time.Duration

	// IdleEviction and SweepInterval tune the connection pool.
	IdleEviction  time.Duration
	SweepInterval time.Duration

	// FailureEscalation is the consecutive transport-failure count
	// that latches simulation mode. Defaults to 3.
	FailureEscalation int

	// ReportInterval is the periodic performance log cadence.
	// 0 disables the report loop.
	ReportInterval time.Duration

	// Optional collaborators.
	Relays  RelaySwitch
	History HistoryRecorder
	States  StatePublisher
}

// Controller dispatches brightness commands to DALI gateways.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Controller struct {
	transport Transport
	dir       *directory.Directory
	profile   hostprofile.Profile

	pool    *Pool
	acks    *AckTable
	monitor *Monitor

	relays  RelaySwitch
	history HistoryRecorder
	states  StatePublisher

	intervalOverride time.Duration
	ackTimeout       time.Duration
	connectTimeout   time.Duration
	scanTimeout      time.Duration
	sweepInterval    time.Duration
	reportInterval   time.Duration
	escalateAfter    int32

	// permits bounds in-flight commands across all gateways.
	permits chan struct{}

	simulated       atomic.Bool
	failStreak      atomic.Int32
	connectAttempts atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// NewController builds a controller from the configuration.
//
// When cfg.Transport is nil or reports unavailable, the controller
// starts latched into simulation mode.
func NewController(cfg ControllerConfig) *Controller {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	scanTimeout := cfg.ScanTimeout
	if scanTimeout == 0 {
		scanTimeout = 8 * time.Second
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = defaultSweepInterval
	}
	escalateAfter := cfg.FailureEscalation
	if escalateAfter == 0 {
		escalateAfter = 3
	}

	acks := NewAckTable()
	c := &Controller{
		transport:        cfg.Transport,
		dir:              cfg.Directory,
		profile:          cfg.Profile,
		acks:             acks,
		pool:             NewPool(cfg.Transport, acks, cfg.IdleEviction),
		monitor:          NewMonitor(),
		relays:           cfg.Relays,
		history:          cfg.History,
		states:           cfg.States,
		intervalOverride: cfg.CommandInterval,
		ackTimeout:       cfg.Profile.AckTimeout(),
		connectTimeout:   connectTimeout,
		scanTimeout:      scanTimeout,
		sweepInterval:    sweepInterval,
		reportInterval:   cfg.ReportInterval,
		escalateAfter:    int32(escalateAfter),
		permits:          make(chan struct{}, cfg.Profile.MaxConcurrent()),
		done:             make(chan struct{}),
	}

	if cfg.Transport == nil || !cfg.Transport.Available() {
		c.simulated.Store(true)
	}
	return c
}

// SetLogger sets the logger for the controller and its pool.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.pool.SetLogger(logger)
}

// SetStatePublisher installs the per-command state publisher. Must be
// called before Start.
func (c *Controller) SetStatePublisher(p StatePublisher) {
	c.states = p
}

// Monitor exposes the performance monitor for telemetry wiring.
func (c *Controller) Monitor() *Monitor {
	return c.monitor
}

// Start launches the pool sweeper and the periodic performance report.
func (c *Controller) Start(ctx context.Context) {
	if c.simulated.Load() {
		c.logWarn("starting in simulation mode", "transport_available", false)
	} else {
		c.logInfo("controller starting",
			"tier", c.profile.Tier.String(),
			"command_interval", c.commandInterval().String(),
			"ack_timeout", c.ackTimeout.String(),
			"max_concurrent", cap(c.permits))
	}

	c.wg.Add(1)
	go c.sweepLoop(ctx)

	if c.reportInterval > 0 {
		c.wg.Add(1)
		go c.reportLoop(ctx)
	}
}

// Stop shuts the controller down and releases every pooled connection.
// Safe to call multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.pool.ReleaseAll()
		c.logInfo("controller stopped")
	})
}

// SetBrightness sets one device's brightness. The result collapses to
// a boolean: every failure kind is logged with context here and looks
// the same to callers.
//
// Parameters:
//   - ctx: Context for cancellation
//   - deviceID: Logical device id from the directory
//   - percent: Brightness 0-100 (clamped)
//
// Returns:
//   - bool: true when the gateway acknowledged the command
func (c *Controller) SetBrightness(ctx context.Context, deviceID string, percent int) bool {
	dev, ok := c.dir.Device(deviceID)
	if !ok {
		c.logWarn("command for unknown device", "device", deviceID)
		return false
	}
	return c.dispatch(ctx, deviceID, "", dev, percent)
}

// GroupResult is the outcome of a group command.
type GroupResult struct {
	Success bool
	Failed  []string
}

// SetGroupBrightness fans a brightness command out to every member of
// a group. The group succeeds only when every member succeeds; the
// ids of failing members are reported.
//
// The reserved relay-only group toggles its relay circuit and carries
// no DALI members. For other groups, the wired relay (if any) is
// switched to match after the fan-out, best effort.
func (c *Controller) SetGroupBrightness(ctx context.Context, groupID string, percent int) GroupResult {
	if groupID == RelayOnlyGroup {
		return c.relayOnly(groupID, percent)
	}

	members := c.dir.GroupDevices(groupID)
	if members == nil {
		c.logWarn("command for unknown group", "group", groupID)
		return GroupResult{Success: false}
	}
	if len(members) == 0 {
		c.logWarn("group has no members", "group", groupID)
		return GroupResult{Success: true}
	}

	var failed []string
	if c.profile.SequentialGroups() {
		for _, deviceID := range members {
			if !c.groupMember(ctx, groupID, deviceID, percent) {
				failed = append(failed, deviceID)
			}
		}
	} else {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, deviceID := range members {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if !c.groupMember(ctx, groupID, id, percent) {
					mu.Lock()
					failed = append(failed, id)
					mu.Unlock()
				}
			}(deviceID)
		}
		wg.Wait()
	}

	c.switchGroupRelay(groupID, percent > 0)

	if len(failed) > 0 {
		c.logWarn("group command partially failed",
			"group", groupID, "failed", strings.Join(failed, ","))
	}
	return GroupResult{Success: len(failed) == 0, Failed: failed}
}

// groupMember dispatches to one member of a group.
func (c *Controller) groupMember(ctx context.Context, groupID, deviceID string, percent int) bool {
	dev, ok := c.dir.Device(deviceID)
	if !ok {
		c.logWarn("group references unknown device", "group", groupID, "device", deviceID)
		return false
	}
	return c.dispatch(ctx, deviceID, groupID, dev, percent)
}

// relayOnly handles the reserved relay-only group.
func (c *Controller) relayOnly(groupID string, percent int) GroupResult {
	if c.relays == nil {
		c.logWarn("relay-only group commanded without relay board", "group", groupID)
		return GroupResult{Success: false}
	}
	if err := c.relays.SetForGroup(groupID, percent > 0); err != nil {
		c.logError("relay-only group switch failed", "group", groupID, "error", err)
		return GroupResult{Success: false}
	}
	return GroupResult{Success: true}
}

// switchGroupRelay mirrors a group command onto its wired relay, best
// effort. Groups without a relay mapping are skipped silently.
func (c *Controller) switchGroupRelay(groupID string, on bool) {
	if c.relays == nil {
		return
	}
	if err := c.relays.SetForGroup(groupID, on); err != nil {
		if errors.Is(err, relay.ErrUnknownGroup) {
			// No relay wired to this group.
			return
		}
		c.logWarn("group relay switch failed", "group", groupID, "error", err)
	}
}

// compositeGroupLetters maps group ids to the letter embedded in
// their members' device ids.
var compositeGroupLetters = map[string]string{
	"G1": "A",
	"G2": "B",
	"G3": "C",
	"G4": "D",
}

// compositeIndexDigits maps the position suffix of a composite light
// id to the device index digit.
var compositeIndexDigits = map[string]string{
	"A": "1",
	"B": "2",
	"C": "3",
}

// DeviceIDForComposite translates a composite light id like "G1-A"
// into the logical device id ("DALLA1").
func DeviceIDForComposite(compositeID string) (string, bool) {
	parts := strings.SplitN(compositeID, "-", 2)
	if len(parts) != 2 {
		return "", false
	}
	letter, ok := compositeGroupLetters[parts[0]]
	if !ok {
		return "", false
	}
	digit, ok := compositeIndexDigits[parts[1]]
	if !ok {
		return "", false
	}
	return "DALL" + letter + digit, true
}

// ControlIndividual sets brightness for a light addressed by its
// composite id ("G1-A" style).
func (c *Controller) ControlIndividual(ctx context.Context, compositeID string, percent int) bool {
	deviceID, ok := DeviceIDForComposite(compositeID)
	if !ok {
		c.logWarn("invalid composite light id", "id", compositeID)
		return false
	}
	return c.SetBrightness(ctx, deviceID, percent)
}

// SetRelay switches a relay circuit by name.
func (c *Controller) SetRelay(name string, on bool) error {
	if c.relays == nil {
		return ErrTransportUnavailable
	}
	return c.relays.Set(name, on)
}

// dispatch runs one command end to end and records its outcome.
func (c *Controller) dispatch(ctx context.Context, deviceID, groupID string, dev directory.Device, percent int) bool {
	start := time.Now()
	success, simulated := c.send(ctx, dev, percent)
	latency := time.Since(start)

	c.monitor.RecordCommand(latency, success)

	if c.history != nil {
		c.history.RecordCommand(CommandRecord{
			ID:        uuid.NewString(),
			DeviceID:  deviceID,
			GroupID:   groupID,
			Address:   dev.MAC,
			Driver:    dev.DriverID,
			Percent:   percent,
			Success:   success,
			Simulated: simulated,
			Latency:   latency,
			Timestamp: start,
		})
	}
	if c.states != nil {
		c.states.PublishDeviceState(deviceID, percent, success)
	}

	c.logDebug("command dispatched",
		"device", deviceID,
		"percent", percent,
		"success", success,
		"simulated", simulated,
		"latency_ms", latency.Milliseconds())
	return success
}

// send moves one command over the wire (or its simulated equivalent).
// The second return reports whether the command was simulated.
func (c *Controller) send(ctx context.Context, dev directory.Device, percent int) (bool, bool) {
	// Placeholder devices are mapped but not commissioned; succeed
	// without any transport traffic.
	if dev.IsPlaceholder() {
		return true, true
	}

	if c.simulated.Load() {
		return c.simulateSend(ctx), true
	}

	// Global permit gate.
	select {
	case c.permits <- struct{}{}:
		defer func() { <-c.permits }()
	case <-ctx.Done():
		return false, false
	}

	entry, ok := c.connectPooled(ctx, dev.MAC)
	if !ok {
		return false, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Per-gateway pacing: respect the minimum interval since the last
	// command on this address.
	if wait := c.commandInterval() - time.Since(entry.lastCommand); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false, false
		}
	}

	driver := byte(dev.DriverID)

	// Register before writing, so a fast acknowledgement always finds
	// its waiter.
	token, ackCh, err := c.acks.Register(dev.MAC, driver)
	if err != nil {
		c.logWarn("acknowledgement already pending", "address", dev.MAC, "driver", dev.DriverID)
		return false, false
	}

	frame := dali.EncodeSetBrightness(driver, percent)
	if err := entry.link.Write(ctx, frame); err != nil {
		c.acks.Remove(dev.MAC, driver, token)
		c.pool.invalidate(dev.MAC)
		c.logError("command write failed", "address", dev.MAC, "error", err)
		return false, false
	}

	now := time.Now()
	entry.lastCommand = now
	entry.lastUsed = now

	select {
	case data := <-ackCh:
		c.acks.Remove(dev.MAC, driver, token)
		applied, err := dali.DecodeAck(data, driver)
		if err != nil {
			c.logWarn("bad acknowledgement frame", "address", dev.MAC, "error", err)
			return false, false
		}
		return applied, false
	case <-time.After(c.ackTimeout):
		c.acks.Remove(dev.MAC, driver, token)
		c.logWarn("acknowledgement timeout",
			"address", dev.MAC, "driver", dev.DriverID, "timeout", c.ackTimeout.String())
		return false, false
	case <-ctx.Done():
		c.acks.Remove(dev.MAC, driver, token)
		return false, false
	}
}

// commandInterval resolves the per-gateway command spacing: the config
// override when set, then the directory settings value (re-read each
// command so a hot reload takes effect), then the host tier default.
func (c *Controller) commandInterval() time.Duration {
	if c.intervalOverride > 0 {
		return c.intervalOverride
	}
	if interval := c.dir.CommandInterval(); interval > 0 {
		return interval
	}
	return c.profile.CommandInterval()
}

// simulateSend approximates a gateway round trip.
func (c *Controller) simulateSend(ctx context.Context) bool {
	select {
	case <-time.After(simSendDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// connectPooled acquires the pooled connection for address, recording
// the attempt and driving the escalation latch.
func (c *Controller) connectPooled(ctx context.Context, address string) (*poolEntry, bool) {
	c.connectAttempts.Add(1)
	start := time.Now()

	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	entry, fresh, err := c.pool.acquire(connectCtx, address)
	cancel()

	if fresh || err != nil {
		c.monitor.RecordConnect(time.Since(start), err == nil)
	}
	if err != nil {
		c.logError("gateway connect failed", "address", address, "error", err)
		c.noteTransportFailure()
		return nil, false
	}
	c.noteTransportSuccess()
	return entry, true
}

// noteTransportFailure counts a failed connect/scan cycle and latches
// simulation mode when the streak reaches the threshold. The latch is
// permanent for the controller's lifetime.
func (c *Controller) noteTransportFailure() {
	streak := c.failStreak.Add(1)
	if streak >= c.escalateAfter && !c.simulated.Swap(true) {
		c.pool.ReleaseAll()
		c.logWarn("escalating to simulation mode",
			"consecutive_failures", streak)
	}
}

// noteTransportSuccess resets the failure streak.
func (c *Controller) noteTransportSuccess() {
	c.failStreak.Store(0)
}

// Scan runs a discovery scan and returns the devices seen, one entry
// per address.
func (c *Controller) Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error) {
	if timeout <= 0 {
		timeout = c.scanTimeout
	}

	transport := c.transport
	if c.simulated.Load() {
		transport = NewSimTransport()
	}

	start := time.Now()
	var mu sync.Mutex
	seen := make(map[string]ScanResult)

	err := transport.Scan(ctx, timeout, func(r ScanResult) {
		mu.Lock()
		if existing, ok := seen[r.Address]; !ok || (existing.Name == "" && r.Name != "") {
			seen[r.Address] = r
		}
		mu.Unlock()
	})

	c.monitor.RecordScan(time.Since(start), err == nil)
	if err != nil {
		c.logError("scan failed", "error", err)
		c.noteTransportFailure()
		return nil, err
	}
	c.noteTransportSuccess()

	mu.Lock()
	out := make([]ScanResult, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	mu.Unlock()

	c.logInfo("scan complete", "discovered", len(out), "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// ConnectDevice pre-warms the pooled connection for a device.
func (c *Controller) ConnectDevice(ctx context.Context, deviceID string) bool {
	dev, ok := c.dir.Device(deviceID)
	if !ok {
		c.logWarn("connect for unknown device", "device", deviceID)
		return false
	}
	if dev.IsPlaceholder() || c.simulated.Load() {
		return true
	}
	_, ok = c.connectPooled(ctx, dev.MAC)
	return ok
}

// DisconnectDevice drops the pooled connection for a device.
func (c *Controller) DisconnectDevice(deviceID string) {
	dev, ok := c.dir.Device(deviceID)
	if !ok {
		return
	}
	c.pool.invalidate(dev.MAC)
}

// Status is a point-in-time view of the controller's transport state.
type Status struct {
	TransportAvailable bool   `json:"transport_available"`
	Simulated          bool   `json:"simulated"`
	ConnectAttempts    uint64 `json:"connect_attempts"`
	PooledConnections  int    `json:"pooled_connections"`
	PendingAcks        int    `json:"pending_acks"`
}

// ConnectionStatus reports the current transport state.
func (c *Controller) ConnectionStatus() Status {
	return Status{
		TransportAvailable: c.transport != nil && c.transport.Available(),
		Simulated:          c.simulated.Load(),
		ConnectAttempts:    c.connectAttempts.Load(),
		PooledConnections:  c.pool.Size(),
		PendingAcks:        c.acks.Pending(),
	}
}

// Simulated reports whether the controller is latched into simulation
// mode.
func (c *Controller) Simulated() bool {
	return c.simulated.Load()
}

// sweepLoop periodically evicts idle pooled connections.
func (c *Controller) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case now := <-ticker.C:
			if n := c.pool.sweep(now); n > 0 {
				c.logDebug("pool sweep", "evicted", n)
			}
		}
	}
}

// reportLoop periodically logs the performance summary and any
// bottleneck findings.
func (c *Controller) reportLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			s := c.monitor.Snapshot()
			if s.CommandCount == 0 {
				continue
			}
			c.logInfo("performance report",
				"commands", s.TotalCommands,
				"avg_command_ms", s.AvgCommand.Milliseconds(),
				"success_rate", s.CommandSuccess,
				"avg_connect_ms", s.AvgConnect.Milliseconds(),
				"pooled", c.pool.Size())
			for _, b := range c.monitor.Bottlenecks() {
				c.logWarn("performance bottleneck",
					"kind", b.Kind, "severity", b.Severity, "detail", b.Message)
			}
		}
	}
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if l := c.currentLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if l := c.currentLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if l := c.currentLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, keysAndValues ...any) {
	if l := c.currentLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}

func (c *Controller) currentLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
