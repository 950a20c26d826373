package relay

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device on the Raspberry Pi boards
// this controller targets.
const DefaultChip = "gpiochip0"

// relayPins maps relay names to BCM pin numbers.
var relayPins = map[string]int{
	"relay_A": 18,
	"relay_B": 19,
	"relay_C": 20,
	"relay_D": 21,
	"relay_E": 22,
}

// groupRelays maps lighting group ids to their wired relay.
var groupRelays = map[string]string{
	"G0": "relay_E",
	"G1": "relay_A",
	"G2": "relay_B",
	"G3": "relay_C",
	"G4": "relay_D",
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// line is one claimed output pin.
type line interface {
	SetValue(value int) error
	Close() error
}

// opener claims a pin as an output line, initially off.
type opener func(chip string, pin int) (line, error)

func gpioOpen(chip string, pin int) (line, error) {
	l, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("%w: chip %s pin %d: %v", ErrLineRequest, chip, pin, err)
	}
	return l, nil
}

// Board switches the relay circuits.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Board struct {
	chip string
	open opener

	mu     sync.Mutex
	lines  map[string]line
	states map[string]bool
	closed bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBoard returns a board backed by the GPIO character device.
//
// Parameters:
//   - chip: GPIO chip device name; "" uses DefaultChip
//
// Returns:
//   - *Board: Board with lines requested lazily on first switch
func NewBoard(chip string) *Board {
	if chip == "" {
		chip = DefaultChip
	}
	return &Board{
		chip:   chip,
		open:   gpioOpen,
		lines:  make(map[string]line),
		states: make(map[string]bool),
	}
}

// memLine is the in-memory line behind NewSimBoard.
type memLine struct{ value int }

func (l *memLine) SetValue(value int) error { l.value = value; return nil }
func (l *memLine) Close() error             { return nil }

// NewSimBoard returns a board that records switch state in memory
// without touching hardware.
func NewSimBoard() *Board {
	return &Board{
		chip:   "sim",
		open:   func(string, int) (line, error) { return &memLine{}, nil },
		lines:  make(map[string]line),
		states: make(map[string]bool),
	}
}

// SetLogger sets the logger for the board.
func (b *Board) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Set switches a relay by name.
//
// Parameters:
//   - name: Relay name, "relay_A" through "relay_E"
//   - on: Desired state
//
// Returns:
//   - error: ErrUnknownRelay, ErrClosed, or a line failure
func (b *Board) Set(name string, on bool) error {
	pin, ok := relayPins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRelay, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	l, ok := b.lines[name]
	if !ok {
		var err error
		l, err = b.open(b.chip, pin)
		if err != nil {
			b.logError("relay line request failed", "relay", name, "pin", pin, "error", err)
			return err
		}
		b.lines[name] = l
	}

	value := 0
	if on {
		value = 1
	}
	if err := b.setValue(l, value); err != nil {
		b.logError("relay switch failed", "relay", name, "error", err)
		return err
	}
	b.states[name] = on
	b.logDebug("relay switched", "relay", name, "pin", pin, "on", on)
	return nil
}

// setValue applies the pin value, recovering the gpiocdev error shape
// into the package error space.
func (b *Board) setValue(l line, value int) error {
	if err := l.SetValue(value); err != nil {
		return fmt.Errorf("relay: set value: %w", err)
	}
	return nil
}

// SetForGroup switches the relay wired to a lighting group.
//
// Parameters:
//   - groupID: Group id, "G0" through "G4"
//   - on: Desired state
//
// Returns:
//   - error: ErrUnknownGroup for unmapped groups, else Set's error
func (b *Board) SetForGroup(groupID string, on bool) error {
	name, ok := groupRelays[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return b.Set(name, on)
}

// State reports the last commanded state of a relay.
func (b *Board) State(name string) (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	on, ok := b.states[name]
	return on, ok
}

// States returns a copy of the last commanded state of every switched
// relay.
func (b *Board) States() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(b.states))
	for name, on := range b.states {
		out[name] = on
	}
	return out
}

// AllOff drives every mapped relay off. Used during shutdown so no
// circuit is left powered. Errors on individual relays are logged and
// the remaining relays are still switched.
func (b *Board) AllOff() {
	for name := range relayPins {
		if err := b.Set(name, false); err != nil {
			b.logWarn("relay off failed during shutdown", "relay", name, "error", err)
		}
	}
}

// Close releases every claimed line. The board cannot be used after.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var first error
	for name, l := range b.lines {
		if err := l.Close(); err != nil && first == nil {
			first = fmt.Errorf("relay: close %s: %w", name, err)
		}
	}
	b.lines = nil
	return first
}

func (b *Board) logDebug(msg string, keysAndValues ...any) {
	if l := b.currentLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Board) logWarn(msg string, keysAndValues ...any) {
	if l := b.currentLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Board) logError(msg string, keysAndValues ...any) {
	if l := b.currentLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}

func (b *Board) currentLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}
