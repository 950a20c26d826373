package ble

import (
	"context"
	"sync"
	"time"
)

// ScanResult is one device seen during a discovery scan.
type ScanResult struct {
	Address string
	Name    string
	RSSI    int
}

// Link is a live connection to one gateway.
type Link interface {
	// Write sends a raw command frame to the gateway.
	Write(ctx context.Context, frame []byte) error

	// Subscribe registers the notification handler. Called once per
	// link, before the first Write that expects an acknowledgement.
	Subscribe(handler func(data []byte)) error

	// Connected reports whether the link is still usable.
	Connected() bool

	// Close tears the connection down.
	Close() error
}

// Transport abstracts the BLE stack so the pipeline can run against a
// real adapter or a simulation.
type Transport interface {
	// Available reports whether the transport can be used at all.
	Available() bool

	// Scan runs a discovery scan for up to timeout, invoking found for
	// every advertisement seen.
	Scan(ctx context.Context, timeout time.Duration, found func(ScanResult)) error

	// Connect establishes a link to the gateway at address.
	Connect(ctx context.Context, address string) (Link, error)
}

// simSendDelay approximates real gateway latency in simulation mode.
const simSendDelay = 50 * time.Millisecond

// SimMarkerAddress is the address the simulated transport reports from
// scans, so discovery results make the mode obvious.
const SimMarkerAddress = "AA:BB:CC:DD:EE:FF"

// SimTransport is a stand-in BLE stack for hosts without an adapter.
// Connections always succeed and every written command frame is
// acknowledged as applied after a short delay.
type SimTransport struct{}

// NewSimTransport returns a simulated transport.
func NewSimTransport() *SimTransport {
	return &SimTransport{}
}

// Available always reports true.
func (s *SimTransport) Available() bool { return true }

// Scan reports a single marker device after a nominal delay.
func (s *SimTransport) Scan(ctx context.Context, timeout time.Duration, found func(ScanResult)) error {
	wait := simSendDelay
	if timeout < wait {
		wait = timeout
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}
	found(ScanResult{
		Address: SimMarkerAddress,
		Name:    "DALI Gateway (simulated)",
		RSSI:    -42,
	})
	return nil
}

// Connect returns a simulated link to the address.
func (s *SimTransport) Connect(ctx context.Context, address string) (Link, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &simLink{address: address}, nil
}

// simLink echoes a success acknowledgement for every frame written.
type simLink struct {
	address string

	mu      sync.Mutex
	handler func(data []byte)
	closed  bool
}

func (l *simLink) Write(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	closed := l.closed
	handler := l.handler
	l.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(simSendDelay):
	}

	if handler != nil && len(frame) >= 2 {
		// Echo the driver id back with a success status.
		handler([]byte{frame[0], frame[1], 0x01})
	}
	return nil
}

func (l *simLink) Subscribe(handler func(data []byte)) error {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	return nil
}

func (l *simLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *simLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
