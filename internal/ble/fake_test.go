package ble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeLink is a scripted gateway connection for tests. By default it
// acknowledges every frame with a success status.
type fakeLink struct {
	transport *fakeTransport
	address   string

	mu      sync.Mutex
	handler func([]byte)
	writes  [][]byte
	closed  bool

	writeErr   error
	writeDelay time.Duration
	ackStatus  byte
	dropAck    bool
}

func (l *fakeLink) Write(ctx context.Context, frame []byte) error {
	if l.transport != nil {
		cur := l.transport.inflight.Add(1)
		for {
			max := l.transport.maxInflight.Load()
			if cur <= max || l.transport.maxInflight.CompareAndSwap(max, cur) {
				break
			}
		}
		defer l.transport.inflight.Add(-1)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrNotConnected
	}
	l.writes = append(l.writes, append([]byte(nil), frame...))
	handler := l.handler
	writeErr := l.writeErr
	delay := l.writeDelay
	status := l.ackStatus
	drop := l.dropAck
	l.mu.Unlock()

	if writeErr != nil {
		return writeErr
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if handler != nil && !drop && len(frame) >= 2 {
		handler([]byte{frame[0], frame[1], status})
	}
	return nil
}

func (l *fakeLink) Subscribe(handler func([]byte)) error {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writes)
}

// fakeTransport hands out fakeLinks and tracks write concurrency
// across all of them.
type fakeTransport struct {
	mu           sync.Mutex
	links        map[string]*fakeLink
	connects     int
	connectErr   error
	connectDelay time.Duration
	scanResults  []ScanResult
	scanErr      error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{links: make(map[string]*fakeLink)}
}

func (t *fakeTransport) Available() bool { return true }

func (t *fakeTransport) Scan(ctx context.Context, _ time.Duration, found func(ScanResult)) error {
	t.mu.Lock()
	err := t.scanErr
	results := append([]ScanResult(nil), t.scanResults...)
	t.mu.Unlock()

	if err != nil {
		return err
	}
	for _, r := range results {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		found(r)
	}
	return nil
}

func (t *fakeTransport) Connect(ctx context.Context, address string) (Link, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	t.mu.Lock()
	delay := t.connectDelay
	t.mu.Unlock()
	if delay > 0 {
		// Slow dial so overlapping acquires are observable.
		time.Sleep(delay)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.connects++
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	link := &fakeLink{transport: t, address: address, ackStatus: 0x01}
	t.links[address] = link
	return link, nil
}

func (t *fakeTransport) link(address string) *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[address]
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
