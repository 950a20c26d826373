package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pool default tuning.
const (
	defaultIdleEviction  = 300 * time.Second
	defaultSweepInterval = 60 * time.Second
)

// poolEntry is one cached gateway connection.
//
// The entry mutex serialises command traffic on the gateway: BLE
// gateways mis-order interleaved writes, so one command runs at a time
// per address. lastCommand feeds the minimum-interval pacing and
// lastUsed feeds idle eviction.
type poolEntry struct {
	mu          sync.Mutex
	link        Link
	lastUsed    time.Time
	lastCommand time.Time
}

// Pool caches one connection per gateway address.
//
// Connections are created on first use, notification routing is wired
// exactly once per connection, and a periodic sweep releases
// connections idle past the eviction threshold.
type Pool struct {
	transport Transport
	acks      *AckTable

	mu      sync.Mutex
	entries map[string]*poolEntry
	dials   map[string]*sync.Mutex

	idleAfter time.Duration

	logger   Logger
	loggerMu sync.RWMutex
}

// NewPool creates a pool over the given transport, routing gateway
// notifications into acks.
func NewPool(transport Transport, acks *AckTable, idleAfter time.Duration) *Pool {
	if idleAfter <= 0 {
		idleAfter = defaultIdleEviction
	}
	return &Pool{
		transport: transport,
		acks:      acks,
		entries:   make(map[string]*poolEntry),
		dials:     make(map[string]*sync.Mutex),
		idleAfter: idleAfter,
	}
}

// SetLogger sets the logger for this pool.
func (p *Pool) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// acquire returns the live entry for address, connecting and
// subscribing on first use. A cached entry whose link has died is
// replaced transparently. The second return reports whether a fresh
// connection was dialled.
//
// A per-address dial lock is held across the check-connect-insert
// sequence, so concurrent commands to one gateway never race to open
// duplicate links.
func (p *Pool) acquire(ctx context.Context, address string) (*poolEntry, bool, error) {
	dial := p.dialLock(address)
	dial.Lock()
	defer dial.Unlock()

	p.mu.Lock()
	entry, ok := p.entries[address]
	if ok && entry.link.Connected() {
		entry.lastUsed = time.Now()
		p.mu.Unlock()
		return entry, false, nil
	}
	if ok {
		// Dead link still cached; drop it before reconnecting.
		delete(p.entries, address)
	}
	p.mu.Unlock()
	if ok {
		entry.link.Close()
		p.acks.DropAddress(address)
	}

	link, err := p.transport.Connect(ctx, address)
	if err != nil {
		return nil, true, err
	}

	// Subscribe before the entry becomes visible, so no command can
	// be written ahead of notification routing.
	if err := link.Subscribe(func(data []byte) {
		p.acks.Resolve(address, data)
	}); err != nil {
		link.Close()
		return nil, true, fmt.Errorf("%w: subscribe: %w", ErrConnectFailed, err)
	}

	created := &poolEntry{link: link, lastUsed: time.Now()}

	p.mu.Lock()
	p.entries[address] = created
	p.mu.Unlock()

	p.logDebug("gateway connected", "address", address)
	return created, true, nil
}

// dialLock returns the dial mutex for address, creating it on first
// use. Locks are never removed; the address set is small and fixed by
// the directory.
func (p *Pool) dialLock(address string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.dials[address]
	if !ok {
		l = &sync.Mutex{}
		p.dials[address] = l
	}
	return l
}

// invalidate drops the cached connection for address after a command
// error implicated it. Waiters on the address are released.
func (p *Pool) invalidate(address string) {
	p.mu.Lock()
	entry, ok := p.entries[address]
	if ok {
		delete(p.entries, address)
	}
	p.mu.Unlock()

	if ok {
		entry.link.Close()
		p.logDebug("gateway connection dropped", "address", address)
	}
	p.acks.DropAddress(address)
}

// sweep releases entries idle past the eviction threshold.
func (p *Pool) sweep(now time.Time) int {
	var victims []*poolEntry
	var addresses []string

	p.mu.Lock()
	for address, entry := range p.entries {
		if now.Sub(entry.lastUsed) >= p.idleAfter {
			victims = append(victims, entry)
			addresses = append(addresses, address)
			delete(p.entries, address)
		}
	}
	p.mu.Unlock()

	for i, entry := range victims {
		entry.link.Close()
		p.acks.DropAddress(addresses[i])
		p.logDebug("idle gateway connection evicted", "address", addresses[i])
	}
	return len(victims)
}

// ReleaseAll closes every cached connection. Called on shutdown and
// when the transport is being rebuilt.
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for address, entry := range entries {
		entry.link.Close()
		p.acks.DropAddress(address)
	}
	if len(entries) > 0 {
		p.logDebug("all gateway connections released", "count", len(entries))
	}
}

// Size returns the number of cached connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Connected reports whether a live connection to address is cached.
func (p *Pool) Connected(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[address]
	return ok && entry.link.Connected()
}

func (p *Pool) logDebug(msg string, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
