package ble

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/brightline-controls/dalilink/internal/dali"
)

// ackKey identifies one outstanding acknowledgement: a driver on a
// specific gateway. Different gateways can reuse driver ids freely.
type ackKey struct {
	address string
	driver  byte
}

// ackWaiter is one registered sender. The token distinguishes this
// registration from any later one for the same key, so a sender that
// timed out can never remove a newer waiter.
type ackWaiter struct {
	token uuid.UUID
	ch    chan []byte
}

// AckTable correlates gateway notification frames with the senders
// waiting on them.
//
// Protocol: the sender registers BEFORE writing its command frame,
// closing the window where a fast acknowledgement would arrive with
// nobody listening. The notification path only ever resolves waiters;
// removal is the registering sender's job, guarded by its token.
// A second registration for a live key is rejected rather than
// silently replacing the first waiter.
type AckTable struct {
	mu      sync.Mutex
	waiters map[ackKey]ackWaiter
}

// NewAckTable returns an empty table.
func NewAckTable() *AckTable {
	return &AckTable{waiters: make(map[ackKey]ackWaiter)}
}

// Register reserves the (address, driver) key and returns the channel
// the acknowledgement frame will be delivered on.
//
// Returns:
//   - uuid.UUID: Registration token for Remove
//   - <-chan []byte: Single-shot delivery channel
//   - error: ErrAckPending when the key already has a live waiter
func (t *AckTable) Register(address string, driver byte) (uuid.UUID, <-chan []byte, error) {
	key := ackKey{address: address, driver: driver}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[key]; exists {
		return uuid.UUID{}, nil, fmt.Errorf("%w: %s driver %d", ErrAckPending, address, driver)
	}

	w := ackWaiter{
		token: uuid.New(),
		ch:    make(chan []byte, 1),
	}
	t.waiters[key] = w
	return w.token, w.ch, nil
}

// Resolve routes a notification frame from a gateway to its waiter.
// The waiter stays registered; its owning sender removes it. Frames
// with no waiter (late acknowledgements, malformed frames) are
// dropped, and the return value reports whether delivery happened.
func (t *AckTable) Resolve(address string, data []byte) bool {
	driver, ok := dali.AckDriver(data)
	if !ok {
		return false
	}
	key := ackKey{address: address, driver: driver}

	t.mu.Lock()
	w, exists := t.waiters[key]
	t.mu.Unlock()
	if !exists {
		return false
	}

	// Buffered channel: delivery never blocks the notification path.
	// A second frame for the same registration is dropped.
	select {
	case w.ch <- data:
		return true
	default:
		return false
	}
}

// Remove releases a registration. Only the holder of the matching
// token removes anything; a stale caller is a no-op.
func (t *AckTable) Remove(address string, driver byte, token uuid.UUID) {
	key := ackKey{address: address, driver: driver}

	t.mu.Lock()
	defer t.mu.Unlock()

	if w, exists := t.waiters[key]; exists && w.token == token {
		delete(t.waiters, key)
	}
}

// DropAddress releases every registration for a gateway. Used when a
// connection is torn down; blocked senders then run into their
// timeouts rather than waiting on a dead link.
func (t *AckTable) DropAddress(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.waiters {
		if key.address == address {
			delete(t.waiters, key)
		}
	}
}

// Pending returns the number of outstanding registrations.
func (t *AckTable) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
