package ble

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPool_ReusesConnection(t *testing.T) {
	transport := newFakeTransport()
	pool := NewPool(transport, NewAckTable(), time.Minute)

	ctx := context.Background()
	first, fresh, err := pool.acquire(ctx, "addr-1")
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	if !fresh {
		t.Error("first acquire should dial")
	}

	second, fresh, err := pool.acquire(ctx, "addr-1")
	if err != nil {
		t.Fatalf("second acquire() error = %v", err)
	}
	if fresh {
		t.Error("second acquire dialled instead of reusing")
	}
	if first != second {
		t.Error("acquire returned a different entry for the same address")
	}
	if transport.connectCount() != 1 {
		t.Errorf("connects = %d, want 1", transport.connectCount())
	}
	if pool.Size() != 1 {
		t.Errorf("Size() = %d, want 1", pool.Size())
	}
}

func TestPool_ConcurrentAcquireDialsOnce(t *testing.T) {
	transport := newFakeTransport()
	transport.connectDelay = 50 * time.Millisecond
	pool := NewPool(transport, NewAckTable(), time.Minute)

	ctx := context.Background()
	entries := make([]*poolEntry, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i], _, errs[i] = pool.acquire(ctx, "addr-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("acquire %d error = %v", i, err)
		}
	}
	if entries[0] != entries[1] {
		t.Error("concurrent acquires returned different entries for one address")
	}
	if got := transport.connectCount(); got != 1 {
		t.Errorf("connects = %d, want a single dial per address", got)
	}
	if pool.Size() != 1 {
		t.Errorf("Size() = %d, want 1", pool.Size())
	}
}

func TestPool_ReplacesDeadConnection(t *testing.T) {
	transport := newFakeTransport()
	pool := NewPool(transport, NewAckTable(), time.Minute)

	ctx := context.Background()
	entry, _, err := pool.acquire(ctx, "addr-1")
	if err != nil {
		t.Fatal(err)
	}
	entry.link.Close()

	_, fresh, err := pool.acquire(ctx, "addr-1")
	if err != nil {
		t.Fatalf("acquire() after link death error = %v", err)
	}
	if !fresh {
		t.Error("dead link was handed out instead of redialling")
	}
	if transport.connectCount() != 2 {
		t.Errorf("connects = %d, want 2", transport.connectCount())
	}
}

func TestPool_InvalidateDropsEntryAndWaiters(t *testing.T) {
	transport := newFakeTransport()
	acks := NewAckTable()
	pool := NewPool(transport, acks, time.Minute)

	if _, _, err := pool.acquire(context.Background(), "addr-1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := acks.Register("addr-1", 1); err != nil {
		t.Fatal(err)
	}

	pool.invalidate("addr-1")

	if pool.Size() != 0 {
		t.Errorf("Size() = %d after invalidate, want 0", pool.Size())
	}
	if acks.Pending() != 0 {
		t.Errorf("Pending() = %d after invalidate, want 0", acks.Pending())
	}
	if link := transport.link("addr-1"); link.Connected() {
		t.Error("invalidated link left open")
	}
}

func TestPool_SweepEvictsIdle(t *testing.T) {
	transport := newFakeTransport()
	pool := NewPool(transport, NewAckTable(), 100*time.Millisecond)

	ctx := context.Background()
	if _, _, err := pool.acquire(ctx, "idle"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := pool.acquire(ctx, "busy"); err != nil {
		t.Fatal(err)
	}

	// Only "idle" ages past the threshold.
	pool.mu.Lock()
	pool.entries["idle"].lastUsed = time.Now().Add(-time.Second)
	pool.mu.Unlock()

	evicted := pool.sweep(time.Now())
	if evicted != 1 {
		t.Fatalf("sweep() = %d, want 1", evicted)
	}
	if pool.Connected("idle") {
		t.Error("idle entry survived the sweep")
	}
	if !pool.Connected("busy") {
		t.Error("busy entry was evicted")
	}
}

func TestPool_ReleaseAll(t *testing.T) {
	transport := newFakeTransport()
	pool := NewPool(transport, NewAckTable(), time.Minute)

	ctx := context.Background()
	for _, addr := range []string{"a", "b", "c"} {
		if _, _, err := pool.acquire(ctx, addr); err != nil {
			t.Fatal(err)
		}
	}

	pool.ReleaseAll()
	if pool.Size() != 0 {
		t.Errorf("Size() = %d after ReleaseAll, want 0", pool.Size())
	}
	for _, addr := range []string{"a", "b", "c"} {
		if transport.link(addr).Connected() {
			t.Errorf("link %s left open after ReleaseAll", addr)
		}
	}
}

func TestPool_NotificationsRouteToAcks(t *testing.T) {
	transport := newFakeTransport()
	acks := NewAckTable()
	pool := NewPool(transport, acks, time.Minute)

	entry, _, err := pool.acquire(context.Background(), "addr-1")
	if err != nil {
		t.Fatal(err)
	}

	token, ch, err := acks.Register("addr-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	defer acks.Remove("addr-1", 3, token)

	if err := entry.link.Write(context.Background(), []byte{0xA0, 0x03, 0x01, 0x01, 0x7F, 0x23}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case data := <-ch:
		if data[1] != 0x03 {
			t.Errorf("routed frame = %X, want driver 3", data)
		}
	case <-time.After(time.Second):
		t.Fatal("acknowledgement was not routed to the waiter")
	}
}
