package ble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"
)

// Nordic UART Service UUIDs used by the DALI gateways.
var (
	uartServiceUUID = mustUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")

	// uartRXCharUUID is the characteristic the gateway reads commands
	// from (we write to it).
	uartRXCharUUID = mustUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e")

	// uartTXCharUUID is the characteristic the gateway notifies
	// acknowledgements on.
	uartTXCharUUID = mustUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("ble: bad uuid %q: %v", s, err))
	}
	return u
}

// Adapter is the Transport implementation backed by the host's BLE
// stack via tinygo.org/x/bluetooth (BlueZ on Linux).
type Adapter struct {
	adapter *bluetooth.Adapter
	enabled bool

	// scanMu serialises scans; BlueZ allows one discovery session.
	scanMu sync.Mutex
}

// NewAdapter enables the default BLE adapter.
//
// Returns:
//   - *Adapter: Ready transport
//   - error: ErrTransportUnavailable when the adapter cannot be enabled
func NewAdapter() (*Adapter, error) {
	a := bluetooth.DefaultAdapter
	if err := a.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	return &Adapter{adapter: a, enabled: true}, nil
}

// Available reports whether the adapter was enabled.
func (a *Adapter) Available() bool {
	return a != nil && a.enabled
}

// Scan runs a discovery scan for up to timeout, invoking found for
// every advertisement seen. Duplicate advertisements are forwarded;
// callers deduplicate by address if they need to.
func (a *Adapter) Scan(ctx context.Context, timeout time.Duration, found func(ScanResult)) error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-ctx.Done():
				return
			default:
			}
			found(ScanResult{
				Address: result.Address.String(),
				Name:    result.LocalName(),
				RSSI:    int(result.RSSI),
			})
		})
	}()

	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrScanFailed, err)
		}
		return nil
	case <-ctx.Done():
		if err := a.adapter.StopScan(); err != nil {
			return fmt.Errorf("%w: stop: %w", ErrScanFailed, err)
		}
		<-scanErr
		return nil
	}
}

// Connect establishes a GATT connection to the gateway at address and
// resolves its UART characteristics.
func (a *Adapter) Connect(ctx context.Context, address string) (Link, error) {
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("%w: bad address %q: %w", ErrConnectFailed, address, err)
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain > 0 {
			params.ConnectionTimeout = bluetooth.NewDuration(remain)
		}
	}

	device, err := a.adapter.Connect(addr, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, address, err)
	}

	link, err := newGattLink(device, address)
	if err != nil {
		device.Disconnect()
		return nil, err
	}
	return link, nil
}

// gattLink is a live GATT connection with resolved UART characteristics.
type gattLink struct {
	device  bluetooth.Device
	address string

	writeChar  bluetooth.DeviceCharacteristic
	notifyChar bluetooth.DeviceCharacteristic

	closed atomic.Bool
}

// newGattLink discovers the UART service and its two characteristics.
func newGattLink(device bluetooth.Device, address string) (*gattLink, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{uartServiceUUID})
	if err != nil || len(services) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrServiceNotFound, address, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{uartRXCharUUID, uartTXCharUUID})
	if err != nil || len(chars) < 2 {
		return nil, fmt.Errorf("%w: %s: characteristics: %v", ErrServiceNotFound, address, err)
	}

	link := &gattLink{device: device, address: address}
	for _, c := range chars {
		switch c.UUID() {
		case uartRXCharUUID:
			link.writeChar = c
		case uartTXCharUUID:
			link.notifyChar = c
		}
	}
	return link, nil
}

func (l *gattLink) Write(ctx context.Context, frame []byte) error {
	if l.closed.Load() {
		return ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWriteFailed, ctx.Err())
	default:
	}
	if _, err := l.writeChar.WriteWithoutResponse(frame); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, l.address, err)
	}
	return nil
}

func (l *gattLink) Subscribe(handler func(data []byte)) error {
	if err := l.notifyChar.EnableNotifications(handler); err != nil {
		return fmt.Errorf("%w: %s: notifications: %w", ErrServiceNotFound, l.address, err)
	}
	return nil
}

func (l *gattLink) Connected() bool {
	return !l.closed.Load()
}

func (l *gattLink) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.device.Disconnect()
}
