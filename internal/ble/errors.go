package ble

import "errors"

// Domain errors for the BLE transport and command pipeline.
var (
	// ErrTransportUnavailable is returned when no BLE adapter can be
	// enabled on this host.
	ErrTransportUnavailable = errors.New("ble: transport unavailable")

	// ErrNotConnected is returned when an operation requires a live
	// gateway connection but none exists.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrConnectFailed is returned when a connection attempt to a
	// gateway fails.
	ErrConnectFailed = errors.New("ble: connect failed")

	// ErrServiceNotFound is returned when a connected gateway does not
	// expose the expected UART service or characteristics.
	ErrServiceNotFound = errors.New("ble: uart service not found")

	// ErrWriteFailed is returned when writing a command frame to the
	// gateway fails.
	ErrWriteFailed = errors.New("ble: write failed")

	// ErrAckPending is returned when a command is issued for a driver
	// that already has an acknowledgement outstanding.
	ErrAckPending = errors.New("ble: acknowledgement already pending")

	// ErrAckTimeout is returned when the gateway does not acknowledge
	// a command in time.
	ErrAckTimeout = errors.New("ble: acknowledgement timeout")

	// ErrScanFailed is returned when a discovery scan cannot start.
	ErrScanFailed = errors.New("ble: scan failed")

	// ErrUnknownDevice is returned when a command names a device the
	// directory does not know.
	ErrUnknownDevice = errors.New("ble: unknown device")

	// ErrUnknownGroup is returned when a command names a group the
	// directory does not know.
	ErrUnknownGroup = errors.New("ble: unknown group")
)
