// Package dali implements the byte-level codec for the BLE-DALI gateway
// protocol spoken by the lighting driver boards.
//
// The gateways expose a serial-over-BLE bridge (Nordic UART Service) and
// accept fixed six-byte command frames:
//
//	[0xA0, driver, 0x01, 0x01, level, checksum]
//
// where the checksum is the modular sum of the five preceding bytes. The
// gateway answers with a short acknowledgement frame echoing the driver id
// and a status byte.
//
// Brightness values cross two scales: callers work in percent (0-100),
// the DALI arc power command takes 0-254. ToWireLevel performs the clamp
// and rescale in one step.
//
// The codec is pure: no I/O, no state, safe for concurrent use.
package dali
