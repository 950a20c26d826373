package dali

import "errors"

// Domain errors for the DALI packet codec.
var (
	// ErrInvalidAck is returned when a received acknowledgement frame
	// is malformed or too short to interpret.
	ErrInvalidAck = errors.New("dali: invalid acknowledgement frame")

	// ErrDriverMismatch is returned when an acknowledgement frame echoes
	// a driver id other than the one expected.
	ErrDriverMismatch = errors.New("dali: acknowledgement driver mismatch")
)
