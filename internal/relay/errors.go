package relay

import "errors"

var (
	// ErrUnknownRelay indicates a relay name with no pin mapping.
	ErrUnknownRelay = errors.New("relay: unknown relay name")

	// ErrUnknownGroup indicates a group id with no wired relay.
	ErrUnknownGroup = errors.New("relay: no relay wired for group")

	// ErrLineRequest indicates the GPIO line could not be claimed.
	ErrLineRequest = errors.New("relay: gpio line request failed")

	// ErrClosed indicates use after Close.
	ErrClosed = errors.New("relay: board closed")
)
