package directory

import "errors"

// Domain errors for the directory package.
var (
	// ErrDeviceExists is returned when adding a device whose id is
	// already present.
	ErrDeviceExists = errors.New("directory: device already exists")

	// ErrDeviceNotFound is returned when a device id is unknown.
	ErrDeviceNotFound = errors.New("directory: device not found")

	// ErrGroupNotFound is returned when a group id is unknown.
	ErrGroupNotFound = errors.New("directory: group not found")

	// ErrMissingField is returned when a new device lacks a required
	// field (mac, driver id, name, group).
	ErrMissingField = errors.New("directory: missing required field")

	// ErrInvalidStatus is returned when a device status value is not
	// one of the recognised states.
	ErrInvalidStatus = errors.New("directory: invalid device status")
)
