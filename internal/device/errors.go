package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a known-device identity does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when adding an identity that is already known.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when known-device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInboxEntryNotFound is returned when an inbox id does not exist.
	ErrInboxEntryNotFound = errors.New("device: inbox entry not found")

	// ErrInvalidStatus is returned for an unknown inbox status value.
	ErrInvalidStatus = errors.New("device: invalid inbox status")
)
