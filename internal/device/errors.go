package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrEmergencyLockout) {
//	    // reject the command, do not publish
//	}
var (
	// ErrDeviceNotTracked is returned when a device ID has no runtime state.
	ErrDeviceNotTracked = errors.New("device: not tracked")

	// ErrOutletNotFound is returned when an outlet ID does not exist on the device.
	ErrOutletNotFound = errors.New("device: outlet not found")

	// ErrEmergencyLockout is returned when a kitchen outlet toggle is
	// attempted while the device is in emergency mode. This is a hard
	// invariant: the toggle is rejected and no command may be published.
	ErrEmergencyLockout = errors.New("device: kitchen outlet locked out in emergency mode")
)
