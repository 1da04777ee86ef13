package registry

import "errors"

var (
	// ErrDeviceNotFound means the registry has no record for the device and
	// no fail-open rule applied.
	ErrDeviceNotFound = errors.New("device not found in registry")

	// ErrDeviceInvalid means the device exists but must not be served,
	// for example while flagged error or maintenance.
	ErrDeviceInvalid = errors.New("device not valid for ingestion")

	// ErrRegistryUnavailable means the registry could not be reached or
	// answered with a server error.
	ErrRegistryUnavailable = errors.New("device registry unavailable")
)
