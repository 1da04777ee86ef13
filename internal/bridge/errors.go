package bridge

import "errors"

var (
	// ErrDeviceNotValidated means the registry rejected the device, so no
	// traffic or commands flow for it.
	ErrDeviceNotValidated = errors.New("device failed registry validation")

	// ErrInvalidCommand means the command is structurally unusable, for
	// example an empty action or an unknown target.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrPipelineStopped means a message arrived after shutdown began.
	ErrPipelineStopped = errors.New("ingestion pipeline stopped")
)
