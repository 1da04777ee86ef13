package event

import "errors"

// Domain errors for the event package.
var (
	// ErrMalformedPayload is returned when a wire payload cannot be coerced
	// into a canonical event. The message is dropped and logged by callers;
	// it is never fatal to the pipeline.
	ErrMalformedPayload = errors.New("event: malformed payload")
)
