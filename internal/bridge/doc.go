// Package bridge is the heart of the service: it connects the MQTT broker
// to everything else.
//
// The Pipeline ingests inbound device traffic (telemetry and acks) through
// route, validate, normalize, evaluate, persist and fan-out stages, with a
// worker goroutine and bounded queue per device so one chatty or stalled
// device cannot starve the rest. The Dispatcher is the outbound half,
// publishing commands with the safety preconditions enforced up front.
//
// A failure while processing one message is contained to that message. The
// pipeline never retries inbound traffic; devices republish on their own
// cadence.
package bridge
