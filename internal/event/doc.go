// Package event defines the canonical event model for Hearthwatch Core.
//
// Field devices publish heterogeneous JSON payloads; firmware revisions
// disagree on field presence and on boolean encodings. This package is
// the single conversion boundary: every accepted wire payload becomes a
// typed Telemetry or Ack value, or the message is rejected with
// ErrMalformedPayload. Nothing downstream ever touches raw wire shapes.
//
// Canonical events are immutable after construction and safe to share
// between the evaluator, the durable sinks, and the live fan-out bus.
package event
