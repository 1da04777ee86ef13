// Package device holds the runtime operational model of field devices.
//
// The external device registry owns device identity and configuration;
// this package owns what happens to a device at runtime: operational
// status, last-seen tracking, the orthogonal emergency-mode flag, and
// per-outlet relay state. All mutation flows through the StateStore as a
// result of observed events (ingestion pipeline) or acknowledged commands
// (dispatcher) - there is no ambient global state.
//
// # State machine
//
// Stored status is one of offline, online, maintenance, error. Any
// telemetry or ack self-heals status to online. Online-ness for read
// purposes is derived (seen within OnlineWindow), never trusted from the
// stored field.
//
// Emergency mode is layered on top of any status. Entering it forces
// kitchen-category outlets off (safety outlets stay untouched) and is
// idempotent; exiting clears the flag without restoring outlets. Kitchen
// outlet toggles during emergency mode fail with ErrEmergencyLockout.
package device
