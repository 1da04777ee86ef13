// Package eventlog is the durable record of everything the pipeline
// ingests and dispatches: telemetry readings, device events such as
// emergency transitions, and outbound commands. It writes to the embedded
// SQLite store so the record survives restarts and broker outages.
package eventlog
