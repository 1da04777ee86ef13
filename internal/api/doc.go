// Package api provides the HTTP REST API and WebSocket server.
//
// It exposes tracked device state, outlet commands, emergency recovery and
// the durable event log over REST, and relays live pipeline output
// (telemetry, acks, state changes, emergencies) to WebSocket clients via
// the hub. Commands are routed through the bridge dispatcher so every
// precondition (broker connectivity, registry validation, emergency
// lockout) applies identically whether a command originates from MQTT
// tooling or this API.
package api
