package eventlog

import "time"

// EntryType classifies what an event log row records.
type EntryType string

// Entry types.
const (
	TypeTelemetry EntryType = "telemetry"
	TypeEvent     EntryType = "event"
	TypeCommand   EntryType = "command"
)

// Severity grades an entry for later triage.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is one durable event log row. Payload and Metadata are stored as
// JSON text.
type Entry struct {
	ID        string         `json:"id"`
	Type      EntryType      `json:"type"`
	DeviceID  string         `json:"device_id"`
	Topic     string         `json:"topic,omitempty"`
	Severity  Severity       `json:"severity"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows List queries. Zero values mean "any".
type Filter struct {
	DeviceID string
	Type     EntryType
	Severity Severity
	Since    time.Time
	Limit    int
}
