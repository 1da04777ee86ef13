package event

import "time"

// OutletIDs is the fixed set of outlet identifiers a kitchen controller
// reports in its telemetry snapshot, in wire order.
var OutletIDs = []string{"o1", "o2", "o3", "o4", "o5"}

// Kind classifies a normalized event.
type Kind string

// Event kinds.
const (
	KindTelemetry Kind = "telemetry"
	KindAck       Kind = "ack"
	KindCommand   Kind = "command"
)

// Telemetry is the canonical, wire-independent sensor reading.
//
// Instances are immutable once constructed by NormalizeTelemetry; the
// evaluator, sinks, and live bus all consume the same value.
type Telemetry struct {
	DeviceID   string `json:"device_id"`
	CapturedAt int64  `json:"captured_at"` // epoch milliseconds

	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
	SmokeLevel   float64 `json:"smoke_level"`
	GasPPM       float64 `json:"gas_ppm"`

	// MQ2Voltage is the raw gas sensor voltage, present on newer firmware.
	MQ2Voltage *float64 `json:"mq2_voltage,omitempty"`

	// FlameDetected is reported by firmware revisions with an IR flame sensor.
	FlameDetected *bool `json:"flame_detected,omitempty"`

	// Outlets is the device's own view of its outlet relay states.
	Outlets map[string]bool `json:"outlets"`
}

// Ack is a device acknowledgement of a previously sent command.
// The payload is carried through untouched; acks are routed but never
// threshold-evaluated.
type Ack struct {
	DeviceID   string         `json:"device_id"`
	CapturedAt int64          `json:"captured_at"`
	Payload    map[string]any `json:"payload"`
}

// Command actions understood by kitchen controller firmware.
const (
	ActionSetState = "SET_STATE"
	ActionToggle   = "TOGGLE"
)

// Command is the canonical outbound control message for a device.
type Command struct {
	Action    string         `json:"action"`
	Target    *CommandTarget `json:"target,omitempty"`
	Params    map[string]any `json:"params"`
	Timestamp string         `json:"timestamp"`
}

// CommandTarget addresses a specific sub-component of a device.
type CommandTarget struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

// Outlet returns the state of a single outlet from the telemetry snapshot,
// defaulting to off for outlets the payload did not report.
func (t *Telemetry) Outlet(id string) bool {
	return t.Outlets[id]
}

// CapturedAtTime returns the capture timestamp as a time.Time.
func (t *Telemetry) CapturedAtTime() time.Time {
	return time.UnixMilli(t.CapturedAt)
}
