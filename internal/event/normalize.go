package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire payload field names, as emitted by the kitchen controller firmware.
const (
	fieldTemp    = "temp"
	fieldHumid   = "humid"
	fieldSmoke   = "smoke"
	fieldGasPPM  = "gas_ppm"
	fieldMQ2Volt = "mq2_v"
	fieldFlame   = "flame"
	fieldOutlets = "o"
)

// NormalizeTelemetry coerces a raw wire payload into a canonical Telemetry.
//
// Field devices are lossy: firmware revisions disagree on which fields
// they send and whether boolean-ish values arrive as 0/1, true/false, or
// strings. Absent or null numeric fields therefore default to 0 rather
// than rejecting the whole reading, and boolean-ish values normalize to
// strict booleans. Only a payload that is not a JSON object at all, or
// whose present fields cannot be coerced, is rejected.
//
// Parameters:
//   - deviceID: Device the payload was routed from (authenticity is the
//     validation cache's job, not this function's)
//   - raw: The wire payload bytes
//   - now: Capture timestamp applied to the event
//
// Returns:
//   - *Telemetry: Canonical immutable reading
//   - error: ErrMalformedPayload (wrapped with the offending field)
func NormalizeTelemetry(deviceID string, raw []byte, now time.Time) (*Telemetry, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		DeviceID:   deviceID,
		CapturedAt: now.UnixMilli(),
		Outlets:    make(map[string]bool, len(OutletIDs)),
	}

	if t.TemperatureC, err = coerceNumber(fields, fieldTemp); err != nil {
		return nil, err
	}
	if t.HumidityPct, err = coerceNumber(fields, fieldHumid); err != nil {
		return nil, err
	}
	if t.SmokeLevel, err = coerceNumber(fields, fieldSmoke); err != nil {
		return nil, err
	}
	if t.GasPPM, err = coerceNumber(fields, fieldGasPPM); err != nil {
		return nil, err
	}

	if v, ok := fields[fieldMQ2Volt]; ok && v != nil {
		num, err := toNumber(fieldMQ2Volt, v)
		if err != nil {
			return nil, err
		}
		t.MQ2Voltage = &num
	}

	if v, ok := fields[fieldFlame]; ok && v != nil {
		b, err := toBool(fieldFlame, v)
		if err != nil {
			return nil, err
		}
		t.FlameDetected = &b
	}

	// Outlet snapshot: unreported outlets default to off.
	for _, id := range OutletIDs {
		t.Outlets[id] = false
	}
	if v, ok := fields[fieldOutlets]; ok && v != nil {
		outlets, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not an object", ErrMalformedPayload, fieldOutlets)
		}
		for _, id := range OutletIDs {
			ov, ok := outlets[id]
			if !ok || ov == nil {
				continue
			}
			b, err := toBool(fieldOutlets+"."+id, ov)
			if err != nil {
				return nil, err
			}
			t.Outlets[id] = b
		}
	}

	return t, nil
}

// NormalizeAck coerces a raw ack payload into a canonical Ack.
// The only structural requirement is a JSON object body; contents are
// device-defined and carried through for the sinks and viewers.
func NormalizeAck(deviceID string, raw []byte, now time.Time) (*Ack, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return &Ack{
		DeviceID:   deviceID,
		CapturedAt: now.UnixMilli(),
		Payload:    fields,
	}, nil
}

// decodeObject parses raw JSON and requires a top-level object.
func decodeObject(raw []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null body", ErrMalformedPayload)
	}
	return fields, nil
}

// coerceNumber reads an optional numeric field, defaulting to 0 when the
// field is absent or null.
func coerceNumber(fields map[string]any, name string) (float64, error) {
	v, ok := fields[name]
	if !ok || v == nil {
		return 0, nil
	}
	return toNumber(name, v)
}

// toNumber converts the duck-typed wire value to a float64.
// Accepts JSON numbers, numeric strings, and booleans (false=0, true=1,
// seen from firmware that reports smoke as a flag).
func toNumber(name string, v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %q has non-numeric string %q", ErrMalformedPayload, name, val)
		}
		return num, nil
	default:
		return 0, fmt.Errorf("%w: field %q has type %T", ErrMalformedPayload, name, v)
	}
}

// toBool converts the duck-typed wire value to a strict boolean.
// Accepts JSON booleans, 0/1 numbers, and on/off/true/false/0/1 strings.
func toBool(name string, v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		switch val {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return false, fmt.Errorf("%w: field %q has non-boolean number %v", ErrMalformedPayload, name, val)
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true", "on":
			return true, nil
		case "0", "false", "off":
			return false, nil
		}
		return false, fmt.Errorf("%w: field %q has non-boolean string %q", ErrMalformedPayload, name, val)
	default:
		return false, fmt.Errorf("%w: field %q has type %T", ErrMalformedPayload, name, v)
	}
}
