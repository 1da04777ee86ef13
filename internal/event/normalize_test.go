package event

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeTelemetry_FullPayload(t *testing.T) {
	raw := []byte(`{"temp":25.5,"humid":60.2,"smoke":0,"gas_ppm":50,"o":{"o1":true}}`)

	got, err := NormalizeTelemetry("D1", raw, testNow)
	if err != nil {
		t.Fatalf("NormalizeTelemetry() error = %v", err)
	}

	if got.DeviceID != "D1" {
		t.Errorf("DeviceID = %q, want D1", got.DeviceID)
	}
	if got.TemperatureC != 25.5 {
		t.Errorf("TemperatureC = %v, want 25.5", got.TemperatureC)
	}
	if got.HumidityPct != 60.2 {
		t.Errorf("HumidityPct = %v, want 60.2", got.HumidityPct)
	}
	if got.SmokeLevel != 0 {
		t.Errorf("SmokeLevel = %v, want 0", got.SmokeLevel)
	}
	if got.GasPPM != 50 {
		t.Errorf("GasPPM = %v, want 50", got.GasPPM)
	}
	if !got.Outlets["o1"] {
		t.Error("Outlets[o1] = false, want true")
	}
	if got.Outlets["o2"] {
		t.Error("Outlets[o2] = true, want default false")
	}
	if got.CapturedAt != testNow.UnixMilli() {
		t.Errorf("CapturedAt = %d, want %d", got.CapturedAt, testNow.UnixMilli())
	}
	if got.MQ2Voltage != nil || got.FlameDetected != nil {
		t.Error("optional fields should be nil when absent")
	}
}

func TestNormalizeTelemetry_MissingFieldsDefaultZero(t *testing.T) {
	got, err := NormalizeTelemetry("D1", []byte(`{}`), testNow)
	if err != nil {
		t.Fatalf("NormalizeTelemetry() error = %v", err)
	}

	if got.TemperatureC != 0 || got.HumidityPct != 0 || got.SmokeLevel != 0 || got.GasPPM != 0 {
		t.Errorf("absent numerics should default to 0, got %+v", got)
	}
	for _, id := range OutletIDs {
		if got.Outlets[id] {
			t.Errorf("Outlets[%s] = true, want default false", id)
		}
	}
}

func TestNormalizeTelemetry_CoercionVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(*Telemetry) bool
	}{
		{
			"smoke as boolean flag",
			`{"smoke":true}`,
			func(tm *Telemetry) bool { return tm.SmokeLevel == 1 },
		},
		{
			"numeric string temperature",
			`{"temp":"42.5"}`,
			func(tm *Telemetry) bool { return tm.TemperatureC == 42.5 },
		},
		{
			"outlet as 0/1",
			`{"o":{"o1":1,"o2":0}}`,
			func(tm *Telemetry) bool { return tm.Outlets["o1"] && !tm.Outlets["o2"] },
		},
		{
			"outlet as on/off string",
			`{"o":{"o3":"ON","o4":"off"}}`,
			func(tm *Telemetry) bool { return tm.Outlets["o3"] && !tm.Outlets["o4"] },
		},
		{
			"flame flag as number",
			`{"flame":1}`,
			func(tm *Telemetry) bool { return tm.FlameDetected != nil && *tm.FlameDetected },
		},
		{
			"mq2 voltage",
			`{"mq2_v":3.14}`,
			func(tm *Telemetry) bool { return tm.MQ2Voltage != nil && *tm.MQ2Voltage == 3.14 },
		},
		{
			"null fields ignored",
			`{"temp":null,"o":{"o1":null}}`,
			func(tm *Telemetry) bool { return tm.TemperatureC == 0 && !tm.Outlets["o1"] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTelemetry("D1", []byte(tt.raw), testNow)
			if err != nil {
				t.Fatalf("NormalizeTelemetry(%s) error = %v", tt.raw, err)
			}
			if !tt.want(got) {
				t.Errorf("NormalizeTelemetry(%s) = %+v, coercion mismatch", tt.raw, got)
			}
		})
	}
}

func TestNormalizeTelemetry_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not JSON", `hello`},
		{"JSON array", `[1,2,3]`},
		{"null body", `null`},
		{"non-numeric temp", `{"temp":"warm"}`},
		{"temp wrong type", `{"temp":{"value":20}}`},
		{"outlets not object", `{"o":[true]}`},
		{"outlet garbage", `{"o":{"o1":"maybe"}}`},
		{"flame garbage", `{"flame":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeTelemetry("D1", []byte(tt.raw), testNow)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("NormalizeTelemetry(%s) error = %v, want ErrMalformedPayload", tt.raw, err)
			}
		})
	}
}

func TestNormalizeAck(t *testing.T) {
	got, err := NormalizeAck("D1", []byte(`{"status":"ok","action":"SET_STATE"}`), testNow)
	if err != nil {
		t.Fatalf("NormalizeAck() error = %v", err)
	}
	if got.DeviceID != "D1" {
		t.Errorf("DeviceID = %q, want D1", got.DeviceID)
	}
	if got.Payload["status"] != "ok" {
		t.Errorf("Payload[status] = %v, want ok", got.Payload["status"])
	}

	if _, err := NormalizeAck("D1", []byte(`"not an object"`), testNow); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("NormalizeAck(non-object) error = %v, want ErrMalformedPayload", err)
	}
}
