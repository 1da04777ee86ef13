package safety

import (
	"testing"

	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/event"
)

func f(v float64) *float64 { return &v }

func TestEvaluate_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		telemetry event.Telemetry
		emergency bool
		reason    Reason
	}{
		{
			name:      "all nominal",
			telemetry: event.Telemetry{TemperatureC: 25, SmokeLevel: 10, GasPPM: 400},
			reason:    ReasonNone,
		},
		{
			name:      "temperature over limit",
			telemetry: event.Telemetry{TemperatureC: 61},
			emergency: true,
			reason:    ReasonHighTemperature,
		},
		{
			name:      "temperature exactly at limit",
			telemetry: event.Telemetry{TemperatureC: 60},
			reason:    ReasonNone,
		},
		{
			name:      "smoke over limit",
			telemetry: event.Telemetry{SmokeLevel: 150},
			emergency: true,
			reason:    ReasonSmokeDetected,
		},
		{
			name:      "gas over limit",
			telemetry: event.Telemetry{GasPPM: 1500},
			emergency: true,
			reason:    ReasonGasLeak,
		},
		{
			name:      "gas exactly at limit",
			telemetry: event.Telemetry{GasPPM: 1000},
			reason:    ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(&tt.telemetry, device.Thresholds{})
			if v.Emergency != tt.emergency {
				t.Errorf("Emergency = %v, want %v", v.Emergency, tt.emergency)
			}
			if v.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", v.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	// Reading trips every condition at once. Temperature outranks the rest.
	all := &event.Telemetry{TemperatureC: 200, SmokeLevel: 500, GasPPM: 5000}
	if v := Evaluate(all, device.Thresholds{}); v.Reason != ReasonHighTemperature {
		t.Errorf("Reason = %q, want high_temperature", v.Reason)
	}

	// Smoke plus gas, no temperature: smoke outranks gas.
	sg := &event.Telemetry{SmokeLevel: 500, GasPPM: 5000}
	if v := Evaluate(sg, device.Thresholds{}); v.Reason != ReasonSmokeDetected {
		t.Errorf("Reason = %q, want smoke_detected", v.Reason)
	}
}

func TestEvaluate_DeviceOverrides(t *testing.T) {
	th := device.Thresholds{TemperatureMax: f(80), GasMax: f(500)}

	// 70C is over the default 60 but under the 80 override.
	if v := Evaluate(&event.Telemetry{TemperatureC: 70}, th); v.Emergency {
		t.Errorf("Emergency = true under raised override, verdict %+v", v)
	}

	// 600ppm is under the default 1000 but over the 500 override.
	v := Evaluate(&event.Telemetry{GasPPM: 600}, th)
	if !v.Emergency || v.Reason != ReasonGasLeak {
		t.Errorf("verdict = %+v, want gas_leak under lowered override", v)
	}
	if v.Limit != 500 || v.Reading != 600 {
		t.Errorf("Limit/Reading = %v/%v, want 500/600", v.Limit, v.Reading)
	}

	// Unset overrides still use the default.
	if v := Evaluate(&event.Telemetry{SmokeLevel: 150}, th); v.Reason != ReasonSmokeDetected {
		t.Errorf("Reason = %q, want smoke_detected via default", v.Reason)
	}
}
