package safety

import (
	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/event"
)

// Reason identifies which hazard condition a telemetry reading tripped.
type Reason string

const (
	ReasonNone            Reason = "none"
	ReasonHighTemperature Reason = "high_temperature"
	ReasonSmokeDetected   Reason = "smoke_detected"
	ReasonGasLeak         Reason = "gas_leak"
)

// Default hazard thresholds, used for any limit a device does not override.
const (
	DefaultTemperatureMax = 60.0
	DefaultSmokeMax       = 100.0
	DefaultGasMax         = 1000.0
)

// Verdict is the outcome of evaluating one telemetry reading.
type Verdict struct {
	Emergency bool
	Reason    Reason

	// Reading and Limit describe the tripped condition. Both are zero
	// when Emergency is false.
	Reading float64
	Limit   float64
}

// Evaluate checks a reading against the device's effective thresholds.
//
// Conditions are checked in severity order and the first match wins, so a
// reading that trips several limits at once reports a single reason:
// temperature, then smoke, then gas. Values exactly at a limit do not trip.
func Evaluate(t *event.Telemetry, th device.Thresholds) Verdict {
	tempMax := limit(th.TemperatureMax, DefaultTemperatureMax)
	smokeMax := limit(th.SmokeMax, DefaultSmokeMax)
	gasMax := limit(th.GasMax, DefaultGasMax)

	switch {
	case t.TemperatureC > tempMax:
		return Verdict{Emergency: true, Reason: ReasonHighTemperature, Reading: t.TemperatureC, Limit: tempMax}
	case t.SmokeLevel > smokeMax:
		return Verdict{Emergency: true, Reason: ReasonSmokeDetected, Reading: t.SmokeLevel, Limit: smokeMax}
	case t.GasPPM > gasMax:
		return Verdict{Emergency: true, Reason: ReasonGasLeak, Reading: t.GasPPM, Limit: gasMax}
	}
	return Verdict{Reason: ReasonNone}
}

func limit(override *float64, def float64) float64 {
	if override != nil {
		return *override
	}
	return def
}
