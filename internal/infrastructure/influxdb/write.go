package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/hearthwatch/hearthwatch-core/internal/event"
)

// WriteTelemetry records one normalized telemetry reading.
//
// The write is non-blocking; points are batched and sent asynchronously.
// The point is stamped with the reading's capture time, not the write time,
// so delayed deliveries land where they belong on the axis.
func (c *Client) WriteTelemetry(t *event.Telemetry) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"temperature_c": t.TemperatureC,
		"humidity_pct":  t.HumidityPct,
		"smoke_level":   t.SmokeLevel,
		"gas_ppm":       t.GasPPM,
	}
	if t.MQ2Voltage != nil {
		fields["mq2_voltage"] = *t.MQ2Voltage
	}
	if t.FlameDetected != nil {
		flame := 0
		if *t.FlameDetected {
			flame = 1
		}
		fields["flame_detected"] = flame
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{"device_id": t.DeviceID},
		fields,
		time.UnixMilli(t.CapturedAt),
	)
	c.writeAPI.WritePoint(point)
}

// WriteEmergency records an emergency transition as a time-series event so
// incident timelines can be graphed next to the sensor data that caused
// them.
func (c *Client) WriteEmergency(deviceID, reason string, reading, limit float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"emergency",
		map[string]string{
			"device_id": deviceID,
			"reason":    reason,
		},
		map[string]interface{}{
			"reading": reading,
			"limit":   limit,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
// Keep tag cardinality low; device IDs are fine, payload values are not.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
