// Package influxdb stores telemetry time series and emergency markers in
// InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, domain write helpers and health monitoring. Writes are
// non-blocking and batched per the batch_size and flush_interval settings;
// async write errors go to a callback rather than the call site. The sink
// is optional: when disabled in config the pipeline simply runs without it.
package influxdb
