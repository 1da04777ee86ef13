// Package mqtt provides MQTT client connectivity for Hearthwatch Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - The fixed device topic scheme (building and parsing)
//
// # Architecture
//
// MQTT is the wire transport between field devices and the core:
//
//	Field Devices ↔ MQTT Broker ↔ Hearthwatch Core
//
// Devices publish on iot/{deviceId}/telemetry and iot/{deviceId}/ack;
// the core publishes commands on iot/{deviceId}/cmd. The topic shape is
// owned entirely by this package (see Topics and ParseDeviceTopic) so
// inbound routing and outbound publishing share one source of truth.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        deviceID, kind, err := mqtt.ParseDeviceTopic(topic)
//	        ...
//	    })
package mqtt
