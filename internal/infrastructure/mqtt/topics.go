package mqtt

import (
	"fmt"
	"strings"
)

// TopicNamespace is the first segment of every device topic.
//
// The wire topic shape is fixed at three segments:
//
//	iot/{deviceId}/{kind}
//
// Inbound kinds are telemetry and ack; commands are published outbound
// on the cmd kind. Building and parsing both live here so the inbound
// parser and outbound formatter cannot drift apart.
const TopicNamespace = "iot"

// MessageKind identifies the third topic segment of a device topic.
type MessageKind string

// Message kinds carried on device topics.
const (
	KindTelemetry MessageKind = "telemetry"
	KindAck       MessageKind = "ack"
	KindCommand   MessageKind = "cmd"
)

// deviceTopicParts is the exact segment count of a device topic.
const deviceTopicParts = 3

// Topics provides builders for Hearthwatch MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceTelemetry returns the telemetry topic for a device.
//
// Example: iot/KITCHEN-ESP32-LED1/telemetry
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicNamespace, deviceID, KindTelemetry)
}

// DeviceAck returns the acknowledgement topic for a device.
//
// Example: iot/KITCHEN-ESP32-LED1/ack
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicNamespace, deviceID, KindAck)
}

// DeviceCommand returns the command topic for a device.
//
// Example: iot/KITCHEN-ESP32-LED1/cmd
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicNamespace, deviceID, KindCommand)
}

// AllTelemetry returns a pattern matching telemetry from every device.
//
// Pattern: iot/+/telemetry
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/+/%s", TopicNamespace, KindTelemetry)
}

// AllAcks returns a pattern matching acknowledgements from every device.
//
// Pattern: iot/+/ack
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/+/%s", TopicNamespace, KindAck)
}

// SystemStatus returns the core service status topic (online/offline, LWT).
//
// Example: iot/core/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/core/status", TopicNamespace)
}

// ParseDeviceTopic splits an inbound topic into its device ID and message kind.
//
// Only the fixed three-segment shape with the iot namespace and an inbound
// kind (telemetry or ack) is accepted. Anything else returns ErrInvalidTopic;
// callers drop such messages without retry since the transport cannot
// correct a topic.
//
// Parameters:
//   - topic: The raw topic string from the broker
//
// Returns:
//   - string: The device ID (second segment)
//   - MessageKind: KindTelemetry or KindAck
//   - error: ErrInvalidTopic (wrapped with detail) when the shape is wrong
func ParseDeviceTopic(topic string) (string, MessageKind, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != deviceTopicParts {
		return "", "", fmt.Errorf("%w: %q has %d segments, want %d", ErrInvalidTopic, topic, len(parts), deviceTopicParts)
	}
	if parts[0] != TopicNamespace {
		return "", "", fmt.Errorf("%w: %q is outside the %s namespace", ErrInvalidTopic, topic, TopicNamespace)
	}

	deviceID := parts[1]
	if deviceID == "" {
		return "", "", fmt.Errorf("%w: %q has an empty device segment", ErrInvalidTopic, topic)
	}

	switch MessageKind(parts[2]) {
	case KindTelemetry:
		return deviceID, KindTelemetry, nil
	case KindAck:
		return deviceID, KindAck, nil
	default:
		return "", "", fmt.Errorf("%w: %q has unknown kind %q", ErrInvalidTopic, topic, parts[2])
	}
}
