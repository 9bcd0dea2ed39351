package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Smarthome MQTT namespace.
//
// Device topics use the scheme: smarthome/household/{householdID}/device/{deviceID}/{channel}
// where channel is "command" (Core -> device) or "status" (device -> Core).
const (
	// TopicPrefix is the base for all Smarthome topics.
	TopicPrefix = "smarthome"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "smarthome/system"
)

// Device topic channels.
const (
	// ChannelCommand carries desired-state commands from Core to a device.
	ChannelCommand = "command"

	// ChannelStatus carries reported state from a device back to Core.
	ChannelStatus = "status"
)

// deviceTopicSegments is the exact segment count of a device topic:
// smarthome/household/{h}/device/{d}/{channel}
const deviceTopicSegments = 6

// Topics provides builders for Smarthome MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("hh-1", "lamp-42")
//	// Returns: "smarthome/household/hh-1/device/lamp-42/command"
type Topics struct{}

// DeviceCommand returns the command topic for a device.
//
// Example: smarthome/household/hh-1/device/lamp-42/command
func (Topics) DeviceCommand(householdID, deviceID string) string {
	return fmt.Sprintf("%s/household/%s/device/%s/%s", TopicPrefix, householdID, deviceID, ChannelCommand)
}

// DeviceStatus returns the status topic for a device.
//
// Example: smarthome/household/hh-1/device/lamp-42/status
func (Topics) DeviceStatus(householdID, deviceID string) string {
	return fmt.Sprintf("%s/household/%s/device/%s/%s", TopicPrefix, householdID, deviceID, ChannelStatus)
}

// SystemStatus returns the system status topic.
// Used for the broker LWT and graceful shutdown announcements.
//
// Example: smarthome/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStatuses returns a pattern matching status updates from every
// device in every household. This is the single standing subscription the
// reconciler holds.
//
// Pattern: smarthome/household/+/device/+/status
func (Topics) AllDeviceStatuses() string {
	return fmt.Sprintf("%s/household/+/device/+/%s", TopicPrefix, ChannelStatus)
}

// AllTopics returns a pattern matching all Smarthome topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: smarthome/#
func (Topics) AllTopics() string {
	return "smarthome/#"
}

// TopicRef identifies the device and channel a concrete topic addresses.
type TopicRef struct {
	HouseholdID string
	DeviceID    string
	Channel     string
}

// ParseDeviceTopic decomposes a concrete device topic back into its parts.
// It is the inverse of DeviceCommand/DeviceStatus: for any valid household
// and device identifiers the round trip is lossless.
//
// Parameters:
//   - topic: A concrete topic as received from the broker (no wildcards)
//
// Returns:
//   - TopicRef: Household ID, device ID, and channel
//   - error: If the topic does not match the device topic scheme
func ParseDeviceTopic(topic string) (TopicRef, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != deviceTopicSegments {
		return TopicRef{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	if parts[0] != TopicPrefix || parts[1] != "household" || parts[3] != "device" {
		return TopicRef{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	channel := parts[5]
	if channel != ChannelCommand && channel != ChannelStatus {
		return TopicRef{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidTopic, channel)
	}

	ref := TopicRef{
		HouseholdID: parts[2],
		DeviceID:    parts[4],
		Channel:     channel,
	}

	if ref.HouseholdID == "" || ref.DeviceID == "" {
		return TopicRef{}, fmt.Errorf("%w: empty identifier in %q", ErrInvalidTopic, topic)
	}

	return ref, nil
}

// ValidTopicID reports whether an identifier is safe to embed in a device
// topic. Identifiers containing MQTT separators or wildcards would break
// the one-to-one mapping between devices and topics, so they are rejected
// at the point where devices are created.
func ValidTopicID(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, "/+#")
}
