package mqtt

import (
	"errors"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "DeviceCommand",
			builder: func() string {
				return Topics{}.DeviceCommand("hh-1", "lamp-42")
			},
			expected: "smarthome/household/hh-1/device/lamp-42/command",
		},
		{
			name: "DeviceStatus",
			builder: func() string {
				return Topics{}.DeviceStatus("hh-1", "lamp-42")
			},
			expected: "smarthome/household/hh-1/device/lamp-42/status",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "smarthome/system/status",
		},
		{
			name: "AllDeviceStatuses",
			builder: func() string {
				return Topics{}.AllDeviceStatuses()
			},
			expected: "smarthome/household/+/device/+/status",
		},
		{
			name: "AllTopics",
			builder: func() string {
				return Topics{}.AllTopics()
			},
			expected: "smarthome/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		want    TopicRef
		wantErr bool
	}{
		{
			name:  "command topic",
			topic: "smarthome/household/hh-1/device/lamp-42/command",
			want:  TopicRef{HouseholdID: "hh-1", DeviceID: "lamp-42", Channel: ChannelCommand},
		},
		{
			name:  "status topic",
			topic: "smarthome/household/hh-1/device/thermo-7/status",
			want:  TopicRef{HouseholdID: "hh-1", DeviceID: "thermo-7", Channel: ChannelStatus},
		},
		{
			name:  "uuid identifiers",
			topic: "smarthome/household/3f1b7c9e-aaaa-bbbb-cccc-000000000001/device/9d8e7f6a-1111-2222-3333-000000000002/status",
			want: TopicRef{
				HouseholdID: "3f1b7c9e-aaaa-bbbb-cccc-000000000001",
				DeviceID:    "9d8e7f6a-1111-2222-3333-000000000002",
				Channel:     ChannelStatus,
			},
		},
		{
			name:    "wrong prefix",
			topic:   "otherapp/household/hh-1/device/lamp-42/status",
			wantErr: true,
		},
		{
			name:    "unknown channel",
			topic:   "smarthome/household/hh-1/device/lamp-42/telemetry",
			wantErr: true,
		},
		{
			name:    "too few segments",
			topic:   "smarthome/household/hh-1/device/lamp-42",
			wantErr: true,
		},
		{
			name:    "too many segments",
			topic:   "smarthome/household/hh-1/device/lamp-42/status/extra",
			wantErr: true,
		},
		{
			name:    "missing device literal",
			topic:   "smarthome/household/hh-1/gadget/lamp-42/status",
			wantErr: true,
		},
		{
			name:    "empty household id",
			topic:   "smarthome/household//device/lamp-42/status",
			wantErr: true,
		},
		{
			name:    "empty device id",
			topic:   "smarthome/household/hh-1/device//status",
			wantErr: true,
		},
		{
			name:    "empty string",
			topic:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDeviceTopic(tt.topic)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDeviceTopic(%q) expected error, got %+v", tt.topic, got)
				}
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParseDeviceTopic(%q) error = %v, want ErrInvalidTopic", tt.topic, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDeviceTopic(%q) error = %v", tt.topic, err)
			}
			if got != tt.want {
				t.Errorf("ParseDeviceTopic(%q) = %+v, want %+v", tt.topic, got, tt.want)
			}
		})
	}
}

// The builders and parser must agree: building a topic and parsing it back
// yields the original identifiers.
func TestDeviceTopicRoundTrip(t *testing.T) {
	ids := []struct {
		household string
		device    string
	}{
		{"hh-1", "lamp-42"},
		{"main-home", "sensor_01"},
		{"3f1b7c9e-aaaa-bbbb-cccc-000000000001", "9d8e7f6a-1111-2222-3333-000000000002"},
	}

	for _, id := range ids {
		cmd := Topics{}.DeviceCommand(id.household, id.device)
		ref, err := ParseDeviceTopic(cmd)
		if err != nil {
			t.Fatalf("ParseDeviceTopic(%q) error = %v", cmd, err)
		}
		if ref.HouseholdID != id.household || ref.DeviceID != id.device || ref.Channel != ChannelCommand {
			t.Errorf("command round trip = %+v, want %s/%s", ref, id.household, id.device)
		}

		status := Topics{}.DeviceStatus(id.household, id.device)
		ref, err = ParseDeviceTopic(status)
		if err != nil {
			t.Fatalf("ParseDeviceTopic(%q) error = %v", status, err)
		}
		if ref.HouseholdID != id.household || ref.DeviceID != id.device || ref.Channel != ChannelStatus {
			t.Errorf("status round trip = %+v, want %s/%s", ref, id.household, id.device)
		}
	}
}

func TestValidTopicID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"lamp-42", true},
		{"sensor_01", true},
		{"3f1b7c9e-aaaa-bbbb-cccc-000000000001", true},
		{"", false},
		{"a/b", false},
		{"plus+sign", false},
		{"hash#sign", false},
	}

	for _, tt := range tests {
		if got := ValidTopicID(tt.id); got != tt.want {
			t.Errorf("ValidTopicID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
