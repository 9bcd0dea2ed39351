package device

import "time"

// Device represents a controllable or monitorable entity in a household.
// This matches the database schema in migrations/20260815_100000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	// Ownership
	HouseholdID string  `json:"household_id"`
	OwnerID     *string `json:"owner_id,omitempty"`

	// Reachability as reported over MQTT. pending means a command has
	// been published and the device has not yet confirmed it.
	Status Status `json:"status"`

	// Data holds the current device state as an open bag of attributes.
	//
	// Examples:
	//   - Light: {"on": true, "brightness": 75}
	//   - Thermostat: {"temperature": 21.5, "target": 22.0, "mode": "heat"}
	Data Data `json:"data"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Data holds device state attributes as a JSON map.
type Data map[string]any

// DeepCopy creates a complete independent copy of the Device.
// The Data map is cloned recursively so modifications to the copy
// do not affect the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Data = deepCopyMap(d.Data)

	if d.OwnerID != nil {
		owner := *d.OwnerID
		cpy.OwnerID = &owner
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// Status represents device reachability on the MQTT bus.
type Status string

// Status constants.
const (
	// StatusUnknown is the initial status of a newly registered device.
	StatusUnknown Status = "unknown"

	// StatusPending means a command was published and no status report
	// has arrived since. There is no timeout: pending resolves only
	// when the device (or a simulator) reports back.
	StatusPending Status = "pending"

	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusUnknown, StatusPending, StatusOnline, StatusOffline}
}

// IsValidStatus reports whether s is a recognised status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusUnknown, StatusPending, StatusOnline, StatusOffline:
		return true
	}
	return false
}

// IsReportableStatus reports whether s is a status a device may report
// over MQTT. Devices cannot report pending — that transition belongs
// to the command dispatcher alone.
func IsReportableStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusUnknown:
		return true
	}
	return false
}
