package device

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openhearth/smarthome-core/internal/infrastructure/mqtt"
)

// Validation limits.
const (
	maxIDLength   = 128
	maxNameLength = 255
	maxTypeLength = 64
)

// Validate checks that a device is well-formed for persistence.
// Returns an error wrapping ErrInvalidDevice describing the first problem found.
func Validate(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}

	if err := ValidateID(d.ID); err != nil {
		return err
	}

	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if utf8.RuneCountInString(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}

	if d.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidDevice)
	}
	if len(d.Type) > maxTypeLength {
		return fmt.Errorf("%w: type exceeds %d characters", ErrInvalidDevice, maxTypeLength)
	}

	if d.HouseholdID == "" {
		return fmt.Errorf("%w: household_id is required", ErrInvalidDevice)
	}
	if !mqtt.ValidTopicID(d.HouseholdID) {
		return fmt.Errorf("%w: household_id is not topic-safe", ErrInvalidDevice)
	}

	if d.Status != "" && !IsValidStatus(d.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDevice, d.Status)
	}

	return nil
}

// ValidateID checks that a device ID can appear as an MQTT topic segment.
// The command and status topics embed the raw ID, so it must not contain
// topic separators or wildcards.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if !mqtt.ValidTopicID(id) {
		return fmt.Errorf("%w: id contains MQTT topic metacharacters", ErrInvalidDevice)
	}
	return nil
}
