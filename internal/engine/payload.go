package engine

import (
	"encoding/json"
	"fmt"

	"github.com/openhearth/smarthome-core/internal/device"
)

// statusKey is reserved in status payloads: it addresses the device's
// reachability status, never its data bag.
const statusKey = "status"

// maxPayloadKeys bounds the number of attributes accepted in one message.
const maxPayloadKeys = 64

// ValidatePatchData checks that patch data is a valid wire value bag:
// every value must be null, a bool, a number, a string, or a one-level
// mapping of those scalars. Deeper nesting and arrays are rejected at
// the boundary so the store only ever holds the shapes the merge
// semantics are defined for.
func ValidatePatchData(data device.Data) error {
	if len(data) > maxPayloadKeys {
		return fmt.Errorf("%w: more than %d keys", ErrValidation, maxPayloadKeys)
	}

	for key, value := range data {
		if key == "" {
			return fmt.Errorf("%w: empty key", ErrValidation)
		}
		if err := validateValue(key, value, false); err != nil {
			return err
		}
	}
	return nil
}

// validateValue checks a single value against the tagged variant rules.
// nested is true when the value sits inside a mapping already.
func validateValue(key string, value any, nested bool) error {
	switch v := value.(type) {
	case nil, bool, string, float64, int, int64, float32:
		return nil
	case json.Number:
		return nil
	case map[string]any:
		if nested {
			return fmt.Errorf("%w: key %q nests deeper than one level", ErrValidation, key)
		}
		if len(v) > maxPayloadKeys {
			return fmt.Errorf("%w: mapping %q has more than %d keys", ErrValidation, key, maxPayloadKeys)
		}
		for nk, nv := range v {
			if nk == "" {
				return fmt.Errorf("%w: empty key in mapping %q", ErrValidation, key)
			}
			if err := validateValue(key+"."+nk, nv, true); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: key %q has unsupported type %T", ErrValidation, key, value)
	}
}

// statusReport is a decoded inbound status message.
type statusReport struct {
	// Data holds every payload key except the reserved status key.
	Data device.Data

	// Status is the raw value of the status key, or empty when absent.
	// Recognition against the device.Status enum happens in the
	// reconciler so the unrecognised-value warning can carry context.
	Status string

	// HasStatus distinguishes an absent status key from an empty one.
	HasStatus bool
}

// decodeStatusPayload parses a raw status message body. The payload must
// be a JSON object; its non-status values must satisfy the same variant
// rules as command patches. A non-string status value counts as present
// but unrecognised — the reconciler drops the field, not the message.
func decodeStatusPayload(raw []byte) (statusReport, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return statusReport{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	report := statusReport{Data: device.Data{}}

	for key, value := range body {
		if key == statusKey {
			report.HasStatus = true
			if s, ok := value.(string); ok {
				report.Status = s
			}
			continue
		}
		report.Data[key] = value
	}

	if err := ValidatePatchData(report.Data); err != nil {
		return statusReport{}, err
	}

	return report, nil
}
