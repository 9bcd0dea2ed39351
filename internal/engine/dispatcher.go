package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openhearth/smarthome-core/internal/audit"
	"github.com/openhearth/smarthome-core/internal/device"
	"github.com/openhearth/smarthome-core/internal/household"
	"github.com/openhearth/smarthome-core/internal/infrastructure/logging"
	"github.com/openhearth/smarthome-core/internal/infrastructure/mqtt"
)

// Realtime event names.
const (
	EventDeviceNew    = "device:new"
	EventDeviceUpdate = "device:update"
)

// Publisher is the outbound side of the MQTT bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Notifier delivers events to a household's realtime group.
type Notifier interface {
	Emit(event, householdID string, payload any)
}

// Dispatcher turns an authorised patch into a published device command
// and an optimistic pending status.
type Dispatcher struct {
	store   device.Store
	members household.MembershipChecker
	bus     Publisher
	hub     Notifier
	auditor audit.Recorder
	topics  mqtt.Topics
	qos     byte
	log     *logging.Logger
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(store device.Store, members household.MembershipChecker, bus Publisher, hub Notifier, qos byte, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		members: members,
		bus:     bus,
		hub:     hub,
		qos:     qos,
		log:     log.With("component", "dispatcher"),
	}
}

// SetAudit attaches an audit recorder. Dispatched commands are recorded
// best-effort: an audit write failure is logged, never surfaced.
func (d *Dispatcher) SetAudit(rec audit.Recorder) {
	d.auditor = rec
}

// Dispatch publishes patch as a command to the device and, only after a
// successful publish, merges it into the stored device with status pending.
//
// Publish-before-persist: a publish failure leaves the store untouched, so
// a device is never stuck pending with no command on the wire. The inverse
// failure (store write after successful publish) is the one known
// consistency gap — it is logged and surfaced as ErrPersistence.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID, householdID, userID string, patch device.Data) (*device.Device, error) {
	member, err := d.members.IsMember(ctx, householdID, userID)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return nil, ErrForbidden
	}

	dev, err := d.store.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading device: %w", err)
	}
	if dev.HouseholdID != householdID {
		// Device exists but in another household: indistinguishable from
		// absent to this caller.
		return nil, ErrNotFound
	}

	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: empty patch", ErrValidation)
	}
	if err := ValidatePatchData(patch); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	topic := d.topics.DeviceCommand(householdID, deviceID)
	if err := d.bus.Publish(topic, payload, d.qos, false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	pending := device.StatusPending
	snapshot, err := d.store.ApplyPatch(ctx, deviceID, patch, &pending)
	if err != nil {
		d.log.Error("store write failed after publish, stored state is behind the wire",
			"device_id", deviceID,
			"household_id", householdID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	d.hub.Emit(EventDeviceUpdate, householdID, snapshot)

	if d.auditor != nil {
		entry := &audit.Entry{
			HouseholdID: householdID,
			Action:      audit.ActionCommand,
			EntityType:  audit.EntityDevice,
			EntityID:    deviceID,
			UserID:      userID,
			Details:     map[string]any(patch),
		}
		if err := d.auditor.Record(ctx, entry); err != nil {
			d.log.Warn("audit write failed", "device_id", deviceID, "error", err)
		}
	}

	d.log.Debug("command dispatched",
		"device_id", deviceID,
		"household_id", householdID,
		"user_id", userID,
		"keys", len(patch),
	)

	return snapshot, nil
}
