package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/openhearth/smarthome-core/internal/device"
	"github.com/openhearth/smarthome-core/internal/infrastructure/logging"
	"github.com/openhearth/smarthome-core/internal/infrastructure/mqtt"
)

// defaultQueueSize is the inbound message buffer. When full, new messages
// are dropped rather than blocking the paho callback.
const defaultQueueSize = 256

// Subscriber is the inbound side of the MQTT bus.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MetricsWriter records numeric device attributes for telemetry.
// Implemented by the InfluxDB client; may be nil when telemetry is disabled.
type MetricsWriter interface {
	WriteDeviceMetric(householdID, deviceID, field string, value float64)
}

// inbound is a raw bus message queued for reconciliation.
type inbound struct {
	topic   string
	payload []byte
}

// Reconciler ingests device status reports from a single wildcard
// subscription and merges them into the device store.
//
// The paho handler only enqueues; one consumer goroutine processes
// messages in arrival order, so reports for the same device are applied
// in the order the bus delivered them. Reconciliation errors are
// terminal-local: logged, counted, dropped — there is no caller to
// report to and no retry.
type Reconciler struct {
	store   device.Store
	bus     Subscriber
	hub     Notifier
	metrics MetricsWriter
	log     *logging.Logger
	qos     byte

	queue   chan inbound
	dropped atomic.Uint64
}

// NewReconciler creates a status reconciler. metrics may be nil.
func NewReconciler(store device.Store, bus Subscriber, hub Notifier, metrics MetricsWriter, qos byte, log *logging.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		bus:     bus,
		hub:     hub,
		metrics: metrics,
		qos:     qos,
		log:     log.With("component", "reconciler"),
		queue:   make(chan inbound, defaultQueueSize),
	}
}

// Start establishes the wildcard status subscription and launches the
// consumer goroutine. The consumer runs until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	pattern := mqtt.Topics{}.AllDeviceStatuses()

	err := r.bus.Subscribe(pattern, r.qos, func(topic string, payload []byte) error {
		select {
		case r.queue <- inbound{topic: topic, payload: payload}:
		default:
			// Queue full: dropping is preferable to blocking the bus callback.
			n := r.dropped.Add(1)
			r.log.Warn("status queue full, message dropped",
				"topic", topic,
				"dropped_total", n,
			)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", pattern, err)
	}

	go r.run(ctx)

	r.log.Info("status reconciler started", "pattern", pattern)
	return nil
}

// Dropped returns the number of status messages discarded because the
// inbound queue was full.
func (r *Reconciler) Dropped() uint64 {
	return r.dropped.Load()
}

// run is the single consumer loop.
func (r *Reconciler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.log.Info("status reconciler stopped")
			return
		case msg := <-r.queue:
			r.process(ctx, msg)
		}
	}
}

// process reconciles one status message. Every failure path drops the
// message with a log entry and no further side effect.
func (r *Reconciler) process(ctx context.Context, msg inbound) {
	ref, err := mqtt.ParseDeviceTopic(msg.topic)
	if err != nil {
		r.log.Warn("unparseable status topic, message dropped", "topic", msg.topic, "error", err)
		return
	}
	if ref.Channel != mqtt.ChannelStatus {
		r.log.Warn("non-status message on status subscription, dropped", "topic", msg.topic)
		return
	}

	dev, err := r.store.GetByID(ctx, ref.DeviceID)
	if err != nil {
		// Fire-and-forget: reports for unknown devices are expected noise
		// (decommissioned hardware, foreign publishers).
		r.log.Warn("status for unknown device, message dropped",
			"device_id", ref.DeviceID,
			"household_id", ref.HouseholdID,
			"error", err,
		)
		return
	}
	if dev.HouseholdID != ref.HouseholdID {
		r.log.Warn("status topic household does not match device record, message dropped",
			"device_id", ref.DeviceID,
			"topic_household", ref.HouseholdID,
			"device_household", dev.HouseholdID,
		)
		return
	}

	report, err := decodeStatusPayload(msg.payload)
	if err != nil {
		r.log.Warn("malformed status payload, message dropped",
			"device_id", ref.DeviceID,
			"error", err,
		)
		return
	}

	// A status key valued outside the reportable set drops the status
	// field only; the data merge still applies.
	var newStatus *device.Status
	if report.HasStatus {
		s := device.Status(report.Status)
		if device.IsReportableStatus(s) {
			newStatus = &s
		} else {
			r.log.Warn("unrecognised status value, field dropped",
				"device_id", ref.DeviceID,
				"status", report.Status,
			)
		}
	}

	if len(report.Data) == 0 && newStatus == nil {
		r.log.Debug("status message carried nothing to apply", "device_id", ref.DeviceID)
		return
	}

	snapshot, err := r.store.ApplyPatch(ctx, ref.DeviceID, report.Data, newStatus)
	if err != nil {
		r.log.Error("persisting status merge failed, message dropped",
			"device_id", ref.DeviceID,
			"error", err,
		)
		return
	}

	r.hub.Emit(EventDeviceUpdate, ref.HouseholdID, snapshot)

	if r.metrics != nil {
		for field, value := range report.Data {
			if f, ok := value.(float64); ok {
				r.metrics.WriteDeviceMetric(ref.HouseholdID, ref.DeviceID, field, f)
			}
		}
	}

	r.log.Debug("status reconciled",
		"device_id", ref.DeviceID,
		"household_id", ref.HouseholdID,
		"status", dev.Status,
		"new_status", snapshot.Status,
	)
}
