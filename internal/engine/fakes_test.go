package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/openhearth/smarthome-core/internal/audit"
	"github.com/openhearth/smarthome-core/internal/device"
	"github.com/openhearth/smarthome-core/internal/infrastructure/logging"
	"github.com/openhearth/smarthome-core/internal/infrastructure/mqtt"
)

// testLogger returns a logger that discards everything.
func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// fakeStore is an in-memory device.Store with json_patch-like merge semantics.
type fakeStore struct {
	mu      sync.Mutex
	devices map[string]*device.Device

	patchErr error
	getErr   error
}

func newFakeStore(devices ...*device.Device) *fakeStore {
	s := &fakeStore{devices: make(map[string]*device.Device)}
	for _, d := range devices {
		s.devices[d.ID] = d.DeepCopy()
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	d, ok := s.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (s *fakeStore) ListByHousehold(_ context.Context, householdID string) ([]device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []device.Device
	for _, d := range s.devices {
		if d.HouseholdID == householdID {
			out = append(out, *d.DeepCopy())
		}
	}
	return out, nil
}

func (s *fakeStore) Create(_ context.Context, d *device.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.ID]; ok {
		return device.ErrDeviceExists
	}
	s.devices[d.ID] = d.DeepCopy()
	return nil
}

func (s *fakeStore) Rename(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.Name = name
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(s.devices, id)
	return nil
}

func (s *fakeStore) ApplyPatch(_ context.Context, id string, data device.Data, status *device.Status) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patchErr != nil {
		return nil, s.patchErr
	}
	d, ok := s.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	if d.Data == nil {
		d.Data = device.Data{}
	}
	for k, v := range data {
		d.Data[k] = v
	}
	if status != nil {
		d.Status = *status
	}
	return d.DeepCopy(), nil
}

// snapshot returns the stored device without copy-on-read error paths.
func (s *fakeStore) snapshot(id string) *device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[id].DeepCopy()
}

// fakeMembers answers membership from a fixed allow set.
type fakeMembers struct {
	allowed map[string]bool // "householdID/userID"
	err     error
}

func (m *fakeMembers) IsMember(_ context.Context, householdID, userID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.allowed[householdID+"/"+userID], nil
}

// published records a single bus publish.
type published struct {
	topic   string
	payload []byte
	qos     byte
}

// fakeBus records publishes and captures the wildcard subscription handler.
type fakeBus struct {
	mu         sync.Mutex
	publishes  []published
	publishErr error

	subTopic   string
	subHandler mqtt.MessageHandler
	subErr     error
}

func (b *fakeBus) Publish(topic string, payload []byte, qos byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.publishes = append(b.publishes, published{topic: topic, payload: payload, qos: qos})
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return b.subErr
	}
	b.subTopic = topic
	b.subHandler = handler
	return nil
}

func (b *fakeBus) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.publishes)
}

func (b *fakeBus) lastPublish() published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishes[len(b.publishes)-1]
}

// emission records a single hub event.
type emission struct {
	event       string
	householdID string
	payload     any
}

// fakeHub records emissions.
type fakeHub struct {
	mu        sync.Mutex
	emissions []emission
}

func (h *fakeHub) Emit(event, householdID string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emissions = append(h.emissions, emission{event: event, householdID: householdID, payload: payload})
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.emissions)
}

func (h *fakeHub) last() emission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.emissions[len(h.emissions)-1]
}

// metricPoint records one telemetry write.
type metricPoint struct {
	householdID string
	deviceID    string
	field       string
	value       float64
}

// fakeMetrics records telemetry writes.
type fakeMetrics struct {
	mu     sync.Mutex
	points []metricPoint
}

func (m *fakeMetrics) WriteDeviceMetric(householdID, deviceID, field string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, metricPoint{householdID, deviceID, field, value})
}

func (m *fakeMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

// fakeAudit records audit entries.
type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (a *fakeAudit) Record(_ context.Context, entry *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *fakeAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *fakeAudit) last() audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}
