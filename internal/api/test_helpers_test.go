package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openhearth/smarthome-core/internal/audit"
	"github.com/openhearth/smarthome-core/internal/auth"
	"github.com/openhearth/smarthome-core/internal/device"
	"github.com/openhearth/smarthome-core/internal/household"
	"github.com/openhearth/smarthome-core/internal/infrastructure/config"
	"github.com/openhearth/smarthome-core/internal/infrastructure/logging"
	"github.com/openhearth/smarthome-core/internal/realtime"
)

const (
	testSecret   = "test-secret"
	testPassword = "correct-horse-battery"
)

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// fakeUsers is an in-memory auth.UserRepository.
type fakeUsers struct {
	byEmail map[string]*auth.User
}

func (f *fakeUsers) Create(_ context.Context, user *auth.User) error {
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*auth.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) List(_ context.Context) ([]auth.User, error) { return nil, nil }

func (f *fakeUsers) Update(_ context.Context, _ *auth.User) error { return nil }

func (f *fakeUsers) UpdatePassword(_ context.Context, _, _ string) error { return nil }

func (f *fakeUsers) Delete(_ context.Context, _ string) error { return nil }

func (f *fakeUsers) Count(_ context.Context) (int, error) { return len(f.byEmail), nil }

// fakeHouseholds is an in-memory household.Repository. Membership is
// keyed "householdID/userID".
type fakeHouseholds struct {
	households map[string]*household.Household
	members    map[string]household.MemberRole
}

func (f *fakeHouseholds) IsMember(_ context.Context, householdID, userID string) (bool, error) {
	_, ok := f.members[householdID+"/"+userID]
	return ok, nil
}

func (f *fakeHouseholds) Create(_ context.Context, h *household.Household) error {
	f.households[h.ID] = h
	f.members[h.ID+"/"+h.OwnerID] = household.MemberRoleOwner
	return nil
}

func (f *fakeHouseholds) GetByID(_ context.Context, id string) (*household.Household, error) {
	h, ok := f.households[id]
	if !ok {
		return nil, household.ErrNotFound
	}
	return h, nil
}

func (f *fakeHouseholds) ListByMember(_ context.Context, userID string) ([]household.Household, error) {
	var out []household.Household
	for key := range f.members {
		hhID, member, _ := strings.Cut(key, "/")
		if member != userID {
			continue
		}
		if h, ok := f.households[hhID]; ok {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (f *fakeHouseholds) Update(_ context.Context, _ *household.Household) error { return nil }

func (f *fakeHouseholds) Delete(_ context.Context, id string) error {
	delete(f.households, id)
	return nil
}

func (f *fakeHouseholds) AddMember(_ context.Context, householdID, userID string, role household.MemberRole) error {
	f.members[householdID+"/"+userID] = role
	return nil
}

func (f *fakeHouseholds) RemoveMember(_ context.Context, householdID, userID string) error {
	delete(f.members, householdID+"/"+userID)
	return nil
}

func (f *fakeHouseholds) ListMembers(_ context.Context, householdID string) ([]household.Member, error) {
	var out []household.Member
	for key, role := range f.members {
		hhID, userID, _ := strings.Cut(key, "/")
		if hhID != householdID {
			continue
		}
		out = append(out, household.Member{HouseholdID: hhID, UserID: userID, Role: role})
	}
	return out, nil
}

// fakeRefreshTokens is an in-memory auth.RefreshTokenRepository.
type fakeRefreshTokens struct {
	byToken map[string]*auth.RefreshToken
	seq     int
}

func (f *fakeRefreshTokens) Issue(_ context.Context, userID string, ttl time.Duration) (*auth.RefreshToken, error) {
	f.seq++
	rt := &auth.RefreshToken{
		ID:        "rt-" + strconv.Itoa(f.seq),
		UserID:    userID,
		Token:     "refresh-" + strconv.Itoa(f.seq),
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	f.byToken[rt.Token] = rt
	return rt, nil
}

func (f *fakeRefreshTokens) Consume(_ context.Context, token string) (*auth.RefreshToken, error) {
	rt, ok := f.byToken[token]
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	delete(f.byToken, token)
	if time.Now().After(rt.ExpiresAt) {
		return nil, auth.ErrTokenExpired
	}
	return rt, nil
}

func (f *fakeRefreshTokens) RevokeUser(_ context.Context, userID string) error {
	for token, rt := range f.byToken {
		if rt.UserID == userID {
			delete(f.byToken, token)
		}
	}
	return nil
}

func (f *fakeRefreshTokens) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

// fakeInvitations is an in-memory household.InvitationRepository.
type fakeInvitations struct {
	byToken map[string]*household.Invitation
}

func (f *fakeInvitations) Create(_ context.Context, inv *household.Invitation) error {
	inv.InviteeEmail = strings.ToLower(strings.TrimSpace(inv.InviteeEmail))
	for _, existing := range f.byToken {
		if existing.HouseholdID == inv.HouseholdID && existing.InviteeEmail == inv.InviteeEmail {
			return household.ErrInviteExists
		}
	}
	inv.ID = uuid.NewString()
	inv.Token = "invite-" + uuid.NewString()
	inv.CreatedAt = time.Now()
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = time.Now().Add(household.DefaultInviteTTL)
	}
	f.byToken[inv.Token] = inv
	return nil
}

func (f *fakeInvitations) Consume(_ context.Context, token string) (*household.Invitation, error) {
	inv, ok := f.byToken[token]
	if !ok {
		return nil, household.ErrInviteNotFound
	}
	delete(f.byToken, token)
	if time.Now().After(inv.ExpiresAt) {
		return nil, household.ErrInviteExpired
	}
	return inv, nil
}

func (f *fakeInvitations) ListByHousehold(_ context.Context, householdID string) ([]household.Invitation, error) {
	out := []household.Invitation{}
	for _, inv := range f.byToken {
		if inv.HouseholdID == householdID {
			listed := *inv
			listed.Token = ""
			out = append(out, listed)
		}
	}
	return out, nil
}

func (f *fakeInvitations) Delete(_ context.Context, id string) error {
	for token, inv := range f.byToken {
		if inv.ID == id {
			delete(f.byToken, token)
			return nil
		}
	}
	return household.ErrInviteNotFound
}

func (f *fakeInvitations) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

// fakeAudit is an in-memory audit.Repository.
type fakeAudit struct {
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) Record(_ context.Context, entry *audit.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	matched := []audit.Entry{}
	for _, e := range f.entries {
		if filter.HouseholdID != "" && e.HouseholdID != filter.HouseholdID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		matched = append(matched, e)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	return &audit.ListResult{Entries: matched, Total: len(matched), Limit: limit, Offset: filter.Offset}, nil
}

// fakeDevices is an in-memory device.Store.
type fakeDevices struct {
	devices map[string]*device.Device
}

func (f *fakeDevices) GetByID(_ context.Context, id string) (*device.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (f *fakeDevices) ListByHousehold(_ context.Context, householdID string) ([]device.Device, error) {
	var out []device.Device
	for _, d := range f.devices {
		if d.HouseholdID == householdID {
			out = append(out, *d.DeepCopy())
		}
	}
	return out, nil
}

func (f *fakeDevices) Create(_ context.Context, d *device.Device) error {
	if err := device.Validate(d); err != nil {
		return err
	}
	if _, ok := f.devices[d.ID]; ok {
		return device.ErrDeviceExists
	}
	if d.Status == "" {
		d.Status = device.StatusUnknown
	}
	f.devices[d.ID] = d.DeepCopy()
	return nil
}

func (f *fakeDevices) Rename(_ context.Context, id, name string) error {
	d, ok := f.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.Name = name
	d.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDevices) Delete(_ context.Context, id string) error {
	if _, ok := f.devices[id]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(f.devices, id)
	return nil
}

func (f *fakeDevices) ApplyPatch(_ context.Context, id string, data device.Data, status *device.Status) (*device.Device, error) {
	d, ok := f.devices[id]
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

// fakeDispatcher records Dispatch calls and returns canned results.
type fakeDispatcher struct {
	snapshot *device.Device
	err      error

	calls       int
	deviceID    string
	householdID string
	userID      string
	patch       device.Data
}

func (f *fakeDispatcher) Dispatch(_ context.Context, deviceID, householdID, userID string, patch device.Data) (*device.Device, error) {
	f.calls++
	f.deviceID = deviceID
	f.householdID = householdID
	f.userID = userID
	f.patch = patch
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

// testEnv bundles a server built on fakes with direct access to them.
//
// Seeded fixtures: alice (member of hh-1), bob (member of hh-2), root
// (admin, member of nothing), device lamp-1 in hh-1, heater-1 in hh-2.
type testEnv struct {
	server     *Server
	router     http.Handler
	users      *fakeUsers
	households *fakeHouseholds
	devices    *fakeDevices
	dispatcher *fakeDispatcher
	refresh    *fakeRefreshTokens
	invites    *fakeInvitations
	auditor    *fakeAudit

	alice *auth.User
	bob   *auth.User
	root  *auth.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	alice := &auth.User{ID: "user-alice", Email: "alice@example.com", Name: "Alice", PasswordHash: hash, Role: auth.RoleUser}
	bob := &auth.User{ID: "user-bob", Email: "bob@example.com", Name: "Bob", PasswordHash: hash, Role: auth.RoleUser}
	root := &auth.User{ID: "user-root", Email: "root@example.com", Name: "Root", PasswordHash: hash, Role: auth.RoleAdmin}

	env := &testEnv{
		users: &fakeUsers{byEmail: map[string]*auth.User{
			alice.Email: alice,
			bob.Email:   bob,
			root.Email:  root,
		}},
		households: &fakeHouseholds{
			households: map[string]*household.Household{
				"hh-1": {ID: "hh-1", Name: "Alice's Home", OwnerID: alice.ID},
				"hh-2": {ID: "hh-2", Name: "Bob's Home", OwnerID: bob.ID},
			},
			members: map[string]household.MemberRole{
				"hh-1/" + alice.ID: household.MemberRoleOwner,
				"hh-2/" + bob.ID:   household.MemberRoleOwner,
			},
		},
		devices: &fakeDevices{devices: map[string]*device.Device{
			"lamp-1":   {ID: "lamp-1", Name: "Desk Lamp", Type: "light", HouseholdID: "hh-1", Status: device.StatusOnline, Data: device.Data{"on": true}},
			"heater-1": {ID: "heater-1", Name: "Heater", Type: "climate", HouseholdID: "hh-2", Status: device.StatusOffline},
		}},
		dispatcher: &fakeDispatcher{},
		refresh:    &fakeRefreshTokens{byToken: map[string]*auth.RefreshToken{}},
		invites:    &fakeInvitations{byToken: map[string]*household.Invitation{}},
		auditor:    &fakeAudit{},
		alice:      alice,
		bob:        bob,
		root:       root,
	}

	server, err := New(Deps{
		WS: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    60,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:        testLogger(),
		Users:         env.users,
		RefreshTokens: env.refresh,
		Households:    env.households,
		Invitations:   env.invites,
		Devices:       env.devices,
		Dispatcher:    env.dispatcher,
		Hub:           realtime.NewHub(testLogger()),
		Audit:         env.auditor,
		Version:       "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	env.server = server
	env.router = server.buildRouter()
	return env
}

// token returns a signed access token for the user.
func (e *testEnv) token(t *testing.T, user *auth.User) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(user, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return token
}

// do performs a request against the router. A non-empty token is sent
// as a Bearer credential; a non-nil body is JSON-encoded.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals the recorded response body into v.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response body %q: %v", rec.Body.String(), err)
	}
}
