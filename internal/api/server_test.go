package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nerrad567/sphere-bridge/internal/audit"
	"github.com/nerrad567/sphere-bridge/internal/cloud"
	"github.com/nerrad567/sphere-bridge/internal/command"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/config"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/sphere-bridge/internal/mapper"
	"github.com/nerrad567/sphere-bridge/internal/mirror"
	"github.com/nerrad567/sphere-bridge/internal/presence"
	"github.com/nerrad567/sphere-bridge/internal/sphere"
)

type fakeDevices struct {
	snap *mapper.Snapshot
}

func (f *fakeDevices) Load() *mapper.Snapshot { return f.snap }

func (f *fakeDevices) Device(id string) (mapper.Device, bool) {
	d, ok := f.snap.Devices[id]
	return d, ok
}

type commandCall struct {
	class    command.Class
	deviceID string
	on       bool
	fraction float64
}

type fakeCommander struct {
	calls []commandCall
	err   error
}

func (f *fakeCommander) SetOnOff(_ context.Context, id string, on bool) command.Result {
	f.calls = append(f.calls, commandCall{class: command.ClassSwitch, deviceID: id, on: on})
	return command.Result{DeviceID: id, Class: command.ClassSwitch, Transport: "cloud", Err: f.err}
}

func (f *fakeCommander) SetDim(_ context.Context, id string, fraction float64) command.Result {
	f.calls = append(f.calls, commandCall{class: command.ClassDim, deviceID: id, fraction: fraction})
	return command.Result{DeviceID: id, Class: command.ClassDim, Transport: "cloud", Err: f.err}
}

type fakeBridge struct {
	status     sphere.Status
	credErr    error
	refreshErr error
	email      string
}

func (f *fakeBridge) SetCredentials(_ context.Context, email, _ string) error {
	f.email = email
	if f.credErr == nil {
		f.status.LoggedIn = true
	}
	return f.credErr
}

func (f *fakeBridge) Refresh(context.Context) error { return f.refreshErr }

func (f *fakeBridge) Status() sphere.Status { return f.status }

type fakePresence struct {
	in  bool
	err error
}

func (f *fakePresence) EvaluateCondition(context.Context, string, string) (bool, error) {
	return f.in, f.err
}

type fakeJournal struct {
	filter audit.Filter
	err    error
}

func (f *fakeJournal) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{
		Entries: []audit.Entry{{ID: "cmd-1", DeviceID: "d1", Class: "switch", Transport: "radio", Outcome: "ok"}},
		Total:   1,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

type testEnv struct {
	router   http.Handler
	commands *fakeCommander
	bridge   *fakeBridge
	presence *fakePresence
	journal  *fakeJournal
	handler  *presence.Handler
}

// conditionService combines the real trigger registry with a scripted
// condition answer.
type conditionService struct {
	*presence.Handler
	cond *fakePresence
}

func (c conditionService) EvaluateCondition(ctx context.Context, roomID, roomName string) (bool, error) {
	return c.cond.EvaluateCondition(ctx, roomID, roomName)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := presence.NewStore()
	store.Apply(context.Background(), presence.UserPresence{
		UserID:   "user-1",
		Location: &presence.RoomRef{ID: "kitchen", Name: "Kitchen"},
	})

	env := &testEnv{
		commands: &fakeCommander{},
		bridge:   &fakeBridge{},
		presence: &fakePresence{},
		journal:  &fakeJournal{},
		handler:  presence.NewHandler(store, nil, nil, nil),
	}

	devices := &fakeDevices{snap: &mapper.Snapshot{
		Devices: map[string]mapper.Device{
			"d2": {ID: "d2", Name: "Fan", SphereID: "s1", LocationID: "hall"},
			"d1": {ID: "d1", Name: "Lamp", SphereID: "s1", LocationID: "kitchen", Dimmable: true},
		},
		PresenceByLocation: map[string][]string{"kitchen": {"user-1"}},
		RawGeneration:      4,
	}}

	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:   logging.Discard(),
		Devices:  devices,
		Commands: env.commands,
		Presence: conditionService{Handler: env.handler, cond: env.presence},
		People:   store,
		Bridge:   env.bridge,
		Journal:  env.journal,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.router = srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return out
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "waiting_for_credentials" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}

	env.bridge.status.LoggedIn = true
	if resp := decode(t, env.do(t, http.MethodGet, "/api/v1/health", "")); resp["status"] != "ok" {
		t.Errorf("status after login = %v", resp["status"])
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := newTestEnv(t)

	resp := decode(t, env.do(t, http.MethodGet, "/api/v1/devices", ""))
	devices, _ := resp["devices"].([]any)
	if len(devices) != 2 || resp["count"] != float64(2) || resp["generation"] != float64(4) {
		t.Fatalf("devices = %v", resp)
	}
	if first := devices[0].(map[string]any); first["id"] != "d1" {
		t.Errorf("first device = %v, want sorted by id", first["id"])
	}

	resp = decode(t, env.do(t, http.MethodGet, "/api/v1/devices?location_id=hall", ""))
	if resp["count"] != float64(1) {
		t.Errorf("filtered count = %v, want 1", resp["count"])
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/d1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode(t, w); resp["name"] != "Lamp" || resp["dimmable"] != true {
		t.Errorf("device = %v", resp)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/devices/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", w.Code)
	}
}

func TestSwitch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/devices/d1/switch", `{"on":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["transport"] != "cloud" || resp["class"] != "switch" {
		t.Errorf("response = %v", resp)
	}
	if len(env.commands.calls) != 1 || !env.commands.calls[0].on || env.commands.calls[0].deviceID != "d1" {
		t.Errorf("calls = %+v", env.commands.calls)
	}
}

func TestDim(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPut, "/api/v1/devices/d1/dim", `{"level":0.25}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if c := env.commands.calls[0]; c.class != command.ClassDim || c.fraction != 0.25 {
		t.Errorf("call = %+v", c)
	}
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"switch invalid json", "/api/v1/devices/d1/switch", `{`},
		{"switch missing on", "/api/v1/devices/d1/switch", `{}`},
		{"dim missing level", "/api/v1/devices/d1/dim", `{}`},
		{"dim above one", "/api/v1/devices/d1/dim", `{"level":1.5}`},
		{"dim negative", "/api/v1/devices/d1/dim", `{"level":-0.1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if w := env.do(t, http.MethodPut, tt.path, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(env.commands.calls) != 0 {
				t.Error("invalid request reached the dispatcher")
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in flight", command.ErrInFlight, http.StatusConflict},
		{"locked", fmt.Errorf("%w: d1", command.ErrDeviceLocked), http.StatusLocked},
		{"not found", fmt.Errorf("%w: d1", command.ErrDeviceNotFound), http.StatusNotFound},
		{"transport failure", fmt.Errorf("%w: radio: %w", command.ErrCommand, command.ErrDiscoveryTimeout), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.commands.err = tt.err
			if w := env.do(t, http.MethodPut, "/api/v1/devices/d1/switch", `{"on":false}`); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Presence and triggers ─────────────────────────────────────────

func TestListPresence(t *testing.T) {
	env := newTestEnv(t)

	resp := decode(t, env.do(t, http.MethodGet, "/api/v1/presence", ""))
	users, _ := resp["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("users = %v", resp["users"])
	}
	byLocation, _ := resp["by_location"].(map[string]any)
	if kitchen, _ := byLocation["kitchen"].([]any); len(kitchen) != 1 {
		t.Errorf("by_location = %v", byLocation)
	}
}

func TestPresenceCondition(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		in       bool
		err      error
		wantCode int
		wantIn   bool
	}{
		{"in room", "?room_id=kitchen&room_name=Kitchen", true, nil, http.StatusOK, true},
		{"not in room", "?room_id=hall&room_name=Hall", false, nil, http.StatusOK, false},
		{"missing name", "?room_id=kitchen", false, nil, http.StatusBadRequest, false},
		{"no user", "?room_id=kitchen&room_name=Kitchen", false, presence.ErrNoUser, http.StatusServiceUnavailable, false},
		{"poll failed", "?room_id=kitchen&room_name=Kitchen", false, mirror.ErrFetch, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.presence.in, env.presence.err = tt.in, tt.err

			w := env.do(t, http.MethodGet, "/api/v1/presence/condition"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if w.Code == http.StatusOK {
				if resp := decode(t, w); resp["in_room"] != tt.wantIn {
					t.Errorf("in_room = %v, want %v", resp["in_room"], tt.wantIn)
				}
			}
		})
	}
}

func TestTriggers(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/v1/triggers", `{"room_id":"kitchen"}`); w.Code != http.StatusBadRequest {
		t.Errorf("incomplete trigger status = %d, want 400", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/v1/triggers", `{"room_id":"kitchen","room_name":"Kitchen"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["id"].(string)
	if id == "" {
		t.Fatal("created trigger has no id")
	}

	if resp := decode(t, env.do(t, http.MethodGet, "/api/v1/triggers", "")); resp["count"] != float64(1) {
		t.Errorf("list = %v", resp)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/triggers/"+id, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/triggers/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

// ─── Credentials and refresh ───────────────────────────────────────

func TestSetCredentials(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"success", `{"email":"a@example.com","password":"p"}`, nil, http.StatusOK},
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"missing fields", `{"email":""}`, sphere.ErrCredentials, http.StatusBadRequest},
		{"rejected", `{"email":"a@example.com","password":"bad"}`, fmt.Errorf("%w: bad credentials", cloud.ErrAuth), http.StatusUnauthorized},
		{"cloud down", `{"email":"a@example.com","password":"p"}`, errors.New("dial tcp: refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.bridge.credErr = tt.err
			if w := env.do(t, http.MethodPut, "/api/v1/credentials", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/v1/refresh", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	env.bridge.refreshErr = mirror.ErrNotLoggedIn
	if w := env.do(t, http.MethodPost, "/api/v1/refresh", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("not logged in status = %d, want 503", w.Code)
	}

	env.bridge.refreshErr = fmt.Errorf("%w: spheres", mirror.ErrFetch)
	if w := env.do(t, http.MethodPost, "/api/v1/refresh", ""); w.Code != http.StatusBadGateway {
		t.Errorf("fetch failure status = %d, want 502", w.Code)
	}
}

// ─── Command journal ───────────────────────────────────────────────

func TestListCommands(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/commands?device_id=d1&transport=radio&limit=10&offset=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	entries, _ := resp["entries"].([]any)
	if len(entries) != 1 || resp["total"] != float64(1) {
		t.Errorf("commands = %v", resp)
	}
	want := audit.Filter{DeviceID: "d1", Transport: "radio", Limit: 10, Offset: 5}
	if env.journal.filter != want {
		t.Errorf("filter = %+v, want %+v", env.journal.filter, want)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/commands?limit=ten", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}

	env.journal.err = errors.New("database is locked")
	if w := env.do(t, http.MethodGet, "/api/v1/commands", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("journal failure status = %d, want 500", w.Code)
	}
}

func TestListCommands_Disabled(t *testing.T) {
	srv := &Server{logger: logging.Discard()}

	w := httptest.NewRecorder()
	srv.handleListCommands(w, httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
