package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/bridge"
	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/eventlog"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/config"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/database"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/mqtt"
	"github.com/hearthwatch/hearthwatch-core/internal/livebus"
	"github.com/hearthwatch/hearthwatch-core/internal/registry"
	_ "github.com/hearthwatch/hearthwatch-core/migrations"
)

const testDeviceID = "ESP32-KITCHEN-01"

// fakeBroker captures publishes in memory.
type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	published []publishedMessage
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func (b *fakeBroker) Subscribe(string, byte, mqtt.MessageHandler) error { return nil }
func (b *fakeBroker) Unsubscribe(string) error { return nil }

func (b *fakeBroker) PublishJSON(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

// fakeValidator serves scripted devices without a registry.
type fakeValidator struct {
	devices map[string]*device.Device
}

func (v *fakeValidator) Lookup(_ context.Context, deviceID string) (*device.Device, error) {
	dev, ok := v.devices[deviceID]
	if !ok {
		return nil, registry.ErrDeviceNotFound
	}
	return dev.DeepCopy(), nil
}

func (v *fakeValidator) IsValid(ctx context.Context, deviceID string) bool {
	dev, err := v.Lookup(ctx, deviceID)
	if err != nil {
		return false
	}
	return dev.Status != device.StatusError && dev.Status != device.StatusMaintenance
}

func testDevice(id string) *device.Device {
	return &device.Device{
		ID:     id,
		Status: device.StatusOnline,
		Outlets: []device.Outlet{
			{ID: "o1", Category: device.CategoryKitchen},
			{ID: "o2", Category: device.CategoryKitchen},
			{ID: "o3", Category: device.CategorySafety},
		},
	}
}

type serverFixture struct {
	server *Server
	broker *fakeBroker
	states *device.StateStore
	repo   *eventlog.Repository
	ts     *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := eventlog.NewRepository(db)

	states := device.NewStateStore()
	states.Ensure(testDevice(testDeviceID))

	broker := &fakeBroker{connected: true}
	validator := &fakeValidator{devices: map[string]*device.Device{
		testDeviceID: testDevice(testDeviceID),
	}}

	dispatcher, err := bridge.NewDispatcher(bridge.DispatcherOptions{
		Broker:    broker,
		Validator: validator,
		States:    states,
		Recorder:  repo,
		Logger:    logging.Default(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	bus := livebus.New(logging.Default())
	t.Cleanup(bus.Close)

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    60,
		},
		Logger:     logging.Default(),
		States:     states,
		Dispatcher: dispatcher,
		Bus:        bus,
		EventLog:   repo,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	srv.hub.replay = srv.deviceStateReplay
	go srv.hub.Run(ctx)
	go srv.relayUpdates(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return &serverFixture{
		server: srv,
		broker: broker,
		states: states,
		repo:   repo,
		ts:     ts,
	}
}

func (f *serverFixture) request(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, f.ts.URL+path, nil)
	} else {
		req, err = http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding %s %s response: %v", method, path, err)
	}
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v, want status ok version test", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", body["devices"])
	}
	if body["broker_connected"] != true {
		t.Errorf("broker_connected = %v, want true", body["broker_connected"])
	}
	if _, ok := body["livebus"]; !ok {
		t.Error("status response missing livebus section")
	}
	if _, ok := body["pipeline"]; ok {
		t.Error("status response has pipeline section with nil pipeline")
	}
}

func TestListDevices(t *testing.T) {
	f := newServerFixture(t)
	f.states.MarkSeen(testDeviceID, time.Now())

	resp, body := f.request(t, http.MethodGet, "/api/devices", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	devices, ok := body["devices"].([]any)
	if !ok || len(devices) != 1 {
		t.Fatalf("devices = %v, want one entry", body["devices"])
	}
	entry := devices[0].(map[string]any)
	if entry["device_id"] != testDeviceID {
		t.Errorf("device_id = %v, want %s", entry["device_id"], testDeviceID)
	}
	if entry["online"] != true {
		t.Errorf("online = %v, want true after MarkSeen", entry["online"])
	}
}

func TestGetDevice(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/devices/"+testDeviceID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["device_id"] != testDeviceID {
		t.Errorf("device_id = %v, want %s", body["device_id"], testDeviceID)
	}
	if body["online"] != false {
		t.Errorf("online = %v, want false before any traffic", body["online"])
	}

	resp, _ = f.request(t, http.MethodGet, "/api/devices/NOPE", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", resp.StatusCode)
	}
}

func TestSetOutletOn(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.request(t, http.MethodPost,
		"/api/devices/"+testDeviceID+"/outlets/o2", `{"state": "on"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	if f.broker.publishCount() != 1 {
		t.Fatalf("published = %d commands, want 1", f.broker.publishCount())
	}
	f.broker.mu.Lock()
	msg := f.broker.published[0]
	f.broker.mu.Unlock()
	if msg.topic != "iot/"+testDeviceID+"/cmd" {
		t.Errorf("topic = %q, want command topic", msg.topic)
	}

	snap, _ := f.states.Snapshot(testDeviceID)
	if !snap.FindOutlet("o2").Status {
		t.Error("outlet o2 not on after accepted command")
	}
}

func TestSetOutletToggle(t *testing.T) {
	f := newServerFixture(t)
	f.states.SetOutlet(testDeviceID, "o1", true, time.Now())

	resp, _ := f.request(t, http.MethodPost,
		"/api/devices/"+testDeviceID+"/outlets/o1", `{"state": "toggle"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	snap, _ := f.states.Snapshot(testDeviceID)
	if snap.FindOutlet("o1").Status {
		t.Error("toggle did not turn o1 off")
	}
}

func TestSetOutletValidation(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"bad state word", "/api/devices/" + testDeviceID + "/outlets/o1", `{"state": "sideways"}`, http.StatusBadRequest},
		{"bad json", "/api/devices/" + testDeviceID + "/outlets/o1", `{`, http.StatusBadRequest},
		{"unknown device", "/api/devices/NOPE/outlets/o1", `{"state": "on"}`, http.StatusNotFound},
		{"unknown outlet", "/api/devices/" + testDeviceID + "/outlets/o9", `{"state": "on"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.request(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}

	if f.broker.publishCount() != 0 {
		t.Errorf("published = %d commands, want 0 for rejected requests", f.broker.publishCount())
	}
}

func TestEmergencyLockoutConflict(t *testing.T) {
	f := newServerFixture(t)
	if _, err := f.states.EnterEmergency(testDeviceID, time.Now()); err != nil {
		t.Fatalf("EnterEmergency() error = %v", err)
	}

	resp, body := f.request(t, http.MethodPost,
		"/api/devices/"+testDeviceID+"/outlets/o1", `{"state": "on"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body["code"] != ErrCodeEmergencyLockout {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeEmergencyLockout)
	}
	if f.broker.publishCount() != 0 {
		t.Error("locked-out command reached the broker")
	}

	// Safety outlets stay controllable during the lockout.
	resp, _ = f.request(t, http.MethodPost,
		"/api/devices/"+testDeviceID+"/outlets/o3", `{"state": "on"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("safety outlet status = %d, want 202", resp.StatusCode)
	}
}

func TestBrokerDisconnected(t *testing.T) {
	f := newServerFixture(t)
	f.broker.mu.Lock()
	f.broker.connected = false
	f.broker.mu.Unlock()

	resp, body := f.request(t, http.MethodPost,
		"/api/devices/"+testDeviceID+"/outlets/o1", `{"state": "on"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body["code"] != ErrCodeUnavailable {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeUnavailable)
	}
}

func TestExitEmergency(t *testing.T) {
	f := newServerFixture(t)
	f.states.SetOutlet(testDeviceID, "o1", true, time.Now())
	if _, err := f.states.EnterEmergency(testDeviceID, time.Now()); err != nil {
		t.Fatalf("EnterEmergency() error = %v", err)
	}

	resp, body := f.request(t, http.MethodPost,
		"/api/devices/"+testDeviceID+"/emergency/exit", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	dev, ok := body["device"].(map[string]any)
	if !ok {
		t.Fatalf("device = %v, want snapshot", body["device"])
	}
	if dev["emergency_mode"] != false {
		t.Error("emergency_mode still set after exit")
	}

	// Outlets are not restored on exit.
	snap, _ := f.states.Snapshot(testDeviceID)
	if snap.FindOutlet("o1").Status {
		t.Error("outlet o1 restored on emergency exit")
	}

	resp, _ = f.request(t, http.MethodPost, "/api/devices/NOPE/emergency/exit", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", resp.StatusCode)
	}
}

func TestDeviceEvents(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	for _, e := range []*eventlog.Entry{
		{Type: eventlog.TypeTelemetry, DeviceID: testDeviceID, Payload: map[string]any{"temperature": 24.0}},
		{Type: eventlog.TypeEvent, DeviceID: testDeviceID, Severity: eventlog.SeverityCritical, Payload: map[string]any{"reason": "smoke_detected"}},
		{Type: eventlog.TypeTelemetry, DeviceID: "OTHER", Payload: map[string]any{"temperature": 20.0}},
	} {
		if err := f.repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	resp, body := f.request(t, http.MethodGet, "/api/devices/"+testDeviceID+"/events", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2 (other device excluded)", body["count"])
	}

	resp, body = f.request(t, http.MethodGet,
		"/api/devices/"+testDeviceID+"/events?severity=critical", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered status = %d, want 200", resp.StatusCode)
	}
	if body["count"] != float64(1) {
		t.Errorf("critical count = %v, want 1", body["count"])
	}

	resp, _ = f.request(t, http.MethodGet,
		"/api/devices/"+testDeviceID+"/events?since=yesterday", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.request(t, http.MethodGet,
		"/api/devices/"+testDeviceID+"/events?limit=0", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestServerLifecycle(t *testing.T) {
	f := newServerFixture(t)

	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:         config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 60},
		Logger:     logging.Default(),
		States:     f.states,
		Dispatcher: f.server.dispatcher,
		EventLog:   f.repo,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() passed before Start()")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v after Start()", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	f := newServerFixture(t)

	if _, err := New(Deps{States: f.states, Dispatcher: f.server.dispatcher, EventLog: f.repo}); err == nil {
		t.Error("New() accepted missing logger")
	}
	if _, err := New(Deps{Logger: logging.Default(), Dispatcher: f.server.dispatcher, EventLog: f.repo}); err == nil {
		t.Error("New() accepted missing state store")
	}
	if _, err := New(Deps{Logger: logging.Default(), States: f.states, EventLog: f.repo}); err == nil {
		t.Error("New() accepted missing dispatcher")
	}
	if _, err := New(Deps{Logger: logging.Default(), States: f.states, Dispatcher: f.server.dispatcher}); err == nil {
		t.Error("New() accepted missing event log")
	}
}
