package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
)

const deviceJSON = `{
	"success": true,
	"data": {
		"deviceId": "ESP32-KITCHEN-01",
		"name": "Main Kitchen",
		"type": "kitchen_controller",
		"status": "online",
		"outlets": [
			{"id": "o1", "name": "Stove", "type": "kitchen", "status": true},
			{"id": "o5", "name": "Exhaust", "type": "safety", "status": false}
		],
		"thresholds": {
			"temperature": {"max": 70},
			"gas": {"max": 800}
		}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 2*time.Second, logging.Default())
}

func TestFetchDevice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices/ESP32-KITCHEN-01" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(deviceJSON))
	})

	record, err := client.FetchDevice(context.Background(), "ESP32-KITCHEN-01")
	if err != nil {
		t.Fatalf("FetchDevice() error = %v", err)
	}
	if record.DeviceID != "ESP32-KITCHEN-01" || record.Status != "online" {
		t.Errorf("record = %+v", record)
	}

	dev := record.ToDevice()
	if dev.Status != device.StatusOnline {
		t.Errorf("Status = %q", dev.Status)
	}
	if len(dev.Outlets) != 2 || dev.Outlets[1].Category != device.CategorySafety {
		t.Errorf("Outlets = %+v", dev.Outlets)
	}
	if dev.Thresholds.TemperatureMax == nil || *dev.Thresholds.TemperatureMax != 70 {
		t.Errorf("TemperatureMax = %v", dev.Thresholds.TemperatureMax)
	}
	if dev.Thresholds.SmokeMax != nil {
		t.Errorf("SmokeMax = %v, want nil for absent section", dev.Thresholds.SmokeMax)
	}
}

func TestFetchDevice_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "message": "Device not found"}`))
	})

	_, err := client.FetchDevice(context.Background(), "ghost")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestFetchDevice_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchDevice(context.Background(), "ESP32-KITCHEN-01")
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Errorf("error = %v, want ErrRegistryUnavailable", err)
	}
}

func TestFetchDevice_Unreachable(t *testing.T) {
	// Port from a closed listener, nothing is serving.
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(server.URL, 500*time.Millisecond, logging.Default())

	_, err := client.FetchDevice(context.Background(), "ESP32-KITCHEN-01")
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Errorf("error = %v, want ErrRegistryUnavailable", err)
	}
}

func TestFetchDevices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "data": [
			{"deviceId": "A", "status": "online"},
			{"deviceId": "B", "status": "offline"}
		]}`))
	})

	records, err := client.FetchDevices(context.Background())
	if err != nil {
		t.Fatalf("FetchDevices() error = %v", err)
	}
	if len(records) != 2 || records[0].DeviceID != "A" {
		t.Errorf("records = %+v", records)
	}
}
