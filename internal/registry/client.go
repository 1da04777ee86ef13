package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
)

// Record is the registry's wire representation of a device. It mirrors the
// devices API document, which is a superset of what ingestion needs.
type Record struct {
	DeviceID      string          `json:"deviceId"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	EmergencyMode bool            `json:"emergencyMode"`
	LastSeenAt    time.Time       `json:"lastSeenAt"`
	Outlets       []OutletRecord  `json:"outlets"`
	Thresholds    ThresholdRecord `json:"thresholds"`
}

// OutletRecord is one outlet inside a registry device document.
type OutletRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status bool   `json:"status"`
}

// ThresholdRecord carries per-device hazard limit overrides. Absent sections
// mean the device runs on pipeline defaults.
type ThresholdRecord struct {
	Temperature *Bound `json:"temperature,omitempty"`
	Smoke       *Bound `json:"smoke,omitempty"`
	Gas         *Bound `json:"gas,omitempty"`
}

// Bound is a single limit inside a threshold section.
type Bound struct {
	Max *float64 `json:"max,omitempty"`
}

// ToDevice converts a registry record into a state seed.
func (r *Record) ToDevice() *device.Device {
	dev := &device.Device{
		ID:         r.DeviceID,
		Name:       r.Name,
		Status:     device.Status(r.Status),
		LastSeenAt: r.LastSeenAt,
	}
	for _, o := range r.Outlets {
		category := device.CategoryKitchen
		if o.Type == string(device.CategorySafety) {
			category = device.CategorySafety
		}
		dev.Outlets = append(dev.Outlets, device.Outlet{
			ID:       o.ID,
			Category: category,
			Status:   o.Status,
		})
	}
	if r.Thresholds.Temperature != nil {
		dev.Thresholds.TemperatureMax = r.Thresholds.Temperature.Max
	}
	if r.Thresholds.Smoke != nil {
		dev.Thresholds.SmokeMax = r.Thresholds.Smoke.Max
	}
	if r.Thresholds.Gas != nil {
		dev.Thresholds.GasMax = r.Thresholds.Gas.Max
	}
	return dev
}

// envelope is the devices API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// Client fetches device records from the external device registry over HTTP.
type Client struct {
	http   *resty.Client
	logger *logging.Logger
}

// NewClient builds a registry client against the given base URL. The timeout
// bounds each request end to end, including connection setup.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "registry_client"),
	}
}

// FetchDevice retrieves one device record.
//
// Returns ErrDeviceNotFound when the registry answers 404 or a non-success
// envelope, and ErrRegistryUnavailable for transport failures and server
// errors.
func (c *Client) FetchDevice(ctx context.Context, deviceID string) (*Record, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		Get("/api/devices/" + url.PathEscape(deviceID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	case resp.IsError():
		return nil, fmt.Errorf("%w: status %d", ErrRegistryUnavailable, resp.StatusCode())
	case !env.Success:
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	var record Record
	if err := json.Unmarshal(env.Data, &record); err != nil {
		return nil, fmt.Errorf("%w: decode device: %v", ErrRegistryUnavailable, err)
	}
	return &record, nil
}

// FetchDevices retrieves every registered device, used to warm the cache at
// startup.
func (c *Client) FetchDevices(ctx context.Context) ([]Record, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		Get("/api/devices")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	if resp.IsError() || !env.Success {
		return nil, fmt.Errorf("%w: status %d", ErrRegistryUnavailable, resp.StatusCode())
	}

	var records []Record
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return nil, fmt.Errorf("%w: decode devices: %v", ErrRegistryUnavailable, err)
	}
	return records, nil
}
