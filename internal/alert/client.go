package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hearthwatch/hearthwatch-core/internal/event"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
)

// Notification is one emergency alert pushed to the alerting endpoint.
type Notification struct {
	DeviceID  string    `json:"deviceId"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Telemetry is the normalized reading that tripped the emergency.
	Telemetry *event.Telemetry `json:"telemetry,omitempty"`

	// Reading and Limit describe the tripped threshold.
	Reading float64 `json:"reading"`
	Limit   float64 `json:"limit"`
}

// Notifier delivers emergency notifications. Implementations must tolerate
// being called from the hot ingestion path.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Client posts notifications to an external alerting webhook.
type Client struct {
	http   *resty.Client
	logger *logging.Logger
}

// NewClient builds an alert client for the given webhook base URL.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "alert_client"),
	}
}

// Notify posts one notification. Failures are returned, not swallowed; the
// caller decides whether an undelivered alert is fatal to the message.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	if n.Type == "" {
		n.Type = "emergency"
	}
	if n.Severity == "" {
		n.Severity = "critical"
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(n).
		Post("/api/alerts")
	if err != nil {
		return fmt.Errorf("posting alert for %s: %w", n.DeviceID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert endpoint returned %d for %s", resp.StatusCode(), n.DeviceID)
	}

	c.logger.Info("emergency alert delivered",
		"device_id", n.DeviceID,
		"reason", n.Reason,
	)
	return nil
}

// Noop discards notifications. Used when no alerting endpoint is
// configured.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Notification) error { return nil }
