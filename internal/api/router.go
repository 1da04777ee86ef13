package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthwatch/hearthwatch-core/internal/bridge"
	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/eventlog"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/mqtt"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{deviceID}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/events", s.handleDeviceEvents)
				r.Post("/outlets/{outletID}", s.handleSetOutlet)
				r.Post("/emergency/exit", s.handleExitEmergency)
			})
		})
	})

	// WebSocket endpoint
	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth returns a basic liveness response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns pipeline counters and runtime totals.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version":          s.version,
		"started_at":       s.started.Format(time.RFC3339),
		"broker_connected": s.dispatcher.Connected(),
		"devices":          len(s.states.Devices()),
		"ws_clients":       s.hub.ClientCount(),
	}

	if s.pipeline != nil {
		stats := s.pipeline.Stats()
		resp["pipeline"] = map[string]any{
			"processed": stats.Processed,
			"dropped":   stats.Dropped,
			"malformed": stats.Malformed,
			"rejected":  stats.Rejected,
		}
	}
	if s.bus != nil {
		resp["livebus"] = map[string]any{
			"subscribers": s.bus.Subscribers(),
			"dropped":     s.bus.Dropped(),
		}
	}
	if s.cache != nil {
		resp["registry_cache"] = map[string]any{
			"entries": s.cache.Len(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// deviceResponse augments a device snapshot with the derived online flag.
type deviceResponse struct {
	device.Device
	Online bool `json:"online"`
}

// handleListDevices returns all tracked devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.states.Devices()
	now := time.Now()

	resp := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, deviceResponse{
			Device: d,
			Online: s.states.IsOnline(d.ID, now),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": resp,
		"count":   len(resp),
	})
}

// handleGetDevice returns a single tracked device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	snap, ok := s.states.Snapshot(deviceID)
	if !ok {
		writeNotFound(w, "device not tracked: "+deviceID)
		return
	}

	writeJSON(w, http.StatusOK, deviceResponse{
		Device: *snap,
		Online: s.states.IsOnline(deviceID, time.Now()),
	})
}

// outletRequest is the body for POST /api/devices/{deviceID}/outlets/{outletID}.
type outletRequest struct {
	State string `json:"state"` // "on", "off" or "toggle"
}

// handleSetOutlet dispatches an outlet command to the device.
func (s *Server) handleSetOutlet(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	outletID := chi.URLParam(r, "outletID")

	var req outletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(req.State)) {
	case "on":
		err = s.dispatcher.SetOutlet(r.Context(), deviceID, outletID, true)
	case "off":
		err = s.dispatcher.SetOutlet(r.Context(), deviceID, outletID, false)
	case "toggle":
		snap, ok := s.states.Snapshot(deviceID)
		if !ok {
			writeNotFound(w, "device not tracked: "+deviceID)
			return
		}
		outlet := snap.FindOutlet(outletID)
		if outlet == nil {
			writeNotFound(w, "outlet not found: "+outletID)
			return
		}
		err = s.dispatcher.SetOutlet(r.Context(), deviceID, outletID, !outlet.Status)
	default:
		writeBadRequest(w, `state must be "on", "off" or "toggle"`)
		return
	}

	if err != nil {
		s.writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": deviceID,
		"outlet_id": outletID,
		"state":     req.State,
	})
}

// handleExitEmergency clears a device's emergency mode.
//
// Outlets are not restored: they stay off until commanded back on.
func (s *Server) handleExitEmergency(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	if err := s.states.ExitEmergency(deviceID); err != nil {
		if errors.Is(err, device.ErrDeviceNotTracked) {
			writeNotFound(w, "device not tracked: "+deviceID)
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	s.logger.Info("emergency mode cleared via API", "device_id", deviceID)

	snap, _ := s.states.Snapshot(deviceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"device":    snap,
	})
}

// handleDeviceEvents returns event log entries for a device, newest first.
//
// Query parameters: type (telemetry|event|command), severity
// (info|warning|critical), since (RFC3339), limit.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	filter := eventlog.Filter{
		DeviceID: deviceID,
		Type:     eventlog.EntryType(r.URL.Query().Get("type")),
		Severity: eventlog.Severity(r.URL.Query().Get("severity")),
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeBadRequest(w, "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.eventlog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("event log query failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "event log query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

// writeCommandError maps dispatcher errors to HTTP responses.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrEmergencyLockout):
		writeError(w, http.StatusConflict, ErrCodeEmergencyLockout,
			"device is in emergency mode; kitchen outlets are locked out")
	case errors.Is(err, device.ErrOutletNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, bridge.ErrDeviceNotValidated):
		writeNotFound(w, err.Error())
	case errors.Is(err, mqtt.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable,
			"message broker is not connected")
	case errors.Is(err, bridge.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
