package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/event"
	"github.com/hearthwatch/hearthwatch-core/internal/eventlog"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/mqtt"
)

// targetKindOutlet is the command target kind for outlet relays.
const targetKindOutlet = "outlet"

// Dispatcher sends control commands to devices over MQTT.
//
// Preconditions are enforced before anything touches the wire: the broker
// must be connected, the device must pass registry validation, and kitchen
// outlets are refused while the device is in emergency mode. Every dispatch
// attempt is recorded in the event log, publish failure included.
type Dispatcher struct {
	broker    Broker
	validator Validator
	states    *device.StateStore
	recorder  EventRecorder
	logger    *logging.Logger
	topics    mqtt.Topics
	now       func() time.Time
}

// DispatcherOptions wires a Dispatcher's collaborators.
type DispatcherOptions struct {
	Broker    Broker
	Validator Validator
	States    *device.StateStore
	Recorder  EventRecorder
	Logger    *logging.Logger
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if opts.States == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("event recorder is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	return &Dispatcher{
		broker:    opts.Broker,
		validator: opts.Validator,
		states:    opts.States,
		recorder:  opts.Recorder,
		logger:    opts.Logger.With("component", "dispatcher"),
		now:       time.Now,
	}, nil
}

// Connected reports whether the underlying broker connection is up.
func (d *Dispatcher) Connected() bool {
	return d.broker.IsConnected()
}

// SendCommand validates preconditions, applies the optimistic local state
// change, publishes the command at QoS 1 and records the attempt. A failed
// publish rolls the optimistic change back.
//
// Returns mqtt.ErrNotConnected, ErrDeviceNotValidated,
// device.ErrEmergencyLockout or ErrInvalidCommand as the precondition
// failures; the firmware's own ack closes the loop on success.
func (d *Dispatcher) SendCommand(ctx context.Context, deviceID string, cmd event.Command) error {
	if cmd.Action == "" {
		return fmt.Errorf("%w: empty action", ErrInvalidCommand)
	}
	if !d.broker.IsConnected() {
		return mqtt.ErrNotConnected
	}
	if !d.validator.IsValid(ctx, deviceID) {
		return fmt.Errorf("%w: %s", ErrDeviceNotValidated, deviceID)
	}
	if dev, err := d.validator.Lookup(ctx, deviceID); err == nil {
		d.states.Ensure(dev)
	}

	// Outlet mutations update local state first so the emergency lockout
	// fires before anything reaches the wire. Firmware remains
	// authoritative; the next telemetry snapshot corrects any divergence.
	var revert func()
	if outletID, desired, ok, err := d.outletMutation(deviceID, cmd); err != nil {
		return err
	} else if ok {
		prior, hadPrior := d.outletStatus(deviceID, outletID)
		if err := d.states.SetOutlet(deviceID, outletID, desired, d.now().UTC()); err != nil {
			return fmt.Errorf("refusing %s for %s: %w", cmd.Action, deviceID, err)
		}
		if hadPrior && prior != desired {
			revert = func() {
				if err := d.states.SetOutlet(deviceID, outletID, prior, d.now().UTC()); err != nil {
					d.logger.Warn("optimistic state revert failed",
						"device_id", deviceID, "outlet_id", outletID, "error", err)
				}
			}
		}
	}

	cmd.Timestamp = d.now().UTC().Format(time.RFC3339)
	if cmd.Params == nil {
		cmd.Params = map[string]any{}
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	topic := d.topics.DeviceCommand(deviceID)
	pubErr := d.broker.PublishJSON(topic, payload)

	// Record the attempt either way; an undelivered command is still part
	// of the audit trail.
	d.record(ctx, deviceID, topic, cmd, pubErr)

	if pubErr != nil {
		// The command never left the service, so the optimistic flip is
		// rolled back rather than waiting for telemetry to correct it.
		if revert != nil {
			revert()
		}
		return fmt.Errorf("dispatching %s to %s: %w", cmd.Action, deviceID, pubErr)
	}

	d.logger.Info("command dispatched",
		"device_id", deviceID,
		"action", cmd.Action,
		"topic", topic,
	)
	return nil
}

// TurnOn switches the device's primary outlet on.
func (d *Dispatcher) TurnOn(ctx context.Context, deviceID string) error {
	return d.SendCommand(ctx, deviceID, event.Command{
		Action: event.ActionSetState,
		Target: &event.CommandTarget{Kind: targetKindOutlet, Key: device.PrimaryOutletID},
		Params: map[string]any{"state": "ON"},
	})
}

// TurnOff switches the device's primary outlet off.
func (d *Dispatcher) TurnOff(ctx context.Context, deviceID string) error {
	return d.SendCommand(ctx, deviceID, event.Command{
		Action: event.ActionSetState,
		Target: &event.CommandTarget{Kind: targetKindOutlet, Key: device.PrimaryOutletID},
		Params: map[string]any{"state": "OFF"},
	})
}

// Toggle flips the device's primary outlet.
func (d *Dispatcher) Toggle(ctx context.Context, deviceID string) error {
	return d.SendCommand(ctx, deviceID, event.Command{
		Action: event.ActionToggle,
	})
}

// SetOutlet switches a specific outlet on or off.
func (d *Dispatcher) SetOutlet(ctx context.Context, deviceID, outletID string, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return d.SendCommand(ctx, deviceID, event.Command{
		Action: event.ActionSetState,
		Target: &event.CommandTarget{Kind: targetKindOutlet, Key: outletID},
		Params: map[string]any{"state": state},
	})
}

// outletMutation works out whether a command changes an outlet and what the
// desired state is. TOGGLE without a target addresses the primary outlet.
func (d *Dispatcher) outletMutation(deviceID string, cmd event.Command) (outletID string, desired bool, ok bool, err error) {
	switch cmd.Action {
	case event.ActionSetState:
		if cmd.Target == nil || cmd.Target.Kind != targetKindOutlet {
			return "", false, false, nil
		}
		state, found := cmd.Params["state"]
		if !found {
			return "", false, false, fmt.Errorf("%w: SET_STATE without state param", ErrInvalidCommand)
		}
		desired, err := parseState(state)
		if err != nil {
			return "", false, false, err
		}
		return cmd.Target.Key, desired, true, nil

	case event.ActionToggle:
		outletID := device.PrimaryOutletID
		if cmd.Target != nil && cmd.Target.Kind == targetKindOutlet {
			outletID = cmd.Target.Key
		}
		dev, found := d.states.Snapshot(deviceID)
		if !found {
			return "", false, false, fmt.Errorf("%w: %s", device.ErrDeviceNotTracked, deviceID)
		}
		outlet := dev.FindOutlet(outletID)
		if outlet == nil {
			return "", false, false, fmt.Errorf("%w: %s", device.ErrOutletNotFound, outletID)
		}
		return outletID, !outlet.Status, true, nil
	}

	// Unknown actions pass through untouched; the firmware decides.
	return "", false, false, nil
}

// outletStatus reads the tracked on/off state of one outlet.
func (d *Dispatcher) outletStatus(deviceID, outletID string) (on bool, ok bool) {
	dev, found := d.states.Snapshot(deviceID)
	if !found {
		return false, false
	}
	outlet := dev.FindOutlet(outletID)
	if outlet == nil {
		return false, false
	}
	return outlet.Status, true
}

// parseState coerces a command state param into a relay state.
func parseState(v any) (bool, error) {
	switch s := v.(type) {
	case bool:
		return s, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "ON", "1", "TRUE":
			return true, nil
		case "OFF", "0", "FALSE":
			return false, nil
		}
	case float64:
		if s == 0 || s == 1 {
			return s == 1, nil
		}
	}
	return false, fmt.Errorf("%w: unusable state %v", ErrInvalidCommand, v)
}

// record writes the dispatch attempt to the event log.
func (d *Dispatcher) record(ctx context.Context, deviceID, topic string, cmd event.Command, pubErr error) {
	payload := map[string]any{
		"action":    cmd.Action,
		"params":    cmd.Params,
		"timestamp": cmd.Timestamp,
	}
	if cmd.Target != nil {
		payload["target"] = map[string]any{"kind": cmd.Target.Kind, "key": cmd.Target.Key}
	}

	entry := &eventlog.Entry{
		Type:     eventlog.TypeCommand,
		DeviceID: deviceID,
		Topic:    topic,
		Payload:  payload,
	}
	if pubErr != nil {
		entry.Severity = eventlog.SeverityWarning
		entry.Metadata = map[string]any{"error": pubErr.Error()}
	}

	if err := d.recorder.Record(ctx, entry); err != nil {
		d.logger.Error("recording command failed", "device_id", deviceID, "error", err)
	}
}
