package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/alert"
	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/event"
	"github.com/hearthwatch/hearthwatch-core/internal/eventlog"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/mqtt"
	"github.com/hearthwatch/hearthwatch-core/internal/livebus"
	"github.com/hearthwatch/hearthwatch-core/internal/safety"
)

// subscribeQoS is the QoS level for inbound device topics. At-least-once:
// duplicate telemetry is harmless, missed telemetry is not.
const subscribeQoS = 1

// defaultQueueSize is the per-device inbound queue capacity when the
// config leaves it unset.
const defaultQueueSize = 64

// defaultDrainTimeout caps how long Stop waits for in-flight messages.
const defaultDrainTimeout = 10 * time.Second

// defaultIdleTimeout is how long a device worker may sit with an empty
// queue before it is retired. Workers spawn before validation, so a
// burst of spurious device IDs must not pin goroutines forever.
const defaultIdleTimeout = 5 * time.Minute

// Broker is the MQTT surface the bridge needs. Satisfied by *mqtt.Client;
// narrowed to an interface so pipeline tests run without a broker.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, payload []byte) error
	IsConnected() bool
}

// Validator answers whether a device may have its traffic ingested.
// Satisfied by *registry.Cache.
type Validator interface {
	Lookup(ctx context.Context, deviceID string) (*device.Device, error)
	IsValid(ctx context.Context, deviceID string) bool
}

// EventRecorder persists entries durably. Satisfied by *eventlog.Repository.
type EventRecorder interface {
	Record(ctx context.Context, entry *eventlog.Entry) error
}

// TimeSeriesWriter is the optional telemetry time-series sink. Satisfied by
// *influxdb.Client. Writes are fire-and-forget.
type TimeSeriesWriter interface {
	WriteTelemetry(t *event.Telemetry)
	WriteEmergency(deviceID, reason string, reading, limit float64, at time.Time)
}

// inbound is one raw message queued for a device worker.
type inbound struct {
	deviceID string
	kind     mqtt.MessageKind
	topic    string
	payload  []byte
	at       time.Time
}

// worker owns the inbound queue for one device.
type worker struct {
	deviceID string
	queue    chan inbound
}

// Stats are the pipeline's running counters.
type Stats struct {
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Malformed uint64 `json:"malformed"`
	Rejected  uint64 `json:"rejected"`
}

// PipelineOptions wires a Pipeline's collaborators.
type PipelineOptions struct {
	Broker    Broker
	Validator Validator
	States    *device.StateStore
	Recorder  EventRecorder
	Notifier  alert.Notifier
	Bus       *livebus.Bus

	// TimeSeries is optional; nil disables the time-series sink.
	TimeSeries TimeSeriesWriter

	// QueueSize is the per-device queue capacity; 0 uses the default.
	QueueSize int

	// DrainTimeout caps shutdown drain; 0 uses the default.
	DrainTimeout time.Duration

	// IdleTimeout retires workers whose queue stays empty; 0 uses the
	// default.
	IdleTimeout time.Duration

	Logger *logging.Logger
}

// Pipeline ingests device traffic from the broker: route, validate,
// normalize, evaluate, persist, fan out.
//
// Each device gets its own worker goroutine and bounded queue, so messages
// from one device are processed strictly in arrival order while devices
// never block each other. A full queue drops the newest message; slow
// processing must not back-pressure the MQTT client.
type Pipeline struct {
	broker     Broker
	validator  Validator
	states     *device.StateStore
	recorder   EventRecorder
	notifier   alert.Notifier
	bus        *livebus.Bus
	timeSeries TimeSeriesWriter
	logger     *logging.Logger

	queueSize    int
	drainTimeout time.Duration
	idleTimeout  time.Duration

	topics mqtt.Topics

	mu       sync.Mutex
	workers  map[string]*worker
	stopping bool

	wg        sync.WaitGroup
	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once

	processed atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
	rejected  atomic.Uint64
}

// NewPipeline creates a pipeline. Call Start to begin ingesting.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
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
	if opts.Bus == nil {
		return nil, fmt.Errorf("live bus is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.Noop{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		broker:       opts.Broker,
		validator:    opts.Validator,
		states:       opts.States,
		recorder:     opts.Recorder,
		notifier:     opts.Notifier,
		bus:          opts.Bus,
		timeSeries:   opts.TimeSeries,
		logger:       opts.Logger.With("component", "pipeline"),
		queueSize:    opts.QueueSize,
		drainTimeout: opts.DrainTimeout,
		idleTimeout:  opts.IdleTimeout,
		workers:      make(map[string]*worker),
		ctx:          ctx,
		ctxCancel:    cancel,
	}, nil
}

// Start subscribes to the device telemetry and ack wildcards. Returns once
// subscriptions are registered; processing happens on worker goroutines.
func (p *Pipeline) Start() error {
	for _, topic := range []string{p.topics.AllTelemetry(), p.topics.AllAcks()} {
		if err := p.broker.Subscribe(topic, subscribeQoS, p.handleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		p.logger.Info("subscribed", "topic", topic)
	}
	return nil
}

// Stop drains in-flight messages and shuts the workers down. Intake stops
// immediately; queued messages get up to the drain timeout to finish, after
// which processing is cancelled hard.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		for _, topic := range []string{p.topics.AllTelemetry(), p.topics.AllAcks()} {
			if err := p.broker.Unsubscribe(topic); err != nil {
				p.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
			}
		}

		p.mu.Lock()
		p.stopping = true
		for _, w := range p.workers {
			close(w.queue)
		}
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("pipeline drained")
		case <-time.After(p.drainTimeout):
			p.logger.Warn("drain timeout exceeded, abandoning queued messages",
				"timeout", p.drainTimeout)
			p.ctxCancel()
			<-done
		}
		p.ctxCancel()
	})
}

// Stats returns the running counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Dropped:   p.dropped.Load(),
		Malformed: p.malformed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// handleMessage is the broker callback: parse the topic, enqueue for the
// device's worker. Unroutable topics are dropped here, never retried.
func (p *Pipeline) handleMessage(topic string, payload []byte) error {
	deviceID, kind, err := mqtt.ParseDeviceTopic(topic)
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn("dropping unroutable message", "topic", topic, "error", err)
		return nil
	}

	msg := inbound{
		deviceID: deviceID,
		kind:     kind,
		topic:    topic,
		payload:  payload,
		at:       time.Now().UTC(),
	}

	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		p.dropped.Add(1)
		return ErrPipelineStopped
	}
	w, ok := p.workers[deviceID]
	if !ok {
		w = &worker{deviceID: deviceID, queue: make(chan inbound, p.queueSize)}
		p.workers[deviceID] = w
		p.wg.Add(1)
		go p.runWorker(w)
	}

	// Enqueue under the lock: retireWorker checks the queue under the
	// same lock, so an idle worker is never removed with a message
	// in flight.
	select {
	case w.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.Warn("device queue full, dropping message",
			"device_id", deviceID, "kind", string(kind))
	}
	p.mu.Unlock()
	return nil
}

// runWorker processes one device's messages in arrival order. Workers
// that sit idle past the idle timeout retire themselves; a later message
// for the same device spawns a fresh one.
func (p *Pipeline) runWorker(w *worker) {
	defer p.wg.Done()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case msg, ok := <-w.queue:
			if !ok {
				return
			}
			p.handleInbound(msg)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)
		case <-idle.C:
			if p.retireWorker(w) {
				return
			}
			idle.Reset(p.idleTimeout)
		}
	}
}

// retireWorker drops an idle worker from the routing table. Refused while
// the pipeline is stopping (Stop owns the queues then) or when a message
// snuck into the queue.
func (p *Pipeline) retireWorker(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping || len(w.queue) > 0 {
		return false
	}
	delete(p.workers, w.deviceID)
	return true
}

// handleInbound dispatches one dequeued message.
func (p *Pipeline) handleInbound(msg inbound) {
	select {
	case <-p.ctx.Done():
		p.dropped.Add(1)
		return // keep draining so the queue empties and Stop returns
	default:
	}
	p.process(msg)
}

func (p *Pipeline) process(msg inbound) {
	switch msg.kind {
	case mqtt.KindTelemetry:
		p.processTelemetry(msg)
	case mqtt.KindAck:
		p.processAck(msg)
	}
}

// processTelemetry runs one reading through the full chain. Any failure
// affects this message only; the worker moves on.
func (p *Pipeline) processTelemetry(msg inbound) {
	ctx := p.ctx

	dev, err := p.validator.Lookup(ctx, msg.deviceID)
	if err != nil {
		p.rejected.Add(1)
		p.logger.Warn("dropping telemetry from unvalidated device",
			"device_id", msg.deviceID, "error", err)
		return
	}
	if !p.validator.IsValid(ctx, msg.deviceID) {
		p.rejected.Add(1)
		p.logger.Warn("dropping telemetry from blocked device",
			"device_id", msg.deviceID, "status", string(dev.Status))
		return
	}
	p.states.Ensure(dev)

	t, err := event.NormalizeTelemetry(msg.deviceID, msg.payload, msg.at)
	if err != nil {
		p.malformed.Add(1)
		p.logger.Warn("dropping malformed telemetry",
			"device_id", msg.deviceID, "error", err)
		return
	}

	if err := p.states.MarkSeen(msg.deviceID, msg.at); err != nil {
		p.logger.Error("mark seen failed", "device_id", msg.deviceID, "error", err)
	}
	if len(t.Outlets) > 0 {
		// Firmware is authoritative for relay state.
		if err := p.states.ApplyOutletSnapshot(msg.deviceID, t.Outlets, msg.at); err != nil {
			p.logger.Error("outlet snapshot failed", "device_id", msg.deviceID, "error", err)
		}
	}

	verdict := safety.Evaluate(t, p.states.Thresholds(msg.deviceID))
	if verdict.Emergency {
		p.handleEmergency(ctx, t, verdict, msg)
	}

	entry := &eventlog.Entry{
		Type:     eventlog.TypeTelemetry,
		DeviceID: msg.deviceID,
		Topic:    msg.topic,
		Payload:  telemetryPayload(t),
	}
	if err := p.recorder.Record(ctx, entry); err != nil {
		p.logger.Error("event log write failed", "device_id", msg.deviceID, "error", err)
	}
	if p.timeSeries != nil {
		p.timeSeries.WriteTelemetry(t)
	}

	p.bus.Publish(livebus.Update{
		Kind:      livebus.KindTelemetry,
		DeviceID:  msg.deviceID,
		At:        msg.at,
		Telemetry: t,
	})
	p.publishState(msg.deviceID, msg.at)

	p.processed.Add(1)
}

// processAck records a command acknowledgement. Acks count as liveness but
// are never threshold-evaluated.
func (p *Pipeline) processAck(msg inbound) {
	ctx := p.ctx

	if !p.validator.IsValid(ctx, msg.deviceID) {
		p.rejected.Add(1)
		p.logger.Warn("dropping ack from unvalidated device", "device_id", msg.deviceID)
		return
	}
	if dev, err := p.validator.Lookup(ctx, msg.deviceID); err == nil {
		p.states.Ensure(dev)
	}

	ack, err := event.NormalizeAck(msg.deviceID, msg.payload, msg.at)
	if err != nil {
		p.malformed.Add(1)
		p.logger.Warn("dropping malformed ack", "device_id", msg.deviceID, "error", err)
		return
	}

	if err := p.states.MarkSeen(msg.deviceID, msg.at); err != nil {
		p.logger.Error("mark seen failed", "device_id", msg.deviceID, "error", err)
	}

	entry := &eventlog.Entry{
		Type:     eventlog.TypeEvent,
		DeviceID: msg.deviceID,
		Topic:    msg.topic,
		Payload:  ack.Payload,
		Metadata: map[string]any{"kind": "ack"},
	}
	if err := p.recorder.Record(ctx, entry); err != nil {
		p.logger.Error("event log write failed", "device_id", msg.deviceID, "error", err)
	}

	p.bus.Publish(livebus.Update{
		Kind:     livebus.KindAck,
		DeviceID: msg.deviceID,
		At:       msg.at,
		Ack:      ack,
	})
	p.publishState(msg.deviceID, msg.at)

	p.processed.Add(1)
}

// handleEmergency transitions the device and raises the alert exactly once
// per episode. Re-confirming readings re-stamp the episode but stay silent.
func (p *Pipeline) handleEmergency(ctx context.Context, t *event.Telemetry, verdict safety.Verdict, msg inbound) {
	newly, err := p.states.EnterEmergency(msg.deviceID, msg.at)
	if err != nil {
		p.logger.Error("emergency transition failed", "device_id", msg.deviceID, "error", err)
		return
	}

	entry := &eventlog.Entry{
		Type:     eventlog.TypeEvent,
		DeviceID: msg.deviceID,
		Topic:    msg.topic,
		Severity: eventlog.SeverityCritical,
		Payload: map[string]any{
			"event":   "emergency",
			"reason":  string(verdict.Reason),
			"reading": verdict.Reading,
			"limit":   verdict.Limit,
			"newly":   newly,
		},
	}
	if err := p.recorder.Record(ctx, entry); err != nil {
		p.logger.Error("event log write failed", "device_id", msg.deviceID, "error", err)
	}
	if p.timeSeries != nil {
		p.timeSeries.WriteEmergency(msg.deviceID, string(verdict.Reason), verdict.Reading, verdict.Limit, msg.at)
	}

	if !newly {
		return
	}

	p.logger.Error("emergency detected",
		"device_id", msg.deviceID,
		"reason", string(verdict.Reason),
		"reading", verdict.Reading,
		"limit", verdict.Limit,
	)

	if dev, ok := p.states.Snapshot(msg.deviceID); ok {
		p.bus.Publish(livebus.Update{
			Kind:     livebus.KindEmergency,
			DeviceID: msg.deviceID,
			At:       msg.at,
			Device:   dev,
			Reason:   string(verdict.Reason),
		})
	}

	notification := alert.Notification{
		DeviceID:  msg.deviceID,
		Reason:    string(verdict.Reason),
		Timestamp: msg.at,
		Telemetry: t,
		Reading:   verdict.Reading,
		Limit:     verdict.Limit,
	}
	if err := p.notifier.Notify(ctx, notification); err != nil {
		p.logger.Error("alert delivery failed", "device_id", msg.deviceID, "error", err)
		failEntry := &eventlog.Entry{
			Type:     eventlog.TypeEvent,
			DeviceID: msg.deviceID,
			Severity: eventlog.SeverityWarning,
			Payload: map[string]any{
				"event":  "alert_delivery_failed",
				"reason": string(verdict.Reason),
				"error":  err.Error(),
			},
		}
		if recErr := p.recorder.Record(ctx, failEntry); recErr != nil {
			p.logger.Error("event log write failed", "device_id", msg.deviceID, "error", recErr)
		}
	}
}

// publishState pushes the current device snapshot to live viewers.
func (p *Pipeline) publishState(deviceID string, at time.Time) {
	dev, ok := p.states.Snapshot(deviceID)
	if !ok {
		return
	}
	p.bus.Publish(livebus.Update{
		Kind:     livebus.KindDeviceState,
		DeviceID: deviceID,
		At:       at,
		Device:   dev,
	})
}

// telemetryPayload flattens a reading for the event log.
func telemetryPayload(t *event.Telemetry) map[string]any {
	payload := map[string]any{
		"captured_at":   t.CapturedAt,
		"temperature_c": t.TemperatureC,
		"humidity_pct":  t.HumidityPct,
		"smoke_level":   t.SmokeLevel,
		"gas_ppm":       t.GasPPM,
	}
	if t.MQ2Voltage != nil {
		payload["mq2_voltage"] = *t.MQ2Voltage
	}
	if t.FlameDetected != nil {
		payload["flame_detected"] = *t.FlameDetected
	}
	if len(t.Outlets) > 0 {
		outlets := make(map[string]any, len(t.Outlets))
		for id, on := range t.Outlets {
			outlets[id] = on
		}
		payload["outlets"] = outlets
	}
	return payload
}
