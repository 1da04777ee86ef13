package livebus

import (
	"sync"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/event"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
)

// UpdateKind discriminates what an Update carries.
type UpdateKind string

// Update kinds published by the pipeline.
const (
	KindTelemetry   UpdateKind = "telemetry"
	KindAck         UpdateKind = "ack"
	KindDeviceState UpdateKind = "device_state"
	KindEmergency   UpdateKind = "emergency"
)

// Update is one live event fanned out to viewers. Exactly one of Telemetry,
// Ack or Device is set, matching Kind; Emergency updates also carry Device
// plus the tripped Reason.
type Update struct {
	Kind     UpdateKind `json:"kind"`
	DeviceID string     `json:"device_id"`
	At       time.Time  `json:"at"`

	Telemetry *event.Telemetry `json:"telemetry,omitempty"`
	Ack       *event.Ack       `json:"ack,omitempty"`
	Device    *device.Device   `json:"device,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// Subscription is one viewer's feed. Updates arrives in publish order per
// device; when the viewer cannot keep up, newest updates are dropped rather
// than stalling the pipeline.
type Subscription struct {
	Updates <-chan Update

	ch  chan Update
	bus *Bus
}

// Close detaches the subscription. The Updates channel is closed; pending
// buffered updates may still be drained.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus fans pipeline output out to live subscribers.
//
// Delivery is best effort: sends never block, a full subscriber buffer drops
// the update for that subscriber only. The bus keeps the latest device-state
// update per device and replays those on subscribe so a new viewer starts
// with a complete picture instead of waiting for every device to speak.
type Bus struct {
	logger *logging.Logger

	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	latest  map[string]Update
	dropped uint64
	closed  bool
}

// New builds an empty bus.
func New(logger *logging.Logger) *Bus {
	return &Bus{
		logger: logger.With("component", "livebus"),
		subs:   make(map[*Subscription]struct{}),
		latest: make(map[string]Update),
	}
}

// Subscribe registers a new viewer with the given buffer size and replays
// the latest known state of every device into it.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{ch: make(chan Update, buffer), bus: b}
	sub.Updates = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	for _, update := range b.latest {
		b.trySend(sub, update)
	}
	return sub
}

// Publish delivers an update to every subscriber. Device-state and emergency
// updates also refresh the per-device replay snapshot.
func (b *Bus) Publish(update Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if update.Device != nil {
		snapshot := update
		snapshot.Kind = KindDeviceState
		b.latest[update.DeviceID] = snapshot
	}

	for sub := range b.subs {
		b.trySend(sub, update)
	}
}

// Dropped reports how many updates have been discarded on full buffers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Subscribers reports the current viewer count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// trySend is a non-blocking delivery. Caller holds b.mu.
func (b *Bus) trySend(sub *Subscription, update Update) {
	select {
	case sub.ch <- update:
	default:
		b.dropped++
		if b.dropped%100 == 1 {
			b.logger.Warn("slow live subscriber, dropping updates", "total_dropped", b.dropped)
		}
	}
}
