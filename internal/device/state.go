package device

import (
	"sync"
	"time"
)

// StateStore holds the runtime operational state of every tracked device.
//
// Each device has its own lock, giving single-writer semantics per device
// without any cross-device contention: the ingestion pipeline already
// serialises messages per device, and command dispatch for one device
// never blocks telemetry for another.
//
// All methods are safe for concurrent use.
type StateStore struct {
	mu      sync.RWMutex
	devices map[string]*trackedDevice
}

// trackedDevice pairs a device's state with its dedicated lock.
type trackedDevice struct {
	mu  sync.Mutex
	dev Device
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		devices: make(map[string]*trackedDevice),
	}
}

// Ensure starts tracking a device, seeding outlets and thresholds from the
// registry snapshot. Tracking an already-tracked device refreshes its
// thresholds but preserves runtime state (emergency mode, outlet states,
// lastSeenAt), since the registry has no authority over runtime state.
func (s *StateStore) Ensure(seed *Device) {
	s.mu.Lock()
	tracked, ok := s.devices[seed.ID]
	if !ok {
		dev := *seed.DeepCopy()
		if len(dev.Outlets) == 0 {
			dev.Outlets = DefaultOutlets()
		}
		if dev.Status == "" {
			dev.Status = StatusOffline
		}
		s.devices[seed.ID] = &trackedDevice{dev: dev}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	tracked.mu.Lock()
	tracked.dev.Thresholds = seed.Thresholds.deepCopy()
	tracked.mu.Unlock()
}

// get returns the tracked entry for a device, or nil.
func (s *StateStore) get(deviceID string) *trackedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[deviceID]
}

// MarkSeen records traffic from a device: status self-heals to online and
// lastSeenAt is stamped, regardless of prior state. A device marked
// offline by inactivity resumes on its next message.
func (s *StateStore) MarkSeen(deviceID string, at time.Time) error {
	tracked := s.get(deviceID)
	if tracked == nil {
		return ErrDeviceNotTracked
	}

	tracked.mu.Lock()
	tracked.dev.Status = StatusOnline
	tracked.dev.LastSeenAt = at
	tracked.mu.Unlock()
	return nil
}

// IsOnline reports whether the device was seen within OnlineWindow of now.
// Untracked devices are offline.
func (s *StateStore) IsOnline(deviceID string, now time.Time) bool {
	tracked := s.get(deviceID)
	if tracked == nil {
		return false
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	return tracked.dev.IsOnline(now)
}

// EnterEmergency puts the device into emergency mode and forces every
// kitchen-category outlet off. Safety-category outlets are untouched.
//
// The transition is idempotent: re-entering while already in emergency
// re-stamps lastEmergencyAt but changes nothing else. The return value
// reports whether emergency mode was newly entered, which drives alert
// deduplication downstream.
func (s *StateStore) EnterEmergency(deviceID string, at time.Time) (bool, error) {
	tracked := s.get(deviceID)
	if tracked == nil {
		return false, ErrDeviceNotTracked
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()

	newly := !tracked.dev.EmergencyMode
	tracked.dev.EmergencyMode = true
	stamp := at
	tracked.dev.LastEmergencyAt = &stamp

	for i := range tracked.dev.Outlets {
		outlet := &tracked.dev.Outlets[i]
		if outlet.Category != CategoryKitchen || !outlet.Status {
			continue
		}
		outlet.Status = false
		outlet.LastToggledAt = at
	}

	return newly, nil
}

// ExitEmergency clears the emergency flag. Outlet states are left exactly
// as they were: kitchen equipment is never silently re-energised after a
// hazard, operators must re-enable outlets explicitly.
func (s *StateStore) ExitEmergency(deviceID string) error {
	tracked := s.get(deviceID)
	if tracked == nil {
		return ErrDeviceNotTracked
	}

	tracked.mu.Lock()
	tracked.dev.EmergencyMode = false
	tracked.mu.Unlock()
	return nil
}

// SetOutlet applies an acknowledged toggle to the targeted outlet.
//
// Toggling a kitchen outlet while the device is in emergency mode fails
// with ErrEmergencyLockout and mutates nothing.
func (s *StateStore) SetOutlet(deviceID, outletID string, on bool, at time.Time) error {
	tracked := s.get(deviceID)
	if tracked == nil {
		return ErrDeviceNotTracked
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()

	outlet := tracked.dev.FindOutlet(outletID)
	if outlet == nil {
		return ErrOutletNotFound
	}

	if tracked.dev.EmergencyMode && outlet.Category == CategoryKitchen {
		return ErrEmergencyLockout
	}

	outlet.Status = on
	outlet.LastToggledAt = at
	return nil
}

// ApplyOutletSnapshot syncs outlet states from the device's own telemetry
// snapshot. The firmware is authoritative for what its relays are
// actually doing; only changed outlets are re-stamped.
//
// While the device is in emergency mode, a snapshot may turn kitchen
// outlets off but never back on: the lockout invariant (emergency mode
// implies kitchen outlets off) holds against stale or misbehaving
// firmware, not just against commands.
func (s *StateStore) ApplyOutletSnapshot(deviceID string, snapshot map[string]bool, at time.Time) error {
	tracked := s.get(deviceID)
	if tracked == nil {
		return ErrDeviceNotTracked
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()

	for i := range tracked.dev.Outlets {
		outlet := &tracked.dev.Outlets[i]
		observed, ok := snapshot[outlet.ID]
		if !ok || outlet.Status == observed {
			continue
		}
		if observed && tracked.dev.EmergencyMode && outlet.Category == CategoryKitchen {
			continue
		}
		outlet.Status = observed
		outlet.LastToggledAt = at
	}
	return nil
}

// InEmergency reports whether the device is currently in emergency mode.
func (s *StateStore) InEmergency(deviceID string) bool {
	tracked := s.get(deviceID)
	if tracked == nil {
		return false
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	return tracked.dev.EmergencyMode
}

// Thresholds returns the device's evaluator threshold overrides.
// Untracked devices get zero-value thresholds (all defaults).
func (s *StateStore) Thresholds(deviceID string) Thresholds {
	tracked := s.get(deviceID)
	if tracked == nil {
		return Thresholds{}
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	return tracked.dev.Thresholds.deepCopy()
}

// Snapshot returns an independent copy of the device's runtime state.
func (s *StateStore) Snapshot(deviceID string) (*Device, bool) {
	tracked := s.get(deviceID)
	if tracked == nil {
		return nil, false
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	return tracked.dev.DeepCopy(), true
}

// Devices returns independent copies of every tracked device.
func (s *StateStore) Devices() []Device {
	s.mu.RLock()
	entries := make([]*trackedDevice, 0, len(s.devices))
	for _, tracked := range s.devices {
		entries = append(entries, tracked)
	}
	s.mu.RUnlock()

	devices := make([]Device, 0, len(entries))
	for _, tracked := range entries {
		tracked.mu.Lock()
		devices = append(devices, *tracked.dev.DeepCopy())
		tracked.mu.Unlock()
	}
	return devices
}
