package device

import "time"

// PrimaryOutletID is the outlet targeted by the convenience command
// wrappers (the controller's main relay).
const PrimaryOutletID = "o1"

// OnlineWindow is how recently a device must have been seen to count as
// online. Derived reads must use IsOnline, not the stored status, to gate
// safety-critical decisions.
const OnlineWindow = 5 * time.Minute

// Status is a device's stored operational status.
type Status string

// Operational statuses reported by the registry and maintained at runtime.
const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
)

// OutletCategory classifies an outlet's emergency behaviour.
// Kitchen outlets are forced off on an emergency transition; safety
// outlets (exhaust fans, alarms) are never touched automatically.
type OutletCategory string

// Outlet categories.
const (
	CategoryKitchen OutletCategory = "kitchen"
	CategorySafety  OutletCategory = "safety"
)

// Outlet is an individually controllable power channel on a device.
// It is owned exclusively by its Device and mutated only through the
// state store.
type Outlet struct {
	ID            string         `json:"id"`
	Category      OutletCategory `json:"category"`
	Status        bool           `json:"status"`
	LastToggledAt time.Time      `json:"last_toggled_at"`
}

// Thresholds holds per-device overrides for the emergency evaluator.
// Nil fields fall back to the evaluator's defaults.
type Thresholds struct {
	TemperatureMax *float64 `json:"temperature_max,omitempty"`
	SmokeMax       *float64 `json:"smoke_max,omitempty"`
	GasMax         *float64 `json:"gas_max,omitempty"`
}

// Device is the runtime view of a field device: the registry-provided
// identity plus the operational state mutated by observed events.
type Device struct {
	ID     string `json:"device_id"`
	Name   string `json:"name,omitempty"`
	Status Status `json:"status"`

	EmergencyMode   bool       `json:"emergency_mode"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	LastEmergencyAt *time.Time `json:"last_emergency_at,omitempty"`

	Outlets    []Outlet   `json:"outlets"`
	Thresholds Thresholds `json:"thresholds"`
}

// IsOnline reports whether the device has been seen within OnlineWindow.
// The stored Status self-heals to online on any traffic but never decays;
// only this derived check is safe for gating decisions.
func (d *Device) IsOnline(now time.Time) bool {
	return now.Sub(d.LastSeenAt) < OnlineWindow
}

// FindOutlet returns a pointer to the outlet with the given ID, or nil.
func (d *Device) FindOutlet(id string) *Outlet {
	for i := range d.Outlets {
		if d.Outlets[i].ID == id {
			return &d.Outlets[i]
		}
	}
	return nil
}

// DeepCopy creates an independent copy of the Device so state store
// snapshots cannot be mutated by callers.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Outlets != nil {
		cpy.Outlets = make([]Outlet, len(d.Outlets))
		copy(cpy.Outlets, d.Outlets)
	}

	if d.LastEmergencyAt != nil {
		at := *d.LastEmergencyAt
		cpy.LastEmergencyAt = &at
	}

	cpy.Thresholds = d.Thresholds.deepCopy()

	return &cpy
}

func (t Thresholds) deepCopy() Thresholds {
	cpy := Thresholds{}
	if t.TemperatureMax != nil {
		v := *t.TemperatureMax
		cpy.TemperatureMax = &v
	}
	if t.SmokeMax != nil {
		v := *t.SmokeMax
		cpy.SmokeMax = &v
	}
	if t.GasMax != nil {
		v := *t.GasMax
		cpy.GasMax = &v
	}
	return cpy
}

// DefaultOutlets returns the standard five-outlet layout used when the
// registry snapshot carries no outlet configuration (degraded lookups).
// The registry's category assignments take precedence when present.
func DefaultOutlets() []Outlet {
	outlets := make([]Outlet, 0, 5)
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		outlets = append(outlets, Outlet{ID: id, Category: CategoryKitchen})
	}
	return outlets
}
