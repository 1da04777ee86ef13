package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
)

// Fetcher retrieves device records from the registry. Satisfied by *Client.
type Fetcher interface {
	FetchDevice(ctx context.Context, deviceID string) (*Record, error)
	FetchDevices(ctx context.Context) ([]Record, error)
}

// Cache validates devices against the registry with a TTL cache in front.
//
// Entries expire lazily on read; there is no negative caching, so an unknown
// device costs a registry round trip every time it talks. Devices on the
// allow list fail open: when the registry is unreachable they are served a
// degraded online snapshot rather than being dropped, trading consistency
// for availability on trusted hardware.
type Cache struct {
	fetcher  Fetcher
	ttl      time.Duration
	allow    map[string]struct{}
	disabled bool
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	dev       *device.Device
	fetchedAt time.Time
}

// CacheOptions configures a validation cache.
type CacheOptions struct {
	TTL time.Duration

	// AllowList holds device IDs that fail open on registry outage.
	AllowList []string

	// ValidationDisabled bypasses registry validation entirely. Every
	// device passes IsValid and Lookup serves degraded snapshots.
	ValidationDisabled bool
}

// NewCache builds a validation cache over the given fetcher.
func NewCache(fetcher Fetcher, opts CacheOptions, logger *logging.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	allow := make(map[string]struct{}, len(opts.AllowList))
	for _, id := range opts.AllowList {
		allow[id] = struct{}{}
	}

	log := logger.With("component", "registry_cache")
	if opts.ValidationDisabled {
		log.Warn("device validation is disabled, all devices will be accepted")
	}

	return &Cache{
		fetcher:  fetcher,
		ttl:      opts.TTL,
		allow:    allow,
		disabled: opts.ValidationDisabled,
		logger:   log,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// Lookup returns the device's registry snapshot, served from cache when
// fresh. Registry failures fall back to a degraded snapshot for allow-listed
// devices; everything else surfaces ErrDeviceNotFound.
func (c *Cache) Lookup(ctx context.Context, deviceID string) (*device.Device, error) {
	if c.disabled {
		c.logger.Debug("validation disabled, serving degraded snapshot", "device_id", deviceID)
		return degradedSnapshot(deviceID), nil
	}

	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[deviceID]
	c.mu.RUnlock()
	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.dev.DeepCopy(), nil
	}

	record, err := c.fetcher.FetchDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrRegistryUnavailable) {
			if _, allowed := c.allow[deviceID]; allowed {
				c.logger.Warn("registry unreachable, failing open for allow-listed device",
					"device_id", deviceID, "error", err)
				// Never cached: the registry is retried on the next
				// message so recovery is picked up immediately.
				return degradedSnapshot(deviceID), nil
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, deviceID, err)
		}
		return nil, err
	}

	dev := record.ToDevice()
	c.store(deviceID, dev, now)
	return dev.DeepCopy(), nil
}

// IsValid reports whether the device may have its traffic ingested.
// Unknown devices and devices flagged error or maintenance are rejected.
func (c *Cache) IsValid(ctx context.Context, deviceID string) bool {
	if c.disabled {
		c.logger.Debug("validation disabled, accepting device", "device_id", deviceID)
		return true
	}

	dev, err := c.Lookup(ctx, deviceID)
	if err != nil {
		return false
	}
	switch dev.Status {
	case device.StatusError, device.StatusMaintenance:
		return false
	}
	return true
}

// Warm pre-populates the cache from the registry's full device list and
// returns the number of devices loaded. A cold cache is not an error; the
// first message per device just pays the lookup.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	records, err := c.fetcher.FetchDevices(ctx)
	if err != nil {
		return 0, err
	}

	now := c.now()
	c.mu.Lock()
	for i := range records {
		record := &records[i]
		c.entries[record.DeviceID] = cacheEntry{dev: record.ToDevice(), fetchedAt: now}
	}
	c.mu.Unlock()

	return len(records), nil
}

// Clear drops every cached entry atomically.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) store(deviceID string, dev *device.Device, at time.Time) {
	c.mu.Lock()
	c.entries[deviceID] = cacheEntry{dev: dev, fetchedAt: at}
	c.mu.Unlock()
}

// degradedSnapshot is the minimal record served when the registry cannot
// answer but the device is trusted anyway.
func degradedSnapshot(deviceID string) *device.Device {
	return &device.Device{
		ID:      deviceID,
		Status:  device.StatusOnline,
		Outlets: device.DefaultOutlets(),
	}
}
