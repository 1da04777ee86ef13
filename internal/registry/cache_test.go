package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
)

// fakeFetcher counts calls and serves scripted responses per device.
type fakeFetcher struct {
	calls   int
	records map[string]*Record
	err     error
}

func (f *fakeFetcher) FetchDevice(_ context.Context, deviceID string) (*Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	record, ok := f.records[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return record, nil
}

func (f *fakeFetcher) FetchDevices(_ context.Context) ([]Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Record
	for _, r := range f.records {
		out = append(out, *r)
	}
	return out, nil
}

func onlineRecord(id string) *Record {
	return &Record{DeviceID: id, Status: "online"}
}

func newTestCache(fetcher Fetcher, opts CacheOptions) (*Cache, *time.Time) {
	cache := NewCache(fetcher, opts, logging.Default())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestLookup_CachesWithinTTL(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string]*Record{"D1": onlineRecord("D1")}}
	cache, now := newTestCache(fetcher, CacheOptions{TTL: 5 * time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := cache.Lookup(context.Background(), "D1"); err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
	}
	if fetcher.calls != 1 {
		t.Errorf("registry calls = %d within TTL, want 1", fetcher.calls)
	}

	*now = now.Add(6 * time.Minute)
	if _, err := cache.Lookup(context.Background(), "D1"); err != nil {
		t.Fatalf("Lookup() after expiry error = %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("registry calls = %d after expiry, want 2", fetcher.calls)
	}
}

func TestLookup_NoNegativeCaching(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string]*Record{}}
	cache, _ := newTestCache(fetcher, CacheOptions{})

	for i := 0; i < 2; i++ {
		if _, err := cache.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrDeviceNotFound) {
			t.Fatalf("Lookup(ghost) error = %v, want ErrDeviceNotFound", err)
		}
	}
	if fetcher.calls != 2 {
		t.Errorf("registry calls = %d, want 2 (misses are not cached)", fetcher.calls)
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after misses, want 0", cache.Len())
	}
}

func TestLookup_FailOpenForAllowListed(t *testing.T) {
	fetcher := &fakeFetcher{err: ErrRegistryUnavailable}
	cache, _ := newTestCache(fetcher, CacheOptions{AllowList: []string{"trusted"}})

	dev, err := cache.Lookup(context.Background(), "trusted")
	if err != nil {
		t.Fatalf("Lookup(allow-listed) error = %v, want degraded snapshot", err)
	}
	if dev.Status != device.StatusOnline {
		t.Errorf("degraded Status = %q, want online", dev.Status)
	}
	if len(dev.Outlets) != 5 {
		t.Errorf("degraded outlet count = %d, want 5 defaults", len(dev.Outlets))
	}

	// Non-listed devices are rejected during the same outage.
	if _, err := cache.Lookup(context.Background(), "stranger"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup(stranger) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestLookup_DegradedSnapshotNotCached(t *testing.T) {
	fetcher := &fakeFetcher{err: ErrRegistryUnavailable}
	cache, _ := newTestCache(fetcher, CacheOptions{
		TTL:       5 * time.Minute,
		AllowList: []string{"trusted"},
	})

	if _, err := cache.Lookup(context.Background(), "trusted"); err != nil {
		t.Fatalf("Lookup() during outage error = %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("cache entries = %d after fail-open, want 0", cache.Len())
	}

	// The registry recovers and now flags the device error. The very next
	// lookup must hit the registry and see it; the degraded snapshot must
	// not shadow recovery for a TTL.
	fetcher.err = nil
	fetcher.records = map[string]*Record{"trusted": {DeviceID: "trusted", Status: "error"}}
	callsBefore := fetcher.calls

	if cache.IsValid(context.Background(), "trusted") {
		t.Error("IsValid() = true for error device after registry recovery")
	}
	if fetcher.calls == callsBefore {
		t.Error("registry not consulted after recovery")
	}
}

func TestLookup_ReturnsIsolatedCopies(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string]*Record{"D1": {
		DeviceID: "D1",
		Status:   "online",
		Outlets:  []OutletRecord{{ID: "o1", Type: "kitchen", Status: true}},
	}}}
	cache, _ := newTestCache(fetcher, CacheOptions{})

	first, _ := cache.Lookup(context.Background(), "D1")
	first.Status = device.StatusError
	first.Outlets[0].Status = false

	second, _ := cache.Lookup(context.Background(), "D1")
	if second.Status != device.StatusOnline || !second.Outlets[0].Status {
		t.Error("mutating a returned snapshot leaked into the cache")
	}
}

func TestIsValid(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string]*Record{
		"ok":    onlineRecord("ok"),
		"off":   {DeviceID: "off", Status: "offline"},
		"maint": {DeviceID: "maint", Status: "maintenance"},
		"err":   {DeviceID: "err", Status: "error"},
	}}
	cache, _ := newTestCache(fetcher, CacheOptions{})

	tests := []struct {
		deviceID string
		want     bool
	}{
		{"ok", true},
		{"off", true},
		{"maint", false},
		{"err", false},
		{"ghost", false},
	}
	for _, tt := range tests {
		if got := cache.IsValid(context.Background(), tt.deviceID); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.deviceID, got, tt.want)
		}
	}
}

func TestIsValid_ValidationDisabled(t *testing.T) {
	fetcher := &fakeFetcher{err: ErrRegistryUnavailable}
	cache, _ := newTestCache(fetcher, CacheOptions{ValidationDisabled: true})

	if !cache.IsValid(context.Background(), "anything") {
		t.Error("IsValid() = false with validation disabled, want true")
	}
	if fetcher.calls != 0 {
		t.Errorf("registry calls = %d with validation disabled, want 0", fetcher.calls)
	}
}

func TestClear(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string]*Record{"D1": onlineRecord("D1")}}
	cache, _ := newTestCache(fetcher, CacheOptions{})

	cache.Lookup(context.Background(), "D1")
	if cache.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", cache.Len())
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", cache.Len())
	}

	cache.Lookup(context.Background(), "D1")
	if fetcher.calls != 2 {
		t.Errorf("registry calls = %d after Clear, want 2", fetcher.calls)
	}
}

func TestWarm(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string]*Record{
		"A": onlineRecord("A"),
		"B": onlineRecord("B"),
	}}
	cache, _ := newTestCache(fetcher, CacheOptions{})

	n, err := cache.Warm(context.Background())
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if n != 2 || cache.Len() != 2 {
		t.Errorf("Warm() = %d, Len() = %d, want 2 and 2", n, cache.Len())
	}

	cache.Lookup(context.Background(), "A")
	if fetcher.calls != 0 {
		t.Errorf("registry calls = %d after warm lookup, want 0", fetcher.calls)
	}
}
