package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/database"
	_ "github.com/hearthwatch/hearthwatch-core/migrations"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewRepository(db)
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entry := &Entry{
		Type:     TypeTelemetry,
		DeviceID: "D1",
		Topic:    "iot/D1/telemetry",
		Payload:  map[string]any{"temp": 25.5, "smoke": 10.0},
	}
	if err := repo.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Errorf("Record() did not fill in ID/CreatedAt: %+v", entry)
	}
	if entry.Severity != SeverityInfo {
		t.Errorf("Severity = %q, want default info", entry.Severity)
	}

	entries, err := repo.List(ctx, Filter{DeviceID: "D1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.Type != TypeTelemetry || got.Topic != "iot/D1/telemetry" {
		t.Errorf("entry = %+v", got)
	}
	if got.Payload["temp"] != 25.5 {
		t.Errorf("payload temp = %v, want 25.5", got.Payload["temp"])
	}
}

func TestListFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seed := []*Entry{
		{Type: TypeTelemetry, DeviceID: "D1", Payload: map[string]any{}, CreatedAt: base},
		{Type: TypeEvent, DeviceID: "D1", Severity: SeverityCritical,
			Payload: map[string]any{"reason": "gas_leak"}, CreatedAt: base.Add(time.Minute)},
		{Type: TypeCommand, DeviceID: "D2", Payload: map[string]any{}, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range seed {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"by device", Filter{DeviceID: "D1"}, 2},
		{"by type", Filter{Type: TypeCommand}, 1},
		{"by severity", Filter{Severity: SeverityCritical}, 1},
		{"since cutoff", Filter{Since: base.Add(90 * time.Second)}, 1},
		{"limit", Filter{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("len(entries) = %d, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestListNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		entry := &Entry{
			Type:      TypeTelemetry,
			DeviceID:  "D1",
			Payload:   map[string]any{"seq": float64(i)},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Record(ctx, entry); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if entries[0].Payload["seq"] != 2.0 {
		t.Errorf("first entry seq = %v, want newest (2)", entries[0].Payload["seq"])
	}
}

func TestPurgeBefore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		entry := &Entry{
			Type:      TypeTelemetry,
			DeviceID:  "D1",
			Payload:   map[string]any{},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Record(ctx, entry); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	purged, err := repo.PurgeBefore(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore() error = %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}

	remaining, _ := repo.List(ctx, Filter{})
	if len(remaining) != 2 {
		t.Errorf("remaining = %d, want 2", len(remaining))
	}
}
