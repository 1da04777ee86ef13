package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/database"
)

// defaultListLimit bounds unfiltered List queries.
const defaultListLimit = 100

// Repository persists event log entries in SQLite.
type Repository struct {
	db *database.DB
}

// NewRepository creates an event log repository over the given database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one entry. A missing ID, severity or timestamp is filled
// in; the entry is returned with those fields set.
func (r *Repository) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	metadata := []byte("{}")
	if entry.Metadata != nil {
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO event_log (id, event_type, device_id, topic, severity, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		string(entry.Type),
		entry.DeviceID,
		entry.Topic,
		string(entry.Severity),
		string(payload),
		string(metadata),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting event log entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, event_type, device_id, topic, severity, payload, metadata, created_at
		FROM event_log
	`)

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(conditions) > 0 {
		query.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query.WriteString(" ORDER BY created_at DESC LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			payload   string
			metadata  string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.DeviceID, &entry.Topic,
			&entry.Severity, &payload, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event log row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload for %s: %w", entry.ID, err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", entry.ID, err)
			}
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is ours
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event log: %w", err)
	}
	return entries, nil
}

// PurgeBefore deletes entries older than the cutoff and reports how many
// rows went. The retention Janitor calls this on its sweep interval.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM event_log WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("purging event log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged rows: %w", err)
	}
	return n, nil
}
