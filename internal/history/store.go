package history

import (
	"context"
	"fmt"
	"time"

	"github.com/brightline-controls/dalilink/internal/infrastructure/database"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// Entry is one persisted command outcome.
type Entry struct {
	ID        string
	DeviceID  string
	GroupID   string
	Address   string
	Driver    int
	Percent   int
	Success   bool
	Simulated bool
	Latency   time.Duration
	CreatedAt time.Time
}

// Migrations returns the schema migrations for the command_history
// table. Pass them to database.DB.Migrate at startup.
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version: "20260110_000000",
			Name:    "create_command_history",
			SQL: `
				CREATE TABLE command_history (
					id TEXT PRIMARY KEY,
					device_id TEXT NOT NULL,
					group_id TEXT NOT NULL DEFAULT '',
					address TEXT NOT NULL DEFAULT '',
					driver INTEGER NOT NULL DEFAULT 0,
					percent INTEGER NOT NULL,
					success INTEGER NOT NULL,
					simulated INTEGER NOT NULL,
					latency_ms INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL
				);
				CREATE INDEX idx_command_history_device
					ON command_history (device_id, created_at);
				CREATE INDEX idx_command_history_created
					ON command_history (created_at);
			`,
		},
	}
}

// Store reads and writes command history rows.
type Store struct {
	db *database.DB
}

// NewStore creates a command history store.
//
// Parameters:
//   - db: Open database; Migrations() must already be applied
//
// Returns:
//   - *Store: Store ready for use
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Record inserts one command outcome.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - e: Entry to persist; ID and DeviceID are required
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry id is required")
	}
	if e.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history
			(id, device_id, group_id, address, driver, percent, success, simulated, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.DeviceID,
		e.GroupID,
		e.Address,
		e.Driver,
		e.Percent,
		boolToInt(e.Success),
		boolToInt(e.Simulated),
		e.Latency.Milliseconds(),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command history: %w", err)
	}
	return nil
}

// Recent returns recent entries for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device to query; "" returns entries for all devices
//   - limit: Maximum entries (default 50, max 200)
//
// Returns:
//   - []Entry: Entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
		SELECT id, device_id, group_id, address, driver, percent, success, simulated, latency_ms, created_at
		FROM command_history`
	args := []any{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var success, simulated int
		var latencyMs int64
		var createdAt string

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.GroupID, &e.Address, &e.Driver,
			&e.Percent, &success, &simulated, &latencyMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command history: %w", err)
		}

		e.Success = success != 0
		e.Simulated = simulated != 0
		e.Latency = time.Duration(latencyMs) * time.Millisecond

		e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command history: %w", err)
	}
	return entries, nil
}

// SuccessRate reports the success ratio over a device's recent
// entries.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device to query; "" covers all devices
//   - since: Only entries newer than this instant count
//
// Returns:
//   - float64: Successes divided by total, 1.0 when no entries
//   - int: Total entries considered
//   - error: nil on success, otherwise the underlying query error
func (s *Store) SuccessRate(ctx context.Context, deviceID string, since time.Time) (float64, int, error) {
	query := "SELECT COUNT(*), COALESCE(SUM(success), 0) FROM command_history WHERE created_at > ?"
	args := []any{since.UTC().Format(time.RFC3339)}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}

	var total, successes int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total, &successes); err != nil {
		return 0, 0, fmt.Errorf("querying success rate: %w", err)
	}
	if total == 0 {
		return 1.0, 0, nil
	}
	return float64(successes) / float64(total), total, nil
}

// Prune deletes entries older than the given retention.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention window; older entries are deleted
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM command_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting command history: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return deleted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
