package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ew384/automaton-core/internal/store"
)

// SchedulerTaskStore implements store.SchedulerTaskStore backed by sqlite.
type SchedulerTaskStore struct {
	db *sql.DB
}

func NewSchedulerTaskStore(db *sql.DB) *SchedulerTaskStore {
	return &SchedulerTaskStore{db: db}
}

func (s *SchedulerTaskStore) Upsert(ctx context.Context, t store.TaskRecord) error {
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
	}
	t.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_tasks (
			id, platform, account_id, current_cookie_file, sync_interval_minutes, enabled,
			priority, status, last_sync_at, next_sync_at, sync_count, error_count,
			consecutive_errors, last_error, total_messages, updated_at
		 ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (platform, account_id) DO UPDATE SET
			current_cookie_file = excluded.current_cookie_file,
			sync_interval_minutes = excluded.sync_interval_minutes,
			enabled = excluded.enabled,
			priority = excluded.priority,
			status = excluded.status,
			last_sync_at = excluded.last_sync_at,
			next_sync_at = excluded.next_sync_at,
			sync_count = excluded.sync_count,
			error_count = excluded.error_count,
			consecutive_errors = excluded.consecutive_errors,
			last_error = excluded.last_error,
			total_messages = excluded.total_messages,
			updated_at = excluded.updated_at`,
		t.ID, t.Platform, t.AccountID, t.CurrentCookieFile, t.SyncIntervalMinutes, t.Enabled,
		t.Priority, t.Status, t.LastSyncAt, t.NextSyncAt, t.SyncCount, t.ErrorCount,
		t.ConsecutiveErrors, t.LastError, t.TotalMessages, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert scheduler task %s/%s: %w", t.Platform, t.AccountID, err)
	}
	return nil
}

func (s *SchedulerTaskStore) Get(ctx context.Context, platform, accountID string) (store.TaskRecord, bool, error) {
	var t store.TaskRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform, account_id, current_cookie_file, sync_interval_minutes, enabled,
			priority, status, last_sync_at, next_sync_at, sync_count, error_count,
			consecutive_errors, last_error, total_messages, updated_at
		 FROM scheduler_tasks WHERE platform = ? AND account_id = ?`,
		platform, accountID,
	).Scan(&t.ID, &t.Platform, &t.AccountID, &t.CurrentCookieFile, &t.SyncIntervalMinutes, &t.Enabled,
		&t.Priority, &t.Status, &t.LastSyncAt, &t.NextSyncAt, &t.SyncCount, &t.ErrorCount,
		&t.ConsecutiveErrors, &t.LastError, &t.TotalMessages, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return store.TaskRecord{}, false, nil
	}
	if err != nil {
		return store.TaskRecord{}, false, fmt.Errorf("sqlite: get scheduler task: %w", err)
	}
	return t, true, nil
}

func (s *SchedulerTaskStore) List(ctx context.Context) ([]store.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, account_id, current_cookie_file, sync_interval_minutes, enabled,
			priority, status, last_sync_at, next_sync_at, sync_count, error_count,
			consecutive_errors, last_error, total_messages, updated_at
		 FROM scheduler_tasks ORDER BY platform, account_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list scheduler tasks: %w", err)
	}
	defer rows.Close()

	var out []store.TaskRecord
	for rows.Next() {
		var t store.TaskRecord
		if err := rows.Scan(&t.ID, &t.Platform, &t.AccountID, &t.CurrentCookieFile, &t.SyncIntervalMinutes, &t.Enabled,
			&t.Priority, &t.Status, &t.LastSyncAt, &t.NextSyncAt, &t.SyncCount, &t.ErrorCount,
			&t.ConsecutiveErrors, &t.LastError, &t.TotalMessages, &t.UpdatedAt); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SchedulerTaskStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete scheduler task %s: %w", id, err)
	}
	return nil
}
