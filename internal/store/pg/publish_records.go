package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ew384/automaton-core/internal/store"
)

// PublishRecordStore implements store.PublishRecordStore backed by
// Postgres, grounded on PGSessionStore's cache-over-SQL shape: writes go to
// both the in-memory cache and the table, reads prefer the cache.
type PublishRecordStore struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]*store.PublishRecord
}

// NewPublishRecordStore constructs a PublishRecordStore.
func NewPublishRecordStore(db *sql.DB) *PublishRecordStore {
	return &PublishRecordStore{db: db, cache: make(map[string]*store.PublishRecord)}
}

func (s *PublishRecordStore) CreateRecord(ctx context.Context, platform, accountName, filePath, title string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now()
	rec := &store.PublishRecord{
		ID:          id,
		Platform:    platform,
		AccountName: accountName,
		FilePath:    filePath,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_records (id, platform, account_name, file_path, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, platform, accountName, filePath, title, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("pg: create publish record: %w", err)
	}

	s.mu.Lock()
	s.cache[id] = rec
	s.mu.Unlock()
	return id, nil
}

func (s *PublishRecordStore) UpdateStatus(ctx context.Context, recordID string, uploadStatus, pushStatus, reviewStatus string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE publish_records SET
			upload_status = COALESCE(NULLIF($1, ''), upload_status),
			push_status   = COALESCE(NULLIF($2, ''), push_status),
			review_status = COALESCE(NULLIF($3, ''), review_status),
			updated_at    = $4
		 WHERE id = $5`,
		uploadStatus, pushStatus, reviewStatus, now, recordID,
	)
	if err != nil {
		return fmt.Errorf("pg: update publish record %s: %w", recordID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.cache[recordID]; ok {
		if uploadStatus != "" {
			rec.UploadStatus = uploadStatus
		}
		if pushStatus != "" {
			rec.PushStatus = pushStatus
		}
		if reviewStatus != "" {
			rec.ReviewStatus = reviewStatus
		}
		rec.UpdatedAt = now
	}
	return nil
}

func (s *PublishRecordStore) Get(ctx context.Context, recordID string) (store.PublishRecord, bool, error) {
	s.mu.RLock()
	if rec, ok := s.cache[recordID]; ok {
		cp := *rec
		s.mu.RUnlock()
		return cp, true, nil
	}
	s.mu.RUnlock()

	var rec store.PublishRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform, account_name, file_path, title, upload_status, push_status, review_status, created_at, updated_at
		 FROM publish_records WHERE id = $1`, recordID,
	).Scan(&rec.ID, &rec.Platform, &rec.AccountName, &rec.FilePath, &rec.Title,
		&rec.UploadStatus, &rec.PushStatus, &rec.ReviewStatus, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return store.PublishRecord{}, false, nil
	}
	if err != nil {
		return store.PublishRecord{}, false, fmt.Errorf("pg: get publish record %s: %w", recordID, err)
	}

	s.mu.Lock()
	s.cache[recordID] = &rec
	s.mu.Unlock()
	return rec, true, nil
}

func (s *PublishRecordStore) List(ctx context.Context, platform string, limit, offset int) ([]store.PublishRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	if platform != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, platform, account_name, file_path, title, upload_status, push_status, review_status, created_at, updated_at
			 FROM publish_records WHERE platform = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			platform, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, platform, account_name, file_path, title, upload_status, push_status, review_status, created_at, updated_at
			 FROM publish_records ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: list publish records: %w", err)
	}
	defer rows.Close()

	var out []store.PublishRecord
	for rows.Next() {
		var rec store.PublishRecord
		if err := rows.Scan(&rec.ID, &rec.Platform, &rec.AccountName, &rec.FilePath, &rec.Title,
			&rec.UploadStatus, &rec.PushStatus, &rec.ReviewStatus, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
