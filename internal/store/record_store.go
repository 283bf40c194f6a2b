package store

import (
	"context"
	"time"
)

// PublishRecord is the persisted form of one upload job's progress
// checkpoints (§3 "Upload Job Context"): created when a job starts,
// mutated as the Upload Pipeline's state machine advances.
type PublishRecord struct {
	ID           string    `json:"id"`
	Platform     string    `json:"platform"`
	AccountName  string    `json:"accountName"`
	FilePath     string    `json:"filePath"`
	Title        string    `json:"title"`
	UploadStatus string    `json:"uploadStatus"`
	PushStatus   string    `json:"pushStatus"`
	ReviewStatus string    `json:"reviewStatus"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublishRecordStore persists Upload Pipeline checkpoints. CreateRecord and
// UpdateStatus satisfy the upload.RecordStore contract directly; Get and
// List support the admin/query surface.
type PublishRecordStore interface {
	CreateRecord(ctx context.Context, platform, accountName, filePath, title string) (string, error)
	UpdateStatus(ctx context.Context, recordID string, uploadStatus, pushStatus, reviewStatus string) error
	Get(ctx context.Context, recordID string) (PublishRecord, bool, error)
	List(ctx context.Context, platform string, limit, offset int) ([]PublishRecord, error)
}

// TaskRecord is the persisted form of a scheduler.Task, audited to survive
// process restarts (§11 "Scheduler-task-audit store").
type TaskRecord struct {
	ID                  string    `json:"id"`
	Platform            string    `json:"platform"`
	AccountID           string    `json:"accountId"`
	CurrentCookieFile   string    `json:"currentCookieFile"`
	SyncIntervalMinutes int       `json:"syncIntervalMinutes"`
	Enabled             bool      `json:"enabled"`
	Priority            int       `json:"priority"`
	Status              string    `json:"status"`
	LastSyncAt          time.Time `json:"lastSyncAt"`
	NextSyncAt          time.Time `json:"nextSyncAt"`
	SyncCount           int64     `json:"syncCount"`
	ErrorCount          int64     `json:"errorCount"`
	ConsecutiveErrors   int       `json:"consecutiveErrors"`
	LastError           string    `json:"lastError"`
	TotalMessages       int64     `json:"totalMessages"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// SchedulerTaskStore persists Scheduler Task records. The in-memory
// Scheduler is the runtime source of truth; cmd/serve.go reads this store
// once on startup to seed the Scheduler. The Scheduler does not write its
// task state back to it.
type SchedulerTaskStore interface {
	Upsert(ctx context.Context, t TaskRecord) error
	Get(ctx context.Context, platform, accountID string) (TaskRecord, bool, error)
	List(ctx context.Context) ([]TaskRecord, error)
	Delete(ctx context.Context, id string) error
}
