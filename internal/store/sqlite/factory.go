package sqlite

import (
	"fmt"

	"github.com/ew384/automaton-core/internal/store"
)

// NewStores creates all stores backed by the local sqlite file (standalone mode).
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	return &store.Stores{
		Publish: NewPublishRecordStore(db),
		Tasks:   NewSchedulerTaskStore(db),
	}, nil
}
