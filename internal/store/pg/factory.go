package pg

import (
	"fmt"

	"github.com/ew384/automaton-core/internal/store"
)

// NewStores creates all stores backed by Postgres (managed mode).
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("pg: open postgres: %w", err)
	}

	return &store.Stores{
		Publish: NewPublishRecordStore(db),
		Tasks:   NewSchedulerTaskStore(db),
	}, nil
}
