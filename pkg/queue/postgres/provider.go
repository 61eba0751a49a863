package postgres

import (
	"context"
	"database/sql"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/queue/relational"
	pgstore "senseflow/pkg/store/postgres"
)

type table struct {
	db   *sql.DB
	repo *pgstore.QueueRepository
}

// NewPostgresQueueProvider creates a queue provider over the data_queue table; it owns db
func NewPostgresQueueProvider(db *sql.DB) *relational.Provider {
	return relational.NewProvider("postgres", &table{db: db, repo: pgstore.NewQueueRepository(db)})
}

func (t *table) Insert(ctx context.Context, payload []byte) (int64, error) {
	return t.repo.Insert(ctx, payload)
}

func (t *table) Claim(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	items, err := t.repo.ClaimBatch(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]model.QueueEntry, len(items))
	for i, item := range items {
		entries[i] = model.QueueEntry{ID: item.ID, Payload: item.Payload}
	}
	return entries, nil
}

func (t *table) CountUnclaimed(ctx context.Context) (int64, error) {
	return t.repo.CountUnclaimed(ctx)
}

func (t *table) CountClaimed(ctx context.Context) (int64, error) {
	return t.repo.CountClaimed(ctx)
}

func (t *table) OldestUnclaimed(ctx context.Context) (*time.Time, error) {
	return t.repo.OldestUnclaimed(ctx)
}

func (t *table) DeleteClaimedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return t.repo.DeleteClaimedBefore(ctx, cutoff)
}

func (t *table) Close() error {
	return t.db.Close()
}
