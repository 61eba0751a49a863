package mysql

import (
	"context"
	"encoding/json"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/queue/relational"
	mysqlstore "senseflow/pkg/store/mysql"
)

// table adapts the gorm queue repository to relational.Table
type table struct {
	repo *mysqlstore.Repository
}

// NewMySQLQueueProvider creates a queue provider over the data_queue table
func NewMySQLQueueProvider(repo *mysqlstore.Repository) *relational.Provider {
	return relational.NewProvider("mysql", &table{repo: repo})
}

func (t *table) Insert(ctx context.Context, payload []byte) (int64, error) {
	return t.repo.Queue.Insert(ctx, payload)
}

func (t *table) Claim(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	items, err := t.repo.Queue.ClaimBatch(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]model.QueueEntry, len(items))
	for i, item := range items {
		entries[i] = model.QueueEntry{ID: item.ID, Payload: json.RawMessage(item.Payload)}
	}
	return entries, nil
}

func (t *table) CountUnclaimed(ctx context.Context) (int64, error) {
	return t.repo.Queue.CountUnclaimed(ctx)
}

func (t *table) CountClaimed(ctx context.Context) (int64, error) {
	return t.repo.Queue.CountClaimed(ctx)
}

func (t *table) OldestUnclaimed(ctx context.Context) (*time.Time, error) {
	return t.repo.Queue.OldestUnclaimed(ctx)
}

func (t *table) DeleteClaimedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return t.repo.Queue.DeleteClaimedBefore(ctx, cutoff)
}

// Close is a no-op: the repository is shared with the registry and closed by its owner
func (t *table) Close() error {
	return nil
}
