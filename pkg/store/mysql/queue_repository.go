package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// QueueRepository handles durable queue rows
type QueueRepository struct {
	ds *Datastore
}

// NewQueueRepository creates a new queue repository
func NewQueueRepository(ds *Datastore) *QueueRepository {
	return &QueueRepository{ds: ds}
}

// Insert appends one payload row
func (r *QueueRepository) Insert(ctx context.Context, payload []byte) (int64, error) {
	item := &QueueItem{Payload: JSONRaw(payload)}
	if err := r.ds.DB(ctx).Create(item).Error; err != nil {
		return 0, fmt.Errorf("failed to insert queue item: %w", err)
	}
	return item.ID, nil
}

// ClaimBatch atomically selects up to limit unclaimed rows and marks them claimed in one transaction.
// SKIP LOCKED lets concurrent consumers pass over rows another transaction holds,
// so no row is claimed twice and no consumer waits on another.
func (r *QueueRepository) ClaimBatch(ctx context.Context, limit int) ([]*QueueItem, error) {
	var claimed []*QueueItem

	err := r.ds.ExecTx(ctx, func(txCtx context.Context) error {
		// 1. SELECT ... FOR UPDATE SKIP LOCKED
		var items []*QueueItem
		err := r.ds.DB(txCtx).
			Where("claimed = ?", false).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&items).Error
		if err != nil {
			return fmt.Errorf("failed to select unclaimed items: %w", err)
		}

		if len(items) == 0 {
			return nil
		}

		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}

		// 2. Mark claimed in the same transaction
		now := r.ds.Now()
		err = r.ds.DB(txCtx).Model(&QueueItem{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"claimed": true, "claimed_at": now}).Error
		if err != nil {
			return fmt.Errorf("failed to mark %d items claimed: %w", len(ids), err)
		}

		for _, item := range items {
			item.Claimed = true
			item.ClaimedAt = &now
		}
		claimed = items
		return nil
	})

	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// CountUnclaimed counts rows waiting to be claimed
func (r *QueueRepository) CountUnclaimed(ctx context.Context) (int64, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&QueueItem{}).Where("claimed = ?", false).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unclaimed items: %w", err)
	}
	return count, nil
}

// CountClaimed counts rows already claimed
func (r *QueueRepository) CountClaimed(ctx context.Context) (int64, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&QueueItem{}).Where("claimed = ?", true).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count claimed items: %w", err)
	}
	return count, nil
}

// OldestUnclaimed returns the creation time of the oldest unclaimed row, nil when none
func (r *QueueRepository) OldestUnclaimed(ctx context.Context) (*time.Time, error) {
	var items []*QueueItem
	err := r.ds.DB(ctx).
		Select("id", "created_at").
		Where("claimed = ?", false).
		Order("id ASC").
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest unclaimed item: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0].CreatedAt, nil
}

// DeleteClaimedBefore removes claimed rows claimed before cutoff
func (r *QueueRepository) DeleteClaimedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.ds.DB(ctx).
		Where("claimed = ? AND claimed_at < ?", true, cutoff).
		Delete(&QueueItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete claimed items: %w", result.Error)
	}
	return result.RowsAffected, nil
}
