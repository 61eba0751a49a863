package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	insertQueueItemSQL = `INSERT INTO data_queue (payload) VALUES ($1) RETURNING id`

	selectUnclaimedForUpdateSQL = `SELECT id, payload FROM data_queue
WHERE NOT claimed
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`

	markClaimedSQL = `UPDATE data_queue SET claimed = TRUE, claimed_at = now() WHERE id = ANY($1::bigint[])`

	countUnclaimedSQL = `SELECT COUNT(*) FROM data_queue WHERE NOT claimed`

	countClaimedSQL = `SELECT COUNT(*) FROM data_queue WHERE claimed`

	oldestUnclaimedSQL = `SELECT created_at FROM data_queue WHERE NOT claimed ORDER BY id LIMIT 1`

	deleteClaimedBeforeSQL = `DELETE FROM data_queue WHERE claimed AND claimed_at < $1`
)

// QueueItem claimed queue row
type QueueItem struct {
	ID      int64
	Payload json.RawMessage
}

// QueueRepository handles durable queue rows on Postgres
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new queue repository
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Insert appends one payload row
func (r *QueueRepository) Insert(ctx context.Context, payload []byte) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, insertQueueItemSQL, string(payload)).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert queue item: %w", err)
	}
	return id, nil
}

// ClaimBatch selects up to limit unclaimed rows with FOR UPDATE SKIP LOCKED and marks them
// claimed in the same transaction
func (r *QueueRepository) ClaimBatch(ctx context.Context, limit int) (items []QueueItem, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, selectUnclaimedForUpdateSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select unclaimed items: %w", err)
	}
	for rows.Next() {
		var item QueueItem
		var payload []byte
		if err = rows.Scan(&item.ID, &payload); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Payload = json.RawMessage(append([]byte(nil), payload...))
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate queue items: %w", err)
	}
	_ = rows.Close()

	if len(items) > 0 {
		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		if _, err = tx.ExecContext(ctx, markClaimedSQL, ids); err != nil {
			return nil, fmt.Errorf("failed to mark %d items claimed: %w", len(ids), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return items, nil
}

// CountUnclaimed counts rows waiting to be claimed
func (r *QueueRepository) CountUnclaimed(ctx context.Context) (int64, error) {
	return r.count(ctx, countUnclaimedSQL)
}

// CountClaimed counts rows already claimed
func (r *QueueRepository) CountClaimed(ctx context.Context) (int64, error) {
	return r.count(ctx, countClaimedSQL)
}

func (r *QueueRepository) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}

// OldestUnclaimed returns the creation time of the oldest unclaimed row, nil when none
func (r *QueueRepository) OldestUnclaimed(ctx context.Context) (*time.Time, error) {
	var created time.Time
	err := r.db.QueryRowContext(ctx, oldestUnclaimedSQL).Scan(&created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest unclaimed item: %w", err)
	}
	return &created, nil
}

// DeleteClaimedBefore removes claimed rows claimed before cutoff
func (r *QueueRepository) DeleteClaimedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteClaimedBeforeSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete claimed items: %w", err)
	}
	return res.RowsAffected()
}
