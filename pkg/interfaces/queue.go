package interfaces

import (
	"context"
	"time"

	"senseflow/internal/model"
)

// QueueProvider durable queue interface
// Backed by a relational table; rows are claimed exclusively and kept after claim for accounting.
type QueueProvider interface {
	// Enqueue appends one payload row and returns its id
	// Connection failures are retried with bounded backoff before an error is returned
	Enqueue(ctx context.Context, payload []byte) (int64, error)

	// Dequeue claims up to count unclaimed rows in one transaction
	// Rows locked by a concurrent consumer are skipped, never waited on
	Dequeue(ctx context.Context, count int) ([]model.QueueEntry, error)

	// QueueLength counts unclaimed rows
	QueueLength(ctx context.Context) (int64, error)

	// Stats returns unclaimed/claimed counts and the age of the oldest unclaimed row
	Stats(ctx context.Context) (*model.QueueStats, error)

	// PurgeClaimed deletes claimed rows claimed before the cutoff
	PurgeClaimed(ctx context.Context, before time.Time) (int64, error)

	// Close closes queue connection
	Close() error
}
