// Package relational implements interfaces.QueueProvider over a queue table.
// The mysql and postgres packages supply the table access; this package adds
// bounded write retries, stats composition and logging shared by both.
package relational

import (
	"context"
	"fmt"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"
	"senseflow/pkg/retry"
)

// Table queue table access
type Table interface {
	Insert(ctx context.Context, payload []byte) (int64, error)
	// Claim must select with a lock-skipping read and mark rows claimed in the same transaction
	Claim(ctx context.Context, limit int) ([]model.QueueEntry, error)
	CountUnclaimed(ctx context.Context) (int64, error)
	CountClaimed(ctx context.Context) (int64, error)
	OldestUnclaimed(ctx context.Context) (*time.Time, error)
	DeleteClaimedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Provider relational queue provider
type Provider struct {
	name  string
	table Table
	now   func() time.Time
}

var _ interfaces.QueueProvider = (*Provider)(nil)

// NewProvider creates a queue provider over table; name is used in logs
func NewProvider(name string, table Table) *Provider {
	return &Provider{name: name, table: table, now: time.Now}
}

// Enqueue appends one payload row, retrying transient failures with retry.WritePolicy
func (p *Provider) Enqueue(ctx context.Context, payload []byte) (int64, error) {
	if len(payload) == 0 {
		return 0, apperr.MalformedInput("empty queue payload")
	}
	id, err := retry.Write(ctx, p.name+" enqueue", func() (int64, error) {
		return p.table.Insert(ctx, payload)
	})
	if err != nil {
		return 0, apperr.Transient(err, fmt.Sprintf("%s enqueue", p.name))
	}
	return id, nil
}

// Dequeue claims up to count unclaimed rows
func (p *Provider) Dequeue(ctx context.Context, count int) ([]model.QueueEntry, error) {
	if count <= 0 {
		return nil, nil
	}
	entries, err := p.table.Claim(ctx, count)
	if err != nil {
		return nil, apperr.Transient(err, fmt.Sprintf("%s dequeue", p.name))
	}
	if len(entries) > 0 {
		logger.DebugCtx(ctx, "%s queue: claimed %d items (first id %d)", p.name, len(entries), entries[0].ID)
	}
	return entries, nil
}

// QueueLength counts unclaimed rows
func (p *Provider) QueueLength(ctx context.Context) (int64, error) {
	n, err := p.table.CountUnclaimed(ctx)
	if err != nil {
		return 0, apperr.Transient(err, fmt.Sprintf("%s queue length", p.name))
	}
	return n, nil
}

// Stats returns backlog accounting
func (p *Provider) Stats(ctx context.Context) (*model.QueueStats, error) {
	unclaimed, err := p.table.CountUnclaimed(ctx)
	if err != nil {
		return nil, apperr.Transient(err, fmt.Sprintf("%s queue stats", p.name))
	}
	claimed, err := p.table.CountClaimed(ctx)
	if err != nil {
		return nil, apperr.Transient(err, fmt.Sprintf("%s queue stats", p.name))
	}
	stats := &model.QueueStats{Unclaimed: unclaimed, Claimed: claimed}
	if unclaimed > 0 {
		oldest, err := p.table.OldestUnclaimed(ctx)
		if err != nil {
			return nil, apperr.Transient(err, fmt.Sprintf("%s queue stats", p.name))
		}
		if oldest != nil {
			stats.OldestUnclaimedS = p.now().Sub(*oldest).Seconds()
		}
	}
	return stats, nil
}

// PurgeClaimed deletes rows claimed before the cutoff
func (p *Provider) PurgeClaimed(ctx context.Context, before time.Time) (int64, error) {
	n, err := p.table.DeleteClaimedBefore(ctx, before)
	if err != nil {
		return 0, apperr.Transient(err, fmt.Sprintf("%s purge claimed", p.name))
	}
	return n, nil
}

// Close closes queue connection
func (p *Provider) Close() error {
	return p.table.Close()
}
