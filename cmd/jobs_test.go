package main

import (
	"context"
	"testing"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statsQueue struct {
	stats   model.QueueStats
	cutoffs []time.Time
}

func (q *statsQueue) Enqueue(context.Context, []byte) (int64, error)           { return 0, nil }
func (q *statsQueue) Dequeue(context.Context, int) ([]model.QueueEntry, error) { return nil, nil }
func (q *statsQueue) QueueLength(context.Context) (int64, error)               { return q.stats.Unclaimed, nil }
func (q *statsQueue) Stats(context.Context) (*model.QueueStats, error)         { return &q.stats, nil }
func (q *statsQueue) Close() error                                             { return nil }

func (q *statsQueue) PurgeClaimed(_ context.Context, before time.Time) (int64, error) {
	q.cutoffs = append(q.cutoffs, before)
	return 3, nil
}

func TestQueueBacklogMonitorJob(t *testing.T) {
	job := newQueueBacklogMonitorJob(time.Second, &statsQueue{stats: model.QueueStats{Unclaimed: 4, Claimed: 9, OldestUnclaimedS: 2.5}})
	assert.Equal(t, "queue-backlog-monitor", job.Name())
	assert.NoError(t, job.Run(context.Background()))

	assert.Error(t, newQueueBacklogMonitorJob(time.Second, nil).Run(context.Background()))
}

func TestQueueRetentionCleanupJob_SingletonAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	const key = "senseflow:queue-retention-lock"
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	q := &statsQueue{}
	job := newQueueRetentionCleanupJob(time.Hour, q, 72*time.Hour, lock.NewRedisLock(client, key)).(*queueRetentionCleanupJob)
	job.now = func() time.Time { return now }

	// another replica holds the lock
	other := lock.NewRedisLock(client, key)
	ok, err := other.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, q.cutoffs)

	require.NoError(t, other.Unlock(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, q.cutoffs, 1)
	assert.Equal(t, now.Add(-72*time.Hour), q.cutoffs[0])
	assert.False(t, mr.Exists(key), "lock released after the run")
}

func TestQueueRetentionCleanupJob_SingleInstanceMode(t *testing.T) {
	q := &statsQueue{}
	job := newQueueRetentionCleanupJob(time.Hour, q, time.Hour, lock.NewRedisLock(nil, "k"))
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, q.cutoffs, 1)
}
