package main

import (
	"context"
	"fmt"
	"time"

	"senseflow/internal/jobs"
	"senseflow/internal/worker"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/lock"
	"senseflow/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const retentionCleanupInterval = time.Hour

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)

	// Locks downgrade to single-instance mode when redis is not configured
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}
	retentionLock := lock.NewRedisLock(redisClient, "senseflow:queue-retention-lock")

	manager.Register(newQueueBacklogMonitorJob(app.config.Drain.MonitorInterval, app.queue))
	manager.Register(newQueueRetentionCleanupJob(
		retentionCleanupInterval,
		app.queue,
		time.Duration(app.config.Queue.RetentionHours)*time.Hour,
		retentionLock,
	))

	if app.config.RunsDrain() {
		for i := 1; i <= app.config.Drain.Workers; i++ {
			manager.RegisterRunner(worker.NewDrainer(i, app.queue, app.store, app.config.Drain))
		}
		logger.InfoCtx(app.ctx, "registered %d drain workers", app.config.Drain.Workers)
	}

	app.jobsManager = manager
	return nil
}

// queueBacklogMonitorJob periodically logs queue depth and the age of the oldest pending row.
type queueBacklogMonitorJob struct {
	interval time.Duration
	queue    interfaces.QueueProvider
}

func newQueueBacklogMonitorJob(interval time.Duration, queue interfaces.QueueProvider) jobs.Job {
	return &queueBacklogMonitorJob{interval: interval, queue: queue}
}

func (j *queueBacklogMonitorJob) Name() string {
	return "queue-backlog-monitor"
}

func (j *queueBacklogMonitorJob) Interval() time.Duration {
	return j.interval
}

func (j *queueBacklogMonitorJob) Run(ctx context.Context) error {
	if j.queue == nil {
		return fmt.Errorf("queue not configured")
	}
	stats, err := j.queue.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.Unclaimed > 0 {
		logger.InfoCtx(ctx, "queue backlog: %d pending, %d processed, oldest pending %.1fs",
			stats.Unclaimed, stats.Claimed, stats.OldestUnclaimedS)
	} else {
		logger.DebugCtx(ctx, "queue empty, %d processed rows retained", stats.Claimed)
	}
	return nil
}

// queueRetentionCleanupJob removes claimed rows past the retention window.
// Only one replica runs it per cycle.
type queueRetentionCleanupJob struct {
	interval  time.Duration
	queue     interfaces.QueueProvider
	retention time.Duration
	lock      lock.Locker
	now       func() time.Time
}

func newQueueRetentionCleanupJob(interval time.Duration, queue interfaces.QueueProvider, retention time.Duration, l lock.Locker) jobs.Job {
	return &queueRetentionCleanupJob{
		interval:  interval,
		queue:     queue,
		retention: retention,
		lock:      l,
		now:       time.Now,
	}
}

func (j *queueRetentionCleanupJob) Name() string {
	return "queue-retention-cleanup"
}

func (j *queueRetentionCleanupJob) Interval() time.Duration {
	return j.interval
}

func (j *queueRetentionCleanupJob) Run(ctx context.Context) error {
	if j.queue == nil {
		return fmt.Errorf("queue not configured")
	}
	acquired, err := lock.WithLock(ctx, j.lock, func(ctx context.Context) error {
		removed, err := j.queue.PurgeClaimed(ctx, j.now().Add(-j.retention))
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.InfoCtx(ctx, "removed %d processed queue rows older than %v", removed, j.retention)
		}
		return nil
	})
	if !acquired && err == nil {
		logger.DebugCtx(ctx, "another instance is running queue retention cleanup, skipping this cycle")
	}
	return err
}
