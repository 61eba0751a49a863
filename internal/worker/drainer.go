package worker

import (
	"context"
	"fmt"
	"time"

	"senseflow/internal/model"
	"senseflow/internal/service"
	"senseflow/pkg/config"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"

	"go.uber.org/zap"
)

// Drainer moves queued payloads into the time-series store
type Drainer struct {
	id    int
	queue interfaces.QueueProvider
	store interfaces.TimeSeriesStore
	cfg   config.DrainConfig
}

// DrainStats outcome of one dequeue cycle
type DrainStats struct {
	Claimed int
	Written int
	Failed  int
}

// NewDrainer creates a drain worker; id only labels its log lines
func NewDrainer(id int, queue interfaces.QueueProvider, store interfaces.TimeSeriesStore, cfg config.DrainConfig) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 50 * time.Millisecond
	}
	if cfg.BacklogLogEvery <= 0 {
		cfg.BacklogLogEvery = 5
	}
	if cfg.IdleLogEvery <= 0 {
		cfg.IdleLogEvery = 100
	}
	if cfg.ErrorSleep <= 0 {
		cfg.ErrorSleep = time.Second
	}
	return &Drainer{id: id, queue: queue, store: store, cfg: cfg}
}

// Name returns the worker label
func (d *Drainer) Name() string {
	return fmt.Sprintf("drain-%d", d.id)
}

// Run drains until ctx is cancelled
func (d *Drainer) Run(ctx context.Context) {
	logger.Info("drain worker started",
		zap.String("worker", d.Name()),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("idle_sleep", d.cfg.IdleSleep),
	)

	idle := 0
	for {
		if ctx.Err() != nil {
			logger.Info("drain worker stopped", zap.String("worker", d.Name()))
			return
		}

		stats, err := d.DrainOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("drain cycle failed", zap.String("worker", d.Name()), zap.Error(err))
			sleep(ctx, d.cfg.ErrorSleep)
			continue
		}

		if stats.Claimed > 0 {
			idle = 0
			logger.Debug("drained payloads",
				zap.String("worker", d.Name()),
				zap.Int("claimed", stats.Claimed),
				zap.Int("written", stats.Written),
				zap.Int("failed", stats.Failed),
			)
			continue
		}

		idle++
		if idle%d.cfg.BacklogLogEvery == 0 {
			d.logBacklog(ctx)
		}
		if idle%d.cfg.IdleLogEvery == 0 {
			logger.Info("waiting for payloads", zap.String("worker", d.Name()), zap.Int("idle_cycles", idle))
		}
		sleep(ctx, d.cfg.IdleSleep)
	}
}

// DrainOnce claims up to one batch and writes every payload.
// A payload that fails to decode or write is logged and skipped; it stays claimed.
func (d *Drainer) DrainOnce(ctx context.Context) (DrainStats, error) {
	entries, err := d.queue.Dequeue(ctx, d.cfg.BatchSize)
	if err != nil {
		return DrainStats{}, fmt.Errorf("failed to dequeue: %w", err)
	}

	stats := DrainStats{Claimed: len(entries)}
	for _, entry := range entries {
		if err := d.process(ctx, entry); err != nil {
			stats.Failed++
			logger.Error("failed to store payload",
				zap.String("worker", d.Name()),
				zap.Int64("queue_id", entry.ID),
				zap.Error(err),
			)
			continue
		}
		stats.Written++
	}
	return stats, nil
}

func (d *Drainer) process(ctx context.Context, entry model.QueueEntry) error {
	payload, err := model.DecodeQueuePayload(entry.Payload)
	if err != nil {
		return err
	}

	var points []interfaces.Point
	switch payload.Kind {
	case model.PayloadTelemetry:
		payload.Batch.Normalize()
		points, err = service.TelemetryPoints(payload.Batch)
		if err != nil {
			return err
		}
	case model.PayloadModelOutput, model.PayloadModelOutputFog:
		points = service.OutputPoints(payload.Output)
	}
	if len(points) == 0 {
		return nil
	}
	return d.store.Write(ctx, points)
}

func (d *Drainer) logBacklog(ctx context.Context) {
	n, err := d.queue.QueueLength(ctx)
	if err != nil {
		logger.Warn("failed to read queue backlog", zap.String("worker", d.Name()), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("queue backlog", zap.String("worker", d.Name()), zap.Int64("unclaimed", n))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
