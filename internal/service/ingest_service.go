package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/cache"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"

	"github.com/google/uuid"
)

// IngestService accepts telemetry batches
type IngestService struct {
	queue    interfaces.QueueProvider
	store    interfaces.TimeSeriesStore
	registry interfaces.ModelRegistry
	cache    *cache.AvailabilityCache
}

// NewIngestService creates a new ingest service; registry is optional and only used for
// unknown-sensor warnings
func NewIngestService(queue interfaces.QueueProvider, store interfaces.TimeSeriesStore, registry interfaces.ModelRegistry) *IngestService {
	return &IngestService{
		queue:    queue,
		store:    store,
		registry: registry,
	}
}

// WithCache sets the availability cache invalidated for every accepted batch
func (s *IngestService) WithCache(c *cache.AvailabilityCache) *IngestService {
	s.cache = c
	return s
}

// Ingest validates the batch, stamps missing identifiers and enqueues it for the drain worker
func (s *IngestService) Ingest(ctx context.Context, batch *model.Batch) (*model.IngestResponse, error) {
	start := time.Now()
	resp, err := s.prepare(ctx, batch)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTraceID(ctx, resp.ExecutionID)

	payload, err := json.Marshal(model.NewTelemetryPayload(batch))
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	id, err := s.queue.Enqueue(ctx, payload)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(resp.UserID, resp.ExecutionID)

	resp.QueueID = id
	resp.ElapsedMS = elapsedMS(start)
	logger.InfoCtx(ctx, "queued %d records (queue id %d) for user %s", resp.Accepted, id, resp.UserID)
	return resp, nil
}

// IngestSync validates the batch and writes it straight to the time-series store
func (s *IngestService) IngestSync(ctx context.Context, batch *model.Batch) (*model.IngestResponse, error) {
	start := time.Now()
	resp, err := s.prepare(ctx, batch)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTraceID(ctx, resp.ExecutionID)

	points, err := TelemetryPoints(batch)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(ctx, points); err != nil {
		return nil, fmt.Errorf("failed to write telemetry: %w", err)
	}
	s.cache.Invalidate(resp.UserID, resp.ExecutionID)

	resp.ElapsedMS = elapsedMS(start)
	logger.InfoCtx(ctx, "stored %d records for user %s", resp.Accepted, resp.UserID)
	return resp, nil
}

func (s *IngestService) prepare(ctx context.Context, batch *model.Batch) (*model.IngestResponse, error) {
	if batch == nil {
		return nil, fmt.Errorf("nil batch")
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	batch.Normalize()
	userID, executionID := stampIDs(batch)
	batch.PropagateIDs(userID, executionID)

	available := batch.AvailableFeatures()
	resp := &model.IngestResponse{
		Accepted:       len(batch.Records),
		UserID:         userID,
		ExecutionID:    executionID,
		Sensors:        available.Sensors(),
		Features:       available.AllFeatures(),
		UnknownSensors: s.unknownSensors(ctx, available.Sensors()),
	}
	if len(resp.UnknownSensors) > 0 {
		logger.WarnCtx(ctx, "batch carries sensors no registered model uses: %v", resp.UnknownSensors)
	}
	return resp, nil
}

// unknownSensors returns the sensors no registry model declares; registry failures only log
func (s *IngestService) unknownSensors(ctx context.Context, sensors []string) []string {
	if s.registry == nil {
		return nil
	}
	descriptors, err := s.registry.ListModels(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "sensor check skipped, registry unavailable: %v", err)
		return nil
	}
	known := make(map[string]struct{})
	for _, d := range descriptors {
		for _, sensor := range d.Sensors {
			known[sensor] = struct{}{}
		}
	}
	var unknown []string
	for _, sensor := range sensors {
		if _, ok := known[sensor]; !ok {
			unknown = append(unknown, sensor)
		}
	}
	return unknown
}

// stampIDs returns the effective ids, defaulting the user to "anonymous" and the execution to a new uuid
func stampIDs(batch *model.Batch) (string, string) {
	userID, ok := batch.EffectiveUserID()
	if !ok {
		userID = anonymousUser
	}
	executionID, ok := batch.EffectiveExecutionID()
	if !ok {
		executionID = uuid.NewString()
	}
	return userID, executionID
}
