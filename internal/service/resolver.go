package service

import (
	"context"
	"fmt"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
	"senseflow/pkg/cache"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"
)

// Resolve returns the descriptors whose every (sensor, required features) pair is covered by
// available. Malformed descriptors are logged and skipped. Matches keep registry order.
func Resolve(ctx context.Context, available model.Availability, descriptors []model.ModelDescriptor) []model.Match {
	matches := make([]model.Match, 0)
	for i := range descriptors {
		d := &descriptors[i]
		required, err := requirements(d)
		if err != nil {
			logger.WarnCtx(ctx, "skipping registry entry %d (%s): %v", i, d.ModelName, err)
			continue
		}

		compatible := true
		for _, sf := range required {
			if !available.Has(sf.Sensor, sf.Features) {
				compatible = false
				break
			}
		}
		if !compatible {
			continue
		}

		sensors := make([]string, len(required))
		for j, sf := range required {
			sensors[j] = sf.Sensor
		}
		matches = append(matches, model.Match{
			ModelName:    d.ModelName,
			URL:          d.URL,
			Description:  d.Description,
			Requirements: d.Requirements,
			InputShape:   append([]int(nil), d.InputShape...),
			Features:     required,
			Sensors:      sensors,
			Priority:     d.EffectivePriority(),
		})
	}
	return matches
}

// requirements returns the per-sensor feature lists of d in registry order
func requirements(d *model.ModelDescriptor) ([]model.SensorFeatures, error) {
	switch {
	case d.ModelName == "":
		return nil, apperr.RegistryInconsistent("model_name is missing")
	case len(d.Sensors) == 0:
		return nil, apperr.RegistryInconsistent("sensors are missing")
	case d.Features.Empty():
		return nil, apperr.RegistryInconsistent("features are missing")
	case d.URL == "":
		return nil, apperr.RegistryInconsistent("url is missing")
	}

	if !d.Features.Nested() {
		return []model.SensorFeatures{{
			Sensor:   d.Sensors[0],
			Features: append([]string(nil), d.Features.Flat...),
		}}, nil
	}

	if len(d.Sensors) != len(d.Features.PerSensor) {
		return nil, apperr.RegistryInconsistent("%d sensors but %d feature lists", len(d.Sensors), len(d.Features.PerSensor))
	}
	out := make([]model.SensorFeatures, len(d.Sensors))
	for i, sensor := range d.Sensors {
		if sensor == "" || len(d.Features.PerSensor[i]) == 0 {
			return nil, apperr.RegistryInconsistent("sensor %d has no name or no features", i)
		}
		out[i] = model.SensorFeatures{
			Sensor:   sensor,
			Features: append([]string(nil), d.Features.PerSensor[i]...),
		}
	}
	return out, nil
}

// ResolverService resolves compatible models for inline batches and stored executions
type ResolverService struct {
	registry interfaces.ModelRegistry
	store    interfaces.TimeSeriesStore
	cache    *cache.AvailabilityCache
}

// NewResolverService creates a new resolver service; cache may be nil
func NewResolverService(registry interfaces.ModelRegistry, store interfaces.TimeSeriesStore, availabilityCache *cache.AvailabilityCache) *ResolverService {
	return &ResolverService{
		registry: registry,
		store:    store,
		cache:    availabilityCache,
	}
}

// ResolveBatch resolves against the batch's own records, or against stored data for the batch's
// effective ids when it carries no records
func (s *ResolverService) ResolveBatch(ctx context.Context, batch *model.Batch) ([]model.Match, error) {
	if len(batch.Records) == 0 {
		userID, _ := batch.EffectiveUserID()
		executionID, _ := batch.EffectiveExecutionID()
		return s.ResolveStored(ctx, userID, executionID)
	}
	return s.resolve(ctx, batch.AvailableFeatures())
}

// ResolveStored resolves against data stored for (userID, executionID).
// Missing ids yield no matches, not an error.
func (s *ResolverService) ResolveStored(ctx context.Context, userID, executionID string) ([]model.Match, error) {
	if userID == "" || executionID == "" {
		logger.DebugCtx(ctx, "lookup resolution without user/execution id, no matches")
		return []model.Match{}, nil
	}
	available, err := s.Availability(ctx, userID, executionID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, available)
}

// Availability returns the sensor -> features stored for (userID, executionID), cache first
func (s *ResolverService) Availability(ctx context.Context, userID, executionID string) (model.Availability, error) {
	if available, ok := s.cache.Get(userID, executionID); ok {
		return available, nil
	}

	samples, err := s.store.Query(ctx, interfaces.Query{
		Measurement: interfaces.MeasurementSensorData,
		Tags: map[string]string{
			interfaces.TagUserID:      userID,
			interfaces.TagExecutionID: executionID,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query available features: %w", err)
	}

	available := make(model.Availability)
	for _, sample := range samples {
		sensor := sample.Tags[interfaces.TagSensor]
		if sensor == "" || sample.Field == "" {
			continue
		}
		available.Add(sensor, sample.Field)
	}
	s.cache.Add(userID, executionID, available)
	return available, nil
}

// Models returns the full registry listing
func (s *ResolverService) Models(ctx context.Context) ([]model.ModelDescriptor, error) {
	descriptors, err := s.registry.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return descriptors, nil
}

func (s *ResolverService) resolve(ctx context.Context, available model.Availability) ([]model.Match, error) {
	descriptors, err := s.Models(ctx)
	if err != nil {
		return nil, err
	}
	matches := Resolve(ctx, available, descriptors)
	logger.DebugCtx(ctx, "resolved %d compatible models out of %d for sensors %v", len(matches), len(descriptors), available.Sensors())
	return matches, nil
}
