package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"
	"senseflow/pkg/retry"

	"github.com/cockroachdb/errors"
)

// FeatureSource provides the first n time-ordered values of one (sensor, feature).
// Insufficient data is reported as apperr.ErrDataNotReady.
type FeatureSource interface {
	Name() string
	Values(ctx context.Context, sensor, feature string, n int) ([]float64, error)
}

// payloadSource reads values from the records of an inline batch
type payloadSource struct {
	series map[string]map[string][]timedValue
}

type timedValue struct {
	at    time.Time
	value float64
}

func newPayloadSource(batch *model.Batch) *payloadSource {
	series := make(map[string]map[string][]timedValue)
	for i := range batch.Records {
		r := &batch.Records[i]
		if r.Time == nil {
			continue
		}
		bySensor, ok := series[r.SensorID]
		if !ok {
			bySensor = make(map[string][]timedValue)
			series[r.SensorID] = bySensor
		}
		bySensor[r.Feature()] = append(bySensor[r.Feature()], timedValue{at: r.Time.Time, value: r.NumericValue()})
	}
	for _, bySensor := range series {
		for _, values := range bySensor {
			sort.SliceStable(values, func(i, j int) bool { return values[i].at.Before(values[j].at) })
		}
	}
	return &payloadSource{series: series}
}

func (p *payloadSource) Name() string { return "payload" }

func (p *payloadSource) Values(_ context.Context, sensor, feature string, n int) ([]float64, error) {
	values := p.series[sensor][feature]
	if len(values) < n {
		return nil, apperr.DataNotReady("payload has %d/%d values for %s/%s", len(values), n, sensor, feature)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = values[i].value
	}
	return out, nil
}

// storeSource polls the time-series store until enough values for (sensor, feature) are persisted
type storeSource struct {
	store       interfaces.TimeSeriesStore
	userID      string
	executionID string
	attempts    int
	delay       time.Duration
}

func (s *storeSource) Name() string { return "store" }

func (s *storeSource) Values(ctx context.Context, sensor, feature string, n int) ([]float64, error) {
	name := fmt.Sprintf("poll %s/%s", sensor, feature)
	return retry.Poll(ctx, s.attempts, s.delay, name, func() ([]float64, error) {
		samples, err := s.store.Query(ctx, interfaces.Query{
			Measurement: interfaces.MeasurementSensorData,
			Tags: map[string]string{
				interfaces.TagSensor:      sensor,
				interfaces.TagUserID:      s.userID,
				interfaces.TagExecutionID: s.executionID,
			},
			Field: feature,
		})
		if err != nil {
			return nil, err
		}
		if len(samples) < n {
			return nil, apperr.DataNotReady("store has %d/%d values for %s/%s", len(samples), n, sensor, feature)
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = samples[i].Value
		}
		return out, nil
	})
}

// TensorBuilder assembles model inputs from an ordered list of feature sources
type TensorBuilder struct {
	store    interfaces.TimeSeriesStore
	attempts int
	delay    time.Duration
}

// NewTensorBuilder creates a builder; store may be nil to disable the store fallback
func NewTensorBuilder(store interfaces.TimeSeriesStore, attempts int, delay time.Duration) *TensorBuilder {
	return &TensorBuilder{store: store, attempts: attempts, delay: delay}
}

// Sources returns the payload source (when the batch has records) followed by the store source
func (b *TensorBuilder) Sources(batch *model.Batch, userID, executionID string) []FeatureSource {
	var sources []FeatureSource
	if batch != nil && len(batch.Records) > 0 {
		sources = append(sources, newPayloadSource(batch))
	}
	if b.store != nil {
		sources = append(sources, &storeSource{
			store:       b.store,
			userID:      userID,
			executionID: executionID,
			attempts:    b.attempts,
			delay:       b.delay,
		})
	}
	return sources
}

// Build assembles the [windows, timesteps, features] input of m
func (b *TensorBuilder) Build(ctx context.Context, m *model.Match, batch *model.Batch, userID, executionID string) (*interfaces.Tensor, error) {
	return AssembleTensor(ctx, m, b.Sources(batch, userID, executionID))
}

// AssembleTensor reads windows*timesteps values per (sensor, feature) from the first source able to
// provide them, then lays them out as [windows, timesteps, features]: features of one sensor in
// registry order, sensors concatenated along the feature axis in registry order.
func AssembleTensor(ctx context.Context, m *model.Match, sources []FeatureSource) (*interfaces.Tensor, error) {
	if len(m.InputShape) != 3 {
		return nil, apperr.ShapeMismatch("model %s input shape %v is not [windows, timesteps, features]", m.ModelName, m.InputShape)
	}
	windows, timesteps, total := m.InputShape[0], m.InputShape[1], m.InputShape[2]
	if windows <= 0 || timesteps <= 0 {
		return nil, apperr.ShapeMismatch("model %s input shape %v has a non-positive dimension", m.ModelName, m.InputShape)
	}
	if total != m.TotalFeatures() {
		return nil, apperr.ShapeMismatch("model %s declares %d features in input shape but requires %d", m.ModelName, total, m.TotalFeatures())
	}
	if len(sources) == 0 {
		return nil, apperr.DataNotReady("no data source for model %s", m.ModelName)
	}

	n := windows * timesteps
	columns := make([][]float64, 0, total)
	for _, sf := range m.Features {
		for _, feature := range sf.Features {
			values, err := firstAvailable(ctx, sources, sf.Sensor, feature, n)
			if err != nil {
				return nil, err
			}
			columns = append(columns, values)
		}
	}

	data := make([]float32, n*total)
	for i := 0; i < n; i++ {
		for k, col := range columns {
			data[i*total+k] = float32(col[i])
		}
	}
	return &interfaces.Tensor{Shape: []int{windows, timesteps, total}, Data: data}, nil
}

func firstAvailable(ctx context.Context, sources []FeatureSource, sensor, feature string, n int) ([]float64, error) {
	var lastErr error
	for _, src := range sources {
		values, err := src.Values(ctx, sensor, feature, n)
		if err == nil {
			return values, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.DebugCtx(ctx, "%s source cannot provide %s/%s: %v", src.Name(), sensor, feature, err)
		lastErr = err
	}
	if !errors.Is(lastErr, apperr.ErrDataNotReady) {
		return nil, fmt.Errorf("failed to read %s/%s: %w", sensor, feature, lastErr)
	}
	return nil, lastErr
}
