package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
	"senseflow/pkg/cache"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"
)

const (
	defaultResultHours = 2
	maxResultHours     = 168
)

// ResultFilter selects stored data of one execution
type ResultFilter struct {
	UserID      string
	ExecutionID string
	ModelName   string // results only, optional
	Sensor      string // optional
	Hours       int    // look back window, 1..168, 0 means 2
}

// OutputRow one flat output element
type OutputRow struct {
	ModelName string    `json:"model_name"`
	Sensor    string    `json:"sensor"`
	Feature   string    `json:"feature"`
	TimeIdx   int       `json:"time_idx"`
	Value     float64   `json:"value"`
	Time      time.Time `json:"time"`
}

// OutputMatrix time x feature output of one model and sensor set
type OutputMatrix struct {
	ModelName string      `json:"model_name"`
	Sensor    string      `json:"sensor"`
	Columns   []string    `json:"columns"`
	Rows      [][]float64 `json:"rows"`
}

// ResultsResponse stored results of one execution
type ResultsResponse struct {
	UserID      string             `json:"user_id"`
	ExecutionID string             `json:"execution_id"`
	Format      model.OutputFormat `json:"format"`
	Outputs     []OutputRow        `json:"outputs,omitempty"`
	Matrices    []OutputMatrix     `json:"matrices,omitempty"`
}

// RawResponse stored raw telemetry of one execution
type RawResponse struct {
	UserID      string              `json:"user_id"`
	ExecutionID string              `json:"execution_id"`
	Samples     []interfaces.Sample `json:"samples"`
}

// ResultService reads and purges stored data
type ResultService struct {
	store interfaces.TimeSeriesStore
	cache *cache.AvailabilityCache
	now   func() time.Time
}

// NewResultService creates a new result service
func NewResultService(store interfaces.TimeSeriesStore, availabilityCache *cache.AvailabilityCache) *ResultService {
	return &ResultService{store: store, cache: availabilityCache, now: time.Now}
}

func (s *ResultService) window(f ResultFilter) (time.Time, time.Time, error) {
	if f.UserID == "" || f.ExecutionID == "" {
		return time.Time{}, time.Time{}, apperr.MalformedInput("user_id and execution_id are required")
	}
	hours := f.Hours
	if hours == 0 {
		hours = defaultResultHours
	}
	if hours < 1 || hours > maxResultHours {
		return time.Time{}, time.Time{}, apperr.MalformedInput("hours must be between 1 and %d", maxResultHours)
	}
	now := s.now()
	return now.Add(-time.Duration(hours) * time.Hour), now.Add(time.Second), nil
}

// Results returns stored model output, flat or as time x feature matrices
func (s *ResultService) Results(ctx context.Context, f ResultFilter, format model.OutputFormat) (*ResultsResponse, error) {
	start, stop, err := s.window(f)
	if err != nil {
		return nil, err
	}
	samples, err := s.store.Query(ctx, interfaces.Query{
		Measurement: interfaces.MeasurementModelOutput,
		Tags: map[string]string{
			interfaces.TagUserID:      f.UserID,
			interfaces.TagExecutionID: f.ExecutionID,
			interfaces.TagModelName:   f.ModelName,
			interfaces.TagSensor:      f.Sensor,
		},
		Field: interfaces.FieldOutput,
		Start: start,
		Stop:  stop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	if len(samples) == 0 {
		return nil, apperr.NotFound("no results for user %s execution %s", f.UserID, f.ExecutionID)
	}

	rows := make([]OutputRow, 0, len(samples))
	for _, sample := range samples {
		idx, _ := strconv.Atoi(sample.Tags[interfaces.TagTimeIdx])
		rows = append(rows, OutputRow{
			ModelName: sample.Tags[interfaces.TagModelName],
			Sensor:    sample.Tags[interfaces.TagSensor],
			Feature:   sample.Tags[interfaces.TagFeature],
			TimeIdx:   idx,
			Value:     sample.Value,
			Time:      sample.Time,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ModelName != b.ModelName {
			return a.ModelName < b.ModelName
		}
		if a.Sensor != b.Sensor {
			return a.Sensor < b.Sensor
		}
		if a.TimeIdx != b.TimeIdx {
			return a.TimeIdx < b.TimeIdx
		}
		return featureColumn(a.Feature) < featureColumn(b.Feature)
	})

	resp := &ResultsResponse{UserID: f.UserID, ExecutionID: f.ExecutionID, Format: format}
	if format == model.OutputMatrix {
		resp.Matrices = buildMatrices(rows)
	} else {
		resp.Format = model.OutputFlat
		resp.Outputs = rows
	}
	return resp, nil
}

// buildMatrices groups sorted rows by (model, sensor) into time_idx x feature matrices.
// Repeated writes of the same cell keep the latest value.
func buildMatrices(rows []OutputRow) []OutputMatrix {
	var out []OutputMatrix
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].ModelName == rows[i].ModelName && rows[j].Sensor == rows[i].Sensor {
			j++
		}
		group := rows[i:j]

		cols := make(map[int]string)
		maxRow := 0
		for _, r := range group {
			cols[featureColumn(r.Feature)] = r.Feature
			maxRow = max(maxRow, r.TimeIdx)
		}
		colIdx := make([]int, 0, len(cols))
		for c := range cols {
			colIdx = append(colIdx, c)
		}
		sort.Ints(colIdx)
		position := make(map[int]int, len(colIdx))
		names := make([]string, len(colIdx))
		for p, c := range colIdx {
			position[c] = p
			names[p] = cols[c]
		}

		matrix := make([][]float64, maxRow+1)
		latest := make([][]time.Time, maxRow+1)
		for r := range matrix {
			matrix[r] = make([]float64, len(colIdx))
			latest[r] = make([]time.Time, len(colIdx))
		}
		for _, r := range group {
			p := position[featureColumn(r.Feature)]
			if r.Time.Before(latest[r.TimeIdx][p]) {
				continue
			}
			matrix[r.TimeIdx][p] = r.Value
			latest[r.TimeIdx][p] = r.Time
		}

		out = append(out, OutputMatrix{
			ModelName: group[0].ModelName,
			Sensor:    group[0].Sensor,
			Columns:   names,
			Rows:      matrix,
		})
		i = j
	}
	return out
}

// RawData returns the stored raw telemetry of an execution ordered by time
func (s *ResultService) RawData(ctx context.Context, f ResultFilter) (*RawResponse, error) {
	start, stop, err := s.window(f)
	if err != nil {
		return nil, err
	}
	samples, err := s.store.Query(ctx, interfaces.Query{
		Measurement: interfaces.MeasurementSensorData,
		Tags: map[string]string{
			interfaces.TagUserID:      f.UserID,
			interfaces.TagExecutionID: f.ExecutionID,
			interfaces.TagSensor:      f.Sensor,
		},
		Start: start,
		Stop:  stop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query raw data: %w", err)
	}
	if len(samples) == 0 {
		return nil, apperr.NotFound("no raw data for user %s execution %s", f.UserID, f.ExecutionID)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		if !samples[i].Time.Equal(samples[j].Time) {
			return samples[i].Time.Before(samples[j].Time)
		}
		if a, b := samples[i].Tags[interfaces.TagSensor], samples[j].Tags[interfaces.TagSensor]; a != b {
			return a < b
		}
		return samples[i].Field < samples[j].Field
	})
	return &RawResponse{UserID: f.UserID, ExecutionID: f.ExecutionID, Samples: samples}, nil
}

// Purge deletes raw and output data of one execution
func (s *ResultService) Purge(ctx context.Context, userID, executionID string) error {
	if userID == "" || executionID == "" {
		return apperr.MalformedInput("user_id and execution_id are required")
	}
	err := purgeExecution(ctx, s.store, userID, executionID, s.now())
	s.cache.Invalidate(userID, executionID)
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "purged data of user %s execution %s", userID, executionID)
	return nil
}

// PurgeAll deletes every raw and output sample
func (s *ResultService) PurgeAll(ctx context.Context) error {
	err := purgeMeasurements(ctx, s.store, nil, s.now())
	s.cache.Purge()
	if err != nil {
		return err
	}
	logger.WarnCtx(ctx, "purged all stored telemetry and results")
	return nil
}
