package service

import (
	"context"
	"testing"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
	"senseflow/pkg/cache"
	"senseflow/pkg/interfaces"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resultNow = time.Unix(1800000000, 0).UTC()

func newResultService(store *memStore, c *cache.AvailabilityCache) *ResultService {
	svc := NewResultService(store, c)
	svc.now = func() time.Time { return resultNow }
	return svc
}

func writeOutputs(store *memStore, payload *model.OutputPayload) {
	_ = store.Write(context.Background(), OutputPoints(payload))
}

func TestResults_Validation(t *testing.T) {
	svc := newResultService(&memStore{}, nil)
	tests := []struct {
		name   string
		filter ResultFilter
	}{
		{"missing user", ResultFilter{ExecutionID: "e"}},
		{"missing execution", ResultFilter{UserID: "u"}},
		{"hours too large", ResultFilter{UserID: "u", ExecutionID: "e", Hours: 169}},
		{"negative hours", ResultFilter{UserID: "u", ExecutionID: "e", Hours: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Results(context.Background(), tt.filter, model.OutputFlat)
			assert.True(t, errors.Is(err, apperr.ErrMalformedInput))
		})
	}
}

func TestResults_NotFound(t *testing.T) {
	svc := newResultService(&memStore{}, nil)
	_, err := svc.Results(context.Background(), ResultFilter{UserID: "u", ExecutionID: "e"}, model.OutputFlat)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestResults_FlatAndWindow(t *testing.T) {
	store := &memStore{}
	writeOutputs(store, &model.OutputPayload{
		UserID: "u", ExecutionID: "e", ModelName: "b", Sensor: "wrist",
		Time: resultNow.Add(-time.Hour), Values: []float64{3, 4},
	})
	writeOutputs(store, &model.OutputPayload{
		UserID: "u", ExecutionID: "e", ModelName: "a", Sensor: "wrist",
		Time: resultNow.Add(-time.Hour), Values: []float64{1, 2},
	})
	// outside the default 2 hour window
	writeOutputs(store, &model.OutputPayload{
		UserID: "u", ExecutionID: "e", ModelName: "old", Sensor: "wrist",
		Time: resultNow.Add(-5 * time.Hour), Values: []float64{9},
	})
	svc := newResultService(store, nil)

	resp, err := svc.Results(context.Background(), ResultFilter{UserID: "u", ExecutionID: "e"}, "")
	require.NoError(t, err)
	assert.Equal(t, model.OutputFlat, resp.Format)
	require.Len(t, resp.Outputs, 4)
	assert.Equal(t, "a", resp.Outputs[0].ModelName)
	assert.Equal(t, 0, resp.Outputs[0].TimeIdx)
	assert.Equal(t, 2.0, resp.Outputs[1].Value)
	assert.Equal(t, "b", resp.Outputs[3].ModelName)

	resp, err = svc.Results(context.Background(), ResultFilter{UserID: "u", ExecutionID: "e", Hours: 6, ModelName: "old"}, model.OutputFlat)
	require.NoError(t, err)
	require.Len(t, resp.Outputs, 1)
	assert.Equal(t, 9.0, resp.Outputs[0].Value)
}

func TestResults_Matrix(t *testing.T) {
	store := &memStore{}
	writeOutputs(store, &model.OutputPayload{
		UserID: "u", ExecutionID: "e", ModelName: "fog", Sensor: "wrist",
		Time: resultNow.Add(-time.Minute), Matrix: [][]float64{{1, 2}, {3, 4}, {5, 6}},
	})
	svc := newResultService(store, nil)

	resp, err := svc.Results(context.Background(), ResultFilter{UserID: "u", ExecutionID: "e"}, model.OutputMatrix)
	require.NoError(t, err)
	require.Len(t, resp.Matrices, 1)
	m := resp.Matrices[0]
	assert.Equal(t, "fog", m.ModelName)
	assert.Equal(t, []string{"feature_0", "feature_1"}, m.Columns)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, m.Rows)
}

func TestRawData(t *testing.T) {
	store := &memStore{}
	_ = store.Write(context.Background(), []interfaces.Point{
		{
			Measurement: interfaces.MeasurementSensorData,
			Tags:        map[string]string{interfaces.TagSensor: "wrist", interfaces.TagUserID: "u", interfaces.TagExecutionID: "e"},
			Fields:      map[string]float64{"acc_y": 2},
			Time:        resultNow.Add(-time.Minute),
		},
		{
			Measurement: interfaces.MeasurementSensorData,
			Tags:        map[string]string{interfaces.TagSensor: "ankle", interfaces.TagUserID: "u", interfaces.TagExecutionID: "e"},
			Fields:      map[string]float64{"acc_x": 1},
			Time:        resultNow.Add(-2 * time.Minute),
		},
	})
	svc := newResultService(store, nil)

	resp, err := svc.RawData(context.Background(), ResultFilter{UserID: "u", ExecutionID: "e"})
	require.NoError(t, err)
	require.Len(t, resp.Samples, 2)
	assert.Equal(t, "acc_x", resp.Samples[0].Field)
	assert.Equal(t, "acc_y", resp.Samples[1].Field)

	_, err = svc.RawData(context.Background(), ResultFilter{UserID: "u", ExecutionID: "other"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPurge_InvalidatesCache(t *testing.T) {
	store := &memStore{}
	storedTelemetry(store, "u", "e", "wrist", "x")
	storedTelemetry(store, "u", "keep", "wrist", "x")
	c := cache.NewAvailabilityCache(4, time.Minute)
	c.Add("u", "e", availabilityOf("wrist", "x"))
	c.Add("u", "keep", availabilityOf("wrist", "x"))
	svc := newResultService(store, c)

	require.NoError(t, svc.Purge(context.Background(), "u", "e"))
	_, ok := c.Get("u", "e")
	assert.False(t, ok)
	_, ok = c.Get("u", "keep")
	assert.True(t, ok)
	assert.Equal(t, 1, store.count(interfaces.MeasurementSensorData))

	assert.True(t, errors.Is(svc.Purge(context.Background(), "", "e"), apperr.ErrMalformedInput))

	require.NoError(t, svc.PurgeAll(context.Background()))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, store.count(interfaces.MeasurementSensorData))
}

func TestPurgeAll_AttemptsEveryMeasurement(t *testing.T) {
	store := &memStore{deleteErr: map[string]error{interfaces.MeasurementSensorData: assert.AnError}}
	storedTelemetry(store, "u", "e", "wrist", "x")
	writeOutputs(store, &model.OutputPayload{
		UserID: "u", ExecutionID: "e", ModelName: "m", Sensor: "wrist",
		Time: resultNow.Add(-time.Minute), Values: []float64{1},
	})
	c := cache.NewAvailabilityCache(4, time.Minute)
	c.Add("u", "e", availabilityOf("wrist", "x"))
	svc := newResultService(store, c)

	err := svc.PurgeAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, assert.AnError))
	assert.Equal(t, []string{interfaces.MeasurementSensorData, interfaces.MeasurementModelOutput}, store.deletes)
	assert.Equal(t, 0, store.count(interfaces.MeasurementModelOutput))
	assert.Equal(t, 0, c.Len())
}
