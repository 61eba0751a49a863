package interfaces

import (
	"context"
	"time"
)

// Measurements
const (
	MeasurementSensorData  = "sensor_data"  // raw telemetry, field = feature name
	MeasurementModelOutput = "model_output" // model output, field = "output"
)

// Tag keys
const (
	TagSensor      = "sensor"
	TagUserID      = "user_id"
	TagExecutionID = "execution_id"
	TagModelName   = "model_name"
	TagFeature     = "feature"
	TagTimeIdx     = "time_idx"
	FieldOutput    = "output"
)

// Point one tagged sample set to write
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	Time        time.Time
}

// Sample one field value read back
type Sample struct {
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags"`
	Field       string            `json:"field"`
	Value       float64           `json:"value"`
	Time        time.Time         `json:"time"`
}

// Query filters for TimeSeriesStore.Query
type Query struct {
	Measurement string
	Tags        map[string]string // equality filters, empty values ignored
	Field       string            // optional field filter
	Start       time.Time         // zero means the store's default lookback
	Stop        time.Time         // zero means now
	Limit       int               // per series (tag set + field), 0 means unlimited
	Descending  bool
}

// TimeSeriesStore time-series store client interface
type TimeSeriesStore interface {
	// Write persists points to the bucket owning their measurement
	Write(ctx context.Context, points []Point) error

	// Query returns samples ordered by time within each series
	Query(ctx context.Context, q Query) ([]Sample, error)

	// Delete removes samples of a measurement matching all tags in [start, stop]
	Delete(ctx context.Context, measurement string, tags map[string]string, start, stop time.Time) error
}
