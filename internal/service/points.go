package service

import (
	"strconv"
	"strings"

	"senseflow/internal/model"
	"senseflow/pkg/apperr"
	"senseflow/pkg/interfaces"
)

// anonymousUser is stamped on batches that carry no user id
const anonymousUser = "anonymous"

// TelemetryPoints converts a normalized batch into sensor_data points, one per record.
// Every record must resolve to a user and execution id.
func TelemetryPoints(batch *model.Batch) ([]interfaces.Point, error) {
	userID, _ := batch.EffectiveUserID()
	executionID, _ := batch.EffectiveExecutionID()

	points := make([]interfaces.Point, 0, len(batch.Records))
	for i := range batch.Records {
		r := &batch.Records[i]
		user := r.UserID
		if user == "" {
			user = userID
		}
		execution := r.ExecutionID
		if execution == "" {
			execution = executionID
		}
		if user == "" || execution == "" {
			return nil, apperr.MalformedInput("record %d: no user_id/execution_id", i)
		}
		if r.SensorID == "" || r.Feature() == "" || r.Time == nil || r.Time.Relative {
			return nil, apperr.MalformedInput("record %d: incomplete record", i)
		}
		points = append(points, interfaces.Point{
			Measurement: interfaces.MeasurementSensorData,
			Tags: map[string]string{
				interfaces.TagSensor:      r.SensorID,
				interfaces.TagUserID:      user,
				interfaces.TagExecutionID: execution,
			},
			Fields: map[string]float64{r.Feature(): r.NumericValue()},
			Time:   r.Time.Time,
		})
	}
	return points, nil
}

// OutputPoints converts a model output into model_output points.
// Flat outputs become one point per element (feature "output", time_idx = element index);
// matrix outputs one point per cell (feature "feature_<col>", time_idx = row).
func OutputPoints(o *model.OutputPayload) []interfaces.Point {
	tags := func(feature string, idx int) map[string]string {
		return map[string]string{
			interfaces.TagUserID:      o.UserID,
			interfaces.TagExecutionID: o.ExecutionID,
			interfaces.TagModelName:   o.ModelName,
			interfaces.TagSensor:      o.Sensor,
			interfaces.TagFeature:     feature,
			interfaces.TagTimeIdx:     strconv.Itoa(idx),
		}
	}

	var points []interfaces.Point
	if o.Matrix != nil {
		for row, values := range o.Matrix {
			for col, v := range values {
				points = append(points, interfaces.Point{
					Measurement: interfaces.MeasurementModelOutput,
					Tags:        tags(matrixFeature(col), row),
					Fields:      map[string]float64{interfaces.FieldOutput: v},
					Time:        o.Time,
				})
			}
		}
		return points
	}

	for i, v := range o.Values {
		points = append(points, interfaces.Point{
			Measurement: interfaces.MeasurementModelOutput,
			Tags:        tags(interfaces.FieldOutput, i),
			Fields:      map[string]float64{interfaces.FieldOutput: v},
			Time:        o.Time,
		})
	}
	return points
}

func matrixFeature(col int) string {
	return "feature_" + strconv.Itoa(col)
}

// featureColumn returns the column index encoded in a feature tag; flat output is column 0
func featureColumn(feature string) int {
	if n, err := strconv.Atoi(strings.TrimPrefix(feature, "feature_")); err == nil && n >= 0 {
		return n
	}
	return 0
}

// toMatrix reshapes a flat output into rows of the last dimension of shape
func toMatrix(values []float64, shape []int) [][]float64 {
	cols := 1
	if len(shape) >= 2 && shape[len(shape)-1] > 0 && len(values)%shape[len(shape)-1] == 0 {
		cols = shape[len(shape)-1]
	}
	rows := make([][]float64, 0, len(values)/cols)
	for i := 0; i+cols <= len(values); i += cols {
		rows = append(rows, append([]float64(nil), values[i:i+cols]...))
	}
	return rows
}
