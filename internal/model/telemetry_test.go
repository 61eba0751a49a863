package model

import (
	"encoding/json"
	"testing"
	"time"

	"senseflow/pkg/apperr"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestBatch_EffectiveIDs(t *testing.T) {
	tests := []struct {
		name     string
		batch    Batch
		wantUser string
		wantOK   bool
	}{
		{
			name:     "batch level wins",
			batch:    Batch{UserID: "u-batch", Records: []Record{{UserID: "u-rec"}}},
			wantUser: "u-batch",
			wantOK:   true,
		},
		{
			name:     "first record carrying one",
			batch:    Batch{Records: []Record{{}, {UserID: "u-2"}, {UserID: "u-3"}}},
			wantUser: "u-2",
			wantOK:   true,
		},
		{
			name:   "none",
			batch:  Batch{Records: []Record{{}, {}}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.batch.EffectiveUserID()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantUser, got)
		})
	}

	b := Batch{Records: []Record{{ExecutionID: "e-1"}}}
	id, ok := b.EffectiveExecutionID()
	assert.True(t, ok)
	assert.Equal(t, "e-1", id)
}

func TestBatch_Validate(t *testing.T) {
	ts := &Timestamp{Time: time.Unix(1700000000, 0)}
	valid := Record{SensorID: "wrist", Features: []string{"acc_x"}, Value: f64(1), Time: ts}

	tests := []struct {
		name    string
		mutate  func(b *Batch)
		wantErr string
	}{
		{"valid", func(b *Batch) {}, ""},
		{"no records", func(b *Batch) { b.Records = nil }, "no records"},
		{"missing sensor", func(b *Batch) { b.Records[0].SensorID = "" }, "record 0: 'bn'"},
		{"two features", func(b *Batch) { b.Records[0].Features = []string{"a", "b"} }, "exactly one feature"},
		{"missing time", func(b *Batch) { b.Records[0].Time = nil }, "'t' (timestamp)"},
		{"nil value allowed", func(b *Batch) { b.Records[0].Value = nil }, ""},
		{"bad mode", func(b *Batch) { b.Mode = "some" }, "unknown selection_mode"},
		{"named without model", func(b *Batch) { b.Mode = SelectionNamed }, "requires model_name"},
		{"bad format", func(b *Batch) { b.OutputFormat = "csv" }, "unknown output_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Batch{Records: []Record{valid}}
			tt.mutate(&b)
			err := b.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrMalformedInput))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBatch_DecodeSenML(t *testing.T) {
	body := `{
		"bt": 1700000000,
		"execution_id": "e-1",
		"e": [
			{"bn": "wrist", "n": ["acc_x"], "v": 0.5, "t": 1, "user_id": "u-1"},
			{"bn": "wrist", "n": ["acc_y"], "v": 0.25, "t": "2023-11-14T22:13:21Z"},
			{"bn": "ankle", "n": ["gyro_z"], "t": 1700000002.5}
		]
	}`
	var b Batch
	require.NoError(t, json.Unmarshal([]byte(body), &b))
	require.NoError(t, b.Validate())
	b.Normalize()

	assert.Equal(t, time.Unix(1700000001, 0).UTC(), b.Records[0].Time.Time)
	assert.Equal(t, time.Unix(1700000001, 0).UTC(), b.Records[1].Time.Time)
	assert.Equal(t, time.Unix(1700000002, 5e8).UTC(), b.Records[2].Time.Time)
	assert.Equal(t, 0.0, b.Records[2].NumericValue())

	user, ok := b.EffectiveUserID()
	require.True(t, ok)
	b.PropagateIDs(user, "e-1")
	for _, r := range b.Records {
		assert.Equal(t, "u-1", r.UserID)
		assert.Equal(t, "e-1", r.ExecutionID)
	}

	available := b.AvailableFeatures()
	assert.True(t, available.Has("wrist", []string{"acc_x", "acc_y"}))
	assert.False(t, available.Has("wrist", []string{"acc_z"}))
	assert.False(t, available.Has("chest", nil))
	assert.Equal(t, []string{"ankle", "wrist"}, b.Sensors())
	assert.Equal(t, []string{"acc_x", "acc_y", "gyro_z"}, available.AllFeatures())
}

func TestDecodeQueuePayload(t *testing.T) {
	b := &Batch{Records: []Record{{SensorID: "wrist", Features: []string{"x"}}}}
	data, err := json.Marshal(NewTelemetryPayload(b))
	require.NoError(t, err)

	p, err := DecodeQueuePayload(data)
	require.NoError(t, err)
	assert.Equal(t, PayloadTelemetry, p.Kind)
	assert.Equal(t, "wrist", p.Batch.Records[0].SensorID)

	// bare SenML rows are telemetry
	p, err = DecodeQueuePayload([]byte(`{"bt": 0, "e": [{"bn": "wrist", "n": ["x"], "t": 1}]}`))
	require.NoError(t, err)
	assert.Equal(t, PayloadTelemetry, p.Kind)

	fog := NewOutputPayload(&OutputPayload{ModelName: "har", Matrix: [][]float64{{1, 2}}})
	assert.Equal(t, PayloadModelOutputFog, fog.Kind)
	flat := NewOutputPayload(&OutputPayload{ModelName: "har", Values: []float64{1}})
	assert.Equal(t, PayloadModelOutput, flat.Kind)

	_, err = DecodeQueuePayload([]byte(`{"kind": "model_output"}`))
	assert.Error(t, err)
	_, err = DecodeQueuePayload([]byte(`{"kind": "other"}`))
	assert.Error(t, err)
	_, err = DecodeQueuePayload([]byte(`{}`))
	assert.Error(t, err)
}

func TestFeatureSpec_Decode(t *testing.T) {
	var d ModelDescriptor
	require.NoError(t, json.Unmarshal([]byte(`{"model_name":"m","sensors":["a","b"],"features":[["f1","f2"],["f3"]],"input_shape":[2,3,3],"url":"m.wasm"}`), &d))
	assert.True(t, d.Features.Nested())
	assert.Equal(t, 3, d.Features.Total())
	assert.Equal(t, DefaultPriority, d.EffectivePriority())

	require.NoError(t, json.Unmarshal([]byte(`{"model_name":"m","sensors":["a"],"features":["f1"],"priority":2}`), &d))
	assert.False(t, d.Features.Nested())
	assert.Equal(t, []string{"f1"}, d.Features.Flat)
	assert.Equal(t, 2, d.EffectivePriority())

	out, err := json.Marshal(FeatureSpec{PerSensor: [][]string{{"x"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `[["x"]]`, string(out))
}
