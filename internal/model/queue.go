package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueEntry claimed queue row
type QueueEntry struct {
	ID      int64           `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// QueueStats backlog accounting
type QueueStats struct {
	Unclaimed        int64   `json:"unclaimed"`
	Claimed          int64   `json:"claimed"`
	OldestUnclaimedS float64 `json:"oldest_unclaimed_seconds"` // 0 when the backlog is empty
}

// PayloadKind discriminates queued payloads
type PayloadKind string

const (
	PayloadTelemetry      PayloadKind = "telemetry"        // SenML batch -> sensor_data
	PayloadModelOutput    PayloadKind = "model_output"     // flat model output -> model_output
	PayloadModelOutputFog PayloadKind = "model_output_fog" // matrix model output -> model_output
)

// QueuePayload envelope written to the queue table
type QueuePayload struct {
	Kind   PayloadKind    `json:"kind"`
	Batch  *Batch         `json:"batch,omitempty"`
	Output *OutputPayload `json:"output,omitempty"`
}

// OutputPayload model output to persist
type OutputPayload struct {
	UserID      string      `json:"user_id"`
	ExecutionID string      `json:"execution_id"`
	ModelName   string      `json:"model_name"`
	Sensor      string      `json:"sensor"`
	Time        time.Time   `json:"time"`
	Values      []float64   `json:"values,omitempty"` // flat
	Matrix      [][]float64 `json:"matrix,omitempty"` // rows x features
}

// NewTelemetryPayload wraps a batch
func NewTelemetryPayload(b *Batch) *QueuePayload {
	return &QueuePayload{Kind: PayloadTelemetry, Batch: b}
}

// NewOutputPayload wraps a model output; matrix outputs use the fog kind
func NewOutputPayload(o *OutputPayload) *QueuePayload {
	if o.Matrix != nil {
		return &QueuePayload{Kind: PayloadModelOutputFog, Output: o}
	}
	return &QueuePayload{Kind: PayloadModelOutput, Output: o}
}

// DecodeQueuePayload decodes a queued payload. Rows without a kind are read as bare SenML batches.
func DecodeQueuePayload(data []byte) (*QueuePayload, error) {
	var p QueuePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode queue payload: %w", err)
	}
	switch p.Kind {
	case PayloadTelemetry:
		if p.Batch == nil {
			return nil, fmt.Errorf("telemetry payload without batch")
		}
	case PayloadModelOutput, PayloadModelOutputFog:
		if p.Output == nil {
			return nil, fmt.Errorf("%s payload without output", p.Kind)
		}
	case "":
		var b Batch
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to decode SenML payload: %w", err)
		}
		if len(b.Records) == 0 {
			return nil, fmt.Errorf("payload has no kind and no records")
		}
		return &QueuePayload{Kind: PayloadTelemetry, Batch: &b}, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", p.Kind)
	}
	return &p, nil
}
