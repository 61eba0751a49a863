package model

// SelectionMode policy choosing which compatible models run
type SelectionMode string

const (
	SelectionAll   SelectionMode = "all"   // every compatible model
	SelectionBest  SelectionMode = "best"  // lowest priority value
	SelectionNamed SelectionMode = "named" // the model named in the request
)

// OutputFormat persisted and returned shape of model output
type OutputFormat string

const (
	OutputFlat   OutputFormat = "flat"   // one point per output element
	OutputMatrix OutputFormat = "matrix" // time x feature matrix (fog-ready)
)

// DispatchStatus terminal state of a dispatch
type DispatchStatus string

const (
	DispatchCompleted DispatchStatus = "completed" // every selected model succeeded
	DispatchPartial   DispatchStatus = "partial"   // at least one selected model errored
	DispatchNoMatch   DispatchStatus = "no_match"  // no compatible model
)

// ModelResult outcome of one model within a dispatch
type ModelResult struct {
	ModelName    string      `json:"model_name"`
	Sensors      []string    `json:"sensors"`
	Output       []float64   `json:"output,omitempty"`        // flat output
	OutputShape  []int       `json:"output_shape,omitempty"`
	OutputMatrix [][]float64 `json:"output_matrix,omitempty"` // rows = time steps, columns = features
	Error        string      `json:"error,omitempty"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	ExecTimeMS   float64     `json:"exec_time_ms"`
	Saved        bool        `json:"saved"`
}

// Failed reports whether the model errored
func (r *ModelResult) Failed() bool {
	return r.Error != ""
}

// DispatchResponse aggregated dispatch outcome
type DispatchResponse struct {
	Status      DispatchStatus `json:"status"`
	UserID      string         `json:"user_id"`
	ExecutionID string         `json:"execution_id"`
	Mode        SelectionMode  `json:"selection_mode"`
	Results     []ModelResult  `json:"results"`
	Purged      bool           `json:"purged,omitempty"`
	PurgeError  string         `json:"purge_error,omitempty"`
	ElapsedMS   float64        `json:"elapsed_ms"`
}

// IngestResponse ingest outcome
type IngestResponse struct {
	Accepted       int      `json:"accepted"`
	QueueID        int64    `json:"queue_id,omitempty"`
	UserID         string   `json:"user_id"`
	ExecutionID    string   `json:"execution_id"`
	Sensors        []string `json:"sensors"`
	Features       []string `json:"features"`
	UnknownSensors []string `json:"unknown_sensors,omitempty"`
	ElapsedMS      float64  `json:"elapsed_ms"`
}
