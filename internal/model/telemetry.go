package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"senseflow/pkg/apperr"
)

// relativeTimeThreshold numeric times below 2^28 seconds are relative to the batch base time (RFC 8428)
const relativeTimeThreshold = 1 << 28

// Timestamp accepts an RFC 3339 string or a number of (possibly fractional) seconds
type Timestamp struct {
	Time     time.Time
	Relative bool // numeric value below relativeTimeThreshold, resolved against the base time
	offset   float64
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	if math.Abs(f) < relativeTimeThreshold {
		t.Relative = true
		t.offset = f
		return nil
	}
	t.Time = secondsToTime(f)
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// resolve turns a relative timestamp into an absolute one
func (t *Timestamp) resolve(base float64) {
	if !t.Relative {
		return
	}
	t.Time = secondsToTime(base + t.offset)
	t.Relative = false
}

func secondsToTime(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Record single-feature sensor reading (SenML record)
type Record struct {
	SensorID    string     `json:"bn"`
	Features    []string   `json:"n"`            // exactly one feature name
	Value       *float64   `json:"v,omitempty"`  // missing values are stored as 0
	StringValue string     `json:"vs,omitempty"` // accepted, not stored
	Unit        string     `json:"u,omitempty"`
	Time        *Timestamp `json:"t,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	ExecutionID string     `json:"execution_id,omitempty"`
}

// Feature returns the record's single feature name
func (r *Record) Feature() string {
	if len(r.Features) == 0 {
		return ""
	}
	return r.Features[0]
}

// NumericValue returns the value, 0 when absent
func (r *Record) NumericValue() float64 {
	if r.Value == nil {
		return 0
	}
	return *r.Value
}

// Batch telemetry batch (SenML pack)
type Batch struct {
	BaseTime     float64       `json:"bt"`
	BaseUnit     string        `json:"bu,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	ExecutionID  string        `json:"execution_id,omitempty"`
	Records      []Record      `json:"e"`
	Mode         SelectionMode `json:"selection_mode,omitempty"`
	ModelName    string        `json:"model_name,omitempty"`
	OutputFormat OutputFormat  `json:"output_format,omitempty"`
}

// EffectiveUserID returns the batch-level user id, else the first record carrying one
func (b *Batch) EffectiveUserID() (string, bool) {
	return effectiveID(b.UserID, b.Records, func(r *Record) string { return r.UserID })
}

// EffectiveExecutionID returns the batch-level execution id, else the first record carrying one
func (b *Batch) EffectiveExecutionID() (string, bool) {
	return effectiveID(b.ExecutionID, b.Records, func(r *Record) string { return r.ExecutionID })
}

func effectiveID(batchLevel string, records []Record, get func(*Record) string) (string, bool) {
	if batchLevel != "" {
		return batchLevel, true
	}
	for i := range records {
		if id := get(&records[i]); id != "" {
			return id, true
		}
	}
	return "", false
}

// Validate checks record shape; errors are marked apperr.ErrMalformedInput and name the record index
func (b *Batch) Validate() error {
	if len(b.Records) == 0 {
		return apperr.MalformedInput("batch has no records")
	}
	for i := range b.Records {
		r := &b.Records[i]
		if r.SensorID == "" {
			return apperr.MalformedInput("record %d: 'bn' (sensor) is required", i)
		}
		if len(r.Features) != 1 || r.Features[0] == "" {
			return apperr.MalformedInput("record %d: 'n' must contain exactly one feature", i)
		}
		if r.Time == nil {
			return apperr.MalformedInput("record %d: 't' (timestamp) is required", i)
		}
		if r.Value != nil && (math.IsNaN(*r.Value) || math.IsInf(*r.Value, 0)) {
			return apperr.MalformedInput("record %d: 'v' must be a finite number", i)
		}
	}
	switch b.Mode {
	case "", SelectionAll, SelectionBest, SelectionNamed:
	default:
		return apperr.MalformedInput("unknown selection_mode %q", b.Mode)
	}
	if b.Mode == SelectionNamed && b.ModelName == "" {
		return apperr.MalformedInput("selection_mode 'named' requires model_name")
	}
	switch b.OutputFormat {
	case "", OutputFlat, OutputMatrix:
	default:
		return apperr.MalformedInput("unknown output_format %q", b.OutputFormat)
	}
	return nil
}

// Normalize resolves relative record times against the base time
func (b *Batch) Normalize() {
	for i := range b.Records {
		if b.Records[i].Time != nil {
			b.Records[i].Time.resolve(b.BaseTime)
		}
	}
}

// PropagateIDs sets batch-level ids and copies them onto records that lack them
func (b *Batch) PropagateIDs(userID, executionID string) {
	b.UserID = userID
	b.ExecutionID = executionID
	for i := range b.Records {
		if b.Records[i].UserID == "" {
			b.Records[i].UserID = userID
		}
		if b.Records[i].ExecutionID == "" {
			b.Records[i].ExecutionID = executionID
		}
	}
}

// AvailableFeatures returns the sensor -> feature set carried by the batch
func (b *Batch) AvailableFeatures() Availability {
	available := make(Availability)
	for i := range b.Records {
		r := &b.Records[i]
		if r.SensorID == "" || r.Feature() == "" {
			continue
		}
		available.Add(r.SensorID, r.Feature())
	}
	return available
}

// Sensors returns the sorted distinct sensor ids in the batch
func (b *Batch) Sensors() []string {
	return b.AvailableFeatures().Sensors()
}

// SelectionModeOrDefault returns the mode, defaulting to all
func (b *Batch) SelectionModeOrDefault() SelectionMode {
	if b.Mode == "" {
		return SelectionAll
	}
	return b.Mode
}

// Availability sensor id -> set of feature names
type Availability map[string]map[string]struct{}

// Add records that sensor provides feature
func (a Availability) Add(sensor, feature string) {
	set, ok := a[sensor]
	if !ok {
		set = make(map[string]struct{})
		a[sensor] = set
	}
	set[feature] = struct{}{}
}

// Has reports whether sensor provides every feature in required
func (a Availability) Has(sensor string, required []string) bool {
	set, ok := a[sensor]
	if !ok {
		return false
	}
	for _, f := range required {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}

// Sensors returns the sorted sensor ids
func (a Availability) Sensors() []string {
	out := make([]string, 0, len(a))
	for s := range a {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Features returns the sorted feature names of sensor
func (a Availability) Features(sensor string) []string {
	out := make([]string, 0, len(a[sensor]))
	for f := range a[sensor] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// AllFeatures returns the sorted union of feature names
func (a Availability) AllFeatures() []string {
	seen := make(map[string]struct{})
	for _, set := range a {
		for f := range set {
			seen[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy
func (a Availability) Clone() Availability {
	out := make(Availability, len(a))
	for s, set := range a {
		cp := make(map[string]struct{}, len(set))
		for f := range set {
			cp[f] = struct{}{}
		}
		out[s] = cp
	}
	return out
}

// MarshalJSON renders the sets as sorted lists
func (a Availability) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(a))
	for s := range a {
		out[s] = a.Features(s)
	}
	return json.Marshal(out)
}
