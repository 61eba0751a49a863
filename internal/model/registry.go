package model

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// DefaultPriority is used when a descriptor declares no priority; it sorts after every declared one
const DefaultPriority = math.MaxInt32

// FeatureSpec feature requirements of a model, either one flat list (single-sensor)
// or one list per sensor (multi-sensor)
type FeatureSpec struct {
	Flat      []string
	PerSensor [][]string
}

// Nested reports whether the features are listed per sensor
func (f FeatureSpec) Nested() bool {
	return f.PerSensor != nil
}

// Empty reports whether no feature is declared
func (f FeatureSpec) Empty() bool {
	return len(f.Flat) == 0 && len(f.PerSensor) == 0
}

// Total returns the number of declared features across sensors
func (f FeatureSpec) Total() int {
	if !f.Nested() {
		return len(f.Flat)
	}
	n := 0
	for _, fs := range f.PerSensor {
		n += len(fs)
	}
	return n
}

// UnmarshalJSON implements json.Unmarshaler
func (f *FeatureSpec) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("features must be a list: %w", err)
	}
	*f = FeatureSpec{}
	if len(raw) == 0 {
		f.Flat = []string{}
		return nil
	}
	var nested [][]string
	if err := json.Unmarshal(data, &nested); err == nil {
		f.PerSensor = nested
		return nil
	}
	var flat []string
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("features must be a list of names or a list of name lists: %w", err)
	}
	f.Flat = flat
	return nil
}

// MarshalJSON implements json.Marshaler
func (f FeatureSpec) MarshalJSON() ([]byte, error) {
	if f.Nested() {
		return json.Marshal(f.PerSensor)
	}
	if f.Flat == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.Flat)
}

// UnmarshalYAML implements yaml.Unmarshaler
func (f *FeatureSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: features must be a list", node.Line)
	}
	*f = FeatureSpec{}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		return node.Decode(&f.PerSensor)
	}
	f.Flat = []string{}
	return node.Decode(&f.Flat)
}

// ModelDescriptor registry entry, read-only to this service
type ModelDescriptor struct {
	ModelName    string      `json:"model_name" yaml:"model_name"`
	Sensors      []string    `json:"sensors" yaml:"sensors"`
	Features     FeatureSpec `json:"features" yaml:"features"`
	InputShape   []int       `json:"input_shape" yaml:"input_shape"` // [windows, timesteps, total_features]
	URL          string      `json:"url" yaml:"url"`                 // executable reference: local path or remote URL
	Priority     *int        `json:"priority,omitempty" yaml:"priority,omitempty"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	Requirements string      `json:"execution_requirements,omitempty" yaml:"execution_requirements,omitempty"`
}

// EffectivePriority returns the declared priority or DefaultPriority
func (m *ModelDescriptor) EffectivePriority() int {
	if m.Priority == nil {
		return DefaultPriority
	}
	return *m.Priority
}

// SensorFeatures required feature names of one sensor, in registry order
type SensorFeatures struct {
	Sensor   string   `json:"sensor"`
	Features []string `json:"features"`
}

// Match model proven satisfiable by the available data
type Match struct {
	ModelName    string           `json:"model_name"`
	URL          string           `json:"url"`
	Description  string           `json:"description,omitempty"`
	Requirements string           `json:"execution_requirements,omitempty"`
	InputShape   []int            `json:"input_shape"`
	Features     []SensorFeatures `json:"features"` // per-sensor, registry order
	Sensors      []string         `json:"sensors"`
	Priority     int              `json:"priority"`
}

// TotalFeatures returns the number of feature columns across sensors
func (m *Match) TotalFeatures() int {
	n := 0
	for _, sf := range m.Features {
		n += len(sf.Features)
	}
	return n
}

// Windows returns input_shape[0], or 1 when the shape is shorter
func (m *Match) Windows() int {
	if len(m.InputShape) < 1 {
		return 1
	}
	return m.InputShape[0]
}

// Timesteps returns input_shape[1], or 1 when the shape is shorter
func (m *Match) Timesteps() int {
	if len(m.InputShape) < 2 {
		return 1
	}
	return m.InputShape[1]
}
