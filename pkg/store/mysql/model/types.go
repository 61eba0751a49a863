package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

func columnBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column value: %T", value)
	}
}

// JSONStringArray is a custom type for JSON string arrays
type JSONStringArray []string

// Scan implements sql.Scanner interface
func (j *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSONStringArray value: %w", err)
	}
	result := make([]string, 0)
	err = json.Unmarshal(bytes, &result)
	*j = JSONStringArray(result)
	return err
}

// Value implements driver.Valuer interface
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// JSONIntArray is a custom type for JSON integer arrays (tensor shapes)
type JSONIntArray []int

// Scan implements sql.Scanner interface
func (j *JSONIntArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSONIntArray value: %w", err)
	}
	result := make([]int, 0)
	err = json.Unmarshal(bytes, &result)
	*j = JSONIntArray(result)
	return err
}

// Value implements driver.Valuer interface
func (j JSONIntArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// JSONRaw is a JSON column kept undecoded (queue payloads, polymorphic feature lists)
type JSONRaw json.RawMessage

// Scan implements sql.Scanner interface
func (j *JSONRaw) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan JSONRaw value: %w", err)
	}
	*j = append((*j)[:0], bytes...)
	return nil
}

// Value implements driver.Valuer interface
func (j JSONRaw) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("invalid JSON value")
	}
	return []byte(j), nil
}
