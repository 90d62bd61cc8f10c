package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap stores a free-form object in a TEXT column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *JSONMap) Scan(src interface{}) error {
	raw, err := coerceBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// StringList stores a JSON array of strings in a TEXT column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (l *StringList) Scan(src interface{}) error {
	raw, err := coerceBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(raw, l)
}

// JSONValue stores an arbitrary decoded JSON value (object, array,
// string, number, bool, or null) without reparsing on read.
type JSONValue struct {
	V interface{}
}

func (j JSONValue) Value() (driver.Value, error) {
	raw, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (j *JSONValue) Scan(src interface{}) error {
	raw, err := coerceBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		j.V = nil
		return nil
	}
	return json.Unmarshal(raw, &j.V)
}

func (j JSONValue) MarshalJSON() ([]byte, error)    { return json.Marshal(j.V) }
func (j *JSONValue) UnmarshalJSON(raw []byte) error { return json.Unmarshal(raw, &j.V) }

func coerceBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", src)
	}
}
