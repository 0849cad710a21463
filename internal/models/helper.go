package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// TextMap stores localized text keyed by language code ("en", "fr", ...).
// Persisted as a jsonb column.
type TextMap map[string]string

func (m TextMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *TextMap) Scan(value interface{}) error {
	if value == nil {
		*m = TextMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for TextMap")
	}
	return json.Unmarshal(data, m)
}
