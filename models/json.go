package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap é um documento JSON aberto persistido numa coluna jsonb (postgres)
// ou text (sqlite3). form_data e metadata usam este tipo.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonmap: cannot scan %T", src)
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// Copy devolve uma cópia rasa do mapa (nunca nil).
func (m JSONMap) Copy() JSONMap {
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetString devolve m[key] como string, ou "" se ausente/outro tipo.
func (m JSONMap) GetString(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
