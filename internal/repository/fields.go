package repository

import (
	"database/sql"
	"encoding/json"
)

// Input batches arrive as plain dictionaries (decoded JSON or
// service-built maps), so numeric fields may be int, int64, float64 or
// json.Number depending on the producer.

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolField(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func int64Field(m map[string]any, key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func nullStringField(m map[string]any, key string) sql.NullString {
	if s, ok := stringField(m, key); ok {
		return sql.NullString{String: s, Valid: true}
	}
	return sql.NullString{}
}
