package migration

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// resourceID extracts the numeric ID from a Resource.
func resourceID(r models.Resource) int {
	return toInt(r["id"])
}

// resourceTitle returns the title (or name) of a Resource.
func resourceTitle(r models.Resource) string {
	if t, ok := r["title"].(string); ok && t != "" {
		return t
	}
	if n, ok := r["name"].(string); ok {
		return n
	}
	return ""
}

// intField safely extracts an int field from a map.
func intField(obj map[string]interface{}, field string) int {
	return toInt(obj[field])
}

// firstIntField returns the first non-zero int among fields.
func firstIntField(obj map[string]interface{}, fields ...string) int {
	for _, f := range fields {
		if v := toInt(obj[f]); v != 0 {
			return v
		}
	}
	return 0
}

// stringField safely extracts a string field, returning "" if nil.
func stringField(obj map[string]interface{}, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}

// stringOr returns the string field, or def when it is missing or empty.
func stringOr(obj map[string]interface{}, field, def string) string {
	if v := stringField(obj, field); v != "" {
		return v
	}
	return def
}

// boolField safely extracts a bool field, returning false if nil.
// Numeric 0/1 flags are accepted too.
func boolField(obj map[string]interface{}, field string) bool {
	switch v := obj[field].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}
	return false
}

// valueOr returns obj[field], or def when the field is absent or null.
func valueOr(obj map[string]interface{}, field string, def interface{}) interface{} {
	if v, ok := obj[field]; ok && v != nil {
		return v
	}
	return def
}

// objectField returns a nested object, or nil.
func objectField(obj map[string]interface{}, field string) map[string]interface{} {
	if m, ok := obj[field].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// listField returns a nested array, or nil.
func listField(obj map[string]interface{}, field string) []interface{} {
	if l, ok := obj[field].([]interface{}); ok {
		return l
	}
	return nil
}

// toInt converts various numeric types (and numeric strings) to int.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	}
	return 0
}

// toString renders scalar ids as strings.
func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case json.Number:
		return s.String()
	}
	return ""
}

// normalizeTitle is the dedupe key for title-matched entities.
func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
