package migration

import (
	"encoding/json"
	"testing"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name   string
		input  interface{}
		expect int
	}{
		{"float64", float64(42), 42},
		{"int", 7, 7},
		{"json.Number", json.Number("99"), 99},
		{"numeric string", " 12 ", 12},
		{"nil", nil, 0},
		{"string", "not a number", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := toInt(tc.input)
			if got != tc.expect {
				t.Errorf("toInt(%v) = %d, want %d", tc.input, got, tc.expect)
			}
		})
	}
}

func TestStringField(t *testing.T) {
	obj := map[string]interface{}{
		"name":  "hello",
		"count": 42,
		"empty": nil,
	}
	if got := stringField(obj, "name"); got != "hello" {
		t.Errorf("stringField(name) = %q, want %q", got, "hello")
	}
	if got := stringField(obj, "count"); got != "" {
		t.Errorf("stringField(count) = %q, want empty", got)
	}
	if got := stringField(obj, "missing"); got != "" {
		t.Errorf("stringField(missing) = %q, want empty", got)
	}
	if got := stringOr(obj, "empty", "fallback"); got != "fallback" {
		t.Errorf("stringOr(empty) = %q, want fallback", got)
	}
}

func TestIntField(t *testing.T) {
	obj := map[string]interface{}{
		"id":         float64(10),
		"name":       "test",
		"created_by": float64(0),
		"author_id":  float64(5),
	}
	if got := intField(obj, "id"); got != 10 {
		t.Errorf("intField(id) = %d, want 10", got)
	}
	if got := intField(obj, "missing"); got != 0 {
		t.Errorf("intField(missing) = %d, want 0", got)
	}
	if got := firstIntField(obj, "member_id", "created_by", "author_id"); got != 5 {
		t.Errorf("firstIntField = %d, want 5", got)
	}
}

func TestBoolField(t *testing.T) {
	obj := map[string]interface{}{"a": true, "b": float64(1), "c": float64(0), "d": "true"}
	tests := []struct {
		field string
		want  bool
	}{
		{"a", true}, {"b", true}, {"c", false}, {"d", false}, {"missing", false},
	}
	for _, tc := range tests {
		if got := boolField(obj, tc.field); got != tc.want {
			t.Errorf("boolField(%s) = %v, want %v", tc.field, got, tc.want)
		}
	}
}

func TestResourceTitle(t *testing.T) {
	tests := []struct {
		name   string
		res    models.Resource
		expect string
	}{
		{"title", models.Resource{"title": "Smoke", "name": "ignored"}, "Smoke"},
		{"name fallback", models.Resource{"name": "Regression"}, "Regression"},
		{"empty title", models.Resource{"title": "", "name": "N"}, "N"},
		{"none", models.Resource{}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resourceTitle(tc.res); got != tc.expect {
				t.Errorf("resourceTitle = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestToString(t *testing.T) {
	if got := toString(float64(12)); got != "12" {
		t.Errorf("toString(12.0) = %q", got)
	}
	if got := toString("abc"); got != "abc" {
		t.Errorf("toString(abc) = %q", got)
	}
	if got := toString(nil); got != "" {
		t.Errorf("toString(nil) = %q", got)
	}
}
