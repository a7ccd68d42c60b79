package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

var (
	customFieldEntities = map[string]int{"case": 0, "run": 1, "defect": 2}
	customFieldTypes    = map[string]int{
		"string":      0,
		"number":      1,
		"text":        2,
		"selectbox":   3,
		"checkbox":    4,
		"radio":       5,
		"multiselect": 6,
		"url":         7,
		"user":        8,
		"date":        9,
	}
)

// MigrateCustomFields creates the workspace's custom fields in the target.
// Fields whose trimmed, case-folded title already exists are reused.
func (m *Migrator) MigrateCustomFields(ctx context.Context) error {
	log := m.entityLog("custom_fields")
	log.Info("=== Migrating custom fields ===")

	source, err := m.src.List(ctx, "/custom_field", nil)
	if err != nil {
		return fmt.Errorf("listing source custom fields: %w", err)
	}
	existing := map[string]int{}
	target, err := m.dst.List(ctx, "/custom_field", nil)
	if err != nil {
		log.Warnf("Listing target custom fields failed: %v", err)
	}
	for _, f := range target {
		if key := normalizeTitle(stringField(f, "title")); key != "" && resourceID(f) != 0 {
			existing[key] = resourceID(f)
		}
	}

	mapped := 0
	for _, f := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcID := resourceID(f)
		title := stringField(f, "title")
		if title == "" {
			continue
		}
		if dst, ok := m.store.CustomField(srcID); ok {
			existing[normalizeTitle(title)] = dst
			mapped++
			continue
		}
		if dst, ok := existing[normalizeTitle(title)]; ok {
			m.store.RecordCustomField(srcID, dst)
			log.Infof("  SKIP (exists): %s", title)
			mapped++
			continue
		}
		dst, err := m.dst.CreateID(ctx, "/custom_field", m.customFieldPayload(f))
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("custom_fields", fmt.Errorf("%s: %w", title, err))
			continue
		}
		m.store.RecordCustomField(srcID, dst)
		existing[normalizeTitle(title)] = dst
		log.Infof("  CREATED: %s (ID %d)", title, dst)
		mapped++
	}
	m.stats.Record("custom_fields", len(source), mapped)
	return nil
}

func (m *Migrator) customFieldPayload(f models.Resource) map[string]interface{} {
	allProjects := boolField(f, "is_enabled_for_all_projects")
	payload := map[string]interface{}{
		"title":                       stringField(f, "title"),
		"entity":                      enumValue(f["entity"], customFieldEntities),
		"type":                        enumValue(f["type"], customFieldTypes),
		"is_filterable":               valueOr(f, "is_filterable", true),
		"is_visible":                  valueOr(f, "is_visible", true),
		"is_required":                 valueOr(f, "is_required", false),
		"is_enabled_for_all_projects": allProjects,
	}
	if opts := customFieldOptions(f["value"]); len(opts) > 0 {
		payload["value"] = opts
	}
	if !allProjects {
		var codes []string
		for _, c := range listField(f, "projects_codes") {
			code := toString(c)
			if dst, ok := m.store.Project(code); ok {
				code = dst
			}
			if code != "" {
				codes = append(codes, code)
			}
		}
		if len(codes) > 0 {
			payload["projects_codes"] = codes
		}
	}
	if v, ok := f["default_value"]; ok && v != nil {
		payload["default_value"] = v
	}
	return payload
}

// enumValue maps a name through names; numbers pass through and anything
// else becomes 0.
func enumValue(v interface{}, names map[string]int) int {
	switch x := v.(type) {
	case string:
		return names[strings.ToLower(x)]
	case float64:
		return int(x)
	case int:
		return x
	}
	return 0
}

type customFieldOption struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// customFieldOptions renumbers select options from 1. Repeated titles get a
// " (n)" suffix since the target rejects duplicates. The source value may
// be a list or a JSON-encoded list.
func customFieldOptions(v interface{}) []customFieldOption {
	var items []interface{}
	switch x := v.(type) {
	case []interface{}:
		items = x
	case string:
		if x == "" || json.Unmarshal([]byte(x), &items) != nil {
			return nil
		}
	default:
		return nil
	}

	seen := map[string]bool{}
	out := make([]customFieldOption, 0, len(items))
	for i, it := range items {
		var title string
		if obj, ok := it.(map[string]interface{}); ok {
			title = stringField(obj, "title")
			if title == "" {
				title = toString(obj["value"])
			}
		} else {
			title = fmt.Sprint(it)
			if s := toString(it); s != "" {
				title = s
			}
		}
		base := title
		for n := 1; seen[title]; n++ {
			title = fmt.Sprintf("%s (%d)", base, n)
		}
		seen[title] = true
		out = append(out, customFieldOption{ID: i + 1, Title: title})
	}
	return out
}
