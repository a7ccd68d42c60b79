package migration

import (
	"context"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// MigrateSharedParameters copies the shared parameters used by the given
// source projects. Parameters whose title already exists in the target are
// reused.
func (m *Migrator) MigrateSharedParameters(ctx context.Context, projectCodes []string) error {
	log := m.entityLog("shared_parameters")
	log.Info("=== Migrating shared parameters ===")

	source, err := m.srcRaw.ListSharedParameters(ctx, projectCodes)
	if err != nil {
		return fmt.Errorf("listing source shared parameters: %w", err)
	}
	existing := map[string]string{}
	target, err := m.dstRaw.ListSharedParameters(ctx, nil)
	if err != nil {
		log.Warnf("Listing target shared parameters failed: %v", err)
	}
	for _, p := range target {
		if key := normalizeTitle(stringField(p, "title")); key != "" {
			existing[key] = toString(p["id"])
		}
	}

	mapped := 0
	for _, p := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcID := toString(p["id"])
		title := stringField(p, "title")
		if srcID == "" || title == "" {
			continue
		}
		if _, ok := m.store.SharedParameter(srcID); ok {
			mapped++
			continue
		}
		if dst, ok := existing[normalizeTitle(title)]; ok && dst != "" {
			m.store.RecordSharedParameter(srcID, dst)
			log.Infof("  SKIP (exists): %s", title)
			mapped++
			continue
		}
		payload := m.sharedParameterPayload(p)
		if payload == nil {
			log.Infof("  SKIP (no values): %s", title)
			continue
		}
		dst, err := m.dstRaw.CreateSharedParameter(ctx, payload)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("shared_parameters", fmt.Errorf("%s: %w", title, err))
			continue
		}
		m.store.RecordSharedParameter(srcID, dst)
		existing[normalizeTitle(title)] = dst
		log.Infof("  CREATED: %s (ID %s)", title, dst)
		mapped++
	}
	m.stats.Record("shared_parameters", len(source), mapped)
	return nil
}

// sharedParameterPayload returns nil when the parameter has no titled values.
func (m *Migrator) sharedParameterPayload(p models.Resource) map[string]interface{} {
	var params []map[string]interface{}
	for _, raw := range listField(p, "parameters") {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		title := stringField(item, "title")
		values := item["values"]
		if title == "" || values == nil {
			continue
		}
		if _, isList := values.([]interface{}); !isList {
			values = []interface{}{values}
		}
		params = append(params, map[string]interface{}{"title": title, "values": values})
	}
	if len(params) == 0 {
		return nil
	}

	allProjects := boolField(p, "is_enabled_for_all_projects")
	payload := map[string]interface{}{
		"type":                        p["type"],
		"title":                       stringField(p, "title"),
		"is_enabled_for_all_projects": allProjects,
		"parameters":                  params,
	}
	if !allProjects {
		var codes []string
		for _, c := range listField(p, "project_codes") {
			code := toString(c)
			if dst, ok := m.store.Project(code); ok {
				code = dst
			}
			codes = append(codes, code)
		}
		if len(codes) > 0 {
			payload["project_codes"] = codes
		}
	}
	return payload
}
