package migration

import (
	"context"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// MigratePlans copies a project's test plans. Plans with no migrated case
// are skipped since the target rejects empty plans.
func (m *Migrator) MigratePlans(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("plans", p.Source)
	log.Info("=== Migrating plans ===")

	source, err := m.src.ListProjectEntities(ctx, "plan", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing plans: %w", err)
	}
	for _, plan := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcID := resourceID(plan)
		title := resourceTitle(plan)
		if srcID == 0 || title == "" {
			continue
		}
		if _, ok := m.store.Lookup(mapping.Plans, p.Source, srcID); ok {
			continue
		}

		detail, err := m.src.GetProjectEntity(ctx, "plan", p.Source, srcID, nil)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("plans", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			continue
		}
		if detail == nil {
			detail = plan
		}
		cases := m.mapIDList(mapping.Cases, p.Source, listField(detail, "cases"), "case_id", "id")
		if len(cases) == 0 {
			log.Warnf("  SKIP (no cases): %s", title)
			continue
		}

		payload := map[string]interface{}{"title": title, "cases": cases}
		if d := stringField(detail, "description"); d != "" {
			payload["description"] = d
		}
		dst, err := m.dst.CreateID(ctx, platform.ProjectPath("plan", p.Target), payload)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("plans", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			continue
		}
		m.store.Record(mapping.Plans, p.Source, srcID, dst)
		log.Infof("  CREATED: %s (ID %d)", title, dst)
	}
	m.stats.Record("plans", len(source), m.store.Count(mapping.Plans, p.Source))
	return nil
}

// mapIDList maps a list of ids, or objects carrying an id under one of
// keys, through a table. Unmapped and duplicate ids are dropped.
func (m *Migrator) mapIDList(t mapping.IntTable, project string, items []interface{}, keys ...string) []int {
	seen := map[int]bool{}
	out := []int{}
	for _, it := range items {
		var src int
		if obj, ok := it.(map[string]interface{}); ok {
			src = firstIntField(obj, keys...)
		} else {
			src = toInt(it)
		}
		if src == 0 {
			continue
		}
		dst, ok := m.store.Lookup(t, project, src)
		if !ok || seen[dst] {
			continue
		}
		seen[dst] = true
		out = append(out, dst)
	}
	return out
}
