package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

var defectSeverities = map[string]int{
	"undefined": 0,
	"blocker":   1,
	"critical":  2,
	"major":     3,
	"normal":    4,
	"minor":     5,
	"trivial":   6,
}

var resolvedDefectStatuses = map[string]bool{
	"resolved":  true,
	"closed":    true,
	"invalid":   true,
	"duplicate": true,
}

// defectResolved reports whether a source defect should be resolved in the target.
func defectResolved(d models.Resource) bool {
	switch v := d["status"].(type) {
	case string:
		return resolvedDefectStatuses[strings.ToLower(v)]
	case float64:
		return v > 0
	}
	return false
}

// MigrateDefects copies a project's defects and resolves the ones that were
// resolved in the source.
func (m *Migrator) MigrateDefects(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("defects", p.Source)
	log.Info("=== Migrating defects ===")

	source, err := m.src.ListProjectEntities(ctx, "defect", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing defects: %w", err)
	}
	for _, d := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcID := resourceID(d)
		if srcID == 0 {
			continue
		}
		if _, ok := m.store.Lookup(mapping.Defects, p.Source, srcID); ok {
			continue
		}
		title := resourceTitle(d)
		payload := map[string]interface{}{
			"title":         title,
			"actual_result": m.rewrite(p.Source, stringField(d, "actual_result")),
			"severity":      enumValue(d["severity"], defectSeverities),
			"author_id":     m.targetUser(firstIntField(d, "author_id", "member_id")),
		}
		if v := m.mapped(mapping.Milestones, p.Source, intField(d, "milestone_id")); v != nil {
			payload["milestone_id"] = v
		}
		if att := m.mapAttachmentList(p.Source, listField(d, "attachments")); len(att) > 0 {
			payload["attachments"] = att
		}

		dst, err := m.dstRaw.CreateDefect(ctx, p.Target, payload)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("defects", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			continue
		}
		m.store.Record(mapping.Defects, p.Source, srcID, dst)
		log.Infof("  CREATED: %s (ID %d)", title, dst)

		if defectResolved(d) {
			if err := m.dstRaw.ResolveDefect(ctx, p.Target, dst); err != nil {
				log.Errorf("  FAIL: resolving %s: %v", title, err)
				m.stats.AddError("defects", fmt.Errorf("%s/%s resolve: %w", p.Source, title, err))
			}
		}
	}
	m.stats.Record("defects", len(source), m.store.Count(mapping.Defects, p.Source))
	return nil
}
