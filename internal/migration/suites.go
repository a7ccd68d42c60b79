package migration

import (
	"context"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// MigrateSuites copies a project's suite tree, parents before children.
func (m *Migrator) MigrateSuites(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("suites", p.Source)
	log.Info("=== Migrating suites ===")

	source, err := m.src.ListProjectEntities(ctx, "suite", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing suites: %w", err)
	}

	walkTree(source, func(s models.Resource, parent int) (int, error) {
		srcID := resourceID(s)
		if dst, ok := m.store.Lookup(mapping.Suites, p.Source, srcID); ok {
			return dst, nil
		}
		if canceled(ctx) {
			return 0, ctx.Err()
		}
		title := resourceTitle(s)
		if title == "" {
			title = fmt.Sprintf("Suite %d", srcID)
		}
		payload := map[string]interface{}{
			"title":         title,
			"description":   m.rewrite(p.Source, stringField(s, "description")),
			"preconditions": m.rewrite(p.Source, stringField(s, "preconditions")),
			"parent_id":     nil,
		}
		if parent != 0 {
			payload["parent_id"] = parent
		}
		dst, err := m.dst.CreateID(ctx, platform.ProjectPath("suite", p.Target), payload)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("suites", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			return 0, err
		}
		m.store.Record(mapping.Suites, p.Source, srcID, dst)
		log.Infof("  CREATED: %s (ID %d)", title, dst)
		return dst, nil
	})

	m.stats.Record("suites", len(source), m.store.Count(mapping.Suites, p.Source))
	return ctx.Err()
}
