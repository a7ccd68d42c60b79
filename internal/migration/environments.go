package migration

import (
	"context"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// MigrateEnvironments copies a project's environments.
func (m *Migrator) MigrateEnvironments(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("environments", p.Source)
	log.Info("=== Migrating environments ===")

	source, err := m.src.ListProjectEntities(ctx, "environment", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing environments: %w", err)
	}
	for _, env := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcID := resourceID(env)
		title := resourceTitle(env)
		if srcID == 0 || title == "" {
			continue
		}
		if _, ok := m.store.Lookup(mapping.Environments, p.Source, srcID); ok {
			continue
		}
		payload := map[string]interface{}{
			"title": title,
			"slug":  stringField(env, "slug"),
			"host":  stringField(env, "host"),
		}
		if d := stringField(env, "description"); d != "" {
			payload["description"] = d
		}
		dst, err := m.dst.CreateID(ctx, platform.ProjectPath("environment", p.Target), payload)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("environments", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			continue
		}
		m.store.Record(mapping.Environments, p.Source, srcID, dst)
		log.Infof("  CREATED: %s (ID %d)", title, dst)
	}
	m.stats.Record("environments", len(source), m.store.Count(mapping.Environments, p.Source))
	return nil
}
