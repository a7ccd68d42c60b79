package migration

import (
	"context"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// MigrateConfigurations copies a project's configuration groups and the
// configurations inside each group.
func (m *Migrator) MigrateConfigurations(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("configurations", p.Source)
	log.Info("=== Migrating configurations ===")

	groups, err := m.src.ListProjectEntities(ctx, "configuration", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing configurations: %w", err)
	}

	base := platform.ProjectPath("configuration", p.Target)
	total := 0
	for _, g := range groups {
		configs := groupConfigs(g)
		total += len(configs)
		if canceled(ctx) {
			return ctx.Err()
		}

		srcGroup := resourceID(g)
		title := resourceTitle(g)
		dstGroup, ok := m.store.Lookup(mapping.ConfigurationGroups, p.Source, srcGroup)
		if !ok {
			dstGroup, err = m.dst.CreateID(ctx, base+"/group", map[string]interface{}{"title": title})
			if err != nil {
				log.Errorf("  FAIL: group %s: %v", title, err)
				m.stats.AddError("configurations", fmt.Errorf("%s/group %s: %w", p.Source, title, err))
				continue
			}
			m.store.Record(mapping.ConfigurationGroups, p.Source, srcGroup, dstGroup)
			log.Infof("  CREATED: group %s (ID %d)", title, dstGroup)
		}

		for _, c := range configs {
			srcID := resourceID(c)
			if _, ok := m.store.Lookup(mapping.Configurations, p.Source, srcID); ok {
				continue
			}
			ct := resourceTitle(c)
			if ct == "" {
				continue
			}
			dst, err := m.dst.CreateID(ctx, base, map[string]interface{}{"title": ct, "group_id": dstGroup})
			if err != nil {
				log.Errorf("  FAIL: %s: %v", ct, err)
				m.stats.AddError("configurations", fmt.Errorf("%s/%s: %w", p.Source, ct, err))
				continue
			}
			m.store.Record(mapping.Configurations, p.Source, srcID, dst)
			log.Infof("  CREATED: %s (ID %d)", ct, dst)
		}
	}

	m.stats.Record("configuration_groups", len(groups), m.store.Count(mapping.ConfigurationGroups, p.Source))
	m.stats.Record("configurations", total, m.store.Count(mapping.Configurations, p.Source))
	return nil
}

// groupConfigs returns the configurations nested in a group. The key varies
// between API versions.
func groupConfigs(g models.Resource) []models.Resource {
	var raw []interface{}
	for _, key := range []string{"configurations", "configs", "entities"} {
		if raw = listField(g, key); raw != nil {
			break
		}
	}
	out := make([]models.Resource, 0, len(raw))
	for _, r := range raw {
		if c, ok := r.(map[string]interface{}); ok {
			out = append(out, c)
		}
	}
	return out
}
