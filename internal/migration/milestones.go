package migration

import (
	"context"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// createFunc creates one tree node under the given target parent (0 for a
// root) and returns its target id.
type createFunc func(node models.Resource, parent int) (int, error)

// walkTree creates nodes parents-first. Nodes whose parent is missing from
// the list are treated as roots. A node whose creation fails takes its
// subtree with it.
func walkTree(nodes []models.Resource, create createFunc) {
	known := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		known[resourceID(n)] = true
	}
	children := map[int][]models.Resource{}
	for _, n := range nodes {
		parent := intField(n, "parent_id")
		if !known[parent] || parent == resourceID(n) {
			parent = 0
		}
		children[parent] = append(children[parent], n)
	}

	var visit func(parent, dstParent int)
	visit = func(parent, dstParent int) {
		for _, n := range children[parent] {
			dst, err := create(n, dstParent)
			if err != nil || dst == 0 {
				continue
			}
			visit(resourceID(n), dst)
		}
	}
	visit(0, 0)
}

// MigrateMilestones copies a project's milestones, parents before children.
func (m *Migrator) MigrateMilestones(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("milestones", p.Source)
	log.Info("=== Migrating milestones ===")

	source, err := m.src.ListProjectEntities(ctx, "milestone", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing milestones: %w", err)
	}

	walkTree(source, func(ms models.Resource, _ int) (int, error) {
		srcID := resourceID(ms)
		if dst, ok := m.store.Lookup(mapping.Milestones, p.Source, srcID); ok {
			return dst, nil
		}
		if canceled(ctx) {
			return 0, ctx.Err()
		}
		title := resourceTitle(ms)
		payload := map[string]interface{}{
			"title":       title,
			"description": stringField(ms, "description"),
			"status":      stringOr(ms, "status", "active"),
		}
		if due := formatTime(ms["due_date"], dateLayout); due != "" {
			payload["due_date"] = due
		}
		dst, err := m.dst.CreateID(ctx, platform.ProjectPath("milestone", p.Target), payload)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("milestones", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			return 0, err
		}
		m.store.Record(mapping.Milestones, p.Source, srcID, dst)
		log.Infof("  CREATED: %s (ID %d)", title, dst)
		return dst, nil
	})

	m.stats.Record("milestones", len(source), m.store.Count(mapping.Milestones, p.Source))
	return ctx.Err()
}
