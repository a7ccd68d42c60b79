package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// noAction replaces empty step actions, which the target rejects.
const noAction = "No action"

// MigrateSharedSteps copies a project's shared steps. They are keyed by hash.
func (m *Migrator) MigrateSharedSteps(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("shared_steps", p.Source)
	log.Info("=== Migrating shared steps ===")

	source, err := m.src.ListProjectEntities(ctx, "shared_step", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing shared steps: %w", err)
	}
	mapped := 0
	for _, ss := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcHash := stringField(ss, "hash")
		if srcHash == "" {
			continue
		}
		if _, ok := m.store.LookupHash(mapping.SharedSteps, p.Source, srcHash); ok {
			mapped++
			continue
		}
		title := resourceTitle(ss)
		var steps []map[string]interface{}
		for _, raw := range listField(ss, "steps") {
			st, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			action := strings.TrimSpace(stringField(st, "action"))
			if action == "" {
				action = noAction
			}
			steps = append(steps, map[string]interface{}{
				"action":          m.rewrite(p.Source, action),
				"expected_result": m.rewrite(p.Source, stringOr(st, "expected_result", stringField(st, "expected"))),
			})
		}
		res, err := m.dst.Create(ctx, platform.ProjectPath("shared_step", p.Target), map[string]interface{}{
			"title": title,
			"steps": steps,
		})
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("shared_steps", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			continue
		}
		dst := stringField(res, "hash")
		if dst == "" {
			m.stats.AddError("shared_steps", fmt.Errorf("%s/%s: response has no hash", p.Source, title))
			continue
		}
		m.store.RecordHash(mapping.SharedSteps, p.Source, srcHash, dst)
		log.Infof("  CREATED: %s (%s)", title, dst)
		mapped++
	}
	m.stats.Record("shared_steps", len(source), mapped)
	return nil
}
