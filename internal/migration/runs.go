package migration

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// MigrateRuns copies a project's test runs. Runs that were completed in the
// source are queued on completions; they are closed after their results
// have been inserted.
func (m *Migrator) MigrateRuns(ctx context.Context, p models.ProjectPair, completions *Completions) error {
	log := m.projectLog("runs", p.Source)
	log.Info("=== Migrating runs ===")

	source, err := m.src.ListProjectEntities(ctx, "run", p.Source, nil)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	for _, run := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcID := resourceID(run)
		if srcID == 0 {
			continue
		}
		if _, ok := m.store.Lookup(mapping.Runs, p.Source, srcID); ok {
			continue
		}
		title := resourceTitle(run)

		payload := map[string]interface{}{
			"title":       title,
			"description": stringField(run, "description"),
			"author_id":   m.targetUser(firstIntField(run, "user_id", "created_by", "author_id", "member_id")),
		}
		if cases := m.runCases(ctx, p.Source, run); len(cases) > 0 {
			payload["cases"] = cases
		}
		if cfgs := m.mapIDList(mapping.Configurations, p.Source, listField(run, "configurations"), "id", "configuration_id"); len(cfgs) > 0 {
			payload["configurations"] = cfgs
		}
		if v := m.mapped(mapping.Milestones, p.Source, intField(run, "milestone_id")); v != nil {
			payload["milestone_id"] = v
		}
		if v := m.mapped(mapping.Plans, p.Source, intField(run, "plan_id")); v != nil {
			payload["plan_id"] = v
		}
		if v := m.mapped(mapping.Environments, p.Source, intField(run, "environment_id")); v != nil {
			payload["environment_id"] = v
		}
		if v := formatTime(run["start_time"], dateTimeLayout); v != "" {
			payload["start_time"] = v
		}
		endTime := formatTime(run["end_time"], dateTimeLayout)
		if endTime != "" {
			payload["end_time"] = endTime
		}

		dst, err := m.dst.CreateID(ctx, platform.ProjectPath("run", p.Target), payload)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", title, err)
			m.stats.AddError("runs", fmt.Errorf("%s/%s: %w", p.Source, title, err))
			continue
		}
		m.store.Record(mapping.Runs, p.Source, srcID, dst)
		log.Infof("  CREATED: %s (ID %d)", title, dst)

		if boolField(run, "is_completed") || endTime != "" {
			completions.Add(p.Source, dst)
		}
	}
	m.stats.Record("runs", len(source), m.store.Count(mapping.Runs, p.Source))
	return nil
}

// runCases returns the target ids of the cases in a run, fetched with
// include=cases and falling back to the list payload.
func (m *Migrator) runCases(ctx context.Context, project string, run models.Resource) []int {
	detail, err := m.src.GetProjectEntity(ctx, "run", project, resourceID(run), url.Values{"include": {"cases"}})
	if err == nil && detail != nil {
		if cases := m.mapIDList(mapping.Cases, project, listField(detail, "cases"), "id", "case_id"); len(cases) > 0 {
			return cases
		}
	}
	return m.mapIDList(mapping.Cases, project, listField(run, "cases"), "id", "case_id")
}
