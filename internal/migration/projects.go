package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// ErrNoProjects means project discovery produced nothing to migrate.
var ErrNoProjects = errors.New("no projects to migrate")

// MigrateProjects maps every source project to a target project, creating
// the ones that do not exist yet. Projects present in the target under the
// same code are reused.
func (m *Migrator) MigrateProjects(ctx context.Context) ([]models.ProjectPair, error) {
	log := m.entityLog("projects")
	log.Info("=== Migrating projects ===")

	all, err := m.src.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing source projects: %w", err)
	}
	var source []models.Resource
	for _, p := range all {
		code := stringField(p, "code")
		if len(m.opts.OnlyProjects) > 0 && !containsFold(m.opts.OnlyProjects, code) {
			continue
		}
		source = append(source, p)
	}

	var pairs []models.ProjectPair
	for _, p := range source {
		if canceled(ctx) {
			return pairs, ctx.Err()
		}
		code := stringField(p, "code")
		if containsFold(m.opts.SkipProjects, code) {
			log.Infof("  SKIP (excluded): %s", code)
			continue
		}
		pair, err := m.migrateProject(ctx, p)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", code, err)
			m.stats.AddError("projects", fmt.Errorf("%s: %w", code, err))
			continue
		}
		pairs = append(pairs, pair)
	}

	m.stats.Record("projects", len(source), len(pairs))
	if len(pairs) == 0 {
		return nil, ErrNoProjects
	}
	return pairs, nil
}

func (m *Migrator) migrateProject(ctx context.Context, p models.Resource) (models.ProjectPair, error) {
	log := m.entityLog("projects")
	code := stringField(p, "code")
	pair := models.ProjectPair{Source: code, SourceID: resourceID(p)}

	existing, err := m.dst.GetProject(ctx, code)
	if err != nil {
		return pair, err
	}
	if existing != nil {
		pair.Target = stringOr(existing, "code", code)
		pair.TargetID = resourceID(existing)
		m.store.RecordProject(code, pair.Target)
		log.Infof("  SKIP (exists): %s", code)
		return pair, nil
	}

	payload := map[string]interface{}{
		"title":       resourceTitle(p),
		"code":        code,
		"description": stringField(p, "description"),
		"settings":    valueOr(p, "settings", map[string]interface{}{"runs": map[string]interface{}{"auto_complete": false}}),
		"access":      stringOr(p, "access", "all"),
	}
	res, err := m.dst.Create(ctx, "/project", payload)
	if err != nil {
		var apiErr *platform.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 400 && strings.Contains(strings.ToLower(apiErr.Body), "already exists") {
			existing, perr := m.dst.GetProject(ctx, code)
			if perr == nil && existing != nil {
				pair.Target = stringOr(existing, "code", code)
				pair.TargetID = resourceID(existing)
				m.store.RecordProject(code, pair.Target)
				log.Infof("  SKIP (exists): %s", code)
				return pair, nil
			}
		}
		return pair, err
	}

	pair.Target = code
	if res != nil {
		pair.Target = stringOr(res, "code", code)
		pair.TargetID = resourceID(res)
	}
	m.store.RecordProject(code, pair.Target)
	log.Infof("  CREATED: %s -> %s", code, pair.Target)
	return pair, nil
}
