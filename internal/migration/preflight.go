package migration

import (
	"context"
	"fmt"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
)

// ProjectPreview is the planned action for one source project.
type ProjectPreview struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Action string `json:"action"` // "create", "skip_exists" or "skip_excluded"
	// Mapped counts entities already recorded in the mapping store.
	Mapped map[string]int `json:"mapped,omitempty"`
}

// Preview is the result of a preflight check.
type Preview struct {
	Projects []ProjectPreview `json:"projects"`
	Warnings []string         `json:"warnings,omitempty"`
}

var previewTables = []mapping.IntTable{
	mapping.Suites, mapping.Cases, mapping.Runs, mapping.Plans, mapping.Defects,
}

// Preflight verifies both workspaces are reachable and classifies every
// source project as to be created or already present, without writing
// anything to the target.
func (m *Migrator) Preflight(ctx context.Context) (*Preview, error) {
	log := m.entityLog("preflight")

	log.Info("Checking source connectivity...")
	projects, err := m.src.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("source connection failed: %w", err)
	}
	log.Infof("Source OK: %d projects", len(projects))

	log.Info("Checking target connectivity...")
	if _, err := m.dst.ListAuthors(ctx, "user"); err != nil {
		return nil, fmt.Errorf("target connection failed: %w", err)
	}
	log.Info("Target OK")

	preview := &Preview{}
	for _, p := range projects {
		code := stringField(p, "code")
		if len(m.opts.OnlyProjects) > 0 && !containsFold(m.opts.OnlyProjects, code) {
			continue
		}
		pp := ProjectPreview{Code: code, Title: resourceTitle(p), Action: "create"}
		switch {
		case containsFold(m.opts.SkipProjects, code):
			pp.Action = "skip_excluded"
		default:
			existing, err := m.dst.GetProject(ctx, code)
			if err != nil {
				return nil, fmt.Errorf("checking target project %s: %w", code, err)
			}
			if existing != nil {
				pp.Action = "skip_exists"
			}
		}
		for _, t := range previewTables {
			if n := m.store.Count(t, code); n > 0 {
				if pp.Mapped == nil {
					pp.Mapped = map[string]int{}
				}
				pp.Mapped[string(t)] = n
			}
		}
		log.Infof("  %s: %s", code, pp.Action)
		preview.Projects = append(preview.Projects, pp)
	}

	if !m.opts.MigrateUsers {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("User migration is disabled. Every author will be mapped to user %d.", m.opts.DefaultUser))
	}
	if m.opts.CreateGroups && m.dstSCIM == nil {
		preview.Warnings = append(preview.Warnings,
			"Group creation is enabled but the target has no SCIM token. Groups will be skipped.")
	}
	if m.opts.CreateUsers && m.dstSCIM == nil {
		preview.Warnings = append(preview.Warnings,
			"User creation is enabled but the target has no SCIM token. Unmatched users will map to the default user.")
	}
	if m.opts.PreserveIDs {
		preview.Warnings = append(preview.Warnings,
			"Case ids are preserved. Ids above 2147483647 are replaced by a hash.")
	}
	return preview, nil
}
