package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/metrics"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// Step is a workspace-level migration step.
type Step struct {
	Name string
	Run  func(ctx context.Context, pairs []models.ProjectPair) error
}

// ProjectStep runs once per migrated project.
type ProjectStep struct {
	Name string
	Run  func(ctx context.Context, p models.ProjectPair) error
}

// Orchestrator runs the migration steps in dependency order and checkpoints
// the mapping store around every step.
type Orchestrator struct {
	m            *Migrator
	mappingsFile string
	job          *models.Job
	out          io.Writer
	log          logrus.FieldLogger

	// Projects discovers and creates target projects. Its failure is fatal.
	Projects func(ctx context.Context) ([]models.ProjectPair, error)
	// Workspace steps run after Projects, in order.
	Workspace []Step
	// PerProject steps run for each project, in order.
	PerProject []ProjectStep

	completions *Completions
}

// NewOrchestrator wires the default step order. job may be nil.
func NewOrchestrator(m *Migrator, mappingsFile string, job *models.Job) *Orchestrator {
	o := &Orchestrator{
		m:            m,
		mappingsFile: mappingsFile,
		job:          job,
		out:          os.Stdout,
		log:          m.log,
		completions:  NewCompletions(m.store),
	}
	o.Projects = m.MigrateProjects
	o.Workspace = []Step{
		{"users", o.usersStep},
		{"groups", func(ctx context.Context, _ []models.ProjectPair) error { return m.MigrateGroups(ctx) }},
		{"custom_fields", func(ctx context.Context, _ []models.ProjectPair) error { return m.MigrateCustomFields(ctx) }},
		{"shared_parameters", func(ctx context.Context, pairs []models.ProjectPair) error {
			codes := make([]string, len(pairs))
			for i, p := range pairs {
				codes[i] = p.Source
			}
			return m.MigrateSharedParameters(ctx, codes)
		}},
		{"attachments", m.MigrateAttachments},
	}
	o.PerProject = []ProjectStep{
		{"milestones", m.MigrateMilestones},
		{"configurations", m.MigrateConfigurations},
		{"environments", m.MigrateEnvironments},
		{"shared_steps", m.MigrateSharedSteps},
		{"suites", m.MigrateSuites},
		{"cases", m.MigrateCases},
		{"plans", m.MigratePlans},
		{"runs", func(ctx context.Context, p models.ProjectPair) error { return m.MigrateRuns(ctx, p, o.completions) }},
		{"results", func(ctx context.Context, p models.ProjectPair) error { return m.MigrateResults(ctx, p, o.completions) }},
		{"defects", m.MigrateDefects},
	}
	return o
}

// SetOutput redirects the final summary.
func (o *Orchestrator) SetOutput(w io.Writer) { o.out = w }

// usersStep falls back to mapping every user to the default user when
// matching fails, so later steps still have authors.
func (o *Orchestrator) usersStep(ctx context.Context, _ []models.ProjectPair) error {
	err := o.m.MigrateUsers(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	o.log.WithField("step", "users").Errorf("User mapping failed, falling back to default user: %v", err)
	o.m.stats.AddError("users", err)
	return o.m.MapUsersToDefault(ctx)
}

// Run executes the migration. It returns a fatal error (project discovery,
// checkpoint writes) or the context error on interrupt; per-step failures
// are recorded in stats and do not stop the run.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.save(); err != nil {
		return err
	}

	pairs, err := o.runProjects(ctx)
	if err != nil {
		return err
	}

	for _, s := range o.Workspace {
		if ctx.Err() != nil {
			return o.interrupted(ctx)
		}
		if err := o.runStep(ctx, s.Name, "", func(ctx context.Context) error { return s.Run(ctx, pairs) }); err != nil {
			return err
		}
	}

	for _, p := range pairs {
		for _, s := range o.PerProject {
			if ctx.Err() != nil {
				return o.interrupted(ctx)
			}
			if err := o.runStep(ctx, s.Name, p.Source, func(ctx context.Context) error { return s.Run(ctx, p) }); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return o.interrupted(ctx)
		}
		o.projectSummary(p)
		metrics.ProjectsCompleted.Inc()
	}
	if ctx.Err() != nil {
		return o.interrupted(ctx)
	}

	o.m.stats.Print(o.out)
	return o.save()
}

func (o *Orchestrator) runProjects(ctx context.Context) ([]models.ProjectPair, error) {
	var pairs []models.ProjectPair
	err := o.runStep(ctx, "projects", "", func(ctx context.Context) error {
		var err error
		pairs, err = o.Projects(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, o.interrupted(ctx)
	}
	if len(pairs) == 0 {
		return nil, ErrNoProjects
	}
	return pairs, nil
}

// runStep runs fn between two checkpoints. Only a checkpoint failure, or a
// failing projects step, is returned.
func (o *Orchestrator) runStep(ctx context.Context, name, project string, fn func(ctx context.Context) error) error {
	log := o.log.WithField("step", name)
	if project != "" {
		log = log.WithField("project", project)
	}
	if err := o.save(); err != nil {
		return err
	}
	if o.job != nil {
		o.job.StartStep(name)
	}

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)
	metrics.StepDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	report := models.StepReport{Name: name, Project: project, Status: "done", Started: started, Duration: elapsed}
	if err != nil {
		report.Status = "failed"
		report.Error = err.Error()
	}
	if o.job != nil {
		o.job.FinishStep(report)
	}

	if serr := o.save(); serr != nil {
		return serr
	}
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	log.Errorf("Step %s failed: %v", name, err)
	if name == "projects" {
		return fmt.Errorf("migrating projects: %w", err)
	}
	o.m.stats.AddError(name, err)
	return nil
}

func (o *Orchestrator) interrupted(ctx context.Context) error {
	o.log.Warn("Migration interrupted, saving mappings")
	if err := o.save(); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *Orchestrator) projectSummary(p models.ProjectPair) {
	st := o.m.store
	o.log.WithField("project", p.Source).Infof(
		"Project %s -> %s: %d suites, %d cases, %d runs, %d plans, %d defects",
		p.Source, p.Target,
		st.Count(mapping.Suites, p.Source),
		st.Count(mapping.Cases, p.Source),
		st.Count(mapping.Runs, p.Source),
		st.Count(mapping.Plans, p.Source),
		st.Count(mapping.Defects, p.Source),
	)
}

func (o *Orchestrator) save() error {
	if o.mappingsFile == "" {
		return nil
	}
	if err := o.m.store.Save(o.mappingsFile); err != nil {
		return fmt.Errorf("saving mappings: %w", err)
	}
	return nil
}
