package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/api"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/config"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/logging"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/migration"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/retry"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/stats"
)

// errInterrupted is returned after a signal stopped the migration. The
// mappings have been saved by then.
var errInterrupted = errors.New("migration interrupted")

func run(parent context.Context, cfg *config.Config, dryRun bool, out io.Writer) error {
	log, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	st := stats.New()
	m := migration.New(migration.Deps{
		Source:     newAPI(cfg.Source.Workspace("source"), cfg.RateLimit, log),
		Target:     newAPI(cfg.Target.Workspace("target"), cfg.RateLimit, log),
		SourceSCIM: newSCIM(cfg.Source.Workspace("source"), cfg.RateLimit, log),
		TargetSCIM: newSCIM(cfg.Target.Workspace("target"), cfg.RateLimit, log),
		Store:      store,
		Stats:      st,
		Options: migration.Options{
			PreserveIDs:      cfg.PreserveIDs,
			SkipProjects:     cfg.SkipProjects,
			OnlyProjects:     cfg.OnlyProjects,
			MigrateUsers:     cfg.MigrateUsers,
			CreateUsers:      cfg.CreateUsers,
			DefaultUser:      cfg.DefaultUser,
			CreateGroups:     cfg.CreateGroups,
			TargetEnterprise: cfg.Target.Enterprise,
		},
		Log: log,
	})

	if dryRun {
		preview, err := m.Preflight(ctx)
		if err != nil {
			return err
		}
		printPreview(out, preview)
		return nil
	}

	jobs := models.NewJobStore()
	jobType := "migration"
	if cfg.Resume {
		jobType = "resume"
	}
	job := jobs.Create(jobType)
	log.AddHook(&logging.JobHook{Job: job})

	log.WithFields(logrus.Fields{
		"source": cfg.Source.Workspace("source").APIBaseURL("v1"),
		"target": cfg.Target.Workspace("target").APIBaseURL("v1"),
	}).Infof("Starting %s (mappings: %s)", jobType, cfg.MappingsFile)

	orch := migration.NewOrchestrator(m, cfg.MappingsFile, job)
	orch.SetOutput(out)

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.StatusAddr != "" {
		srv := &api.Server{Jobs: jobs, Store: store, Stats: st, Log: log}
		g.Go(func() error {
			return api.Serve(serverCtx, cfg.StatusAddr, api.NewRouter(srv), log)
		})
	}
	g.Go(func() error {
		defer stopServer()
		return orch.Run(gctx)
	})

	err = g.Wait()
	switch {
	case err == nil:
		job.Complete()
		log.Info("Migration completed")
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		job.Interrupt()
		log.Warnf("Migration interrupted. Mappings saved to %s. Use --resume to continue.", cfg.MappingsFile)
		return errInterrupted
	default:
		job.Fail(err.Error())
		log.Errorf("Migration failed: %v", err)
		if !errors.Is(err, migration.ErrNoProjects) {
			log.Infof("Mappings saved to %s. Use --resume to continue.", cfg.MappingsFile)
		}
		return err
	}
}

func openStore(cfg *config.Config, log logrus.FieldLogger) (*mapping.Store, error) {
	if !cfg.Resume {
		return mapping.New(), nil
	}
	store, err := mapping.Load(cfg.MappingsFile)
	if err != nil {
		return nil, err
	}
	log.Infof("Resuming from %s: %d users, %d projects mapped",
		cfg.MappingsFile, len(store.Users()), store.ProjectCount())
	return store, nil
}

func newAPI(ws *models.Workspace, rps float64, log logrus.FieldLogger) *platform.API {
	c := platform.NewClient(ws, platform.WithRateLimit(rps))
	return platform.NewAPI(c, retry.DefaultPolicy(log.WithField("workspace", ws.Name)))
}

// newSCIM returns nil when the workspace has no SCIM token.
func newSCIM(ws *models.Workspace, rps float64, log logrus.FieldLogger) *platform.SCIM {
	if !ws.HasSCIM() {
		return nil
	}
	c := platform.NewSCIMClient(ws, platform.WithRateLimit(rps))
	return platform.NewSCIM(c, retry.DefaultPolicy(log.WithField("workspace", ws.Name+"-scim")))
}

func printPreview(w io.Writer, p *migration.Preview) {
	fmt.Fprintln(w, "=== Migration Preview ===")
	for _, pp := range p.Projects {
		fmt.Fprintf(w, "  %-12s %-14s %s\n", pp.Code, pp.Action, pp.Title)
		tables := make([]string, 0, len(pp.Mapped))
		for table := range pp.Mapped {
			tables = append(tables, table)
		}
		sort.Strings(tables)
		for _, table := range tables {
			fmt.Fprintf(w, "      %d %s already mapped\n", pp.Mapped[table], table)
		}
	}
	for _, warn := range p.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warn)
	}
}
