// Package migration moves entities between Qase workspaces, recording every
// source→target id in the mapping store so an interrupted run can resume.
package migration

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/stats"
)

// DefaultUserID is the target user assigned to unmapped authors.
const DefaultUserID = 1

// Options tune migrator behavior.
type Options struct {
	PreserveIDs  bool
	SkipProjects []string
	OnlyProjects []string
	MigrateUsers bool
	CreateUsers  bool
	DefaultUser  int
	CreateGroups bool
	// TargetEnterprise lowers the case batch size.
	TargetEnterprise bool
}

// Deps wires a Migrator to both workspaces.
type Deps struct {
	Source     *platform.API
	Target     *platform.API
	SourceSCIM *platform.SCIM // optional
	TargetSCIM *platform.SCIM // optional
	Store      *mapping.Store
	Stats      *stats.Stats
	Options    Options
	Log        logrus.FieldLogger
}

// Migrator holds the clients and state shared by every entity migrator.
type Migrator struct {
	src, dst       *platform.API
	srcRaw, dstRaw *platform.Raw
	srcSCIM        *platform.SCIM
	dstSCIM        *platform.SCIM
	store          *mapping.Store
	stats          *stats.Stats
	opts           Options
	log            logrus.FieldLogger
}

// New builds a Migrator.
func New(d Deps) *Migrator {
	if d.Options.DefaultUser == 0 {
		d.Options.DefaultUser = DefaultUserID
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Stats == nil {
		d.Stats = stats.New()
	}
	if d.Store == nil {
		d.Store = mapping.New()
	}
	return &Migrator{
		src:     d.Source,
		dst:     d.Target,
		srcRaw:  platform.NewRaw(d.Source),
		dstRaw:  platform.NewRaw(d.Target),
		srcSCIM: d.SourceSCIM,
		dstSCIM: d.TargetSCIM,
		store:   d.Store,
		stats:   d.Stats,
		opts:    d.Options,
		log:     d.Log,
	}
}

// Store returns the mapping store.
func (m *Migrator) Store() *mapping.Store { return m.store }

// Stats returns the stats recorder.
func (m *Migrator) Stats() *stats.Stats { return m.stats }

func (m *Migrator) entityLog(entity string) logrus.FieldLogger {
	return m.log.WithField("entity", entity)
}

func (m *Migrator) projectLog(entity, project string) logrus.FieldLogger {
	return m.log.WithFields(logrus.Fields{"entity": entity, "project": project})
}

// targetUser maps a source user id; 0 and unmapped ids fall back to the default user.
func (m *Migrator) targetUser(src int) int {
	if src == 0 {
		return m.opts.DefaultUser
	}
	if dst, ok := m.store.User(src); ok && dst != 0 {
		return dst
	}
	return m.opts.DefaultUser
}

// mapped resolves a project-scoped foreign key, returning nil when unknown so
// the field is sent as null.
func (m *Migrator) mapped(t mapping.IntTable, project string, src int) interface{} {
	if src == 0 {
		return nil
	}
	if dst, ok := m.store.Lookup(t, project, src); ok {
		return dst
	}
	return nil
}

// attachmentLookup resolves hashes against the project's attachment table.
func (m *Migrator) attachmentLookup(project string) hashLookup {
	return func(h string) (string, bool) {
		return m.store.LookupHash(mapping.Attachments, project, h)
	}
}

// rewrite replaces attachment references in a text field.
func (m *Migrator) rewrite(project, text string) string {
	return rewriteAttachments(text, m.attachmentLookup(project), m.store.WorkspaceHash())
}

// mapAttachmentList maps a list of attachment items to target hashes, dropping unknown ones.
func (m *Migrator) mapAttachmentList(project string, items []interface{}) []string {
	out := []string{}
	for _, it := range items {
		h := attachmentHash(it)
		if h == "" {
			continue
		}
		if dst, ok := m.store.LookupHash(mapping.Attachments, project, h); ok {
			out = append(out, dst)
		}
	}
	return out
}

// Completions is the set of target runs that must be completed once their
// results are in. Runs adds to it and Results drains it; every change is
// mirrored into the mapping store so a resumed run still completes them.
type Completions struct {
	mu    sync.Mutex
	store *mapping.Store
	runs  map[string][]int
}

// NewCompletions seeds the accumulator from the store.
func NewCompletions(store *mapping.Store) *Completions {
	return &Completions{store: store, runs: map[string][]int{}}
}

// Add queues a target run of a project.
func (c *Completions) Add(project string, runID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.runs[project] {
		if id == runID {
			return
		}
	}
	c.runs[project] = append(c.runs[project], runID)
	c.store.QueueCompletion(project, runID)
}

// Pending returns the queued runs of a project, including ones persisted by an earlier run.
func (c *Completions) Pending(project string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[int]bool{}
	var out []int
	for _, id := range append(append([]int(nil), c.runs[project]...), c.store.PendingCompletions(project)...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Done removes a completed run.
func (c *Completions) Done(project string, runID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.runs[project]
	out := ids[:0]
	for _, id := range ids {
		if id != runID {
			out = append(out, id)
		}
	}
	c.runs[project] = out
	c.store.ClearCompletion(project, runID)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

func canceled(ctx context.Context) bool {
	return ctx.Err() != nil
}
