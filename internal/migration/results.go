package migration

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// resultChunkSize bounds one bulk result request.
const resultChunkSize = 500

var resultStatuses = map[int]string{
	1: "passed",
	2: "blocked",
	3: "skipped",
	4: "retest",
	5: "failed",
}

var resultStatusAliases = map[string]string{
	"passed":  "passed",
	"pass":    "passed",
	"failed":  "failed",
	"fail":    "failed",
	"blocked": "blocked",
	"block":   "blocked",
	"skipped": "skipped",
	"skip":    "skipped",
	"retest":  "retest",
	"retry":   "retest",
}

// resultStatus prefers status_id, then the status name; anything unknown is skipped.
func resultStatus(r models.Resource) string {
	if s, ok := resultStatuses[intField(r, "status_id")]; ok {
		return s
	}
	switch v := r["status"].(type) {
	case string:
		if s, ok := resultStatusAliases[strings.ToLower(strings.TrimSpace(v))]; ok {
			return s
		}
	case float64:
		if s, ok := resultStatuses[int(v)]; ok {
			return s
		}
	}
	return "skipped"
}

// MigrateResults inserts the results of every migrated run of a project,
// then completes the runs queued by MigrateRuns. Runs whose results were
// inserted by an earlier pass are not sent again.
func (m *Migrator) MigrateResults(ctx context.Context, p models.ProjectPair, completions *Completions) error {
	log := m.projectLog("results", p.Source)
	log.Info("=== Migrating results ===")

	authors, err := m.srcRaw.AuthorIDsByUUID(ctx)
	if err != nil {
		log.Warnf("Listing source authors failed, result authors fall back to the default user: %v", err)
		authors = map[string]int{}
	}

	runs := m.store.Table(mapping.Runs, p.Source)
	srcRuns := make([]int, 0, len(runs))
	for id := range runs {
		srcRuns = append(srcRuns, id)
	}
	sort.Ints(srcRuns)

	total, created := 0, 0
	for _, srcRun := range srcRuns {
		if canceled(ctx) {
			return ctx.Err()
		}
		if m.store.ResultsInserted(p.Source, srcRun) {
			continue
		}
		dstRun := runs[srcRun]
		source, err := m.src.ListProjectEntities(ctx, "result", p.Source, url.Values{"run": {strconv.Itoa(srcRun)}})
		if err != nil {
			log.Errorf("  FAIL: run %d: %v", srcRun, err)
			m.stats.AddError("results", fmt.Errorf("%s run %d: %w", p.Source, srcRun, err))
			continue
		}
		total += len(source)

		var payloads []map[string]interface{}
		for _, r := range source {
			if res := m.transformResult(p.Source, r, authors); res != nil {
				payloads = append(payloads, res)
			}
		}

		// A run interrupted between chunks resumes after the last sent chunk.
		sent := m.store.ResultOffset(p.Source, srcRun)
		if sent > len(payloads) {
			sent = len(payloads)
		}
		ok := true
		for start := sent; start < len(payloads); start += resultChunkSize {
			end := start + resultChunkSize
			if end > len(payloads) {
				end = len(payloads)
			}
			if err := m.dstRaw.BulkCreateResults(ctx, p.Target, dstRun, payloads[start:end]); err != nil {
				log.Errorf("  FAIL: run %d results %d-%d: %v", srcRun, start+1, end, err)
				m.stats.AddError("results", fmt.Errorf("%s run %d: %w", p.Source, srcRun, err))
				ok = false
				break
			}
			created += end - start
			m.store.SetResultOffset(p.Source, srcRun, end)
		}
		if ok {
			m.store.MarkResultsInserted(p.Source, srcRun)
			if len(payloads) > 0 {
				log.Infof("  CREATED: %d results in run %d", len(payloads), dstRun)
			}
		}
	}
	m.stats.Record("results", total, created)

	for _, dstRun := range completions.Pending(p.Source) {
		if canceled(ctx) {
			return ctx.Err()
		}
		if err := m.dstRaw.CompleteRun(ctx, p.Target, dstRun); err != nil {
			log.Errorf("  FAIL: completing run %d: %v", dstRun, err)
			m.stats.AddError("results", fmt.Errorf("%s complete run %d: %w", p.Source, dstRun, err))
			continue
		}
		completions.Done(p.Source, dstRun)
		log.Debugf("  Completed run %d", dstRun)
	}
	return nil
}

// transformResult returns nil for results of cases that were not migrated.
func (m *Migrator) transformResult(project string, r models.Resource, authors map[string]int) map[string]interface{} {
	caseID, ok := m.store.Lookup(mapping.Cases, project, intField(r, "case_id"))
	if !ok {
		return nil
	}
	out := map[string]interface{}{
		"case_id":   caseID,
		"status":    resultStatus(r),
		"author_id": m.resultAuthor(r, authors),
	}
	if c := stringField(r, "comment"); c != "" {
		out["comment"] = m.rewrite(project, c)
	}
	if t := firstIntField(r, "time_spent_ms", "time_ms"); t > 0 {
		out["time_ms"] = t
	}
	if att := m.mapAttachmentList(project, listField(r, "attachments")); len(att) > 0 {
		out["attachments"] = att
	}
	return out
}

// resultAuthor resolves the author UUID of a result to a target user.
func (m *Migrator) resultAuthor(r models.Resource, authors map[string]int) int {
	uuid := stringField(r, "author_uuid")
	if uuid == "" {
		return m.targetUser(firstIntField(r, "member_id", "author_id"))
	}
	if dst, ok := m.store.UserByUUID(uuid); ok {
		return dst
	}
	return m.targetUser(authors[uuid])
}
