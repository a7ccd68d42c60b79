package migration

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

const (
	caseBatchSize           = 100
	enterpriseCaseBatchSize = 20
)

// caseDraft is a transformed case ready to send.
type caseDraft struct {
	srcID   int
	payload map[string]interface{}
	// single cases carry shared steps or parameters and are created one at a time.
	single bool
	issues map[string][]string
}

// MigrateCases copies a project's test cases in batches. Plain cases go
// through one bulk request per batch; cases with shared steps or parameters
// are sent one by one.
func (m *Migrator) MigrateCases(ctx context.Context, p models.ProjectPair) error {
	log := m.projectLog("cases", p.Source)
	log.Info("=== Migrating cases ===")

	source, err := m.src.ListProjectEntities(ctx, "case", p.Source, url.Values{"include": {"external_issues"}})
	if err != nil {
		return fmt.Errorf("listing cases: %w", err)
	}

	batchSize := caseBatchSize
	if m.opts.TargetEnterprise {
		batchSize = enterpriseCaseBatchSize
	}

	var pending []models.Resource
	for _, c := range source {
		if _, ok := m.store.Lookup(mapping.Cases, p.Source, resourceID(c)); ok {
			continue
		}
		pending = append(pending, c)
	}
	if skipped := len(source) - len(pending); skipped > 0 {
		log.Infof("  SKIP (mapped): %d cases", skipped)
	}

	issues := map[string][]platform.ExternalIssueLink{}
	created := 0
	for start := 0; start < len(pending); start += batchSize {
		if canceled(ctx) {
			return ctx.Err()
		}
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}

		var bulk, single []caseDraft
		for _, c := range pending[start:end] {
			d := m.transformCase(p.Source, c)
			if d.single {
				single = append(single, d)
			} else {
				bulk = append(bulk, d)
			}
		}

		var done []caseDraft
		if len(bulk) > 0 {
			payloads := make([]map[string]interface{}, len(bulk))
			for i, d := range bulk {
				payloads[i] = d.payload
			}
			ids, err := m.dstRaw.BulkCreateCases(ctx, p.Target, payloads)
			if err != nil {
				log.Errorf("  FAIL: batch %d-%d: %v", start+1, end, err)
				m.stats.AddError("cases", fmt.Errorf("%s batch %d-%d: %w", p.Source, start+1, end, err))
			}
			for i, d := range bulk {
				if i >= len(ids) {
					break
				}
				m.store.Record(mapping.Cases, p.Source, d.srcID, ids[i])
				done = append(done, d)
			}
		}
		for _, d := range single {
			ids, err := m.dstRaw.BulkCreateCases(ctx, p.Target, []map[string]interface{}{d.payload})
			if err != nil || len(ids) == 0 {
				if err == nil {
					err = fmt.Errorf("no id returned")
				}
				log.Errorf("  FAIL: case %d: %v", d.srcID, err)
				m.stats.AddError("cases", fmt.Errorf("%s case %d: %w", p.Source, d.srcID, err))
				continue
			}
			m.store.Record(mapping.Cases, p.Source, d.srcID, ids[0])
			done = append(done, d)
		}

		for _, d := range done {
			dst, _ := m.store.Lookup(mapping.Cases, p.Source, d.srcID)
			for typ, ids := range d.issues {
				issues[typ] = append(issues[typ], platform.ExternalIssueLink{CaseID: dst, ExternalIssues: ids})
			}
		}
		created += len(done)
		log.Infof("  CREATED: %d/%d cases", created, len(pending))
	}

	types := make([]string, 0, len(issues))
	for typ := range issues {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		if err := m.dstRaw.AttachExternalIssues(ctx, p.Target, typ, issues[typ]); err != nil {
			log.Errorf("  FAIL: attaching %s issues: %v", typ, err)
			m.stats.AddError("cases", fmt.Errorf("%s external issues (%s): %w", p.Source, typ, err))
		}
	}

	m.stats.Record("cases", len(source), m.store.Count(mapping.Cases, p.Source))
	return nil
}

// transformCase maps a source case onto the target's ids.
func (m *Migrator) transformCase(project string, c models.Resource) caseDraft {
	d := caseDraft{srcID: resourceID(c)}
	payload := map[string]interface{}{
		"title":          resourceTitle(c),
		"description":    m.rewrite(project, stringField(c, "description")),
		"preconditions":  m.rewrite(project, stringField(c, "preconditions")),
		"postconditions": m.rewrite(project, stringField(c, "postconditions")),
		"severity":       valueOr(c, "severity", 2),
		"priority":       valueOr(c, "priority", 2),
		"type":           valueOr(c, "type", 1),
		"behavior":       valueOr(c, "behavior", 1),
		"automation":     valueOr(c, "automation", 0),
		"status":         valueOr(c, "status", 1),
		"is_flaky":       valueOr(c, "is_flaky", 0),
		"tags":           caseTags(c),
		"author_id":      m.caseAuthor(c),
		"milestone_id":   m.mapped(mapping.Milestones, project, intField(c, "milestone_id")),
		"attachments":    m.mapAttachmentList(project, listField(c, "attachments")),
		"custom_field":   m.caseCustomFields(project, c),
		"params":         map[string]interface{}{},
	}
	if v := stringField(c, "created_at"); v != "" {
		payload["created_at"] = v
	}
	if v := stringField(c, "updated_at"); v != "" {
		payload["updated_at"] = v
	}
	if m.opts.PreserveIDs && d.srcID != 0 {
		payload["id"] = preservedID(d.srcID)
	}
	if suite := m.mapped(mapping.Suites, project, intField(c, "suite_id")); suite != nil {
		payload["suite_id"] = suite
	}
	if params := objectField(c, "params"); len(params) > 0 {
		payload["params"] = params
	}
	if params := m.caseParameters(c); len(params) > 0 {
		payload["parameters"] = params
		d.single = true
	}

	steps, shared := m.caseSteps(project, c)
	if steps != nil {
		payload["steps"] = steps
	}
	if shared {
		d.single = true
	}
	d.payload = payload
	d.issues = caseExternalIssues(c)
	return d
}

// caseAuthor resolves the author by UUID first, then by numeric id.
func (m *Migrator) caseAuthor(c models.Resource) int {
	if uuid := stringField(c, "author_uuid"); uuid != "" {
		if dst, ok := m.store.UserByUUID(uuid); ok {
			return dst
		}
		return m.opts.DefaultUser
	}
	return m.targetUser(firstIntField(c, "member_id", "created_by", "author_id"))
}

func caseTags(c models.Resource) []string {
	tags := []string{}
	for _, t := range listField(c, "tags") {
		switch v := t.(type) {
		case string:
			tags = append(tags, v)
		case map[string]interface{}:
			tags = append(tags, stringOr(v, "title", stringOr(v, "name", fmt.Sprint(v))))
		default:
			tags = append(tags, fmt.Sprint(v))
		}
	}
	return tags
}

// caseCustomFields maps custom field values onto target field ids. The
// source is either a list of {id, value} or a map keyed by field id.
func (m *Migrator) caseCustomFields(project string, c models.Resource) map[string]interface{} {
	out := map[string]interface{}{}
	put := func(srcField int, value interface{}) {
		dst, ok := m.store.CustomField(srcField)
		if !ok {
			return
		}
		if s, isString := value.(string); isString {
			value = m.rewrite(project, s)
		}
		out[strconv.Itoa(dst)] = value
	}
	if list := listField(c, "custom_fields"); len(list) > 0 {
		for _, raw := range list {
			if f, ok := raw.(map[string]interface{}); ok && f["id"] != nil {
				put(toInt(f["id"]), f["value"])
			}
		}
		return out
	}
	for k, v := range objectField(c, "custom_field") {
		if id, err := strconv.Atoi(k); err == nil {
			put(id, v)
		}
	}
	return out
}

// caseParameters converts the structured parameters of a case. Shared
// parameters are replaced by their target id; unmapped shared parameters
// fall back to their inline values.
func (m *Migrator) caseParameters(c models.Resource) []map[string]interface{} {
	var out []map[string]interface{}
	for _, raw := range listField(c, "parameters") {
		param, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if shared := toString(param["shared_id"]); shared != "" {
			if dst, ok := m.store.SharedParameter(shared); ok {
				out = append(out, map[string]interface{}{"shared_id": dst})
				continue
			}
		}
		switch stringField(param, "type") {
		case "single":
			if item := parameterItem(objectField(param, "item")); item != nil {
				out = append(out, item)
			}
		case "group":
			var items []map[string]interface{}
			for _, it := range listField(param, "items") {
				obj, _ := it.(map[string]interface{})
				if item := parameterItem(obj); item != nil {
					items = append(items, item)
				}
			}
			if len(items) > 0 {
				out = append(out, map[string]interface{}{"items": items})
			}
		}
	}
	return out
}

func parameterItem(obj map[string]interface{}) map[string]interface{} {
	if obj == nil {
		return nil
	}
	title := stringOr(obj, "title", stringField(obj, "name"))
	values := obj["values"]
	if title == "" || values == nil {
		return nil
	}
	list, isList := values.([]interface{})
	if !isList {
		list = []interface{}{values}
	}
	if len(list) == 0 {
		return nil
	}
	return map[string]interface{}{"title": title, "values": list}
}

// caseSteps converts the steps of a case and reports whether any of them
// references a shared step. Shared steps without a mapping are dropped.
func (m *Migrator) caseSteps(project string, c models.Resource) ([]map[string]interface{}, bool) {
	raw := listField(c, "steps")
	if len(raw) == 0 {
		return nil, false
	}
	steps := []map[string]interface{}{}
	shared := false
	for _, r := range raw {
		st, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		if h := sharedStepHash(st); h != "" {
			if dst, ok := m.store.LookupHash(mapping.SharedSteps, project, h); ok {
				steps = append(steps, map[string]interface{}{"shared": dst})
				shared = true
			}
			continue
		}
		step := map[string]interface{}{
			"action":      m.rewrite(project, stringField(st, "action")),
			"position":    valueOr(st, "position", len(steps)+1),
			"attachments": m.mapAttachmentList(project, listField(st, "attachments")),
		}
		if v := stringField(st, "expected_result"); v != "" {
			step["expected_result"] = m.rewrite(project, v)
		}
		if v := stringField(st, "data"); v != "" {
			step["data"] = m.rewrite(project, v)
		}
		steps = append(steps, step)
	}
	return steps, shared
}

func sharedStepHash(st map[string]interface{}) string {
	if h := toString(st["shared"]); h != "" {
		return h
	}
	if obj := objectField(st, "shared_step"); obj != nil {
		return stringField(obj, "hash")
	}
	return stringField(st, "shared_step_hash")
}

// caseExternalIssues groups a case's linked issue ids by integration type.
func caseExternalIssues(c models.Resource) map[string][]string {
	out := map[string][]string{}
	for _, raw := range listField(c, "external_issues") {
		group, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		typ := stringOr(group, "type", "jira-cloud")
		for _, it := range listField(group, "issues") {
			var id string
			if obj, ok := it.(map[string]interface{}); ok {
				id = toString(obj["id"])
			} else {
				id = toString(it)
			}
			if id != "" {
				out[typ] = append(out[typ], id)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
