package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

var (
	caseTextFields       = []string{"description", "preconditions", "postconditions"}
	caseStepTextFields   = []string{"action", "expected_result", "data"}
	resultTextFields     = []string{"comment"}
	resultStepTextFields = []string{"action", "expected_result", "comment"}
)

// attachmentRefs accumulates the attachments referenced by one project.
type attachmentRefs struct {
	hashes map[string]bool
	urls   map[string]string
}

func newAttachmentRefs() *attachmentRefs {
	return &attachmentRefs{hashes: map[string]bool{}, urls: map[string]string{}}
}

func (r *attachmentRefs) addHash(h string) {
	if h != "" {
		r.hashes[strings.ToLower(h)] = true
	}
}

func (r *attachmentRefs) addList(items []interface{}) {
	for _, it := range items {
		r.addHash(attachmentHash(it))
	}
}

// addText scans text fields of obj. Non-string values are scanned in their
// JSON form so custom field values are covered too.
func (r *attachmentRefs) addText(obj map[string]interface{}, fields ...string) {
	for _, f := range fields {
		var text string
		switch v := obj[f].(type) {
		case nil:
			continue
		case string:
			text = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			text = string(b)
		}
		for _, h := range extractAttachmentHashes(text) {
			r.addHash(h)
		}
		for h, u := range extractAttachmentURLs(text) {
			r.urls[h] = u
		}
	}
}

func (r *attachmentRefs) addCase(c models.Resource) {
	r.addList(listField(c, "attachments"))
	r.addText(c, caseTextFields...)
	r.addText(c, "custom_fields")
	for _, s := range listField(c, "steps") {
		step, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		r.addList(listField(step, "attachments"))
		r.addText(step, caseStepTextFields...)
	}
}

func (r *attachmentRefs) addResult(res models.Resource) {
	r.addList(listField(res, "attachments"))
	r.addText(res, resultTextFields...)
	for _, s := range listField(res, "steps") {
		if step, ok := s.(map[string]interface{}); ok {
			r.addText(step, resultStepTextFields...)
		}
	}
}

// MigrateAttachments copies every attachment referenced by the cases and
// results of the migrated projects. A hash is transferred once even when
// several projects reference it; hashes already present in the target are
// mapped to themselves.
func (m *Migrator) MigrateAttachments(ctx context.Context, pairs []models.ProjectPair) error {
	log := m.entityLog("attachments")
	log.Info("=== Migrating attachments ===")

	refs := map[string]*attachmentRefs{}
	urls := map[string]string{}
	owner := map[string]models.ProjectPair{}
	for _, p := range pairs {
		r, err := m.collectAttachmentRefs(ctx, p.Source)
		if err != nil {
			return fmt.Errorf("collecting attachments of %s: %w", p.Source, err)
		}
		refs[p.Source] = r
		for h, u := range r.urls {
			urls[h] = u
		}
		for h := range r.hashes {
			if _, ok := owner[h]; !ok {
				owner[h] = p
			}
		}
	}
	existing := m.targetAttachmentHashes(ctx, pairs)

	unique := make([]string, 0, len(owner))
	for h := range owner {
		unique = append(unique, h)
	}
	sort.Strings(unique)

	resolved := map[string]string{}
	migrated, reused := 0, 0
	for _, h := range unique {
		if canceled(ctx) {
			return ctx.Err()
		}
		if dst, ok := m.store.LookupHashAnyProject(mapping.Attachments, h); ok {
			resolved[h] = dst
			reused++
			continue
		}
		if existing[h] {
			resolved[h] = h
			reused++
			continue
		}
		if meta, err := m.dst.GetAttachment(ctx, h); err == nil && meta != nil {
			resolved[h] = h
			reused++
			continue
		}

		dst, err := m.transferAttachment(ctx, h, urls[h], owner[h].Target)
		if err != nil {
			log.Errorf("  FAIL: %s: %v", h, err)
			m.stats.AddError("attachments", fmt.Errorf("%s: %w", h, err))
			continue
		}
		if dst == "" {
			log.Warnf("  SKIP (no content): %s", h)
			continue
		}
		resolved[h] = dst
		migrated++
		log.Debugf("  CREATED: %s -> %s", h, dst)
	}

	for _, p := range pairs {
		for h := range refs[p.Source].hashes {
			dst, ok := resolved[h]
			if !ok {
				continue
			}
			m.store.RecordHash(mapping.Attachments, p.Source, h, dst)
		}
	}
	log.Infof("Attachments: %d unique, %d uploaded, %d reused", len(unique), migrated, reused)
	m.stats.Record("attachments", len(unique), migrated)
	return nil
}

func (m *Migrator) collectAttachmentRefs(ctx context.Context, code string) (*attachmentRefs, error) {
	r := newAttachmentRefs()
	cases, err := m.src.ListProjectEntities(ctx, "case", code, nil)
	if err != nil {
		return nil, err
	}
	for _, c := range cases {
		r.addCase(c)
	}
	results, err := m.src.ListProjectEntities(ctx, "result", code, nil)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		r.addResult(res)
	}
	return r, nil
}

// targetAttachmentHashes lists the hashes already attached to target cases.
// Listing failures only reduce the set.
func (m *Migrator) targetAttachmentHashes(ctx context.Context, pairs []models.ProjectPair) map[string]bool {
	out := map[string]bool{}
	for _, p := range pairs {
		cases, err := m.dst.ListProjectEntities(ctx, "case", p.Target, nil)
		if err != nil {
			m.entityLog("attachments").Warnf("Listing target cases of %s failed: %v", p.Target, err)
			continue
		}
		for _, c := range cases {
			for _, it := range listField(c, "attachments") {
				if h := attachmentHash(it); h != "" {
					out[strings.ToLower(h)] = true
				}
			}
		}
	}
	return out
}

// transferAttachment downloads a source attachment and uploads it into the
// target project, returning the new hash or "" when nothing could be
// downloaded.
func (m *Migrator) transferAttachment(ctx context.Context, hash, markdownURL, targetProject string) (string, error) {
	data, name := m.downloadAttachment(ctx, hash, markdownURL)
	if len(data) == 0 {
		return "", nil
	}
	uploaded, err := m.dst.UploadAttachment(ctx, targetProject, name, data)
	if err != nil {
		return "", err
	}
	if len(uploaded) == 0 {
		return "", fmt.Errorf("upload returned no attachment")
	}
	first := uploaded[0]
	if m.store.WorkspaceHash() == "" {
		if team := workspaceHashFromURL(stringField(first, "url")); team != "" {
			m.store.SetWorkspaceHash(team)
		}
	}
	dst := stringField(first, "hash")
	if dst == "" {
		return "", fmt.Errorf("upload response has no hash")
	}
	return dst, nil
}

// downloadAttachment tries the source attachment URL, then the URL found in
// markdown. A 403 is retried once with the API token.
func (m *Migrator) downloadAttachment(ctx context.Context, hash, markdownURL string) ([]byte, string) {
	name := fileNameFromURL(markdownURL)
	var candidates []string
	if meta, err := m.src.GetAttachment(ctx, hash); err == nil && meta != nil {
		if name == "" {
			name = stringField(meta, "filename")
		}
		if name == "" {
			name = path.Base(stringField(meta, "full_path"))
		}
		if name == "" || name == "." || name == "/" {
			if ext := stringField(meta, "extension"); ext != "" {
				name = fmt.Sprintf("attachment_%s.%s", shortHash(hash), ext)
			}
		}
		if u := stringOr(meta, "url", stringField(meta, "full_path")); u != "" {
			candidates = append(candidates, u)
		}
	}
	if markdownURL != "" {
		candidates = append(candidates, markdownURL)
	}

	for _, u := range candidates {
		data, remote, err := m.src.Download(ctx, u, false)
		if platform.StatusCode(err) == 403 {
			data, remote, err = m.src.Download(ctx, u, true)
		}
		if err != nil || len(data) == 0 {
			continue
		}
		if name == "" || name == "." || name == "/" {
			name = remote
		}
		if name == "" {
			name = fmt.Sprintf("attachment_%s.bin", shortHash(hash))
		}
		return data, name
	}
	return nil, ""
}

func fileNameFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
