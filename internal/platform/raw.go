package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// ExternalIssueLink attaches external issue ids to one case.
type ExternalIssueLink struct {
	CaseID         int      `json:"case_id"`
	ExternalIssues []string `json:"external_issues"`
}

// Raw covers endpoints whose payloads are not modelled by the generic API
// calls: bulk inserts, defect resolution, shared parameters, run completion.
type Raw struct {
	api *API
}

// NewRaw wraps an API.
func NewRaw(a *API) *Raw {
	return &Raw{api: a}
}

// BulkCreateCases creates cases in one request and returns their ids in input order.
func (r *Raw) BulkCreateCases(ctx context.Context, code string, cases []map[string]interface{}) ([]int, error) {
	p := ProjectPath("case", code) + "/bulk"
	env, err := r.api.sendEnvelope(ctx, "bulk create cases", "POST", p, map[string]interface{}{"cases": cases})
	if err != nil {
		return nil, err
	}
	var result struct {
		IDs []int `json:"ids"`
	}
	if err := env.Decode(&result); err != nil {
		return nil, err
	}
	return result.IDs, nil
}

// AttachExternalIssues links external issues (e.g. "jira-cloud") to cases.
func (r *Raw) AttachExternalIssues(ctx context.Context, code, issueType string, links []ExternalIssueLink) error {
	p := ProjectPath("case", code) + "/external-issue/attach"
	_, err := r.api.sendEnvelope(ctx, "attach external issues", "POST", p, map[string]interface{}{
		"type":  issueType,
		"links": links,
	})
	return err
}

// CreateDefect creates a defect and returns its id.
func (r *Raw) CreateDefect(ctx context.Context, code string, payload map[string]interface{}) (int, error) {
	return r.api.CreateID(ctx, ProjectPath("defect", code), payload)
}

// ResolveDefect marks a defect resolved.
func (r *Raw) ResolveDefect(ctx context.Context, code string, id int) error {
	p := ProjectPath("defect", code) + "/resolve/" + strconv.Itoa(id)
	_, err := r.api.sendEnvelope(ctx, "resolve defect", "PATCH", p, nil)
	return err
}

// BulkCreateResults inserts results into a run.
func (r *Raw) BulkCreateResults(ctx context.Context, code string, runID int, results []map[string]interface{}) error {
	p := ProjectPath("result", code) + "/" + strconv.Itoa(runID) + "/bulk"
	_, err := r.api.sendEnvelope(ctx, "bulk create results", "POST", p, map[string]interface{}{"results": results})
	return err
}

// CompleteRun marks a run completed.
func (r *Raw) CompleteRun(ctx context.Context, code string, runID int) error {
	p := ProjectPath("run", code) + "/" + strconv.Itoa(runID) + "/complete"
	_, err := r.api.sendEnvelope(ctx, "complete run", "POST", p, nil)
	return err
}

// ListSharedParameters lists shared parameters, optionally filtered by project codes.
func (r *Raw) ListSharedParameters(ctx context.Context, projectCodes []string) ([]models.Resource, error) {
	params := url.Values{}
	for i, code := range projectCodes {
		params.Set(fmt.Sprintf("filters[project_codes][%d]", i), code)
	}
	return r.api.List(ctx, "/shared_parameter", params)
}

// CreateSharedParameter creates a shared parameter and returns its id.
func (r *Raw) CreateSharedParameter(ctx context.Context, payload map[string]interface{}) (string, error) {
	res, err := r.api.Create(ctx, "/shared_parameter", payload)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", fmt.Errorf("create shared parameter: empty response")
	}
	switch v := res["id"].(type) {
	case string:
		return v, nil
	case float64:
		return strconv.Itoa(int(v)), nil
	}
	return "", fmt.Errorf("create shared parameter: response has no id")
}

// AuthorIDsByUUID maps author UUIDs to author ids.
func (r *Raw) AuthorIDsByUUID(ctx context.Context) (map[string]int, error) {
	authors, err := r.api.ListAuthors(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(authors))
	for _, a := range authors {
		uuid, _ := a["uuid"].(string)
		id, ok := resultID(a)
		if uuid != "" && ok {
			out[uuid] = id
		}
	}
	return out, nil
}
