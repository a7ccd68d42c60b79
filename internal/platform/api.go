package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/retry"
)

// PageSize is the page size used for every list call.
const PageSize = 100

// API exposes Qase v1 endpoints with retry and pagination applied.
type API struct {
	client *Client
	policy retry.Policy
}

// NewAPI wraps a client.
func NewAPI(c *Client, p retry.Policy) *API {
	return &API{client: c, policy: p}
}

func (a *API) getEnvelope(ctx context.Context, op, p string, params url.Values) (*Envelope, error) {
	return retry.Call(ctx, a.policy, op, func(ctx context.Context) (*Envelope, error) {
		body, err := a.client.Get(ctx, p, params)
		if err != nil {
			return nil, err
		}
		return DecodeEnvelope(body)
	})
}

func (a *API) sendEnvelope(ctx context.Context, op, method, p string, payload interface{}) (*Envelope, error) {
	return retry.Call(ctx, a.policy, op, func(ctx context.Context) (*Envelope, error) {
		var (
			body []byte
			err  error
		)
		if method == "PATCH" {
			body, _, err = a.client.Patch(ctx, p, payload)
		} else {
			body, _, err = a.client.Post(ctx, p, payload)
		}
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return &Envelope{Status: true}, nil
		}
		return DecodeEnvelope(body)
	})
}

// List fetches every page of a list endpoint using limit/offset paging.
// Paging stops on a short page or once total is reached.
func (a *API) List(ctx context.Context, p string, params url.Values) ([]models.Resource, error) {
	var all []models.Resource
	offset := 0
	for {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(PageSize))
		q.Set("offset", strconv.Itoa(offset))

		env, err := a.getEnvelope(ctx, "list "+p, p, q)
		if err != nil {
			return nil, err
		}
		if env == nil {
			return all, nil
		}
		page, err := env.List()
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entities...)
		offset += len(page.Entities)
		if len(page.Entities) < PageSize || (page.Total > 0 && offset >= page.Total) {
			return all, nil
		}
	}
}

// Get fetches a single entity.
func (a *API) Get(ctx context.Context, p string, params url.Values) (models.Resource, error) {
	env, err := a.getEnvelope(ctx, "get "+p, p, params)
	if err != nil || env == nil {
		return nil, err
	}
	return env.Entity()
}

// Create posts payload and returns the created entity (usually {"id": n} or {"hash": s}).
func (a *API) Create(ctx context.Context, p string, payload interface{}) (models.Resource, error) {
	env, err := a.sendEnvelope(ctx, "create "+p, "POST", p, payload)
	if err != nil || env == nil {
		return nil, err
	}
	return env.Entity()
}

// CreateID posts payload and returns the integer id of the created entity.
func (a *API) CreateID(ctx context.Context, p string, payload interface{}) (int, error) {
	res, err := a.Create(ctx, p, payload)
	if err != nil {
		return 0, err
	}
	id, ok := resultID(res)
	if !ok {
		return 0, fmt.Errorf("create %s: response has no id", p)
	}
	return id, nil
}

// ListProjects returns every project of the workspace.
func (a *API) ListProjects(ctx context.Context) ([]models.Resource, error) {
	return a.List(ctx, "/project", nil)
}

// GetProject returns a project by code, or nil when it does not exist.
func (a *API) GetProject(ctx context.Context, code string) (models.Resource, error) {
	res, err := a.Get(ctx, "/project/"+url.PathEscape(code), nil)
	if IsNotFound(err) {
		return nil, nil
	}
	return res, err
}

// ListAuthors returns the authors of the given type ("user", "app", ...).
func (a *API) ListAuthors(ctx context.Context, authorType string) ([]models.Resource, error) {
	var params url.Values
	if authorType != "" {
		params = url.Values{"type": {authorType}}
	}
	return a.List(ctx, "/author", params)
}

// ListProjectEntities lists /{entity}/{code}.
func (a *API) ListProjectEntities(ctx context.Context, entity, code string, params url.Values) ([]models.Resource, error) {
	return a.List(ctx, ProjectPath(entity, code), params)
}

// GetProjectEntity fetches /{entity}/{code}/{id}.
func (a *API) GetProjectEntity(ctx context.Context, entity, code string, id int, params url.Values) (models.Resource, error) {
	return a.Get(ctx, ProjectPath(entity, code)+"/"+strconv.Itoa(id), params)
}

// GetAttachment returns attachment metadata by hash. A missing attachment yields nil.
func (a *API) GetAttachment(ctx context.Context, hash string) (models.Resource, error) {
	return a.Get(ctx, "/attachment/"+hash, nil)
}

// UploadAttachment uploads a file into a project and returns the created attachments.
func (a *API) UploadAttachment(ctx context.Context, code, filename string, content []byte) ([]models.Resource, error) {
	p := ProjectPath("attachment", code)
	env, err := retry.Call(ctx, a.policy, "upload attachment", func(ctx context.Context) (*Envelope, error) {
		body, err := a.client.Upload(ctx, p, filename, content)
		if err != nil {
			return nil, err
		}
		return DecodeEnvelope(body)
	})
	if err != nil || env == nil {
		return nil, err
	}
	items, err := env.Items()
	if err != nil {
		if single, serr := env.Entity(); serr == nil && single != nil {
			return []models.Resource{single}, nil
		}
		return nil, err
	}
	return items, nil
}

// Download fetches an absolute URL through the retry wrapper.
func (a *API) Download(ctx context.Context, rawURL string, auth bool) ([]byte, string, error) {
	type file struct {
		data []byte
		name string
	}
	f, err := retry.Call(ctx, a.policy, "download attachment", func(ctx context.Context) (*file, error) {
		data, name, err := a.client.Download(ctx, rawURL, auth)
		if err != nil {
			return nil, err
		}
		return &file{data: data, name: name}, nil
	})
	if err != nil {
		return nil, "", err
	}
	if f == nil {
		return nil, "", &APIError{Method: "GET", Path: rawURL, StatusCode: 404, Body: "attachment not found"}
	}
	return f.data, f.name, nil
}

// ProjectPath builds "/{entity}/{code}".
func ProjectPath(entity, code string) string {
	return "/" + entity + "/" + url.PathEscape(code)
}

func resultID(res models.Resource) (int, bool) {
	if res == nil {
		return 0, false
	}
	switch v := res["id"].(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}
