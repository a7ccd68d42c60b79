package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/retry"
)

const (
	scimUserSchema  = "urn:ietf:params:scim:schemas:core:2.0:User"
	scimGroupSchema = "urn:ietf:params:scim:schemas:core:2.0:Group"
	scimPatchSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
)

// SCIMUser is the subset of user attributes needed to provision a member.
type SCIMUser struct {
	Email     string
	FirstName string
	LastName  string
	RoleTitle string
	Active    bool
}

type scimList struct {
	TotalResults int               `json:"totalResults"`
	ItemsPerPage int               `json:"itemsPerPage"`
	StartIndex   int               `json:"startIndex"`
	Resources    []models.Resource `json:"Resources"`
}

// SCIM talks to the SCIM 2.0 provisioning endpoint of a workspace.
type SCIM struct {
	client *Client
	policy retry.Policy
}

// NewSCIM wraps a client built with NewSCIMClient.
func NewSCIM(c *Client, p retry.Policy) *SCIM {
	return &SCIM{client: c, policy: p}
}

func (s *SCIM) listAll(ctx context.Context, resource string) ([]models.Resource, error) {
	var all []models.Resource
	offset := 0
	for {
		params := url.Values{
			"startIndex": {strconv.Itoa(offset + 1)},
			"count":      {strconv.Itoa(PageSize)},
		}
		page, err := retry.Call(ctx, s.policy, "scim list "+resource, func(ctx context.Context) (*scimList, error) {
			var l scimList
			if err := s.client.GetJSON(ctx, "/"+resource, params, &l); err != nil {
				return nil, err
			}
			return &l, nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)
		if len(all) >= page.TotalResults || len(page.Resources) < PageSize {
			return all, nil
		}
		offset += PageSize
	}
}

// ListUsers returns every provisioned user.
func (s *SCIM) ListUsers(ctx context.Context) ([]models.Resource, error) {
	return s.listAll(ctx, "Users")
}

// ListGroups returns every group.
func (s *SCIM) ListGroups(ctx context.Context) ([]models.Resource, error) {
	return s.listAll(ctx, "Groups")
}

func (s *SCIM) create(ctx context.Context, resource string, payload interface{}) (models.Resource, error) {
	return retry.Call(ctx, s.policy, "scim create "+resource, func(ctx context.Context) (models.Resource, error) {
		body, _, err := s.client.Post(ctx, "/"+resource, payload)
		if err != nil {
			return nil, err
		}
		var res models.Resource
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		return res, nil
	})
}

// CreateUser provisions a user and returns its SCIM id. An existing user
// (409) is looked up by userName instead.
func (s *SCIM) CreateUser(ctx context.Context, u SCIMUser) (string, error) {
	role := u.RoleTitle
	if role == "" {
		role = "Member"
	}
	payload := map[string]interface{}{
		"schemas":  []string{scimUserSchema},
		"userName": u.Email,
		"name": map[string]string{
			"familyName": u.LastName,
			"givenName":  u.FirstName,
		},
		"active":    u.Active,
		"roleTitle": role,
	}
	res, err := s.create(ctx, "Users", payload)
	if StatusCode(err) == http.StatusConflict {
		return s.find(ctx, "Users", "userName", u.Email)
	}
	if err != nil {
		return "", err
	}
	id := stringID(res)
	if id == "" {
		return "", fmt.Errorf("create user %s: response has no id", u.Email)
	}
	return id, nil
}

// CreateGroup creates a group and returns its SCIM id. An existing group
// (409) is looked up by displayName instead.
func (s *SCIM) CreateGroup(ctx context.Context, name string) (string, error) {
	payload := map[string]interface{}{
		"schemas":     []string{scimGroupSchema},
		"displayName": name,
	}
	res, err := s.create(ctx, "Groups", payload)
	if StatusCode(err) == http.StatusConflict {
		return s.find(ctx, "Groups", "displayName", name)
	}
	if err != nil {
		return "", err
	}
	id := stringID(res)
	if id == "" {
		return "", fmt.Errorf("create group %s: response has no id", name)
	}
	return id, nil
}

func (s *SCIM) find(ctx context.Context, resource, attr, value string) (string, error) {
	all, err := s.listAll(ctx, resource)
	if err != nil {
		return "", err
	}
	for _, r := range all {
		if v, _ := r[attr].(string); strings.EqualFold(v, value) {
			return stringID(r), nil
		}
	}
	return "", fmt.Errorf("%s %q exists but could not be found", strings.ToLower(resource[:len(resource)-1]), value)
}

// AddGroupMembers adds users to a group with a PatchOp.
func (s *SCIM) AddGroupMembers(ctx context.Context, groupID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]map[string]string, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, map[string]string{"value": id})
	}
	payload := map[string]interface{}{
		"schemas": []string{scimPatchSchema},
		"Operations": []map[string]interface{}{
			{"op": "Add", "path": "members", "value": members},
		},
	}
	return retry.Do(ctx, s.policy, "scim add group members", func(ctx context.Context) error {
		_, _, err := s.client.Patch(ctx, "/Groups/"+url.PathEscape(groupID), payload)
		return err
	})
}

func stringID(r models.Resource) string {
	switch v := r["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.Itoa(int(v))
	}
	return ""
}
