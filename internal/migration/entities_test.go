package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

func TestResultStatus(t *testing.T) {
	tests := []struct {
		in   models.Resource
		want string
	}{
		{models.Resource{"status_id": float64(5)}, "failed"},
		{models.Resource{"status_id": float64(5), "status": "passed"}, "failed"},
		{models.Resource{"status": " Pass "}, "passed"},
		{models.Resource{"status": "retry"}, "retest"},
		{models.Resource{"status": float64(2)}, "blocked"},
		{models.Resource{"status": "in_progress"}, "skipped"},
		{models.Resource{}, "skipped"},
	}
	for _, tc := range tests {
		if got := resultStatus(tc.in); got != tc.want {
			t.Errorf("resultStatus(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDefectResolved(t *testing.T) {
	tests := []struct {
		status interface{}
		want   bool
	}{
		{"resolved", true},
		{"Closed", true},
		{"open", false},
		{"in_progress", false},
		{float64(1), true},
		{float64(0), false},
		{nil, false},
	}
	for _, tc := range tests {
		if got := defectResolved(models.Resource{"status": tc.status}); got != tc.want {
			t.Errorf("defectResolved(%v) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestEnumValue(t *testing.T) {
	assert.Equal(t, 3, enumValue("Major", defectSeverities))
	assert.Equal(t, 6, enumValue(float64(6), defectSeverities))
	assert.Equal(t, 0, enumValue("unheard-of", defectSeverities))
	assert.Equal(t, 0, enumValue(true, defectSeverities))
	assert.Equal(t, 3, enumValue("selectbox", customFieldTypes))
}

func TestCustomFieldOptions(t *testing.T) {
	got := customFieldOptions([]interface{}{
		map[string]interface{}{"id": float64(7), "title": "High"},
		map[string]interface{}{"id": float64(9), "title": "High"},
		map[string]interface{}{"id": float64(3), "value": "Low"},
		"High",
	})
	assert.Equal(t, []customFieldOption{
		{ID: 1, Title: "High"},
		{ID: 2, Title: "High (1)"},
		{ID: 3, Title: "Low"},
		{ID: 4, Title: "High (2)"},
	}, got)

	fromJSON := customFieldOptions(`[{"id":4,"title":"A"},{"id":5,"title":"B"}]`)
	assert.Equal(t, []customFieldOption{{ID: 1, Title: "A"}, {ID: 2, Title: "B"}}, fromJSON)

	assert.Nil(t, customFieldOptions("not json"))
	assert.Nil(t, customFieldOptions(nil))
}

func TestWalkTree(t *testing.T) {
	nodes := []models.Resource{
		{"id": float64(3), "parent_id": float64(2)},
		{"id": float64(2), "parent_id": float64(1)},
		{"id": float64(1)},
		{"id": float64(4), "parent_id": float64(99)}, // parent not listed
		{"id": float64(5), "parent_id": float64(5)},  // self-parent
	}
	var order []int
	parents := map[int]int{}
	walkTree(nodes, func(n models.Resource, parent int) (int, error) {
		id := resourceID(n)
		order = append(order, id)
		parents[id] = parent
		return id * 100, nil
	})

	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
	assert.Equal(t, map[int]int{1: 0, 2: 100, 3: 200, 4: 0, 5: 0}, parents)
}

func TestWalkTree_FailureDropsSubtree(t *testing.T) {
	nodes := []models.Resource{
		{"id": float64(1)},
		{"id": float64(2), "parent_id": float64(1)},
		{"id": float64(3)},
	}
	var created []int
	walkTree(nodes, func(n models.Resource, parent int) (int, error) {
		id := resourceID(n)
		if id == 1 {
			return 0, errors.New("rejected")
		}
		created = append(created, id)
		return id, nil
	})
	assert.Equal(t, []int{3}, created)
}

func TestCaseParameters(t *testing.T) {
	m := New(Deps{Log: quietLogger()})
	m.Store().RecordSharedParameter("sp-1", "sp-9")

	got := m.caseParameters(models.Resource{"parameters": []interface{}{
		map[string]interface{}{"shared_id": "sp-1", "type": "single", "item": map[string]interface{}{"title": "x", "values": []interface{}{"1"}}},
		map[string]interface{}{"shared_id": "sp-unknown", "type": "single", "item": map[string]interface{}{"title": "browser", "values": "chrome"}},
		map[string]interface{}{"type": "group", "items": []interface{}{
			map[string]interface{}{"title": "os", "values": []interface{}{"linux", "mac"}},
			map[string]interface{}{"title": "", "values": []interface{}{"dropped"}},
		}},
		map[string]interface{}{"type": "single", "item": map[string]interface{}{"title": "empty", "values": []interface{}{}}},
	}})

	require.Len(t, got, 3)
	assert.Equal(t, map[string]interface{}{"shared_id": "sp-9"}, got[0])
	assert.Equal(t, map[string]interface{}{"title": "browser", "values": []interface{}{"chrome"}}, got[1])
	assert.Equal(t, map[string]interface{}{"items": []map[string]interface{}{
		{"title": "os", "values": []interface{}{"linux", "mac"}},
	}}, got[2])
}

func TestCaseSteps_SharedStepMapping(t *testing.T) {
	m := New(Deps{Log: quietLogger()})
	m.Store().RecordHash(mapping.SharedSteps, "DEMO", "s-src", "s-dst")

	steps, shared := m.caseSteps("DEMO", models.Resource{"steps": []interface{}{
		map[string]interface{}{"action": "login", "expected_result": "ok"},
		map[string]interface{}{"shared_step": map[string]interface{}{"hash": "s-src"}},
		map[string]interface{}{"shared": "s-missing"},
	}})

	assert.True(t, shared)
	require.Len(t, steps, 2)
	assert.Equal(t, "login", steps[0]["action"])
	assert.Equal(t, "ok", steps[0]["expected_result"])
	assert.Equal(t, map[string]interface{}{"shared": "s-dst"}, steps[1])
}

func TestGroupMembers(t *testing.T) {
	m := New(Deps{Log: quietLogger()})
	m.Store().RecordUser(10, 77)

	got := m.groupMembers(map[string]interface{}{"members": []interface{}{
		map[string]interface{}{"value": "10"},
		map[string]interface{}{"value": "11"},
		float64(10),
	}})
	assert.Equal(t, []string{"77", "77"}, got)
}

func TestCompletions(t *testing.T) {
	st := mapping.New()
	st.QueueCompletion("DEMO", 5)

	c := NewCompletions(st)
	c.Add("DEMO", 7)
	c.Add("DEMO", 7)
	c.Add("OTHER", 9)

	assert.ElementsMatch(t, []int{5, 7}, c.Pending("DEMO"))
	c.Done("DEMO", 5)
	c.Done("DEMO", 7)
	assert.Empty(t, c.Pending("DEMO"))
	assert.Empty(t, st.PendingCompletions("DEMO"))
	assert.Equal(t, []int{9}, c.Pending("OTHER"))
}

func TestMigrateUsers_MatchesByEmail(t *testing.T) {
	src := newFakeQase(t)
	dst := newFakeQase(t)
	src.list("/author",
		doc{"id": 1, "email": "Alice@Corp.io", "uuid": "u-1"},
		doc{"id": 2, "email": "bob@corp.io"},
		doc{"id": 3},
	)
	dst.list("/author",
		doc{"id": 40, "email": "alice@corp.io"},
		doc{"id": 50, "email": "carol@corp.io"},
	)
	m := newTestMigrator(src, dst, Options{MigrateUsers: true})

	require.NoError(t, m.MigrateUsers(context.Background()))

	assert.Equal(t, map[int]int{1: 40}, m.Store().Users())
	got, ok := m.Store().UserByUUID("u-1")
	assert.True(t, ok)
	assert.Equal(t, 40, got)
	assert.Equal(t, 1, m.Stats().Get("users").Created)
	assert.Equal(t, 1, m.targetUser(2), "unmatched users map to the default user")
}

func TestMigrateUsers_Disabled(t *testing.T) {
	m := New(Deps{Log: quietLogger()})
	require.NoError(t, m.MigrateUsers(context.Background()))
	assert.Empty(t, m.Store().Users())
}

func TestPreflight(t *testing.T) {
	src := newFakeQase(t)
	dst := newFakeQase(t)
	src.list("/project",
		doc{"code": "NEW", "title": "New one"},
		doc{"code": "OLD", "title": "Already there"},
		doc{"code": "SKIP", "title": "Excluded"},
	)
	dst.items["/project/OLD"] = doc{"code": "OLD"}

	m := newTestMigrator(src, dst, Options{SkipProjects: []string{"skip"}, CreateGroups: true})
	m.Store().Record(mapping.Cases, "OLD", 1, 2)

	preview, err := m.Preflight(context.Background())
	require.NoError(t, err)

	require.Len(t, preview.Projects, 3)
	assert.Equal(t, "create", preview.Projects[0].Action)
	assert.Equal(t, "skip_exists", preview.Projects[1].Action)
	assert.Equal(t, map[string]int{"cases": 1}, preview.Projects[1].Mapped)
	assert.Equal(t, "skip_excluded", preview.Projects[2].Action)
	assert.Len(t, preview.Warnings, 2)
	assert.Empty(t, dst.postsTo("/project"))
}
