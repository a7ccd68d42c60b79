package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/retry"
)

func testPolicy() retry.Policy {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Log: log}
}

func newTestAPI(ts *httptest.Server) *API {
	return NewAPI(newTestClient(ts), testPolicy())
}

func writeResult(w http.ResponseWriter, result interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{"status": true, "result": result})
}

func TestAPI_List_Pagination(t *testing.T) {
	const total = 230
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "100" {
			t.Errorf("limit = %s, want 100", r.URL.Query().Get("limit"))
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var entities []map[string]interface{}
		for i := offset; i < total && i < offset+100; i++ {
			entities = append(entities, map[string]interface{}{"id": i + 1})
		}
		writeResult(w, map[string]interface{}{"total": total, "count": len(entities), "entities": entities})
	}))
	defer ts.Close()

	all, err := newTestAPI(ts).List(context.Background(), "/case/DEMO", nil)
	require.NoError(t, err)
	assert.Len(t, all, total)
	assert.Equal(t, float64(230), all[229]["id"])
}

func TestAPI_List_ShortPageStops(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeResult(w, map[string]interface{}{"total": 0, "entities": []map[string]interface{}{{"id": 1}}})
	}))
	defer ts.Close()

	all, err := newTestAPI(ts).List(context.Background(), "/suite/DEMO", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, calls)
}

func TestAPI_List_RetriesServerErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeResult(w, map[string]interface{}{"entities": []interface{}{}})
	}))
	defer ts.Close()

	_, err := newTestAPI(ts).List(context.Background(), "/run/DEMO", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAPI_GetProject_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":false,"errorMessage":"Project not found"}`))
	}))
	defer ts.Close()

	p, err := newTestAPI(ts).GetProject(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAPI_CreateID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"title":"Smoke"}`, string(body))
		assert.Equal(t, "/suite/DEMO", r.URL.Path)
		writeResult(w, map[string]interface{}{"id": 17})
	}))
	defer ts.Close()

	id, err := newTestAPI(ts).CreateID(context.Background(), ProjectPath("suite", "DEMO"), map[string]string{"title": "Smoke"})
	require.NoError(t, err)
	assert.Equal(t, 17, id)
}

func TestAPI_CreateID_BadRequestNotRetried(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"status":false,"errorMessage":"Data is invalid."}`))
	}))
	defer ts.Close()

	_, err := newTestAPI(ts).CreateID(context.Background(), "/suite/DEMO", map[string]string{})
	require.Error(t, err)
	assert.Equal(t, 422, StatusCode(err))
	assert.Equal(t, 1, calls)
}

func TestAPI_GetAttachment_MissingIsNil(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":false,"errorMessage":"Attachment not found"}`))
	}))
	defer ts.Close()

	res, err := newTestAPI(ts).GetAttachment(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestAPI_UploadAttachment(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attachment/DEMO", r.URL.Path)
		writeResult(w, []map[string]interface{}{{"hash": "abc", "url": "https://cdn/public/team/ff/attachment/abc/x.png"}})
	}))
	defer ts.Close()

	items, err := newTestAPI(ts).UploadAttachment(context.Background(), "DEMO", "x.png", []byte("x"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "abc", items[0]["hash"])
}

func TestRaw_BulkCreateCases(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/case/DEMO/bulk", r.URL.Path)
		var req struct {
			Cases []map[string]interface{} `json:"cases"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ids := make([]int, len(req.Cases))
		for i := range req.Cases {
			ids[i] = 500 + i
		}
		writeResult(w, map[string]interface{}{"ids": ids})
	}))
	defer ts.Close()

	raw := NewRaw(newTestAPI(ts))
	ids, err := raw.BulkCreateCases(context.Background(), "DEMO", []map[string]interface{}{{"title": "a"}, {"title": "b"}})
	require.NoError(t, err)
	assert.Equal(t, []int{500, 501}, ids)
}

func TestRaw_Endpoints(t *testing.T) {
	var seen []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/defect/DEMO":
			writeResult(w, map[string]interface{}{"id": 9})
		case "/shared_parameter":
			if r.Method == "POST" {
				writeResult(w, map[string]interface{}{"id": "3f2a"})
				return
			}
			assert.Equal(t, "DEMO", r.URL.Query().Get("filters[project_codes][0]"))
			writeResult(w, map[string]interface{}{"entities": []map[string]interface{}{{"id": "p1"}}})
		case "/author":
			writeResult(w, map[string]interface{}{"entities": []map[string]interface{}{
				{"id": 4, "uuid": "u-4"}, {"id": 5},
			}})
		default:
			writeResult(w, nil)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	raw := NewRaw(newTestAPI(ts))

	id, err := raw.CreateDefect(ctx, "DEMO", map[string]interface{}{"title": "bug"})
	require.NoError(t, err)
	assert.Equal(t, 9, id)
	require.NoError(t, raw.ResolveDefect(ctx, "DEMO", 9))
	require.NoError(t, raw.BulkCreateResults(ctx, "DEMO", 12, []map[string]interface{}{{"case_id": 1, "status": "passed"}}))
	require.NoError(t, raw.CompleteRun(ctx, "DEMO", 12))
	require.NoError(t, raw.AttachExternalIssues(ctx, "DEMO", "jira-cloud", []ExternalIssueLink{{CaseID: 1, ExternalIssues: []string{"JR-1"}}}))

	params, err := raw.ListSharedParameters(ctx, []string{"DEMO"})
	require.NoError(t, err)
	assert.Len(t, params, 1)
	pid, err := raw.CreateSharedParameter(ctx, map[string]interface{}{"title": "env"})
	require.NoError(t, err)
	assert.Equal(t, "3f2a", pid)

	authors, err := raw.AuthorIDsByUUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u-4": 4}, authors)

	assert.Contains(t, seen, "PATCH /defect/DEMO/resolve/9")
	assert.Contains(t, seen, "POST /result/DEMO/12/bulk")
	assert.Contains(t, seen, "POST /run/DEMO/12/complete")
	assert.Contains(t, seen, "POST /case/DEMO/external-issue/attach")
}

func TestEnvelope_Decode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		count   int
	}{
		{"list", `{"status":true,"result":{"total":2,"entities":[{"id":1},{"id":2}]}}`, false, 2},
		{"empty result", `{"status":true}`, false, 0},
		{"error message", `{"status":false,"errorMessage":"boom"}`, true, 0},
		{"not json", `<html>`, true, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tc.body))
			if (err != nil) != tc.wantErr {
				t.Fatalf("DecodeEnvelope error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			page, err := env.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if page.Count != tc.count {
				t.Errorf("Count = %d, want %d", page.Count, tc.count)
			}
		})
	}
}

func ExampleProjectPath() {
	fmt.Println(ProjectPath("case", "DEMO"))
	// Output: /case/DEMO
}
