package migration

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/mapping"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/retry"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/stats"
)

// fakeQase is an in-memory Qase workspace. GET requests are served from
// lists (paged endpoints) and items (single entities); unknown paged
// endpoints are empty and unknown single entities are 404. Paths in fail
// answer with that status. Every POST and PATCH body is recorded under its path.
type fakeQase struct {
	t      *testing.T
	server *httptest.Server

	mu      sync.Mutex
	lists   map[string][]map[string]interface{}
	items   map[string]map[string]interface{}
	files   map[string][]byte
	replies map[string]interface{}
	fail    map[string]int
	posts   map[string][]map[string]interface{}
	uploads []string
	nextID  int
}

func newFakeQase(t *testing.T) *fakeQase {
	f := &fakeQase{
		t:       t,
		lists:   map[string][]map[string]interface{}{},
		items:   map[string]map[string]interface{}{},
		files:   map[string][]byte{},
		replies: map[string]interface{}{},
		fail:    map[string]int{},
		posts:   map[string][]map[string]interface{}{},
		nextID:  1000,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeQase) list(path string, entities ...map[string]interface{}) {
	f.lists[path] = append(f.lists[path], entities...)
}

func (f *fakeQase) postsTo(path string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[path]
}

func (f *fakeQase) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	if code, ok := f.fail[p]; ok {
		w.WriteHeader(code)
		w.Write([]byte(`{"status":false,"errorMessage":"Forbidden"}`))
		return
	}
	switch r.Method {
	case http.MethodGet:
		if data, ok := f.files[p]; ok {
			w.Write(data)
			return
		}
		if item, ok := f.items[p]; ok {
			writeResult(w, item)
			return
		}
		if r.URL.Query().Get("limit") != "" {
			key := p
			if run := r.URL.Query().Get("run"); run != "" {
				key += "?run=" + run
			}
			entities := f.lists[key]
			if entities == nil {
				entities = []map[string]interface{}{}
			}
			writeResult(w, map[string]interface{}{
				"total": len(entities), "filtered": len(entities), "count": len(entities), "entities": entities,
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":false,"errorMessage":"Not found"}`))
	case http.MethodPost, http.MethodPatch:
		if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "multipart/form-data" {
			f.upload(w, r)
			return
		}
		body := map[string]interface{}{}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				f.t.Errorf("%s %s: bad JSON: %v", r.Method, p, err)
			}
		}
		f.posts[p] = append(f.posts[p], body)
		if reply, ok := f.replies[p]; ok {
			writeResult(w, reply)
			return
		}
		if strings.HasPrefix(p, "/case/") && strings.HasSuffix(p, "/bulk") {
			cases, _ := body["cases"].([]interface{})
			ids := make([]int, len(cases))
			for i := range cases {
				f.nextID++
				ids[i] = f.nextID
			}
			writeResult(w, map[string]interface{}{"ids": ids})
			return
		}
		f.nextID++
		writeResult(w, map[string]interface{}{"id": f.nextID, "hash": "h" + strconv.Itoa(f.nextID), "code": body["code"]})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeQase) upload(w http.ResponseWriter, r *http.Request) {
	file, hdr, err := r.FormFile("file")
	if err != nil {
		f.t.Errorf("upload: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	file.Close()
	f.uploads = append(f.uploads, hdr.Filename)
	writeResult(w, f.replies[r.URL.Path])
}

func writeResult(w http.ResponseWriter, result interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{"status": true, "result": result})
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func (f *fakeQase) api(name string) *platform.API {
	log := quietLogger()
	c := platform.NewClient(&models.Workspace{Name: name, Token: "token-" + name},
		platform.WithBaseURL(f.server.URL), platform.WithHTTPClient(f.server.Client()))
	return platform.NewAPI(c, retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, Log: log})
}

func newTestMigrator(src, dst *fakeQase, opts Options) *Migrator {
	return New(Deps{
		Source:  src.api("source"),
		Target:  dst.api("target"),
		Store:   mapping.New(),
		Stats:   stats.New(),
		Options: opts,
		Log:     quietLogger(),
	})
}

type doc = map[string]interface{}
