package platform

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

func newTestClient(ts *httptest.Server) *Client {
	return &Client{
		baseURL:     ts.URL,
		workspace:   "test",
		authHeader:  "Token",
		authValue:   "secret",
		contentType: "application/json",
		httpClient:  ts.Client(),
	}
}

func TestClient_Get_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":true}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get(context.Background(), "/project", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != `{"status":true}` {
		t.Errorf("body = %q, want {\"status\":true}", string(body))
	}
}

func TestClient_Get_TokenHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Token"); got != "secret" {
			t.Errorf("Token header = %q, want secret", got)
		}
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if _, err := c.Get(context.Background(), "/test", nil); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
}

func TestClient_Get_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":false,"errorMessage":"Unauthenticated."}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(context.Background(), "/project", nil)
	if err == nil {
		t.Fatal("Get should return error for 401")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.HTTPStatus() != 401 {
		t.Errorf("status = %d, want 401", apiErr.HTTPStatus())
	}
	if !strings.Contains(err.Error(), "GET /project: HTTP 401") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestClient_Post(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"title":"Test"}` {
			t.Errorf("body = %s", body)
		}
		w.Write([]byte(`{"status":true,"result":{"id":1}}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, status, err := c.Post(context.Background(), "/suite/DEMO", map[string]string{"title": "Test"})
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if string(body) != `{"status":true,"result":{"id":1}}` {
		t.Errorf("body = %q", string(body))
	}
}

func TestClient_Upload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if header.Filename != "shot.png" || string(data) != "PNGDATA" {
			t.Errorf("upload = (%q, %q), want (shot.png, PNGDATA)", header.Filename, data)
		}
		w.Write([]byte(`{"status":true,"result":[{"hash":"abc"}]}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if _, err := c.Upload(context.Background(), "/attachment/DEMO", "shot.png", []byte("PNGDATA")); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
}

func TestClient_Download(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/named":
			w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
			w.Write([]byte("PDF"))
		case "/files/log file.txt":
			w.Write([]byte("LOG"))
		case "/private":
			if r.Header.Get("Token") != "secret" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte("OK"))
		}
	}))
	defer ts.Close()

	c := newTestClient(ts)
	tests := []struct {
		name     string
		path     string
		auth     bool
		wantName string
		wantBody string
		wantErr  bool
	}{
		{"content disposition", "/named", false, "report.pdf", "PDF", false},
		{"url path", "/files/log%20file.txt", false, "log file.txt", "LOG", false},
		{"forbidden without token", "/private", false, "", "", true},
		{"token sent", "/private", true, "private", "OK", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, name, err := c.Download(context.Background(), ts.URL+tc.path, tc.auth)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Download error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if name != tc.wantName || string(data) != tc.wantBody {
				t.Errorf("Download = (%q, %q), want (%q, %q)", data, name, tc.wantBody, tc.wantName)
			}
		})
	}
}

func TestClient_RateLimitHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	WithRateLimit(0.001)(c)
	if _, err := c.Get(context.Background(), "/a", nil); err != nil {
		t.Fatalf("first Get returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "/b", nil); err == nil {
		t.Error("Get with canceled context should fail while rate limited")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		expect string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"empty", "", 5, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.input, tc.maxLen)
			if got != tc.expect {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expect)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	ws := &models.Workspace{Name: "target", Host: "acme.qase.io", Token: "tok", Enterprise: true, SSL: true}
	c := NewClient(ws)
	if c.baseURL != "https://api-acme.qase.io/v1" {
		t.Errorf("baseURL = %q, want https://api-acme.qase.io/v1", c.baseURL)
	}
	if c.authHeader != "Token" || c.authValue != "tok" {
		t.Error("credentials not set correctly")
	}

	ws.SCIMToken = "scim"
	s := NewSCIMClient(ws)
	if s.baseURL != "https://acme.qase.io/scim/v2" {
		t.Errorf("SCIM baseURL = %q", s.baseURL)
	}
	if s.authHeader != "Authorization" || s.authValue != "Bearer scim" {
		t.Errorf("SCIM auth = %s: %s", s.authHeader, s.authValue)
	}
	if s.contentType != "application/scim+json" {
		t.Errorf("SCIM content type = %s", s.contentType)
	}
}
