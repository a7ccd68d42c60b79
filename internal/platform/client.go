package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/metrics"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// APIError is a non-2xx response from a Qase endpoint.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 200))
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ResponseBody returns the raw response body.
func (e *APIError) ResponseBody() string { return e.Body }

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client is a shared HTTP client for one Qase workspace endpoint.
type Client struct {
	baseURL     string
	workspace   string
	authHeader  string
	authValue   string
	contentType string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// Option customizes a Client.
type Option func(*Client)

// WithRateLimit caps requests per second. Zero or negative disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the API root derived from the workspace host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// NewClient creates a v1 REST client authenticated with the "Token" header.
func NewClient(ws *models.Workspace, opts ...Option) *Client {
	c := &Client{
		baseURL:     ws.APIBaseURL("v1"),
		workspace:   ws.Name,
		authHeader:  "Token",
		authValue:   ws.Token,
		contentType: "application/json",
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewSCIMClient creates a client for the SCIM 2.0 endpoint using bearer auth.
func NewSCIMClient(ws *models.Workspace, opts ...Option) *Client {
	c := &Client{
		baseURL:     ws.SCIMBaseURL(),
		workspace:   ws.Name + "-scim",
		authHeader:  "Authorization",
		authValue:   "Bearer " + ws.SCIMToken,
		contentType: "application/scim+json",
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) url(p string, params url.Values) string {
	u := p
	if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
		u = c.baseURL + p
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}
	return u
}

// do sends one authenticated request and returns the body and status code.
func (c *Client) do(ctx context.Context, method, p string, params url.Values, body io.Reader, contentType string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(p, params), body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(c.authHeader, c.authValue)
	req.Header.Set("Accept", c.contentType)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RequestDuration.WithLabelValues(c.workspace, method, "error").Observe(time.Since(start).Seconds())
		return nil, 0, fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()
	metrics.RequestDuration.WithLabelValues(c.workspace, method, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, resp.StatusCode, &APIError{Method: method, Path: p, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, resp.StatusCode, nil
}

func (c *Client) doJSON(ctx context.Context, method, p string, payload interface{}) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	return c.do(ctx, method, p, nil, bodyReader, c.contentType)
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(ctx context.Context, p string, params url.Values) ([]byte, error) {
	body, _, err := c.do(ctx, http.MethodGet, p, params, nil, "")
	return body, err
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, p string, params url.Values, dest interface{}) error {
	body, err := c.Get(ctx, p, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, p string, payload interface{}) ([]byte, int, error) {
	return c.doJSON(ctx, http.MethodPost, p, payload)
}

// Patch performs an authenticated PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, p string, payload interface{}) ([]byte, int, error) {
	return c.doJSON(ctx, http.MethodPatch, p, payload)
}

// Upload sends content as the multipart form field "file".
func (c *Client) Upload(ctx context.Context, p, filename string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}
	body, _, err := c.do(ctx, http.MethodPost, p, nil, &buf, mw.FormDataContentType())
	return body, err
}

// Download fetches an absolute URL. With auth the workspace token is sent.
// It returns the body and a filename taken from Content-Disposition or the URL path.
func (c *Client) Download(ctx context.Context, rawURL string, auth bool) ([]byte, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	if auth {
		req.Header.Set(c.authHeader, c.authValue)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &APIError{Method: http.MethodGet, Path: rawURL, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, downloadName(resp, rawURL), nil
}

func downloadName(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			if unescaped, err := url.PathUnescape(base); err == nil {
				return unescaped
			}
			return base
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
