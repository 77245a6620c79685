package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"inkwell/pkg/cache"
	"inkwell/pkg/cdn"
	"inkwell/pkg/config"
	"inkwell/pkg/mailer"
	"inkwell/pkg/models"
	"inkwell/pkg/posts"
	"inkwell/pkg/postsync"
	"inkwell/pkg/ratelimit"
	"inkwell/pkg/search"
	"inkwell/pkg/store"
	"inkwell/pkg/workflow"
)

const adminKey = "test-admin-key"

type testEnv struct {
	srv *httptest.Server
	bg  *cache.Background
}

func newTestEnv(t *testing.T, capacity float64) *testEnv {
	t.Helper()
	tmp := t.TempDir()
	if err := store.Open(filepath.Join(tmp, "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	postStore, err := posts.Open(filepath.Join(tmp, "posts.db"))
	if err != nil {
		t.Fatalf("posts.Open: %v", err)
	}
	t.Cleanup(func() { _ = postStore.Close() })

	cfg := &config.Config{}
	config.ValidateConfig(cfg)
	cfg.Server.BaseURL = "https://example.com"
	cfg.RateLimit.Capacity = capacity
	cfg.RateLimit.IntervalMs = 60_000
	cfg.APIKeys.Admin = []string{adminKey}

	kv := store.Live{}
	bg := cache.NewBackground()
	c := cache.New(kv, bg, time.Minute)
	engine := search.NewEngine(kv, postStore, cfg.Search.ContentLimit, cfg.Search.SnippetLength)
	limits := ratelimit.NewPool(kv)
	cdnClient := cdn.New("", "", cfg.Server.BaseURL, false)
	runner := workflow.NewRunner(kv, 16, workflow.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond})
	runner.Register(workflow.PostProcess, nil)
	svc := postsync.New(postStore, engine, c, cdnClient, runner)

	h := New(cfg, postStore, svc, c, engine, limits, runner, mailer.New("", "", ""))
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, bg: bg}
}

func (e *testEnv) adminReq(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-API-Key", adminKey)
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func createPublished(t *testing.T, e *testEnv, slug, title string) models.Post {
	t.Helper()
	resp := e.adminReq(t, http.MethodPost, "/v1/admin/posts", map[string]any{
		"slug":         slug,
		"title":        title,
		"content_json": `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hello body text"}]}]}`,
		"status":       models.StatusPublished,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var p models.Post
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAdminCreateThenPublicRead(t *testing.T) {
	e := newTestEnv(t, 1000)
	p := createPublished(t, e, "hello-world", "Hello world")
	if p.ID == 0 || p.PublishedAt == nil {
		t.Fatalf("unexpected created post %+v", p)
	}

	resp, err := http.Get(e.srv.URL + "/v1/posts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list struct {
		Posts []struct {
			Slug string `json:"slug"`
		} `json:"posts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Posts) != 1 || list.Posts[0].Slug != "hello-world" {
		t.Fatalf("unexpected list %+v", list)
	}

	resp2, err := http.Get(e.srv.URL + "/v1/posts/hello-world")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("get by slug: status %d", resp2.StatusCode)
	}
}

func TestDraftsAreInvisible(t *testing.T) {
	e := newTestEnv(t, 1000)
	resp := e.adminReq(t, http.MethodPost, "/v1/admin/posts", map[string]any{
		"slug": "wip", "title": "WIP", "content_json": "{}", "status": models.StatusDraft,
	})
	resp.Body.Close()

	got, err := http.Get(e.srv.URL + "/v1/posts/wip")
	if err != nil {
		t.Fatal(err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusNotFound {
		t.Fatalf("draft must 404, got %d", got.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	e := newTestEnv(t, 1000)
	createPublished(t, e, "searchable", "A very searchable title")

	resp, err := http.Get(e.srv.URL + "/v1/search?q=searchable")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Results []struct {
			Slug string `json:"slug"`
		} `json:"results"`
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 1 || out.Results[0].Slug != "searchable" {
		t.Fatalf("unexpected search response %+v", out)
	}

	// missing query
	bad, err := http.Get(e.srv.URL + "/v1/search")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}
}

func TestAdminSurfaceRequiresKey(t *testing.T) {
	e := newTestEnv(t, 1000)

	resp, err := http.Get(e.srv.URL + "/v1/admin/posts")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no key: expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/admin/posts", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp2, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong key: expected 403, got %d", resp2.StatusCode)
	}
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	e := newTestEnv(t, 3)

	var last *http.Response
	for i := 0; i < 4; i++ {
		resp, err := http.Get(e.srv.URL + "/v1/posts")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		last = resp
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 4th request, got %d", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestDeleteRemovesFromPublicSurface(t *testing.T) {
	e := newTestEnv(t, 1000)
	p := createPublished(t, e, "temp", "Temporary")

	resp := e.adminReq(t, http.MethodDelete, fmt.Sprintf("/v1/admin/posts/%d", p.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}

	got, err := http.Get(e.srv.URL + "/v1/posts/temp")
	if err != nil {
		t.Fatal(err)
	}
	got.Body.Close()
	if got.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted post must 404, got %d", got.StatusCode)
	}

	s, err := http.Get(e.srv.URL + "/v1/search?q=temporary")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Body.Close()
	var out struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(s.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 0 {
		t.Fatalf("deleted post still searchable: %+v", out)
	}
}

func TestFeedsServeXML(t *testing.T) {
	e := newTestEnv(t, 1000)
	createPublished(t, e, "feed-post", "Feed post")

	for path, ct := range map[string]string{
		"/rss.xml":     "application/rss+xml",
		"/sitemap.xml": "application/xml",
	} {
		resp, err := http.Get(e.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Type"); got[:len(ct)] != ct {
			t.Fatalf("%s: content type %q", path, got)
		}
	}
}
