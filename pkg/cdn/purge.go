// Package cdn invalidates CDN-cached responses after content changes.
// Purge failures are retryable and non-fatal: content stays correct at
// origin, only edge staleness is affected.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"inkwell/pkg/logger"
	"inkwell/pkg/telemetry"
)

// PurgeError carries the provider's HTTP status and response body so
// callers can log and classify the failure.
type PurgeError struct {
	Status int
	Body   string
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("cdn purge failed: status %d: %s", e.Status, e.Body)
}

// Options name what to invalidate. URLs are site-relative paths; each
// is purged in both bare and trailing-slash form. Prefixes purge whole
// path subtrees.
type Options struct {
	URLs     []string
	Prefixes []string
}

type purgePayload struct {
	Files    []string `json:"files,omitempty"`
	Prefixes []string `json:"prefixes,omitempty"`
}

// Client talks to the provider's purge endpoint with bearer-token auth.
// In non-production environments every purge is a logged no-op.
type Client struct {
	endpoint string
	token    string
	baseURL  string
	enabled  bool
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// New builds a purge client. baseURL is the public origin prepended to
// site-relative paths. enabled should be false outside production.
func New(endpoint, token, baseURL string, enabled bool) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		baseURL:  strings.TrimRight(baseURL, "/"),
		enabled:  enabled && endpoint != "" && token != "",
		http:     &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cdn-purge",
			Timeout: 30 * time.Second,
		}),
	}
}

// Purge sends one authenticated purge request covering opts. For each
// exact URL both the bare path and a trailing-slash variant are listed,
// covering trailing-slash-insensitive routing at the edge.
func (c *Client) Purge(ctx context.Context, opts Options) error {
	if !c.enabled {
		logger.Info("cdn_purge_skipped", "reason", "disabled", "urls", len(opts.URLs), "prefixes", len(opts.Prefixes))
		return nil
	}

	payload := purgePayload{}
	for _, u := range opts.URLs {
		full := c.absolute(u)
		payload.Files = append(payload.Files, strings.TrimRight(full, "/"))
		payload.Files = append(payload.Files, strings.TrimRight(full, "/")+"/")
	}
	for _, p := range opts.Prefixes {
		payload.Prefixes = append(payload.Prefixes, c.absolute(p))
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, payload)
	})
	if err != nil {
		telemetry.CDNPurges.WithLabelValues("error").Inc()
		return err
	}
	telemetry.CDNPurges.WithLabelValues("ok").Inc()
	return nil
}

func (c *Client) send(ctx context.Context, payload purgePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal purge payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build purge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send purge request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &PurgeError{Status: resp.StatusCode, Body: string(b)}
	}
	logger.Info("cdn_purged", "files", len(payload.Files), "prefixes", len(payload.Prefixes))
	return nil
}

func (c *Client) absolute(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// PurgePostRelatedPaths invalidates everything the edge may have cached
// for a single post: the detail page, the listing, the home page, and
// the dynamic-function prefix holding server-computed fragments.
func (c *Client) PurgePostRelatedPaths(ctx context.Context, slug string) error {
	return c.Purge(ctx, Options{
		URLs:     []string{"/post/" + slug, "/posts", "/"},
		Prefixes: []string{"/.functions/"},
	})
}
