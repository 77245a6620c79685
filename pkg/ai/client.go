// Package ai calls an OpenAI-compatible chat-completions endpoint to
// generate post summaries. "Not configured" is a first-class condition,
// distinguishable from transient provider failure, so sites without AI
// skip summarization instead of retrying a doomed step.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"inkwell/pkg/telemetry"
)

// ErrNotConfigured indicates the provider has no endpoint or API key.
// Callers must treat this as a deliberate skip, never a failure.
var ErrNotConfigured = errors.New("ai provider not configured")

const summaryPrompt = "Summarize the following blog post in two or three sentences. Reply with the summary only."

// Summarizer is the narrow interface the workflow consumes.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Client is an OpenAI-compatible summarization client. Outbound calls
// are throttled client-side and guarded by a circuit breaker.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// New builds a Client. rps bounds outbound request rate; zero means 1.
func New(endpoint, apiKey, model string, rps float64) *Client {
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ai-summarize",
			Timeout: time.Minute,
		}),
	}
}

// Configured reports whether the client can make calls at all.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != "" && c.apiKey != ""
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize returns a short summary of text. Returns ErrNotConfigured
// when no provider is wired; every other error is transient and safe to
// retry.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	if !c.Configured() {
		telemetry.AICalls.WithLabelValues("not_configured").Inc()
		return "", ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, text)
	})
	if err != nil {
		telemetry.AICalls.WithLabelValues("error").Inc()
		return "", err
	}
	telemetry.AICalls.WithLabelValues("ok").Inc()
	return out.(string), nil
}

func (c *Client) complete(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ai provider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("ai provider status %d: %s", resp.StatusCode, string(b))
	}
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("ai provider returned no summary")
	}
	return cr.Choices[0].Message.Content, nil
}
