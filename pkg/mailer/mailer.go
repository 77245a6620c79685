// Package mailer sends transactional mail through an HTTP mail API.
// When no API key is configured the mailer degrades to a logged no-op
// so callers never branch on deployment shape.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inkwell/pkg/logger"
)

// Message is a single outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Client talks to an HTTP mail API with a bearer key.
type Client struct {
	endpoint string
	apiKey   string
	from     string
	http     *http.Client
}

// New returns a Sender. With an empty apiKey it returns a disabled
// sender that logs instead of delivering.
func New(endpoint, apiKey, from string) Sender {
	if apiKey == "" || endpoint == "" {
		return disabled{}
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type apiPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (c *Client) Send(ctx context.Context, m Message) error {
	body, err := json.Marshal(apiPayload{From: c.from, To: []string{m.To}, Subject: m.Subject, HTML: m.HTML})
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail api status %d: %s", resp.StatusCode, string(raw))
	}
	logger.Info("mail_sent", "to", m.To, "subject", m.Subject)
	return nil
}

type disabled struct{}

func (disabled) Send(_ context.Context, m Message) error {
	logger.Info("mail_skipped_not_configured", "to", m.To, "subject", m.Subject)
	return nil
}
