package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSummarizeNotConfigured(t *testing.T) {
	for _, c := range []*Client{
		New("", "key", "model", 1),
		New("http://localhost:9", "", "model", 1),
	} {
		_, err := c.Summarize(context.Background(), "text")
		if !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("expected ErrNotConfigured, got %v", err)
		}
	}
}

func TestSummarizeParsesChatResponse(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "a tidy summary"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "some-model", 100)
	out, err := c.Summarize(context.Background(), "long post body")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "a tidy summary" {
		t.Fatalf("summary = %q", out)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotReq.Model != "some-model" || len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "long post body" {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestSummarizeUpstreamErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "m", 100)
	_, err := c.Summarize(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotConfigured) {
		t.Fatal("provider failure must not look like not-configured")
	}
}

func TestSummarizeEmptyChoicesFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "m", 100)
	if _, err := c.Summarize(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
