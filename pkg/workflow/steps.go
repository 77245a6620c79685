package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inkwell/pkg/ai"
	"inkwell/pkg/content"
	"inkwell/pkg/logger"
	"inkwell/pkg/models"
	"inkwell/pkg/posts"
)

// PostProcess is the workflow enqueued after a post is created or
// updated.
const PostProcess = "post_process"

// Step names.
const (
	StepGenerateSummary   = "generate_summary"
	StepUpdateSearchIndex = "update_search_index"
)

// Summaries are only generated for posts with at least this much
// extracted text.
const minSummarizeChars = 100

// PostPayload is the wire payload of the post_process workflow.
type PostPayload struct {
	PostID      int64 `json:"postId"`
	IsPublished bool  `json:"isPublished,omitempty"`
}

func decodePostPayload(run *Run) (PostPayload, error) {
	var p PostPayload
	if err := json.Unmarshal(run.Payload, &p); err != nil {
		return p, Terminal(fmt.Errorf("decode payload: %w", err))
	}
	if p.PostID <= 0 {
		return p, Terminal(fmt.Errorf("invalid post id %d", p.PostID))
	}
	return p, nil
}

// Indexer is the slice of the search engine the workflow needs.
type Indexer interface {
	Upsert(ctx context.Context, d models.SearchDoc) error
	Delete(ctx context.Context, id string) error
	DocFromPost(p models.Post) models.SearchDoc
}

// PostSteps returns the ordered steps of the post_process workflow.
// Each step re-reads the post so a stale payload never overwrites
// newer edits.
func PostSteps(store *posts.Store, summarizer ai.Summarizer, idx Indexer) []Step {
	return []Step{
		{Name: StepGenerateSummary, Run: func(ctx context.Context, run *Run) error {
			return generateSummary(ctx, run, store, summarizer)
		}},
		{Name: StepUpdateSearchIndex, Run: func(ctx context.Context, run *Run) error {
			return updateSearchIndex(ctx, run, store, idx)
		}},
	}
}

// generateSummary fills in a missing post summary via the AI client.
// Posts that already carry a summary, are too short, or arrive with no
// configured model are skipped, never failed.
func generateSummary(ctx context.Context, run *Run, store *posts.Store, summarizer ai.Summarizer) error {
	payload, err := decodePostPayload(run)
	if err != nil {
		return err
	}
	p, err := store.GetByID(ctx, payload.PostID)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			return fmt.Errorf("%w: post %d deleted", ErrSkip, payload.PostID)
		}
		return fmt.Errorf("load post %d: %w", payload.PostID, err)
	}
	if p.Summary != "" {
		return fmt.Errorf("%w: summary already present", ErrSkip)
	}
	text := content.PlainText(p.ContentJSON)
	if len([]rune(text)) < minSummarizeChars {
		return fmt.Errorf("%w: content too short", ErrSkip)
	}
	summary, err := summarizer.Summarize(ctx, text)
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			return fmt.Errorf("%w: summarizer not configured", ErrSkip)
		}
		return fmt.Errorf("summarize post %d: %w", payload.PostID, err)
	}
	if err := store.UpdateSummary(ctx, p.ID, summary); err != nil {
		return fmt.Errorf("persist summary for post %d: %w", p.ID, err)
	}
	logger.Info("post_summary_generated", "post", p.ID, "chars", len(summary))
	return nil
}

// updateSearchIndex syncs the search document for the post. The index
// moves forward only; it reflects the post as it exists now, including
// any summary written by the previous step.
func updateSearchIndex(ctx context.Context, run *Run, store *posts.Store, idx Indexer) error {
	payload, err := decodePostPayload(run)
	if err != nil {
		return err
	}
	p, err := store.GetByID(ctx, payload.PostID)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			if derr := idx.Delete(ctx, fmt.Sprintf("%d", payload.PostID)); derr != nil {
				return fmt.Errorf("deindex post %d: %w", payload.PostID, derr)
			}
			return nil
		}
		return fmt.Errorf("load post %d: %w", payload.PostID, err)
	}
	if !p.Visible(time.Now()) {
		if err := idx.Delete(ctx, fmt.Sprintf("%d", p.ID)); err != nil {
			return fmt.Errorf("deindex post %d: %w", p.ID, err)
		}
		return nil
	}
	if err := idx.Upsert(ctx, idx.DocFromPost(p)); err != nil {
		return fmt.Errorf("index post %d: %w", p.ID, err)
	}
	return nil
}
