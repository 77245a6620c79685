package posts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"inkwell/pkg/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "posts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreatePublishedSetsPublishedAt(t *testing.T) {
	s := openStore(t)
	p, err := s.Create(context.Background(), models.Post{
		Slug: "hello", Title: "Hello", ContentJSON: "{}", Status: models.StatusPublished,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if p.PublishedAt == nil {
		t.Fatal("publishing on create must set published_at")
	}
}

func TestPublishedAtIsSetOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, models.Post{Slug: "draft", Title: "Draft", ContentJSON: "{}"})
	if err != nil {
		t.Fatal(err)
	}
	if p.PublishedAt != nil {
		t.Fatal("draft must not carry published_at")
	}

	p.Status = models.StatusPublished
	pub, err := s.Update(ctx, p, false)
	if err != nil {
		t.Fatal(err)
	}
	if pub.PublishedAt == nil {
		t.Fatal("transition to published must set published_at")
	}
	first := *pub.PublishedAt

	// Later edits keep the original publish time even if the caller
	// passes a different one.
	time.Sleep(5 * time.Millisecond)
	later := time.Now().UTC()
	pub.Title = "Draft, edited"
	pub.PublishedAt = &later
	edited, err := s.Update(ctx, pub, false)
	if err != nil {
		t.Fatal(err)
	}
	if !edited.PublishedAt.Equal(first) {
		t.Fatalf("published_at moved: %v -> %v", first, edited.PublishedAt)
	}
}

func TestUpdateOverridePublishedAt(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, models.Post{Slug: "backdated", Title: "Old", ContentJSON: "{}", Status: models.StatusPublished})
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	p.PublishedAt = &want
	got, err := s.Update(ctx, p, true)
	if err != nil {
		t.Fatal(err)
	}
	if !got.PublishedAt.Equal(want) {
		t.Fatalf("override ignored: %v", got.PublishedAt)
	}
	re, err := s.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !re.PublishedAt.Equal(want) {
		t.Fatalf("override not persisted: %v", re.PublishedAt)
	}
}

func TestUpdateSummaryOnlyTouchesSummary(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, models.Post{Slug: "s", Title: "T", ContentJSON: `{"type":"doc"}`})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSummary(ctx, p.ID, "generated"); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	got, err := s.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "generated" {
		t.Fatalf("summary = %q", got.Summary)
	}
	if got.ContentJSON != `{"type":"doc"}` || got.Title != "T" {
		t.Fatal("summary update must not touch other fields")
	}
}

func TestVisibilityWindows(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	mk := func(slug string, status string, at *time.Time) {
		if _, err := s.Create(ctx, models.Post{Slug: slug, Title: slug, ContentJSON: "{}", Status: status, PublishedAt: at}); err != nil {
			t.Fatal(err)
		}
	}
	mk("live", models.StatusPublished, &past)
	mk("scheduled", models.StatusPublished, &future)
	mk("draft", models.StatusDraft, nil)
	mk("archived", models.StatusArchived, &past)

	visible, err := s.ListPublished(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].Slug != "live" {
		t.Fatalf("expected only live post, got %+v", visible)
	}

	due, err := s.ListPublishedBetween(ctx, now, now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].Slug != "scheduled" {
		t.Fatalf("expected scheduled post in sweep window, got %+v", due)
	}
}

func TestGetBySlugNotFound(t *testing.T) {
	s := openStore(t)
	if _, err := s.GetBySlug(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMissingPost(t *testing.T) {
	s := openStore(t)
	if err := s.Delete(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTagsAndTOCRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	p, err := s.Create(ctx, models.Post{
		Slug:        "tagged",
		Title:       "Tagged",
		ContentJSON: "{}",
		Tags:        []string{"go", "databases"},
		TOC:         []models.TOCEntry{{Level: 2, Text: "Intro", Anchor: "intro"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "databases" {
		t.Fatalf("tags = %+v", got.Tags)
	}
	if len(got.TOC) != 1 || got.TOC[0].Anchor != "intro" {
		t.Fatalf("toc = %+v", got.TOC)
	}
}
