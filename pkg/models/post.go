package models

import "time"

// Post status values. A post is publicly visible iff Status is
// StatusPublished and PublishedAt is non-nil and <= now.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

type Post struct {
	ID      int64  `json:"id"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	// ContentJSON is the structured rich-text document, stored verbatim.
	ContentJSON string   `json:"content_json"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags,omitempty"`
	// TOC is derived from content headings on every sync; not user-editable.
	TOC         []TOCEntry `json:"toc,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TOCEntry is one heading in a post's table of contents.
type TOCEntry struct {
	Level  int    `json:"level"`
	Text   string `json:"text"`
	Anchor string `json:"anchor"`
}

// Visible reports whether the post is publicly visible at t.
func (p *Post) Visible(t time.Time) bool {
	return p.Status == StatusPublished && p.PublishedAt != nil && !p.PublishedAt.After(t)
}
