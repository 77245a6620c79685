// Package posts is the relational source of truth for blog posts. It is
// the single writer-of-record; the search index and KV cache are derived
// from it and may lag by one workflow execution.
package posts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"inkwell/pkg/logger"
	"inkwell/pkg/models"
)

// ErrNotFound is returned when no post matches the lookup.
var ErrNotFound = errors.New("post not found")

// Store wraps *sql.DB over modernc.org/sqlite (pure Go driver).
type Store struct {
	db *sql.DB
}

// Open opens the sqlite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            slug TEXT NOT NULL UNIQUE,
            title TEXT NOT NULL,
            summary TEXT,
            content_json TEXT NOT NULL DEFAULT '{}',
            status TEXT NOT NULL DEFAULT 'draft',
            tags TEXT NOT NULL DEFAULT '[]',
            toc TEXT NOT NULL DEFAULT '[]',
            published_at TIMESTAMP,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_posts_status_published
            ON posts(status, published_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// Create inserts a new post and returns it with the assigned id. Slug is
// required and unique; status defaults to draft.
func (s *Store) Create(ctx context.Context, p models.Post) (models.Post, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.StatusDraft
	}
	if p.Status == models.StatusPublished && p.PublishedAt == nil {
		p.PublishedAt = &now
	}
	tags, _ := json.Marshal(p.Tags)
	toc, _ := json.Marshal(p.TOC)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (slug, title, summary, content_json, status, tags, toc, published_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Slug, p.Title, nullStr(p.Summary), p.ContentJSON, p.Status, string(tags), string(toc), nullTime(p.PublishedAt), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Post{}, fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	logger.Info("post_created", "id", p.ID, "slug", p.Slug, "status", p.Status)
	return p, nil
}

// Update rewrites a post's mutable fields and touches updated_at.
// PublishedAt is set exactly once when status transitions to published
// from a non-published state; an explicit override in p.PublishedAt is
// honored when overridePublishedAt is true.
func (s *Store) Update(ctx context.Context, p models.Post, overridePublishedAt bool) (models.Post, error) {
	cur, err := s.GetByID(ctx, p.ID)
	if err != nil {
		return models.Post{}, err
	}
	now := time.Now().UTC()
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = now

	switch {
	case overridePublishedAt:
		// editor supplied an explicit publish time; keep it as-is
	case p.Status == models.StatusPublished && cur.Status != models.StatusPublished:
		p.PublishedAt = &now
	default:
		p.PublishedAt = cur.PublishedAt
	}

	tags, _ := json.Marshal(p.Tags)
	toc, _ := json.Marshal(p.TOC)
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET slug=?, title=?, summary=?, content_json=?, status=?, tags=?, toc=?, published_at=?, updated_at=?
         WHERE id=?`,
		p.Slug, p.Title, nullStr(p.Summary), p.ContentJSON, p.Status, string(tags), string(toc), nullTime(p.PublishedAt), p.UpdatedAt, p.ID)
	if err != nil {
		return models.Post{}, fmt.Errorf("update post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Post{}, ErrNotFound
	}
	logger.Info("post_updated", "id", p.ID, "slug", p.Slug, "status", p.Status)
	return p, nil
}

// UpdateSummary persists only the summary field, touching updated_at.
// Used by the workflow's summarize step so concurrent content edits are
// not clobbered.
func (s *Store) UpdateSummary(ctx context.Context, id int64, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET summary=?, updated_at=? WHERE id=?`,
		summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a post row permanently.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logger.Info("post_deleted", "id", id)
	return nil
}

// GetByID returns the post with the given id or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (models.Post, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE id=?`, id)
	return scanPost(row)
}

// GetBySlug returns the post with the given slug or ErrNotFound.
func (s *Store) GetBySlug(ctx context.Context, slug string) (models.Post, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE slug=?`, slug)
	return scanPost(row)
}

// ListPublished returns posts visible at time t, newest first.
func (s *Store) ListPublished(ctx context.Context, t time.Time) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		selectCols+` WHERE status=? AND published_at IS NOT NULL AND published_at<=? ORDER BY published_at DESC`,
		models.StatusPublished, t.UTC())
	if err != nil {
		return nil, fmt.Errorf("list published: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// ListPublishedBetween returns posts whose publish time falls in
// (from, to], used by the scheduled-publish sweep to find posts that
// just became visible.
func (s *Store) ListPublishedBetween(ctx context.Context, from, to time.Time) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		selectCols+` WHERE status=? AND published_at IS NOT NULL AND published_at>? AND published_at<=? ORDER BY published_at`,
		models.StatusPublished, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list published between: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// ListAll returns every post regardless of status, newest first. Admin use.
func (s *Store) ListAll(ctx context.Context) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

const selectCols = `SELECT id, slug, title, summary, content_json, status, tags, toc, published_at, created_at, updated_at FROM posts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (models.Post, error) {
	var p models.Post
	var summary sql.NullString
	var published sql.NullTime
	var tags, toc string
	err := r.Scan(&p.ID, &p.Slug, &p.Title, &summary, &p.ContentJSON, &p.Status, &tags, &toc, &published, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, ErrNotFound
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("scan post: %w", err)
	}
	p.Summary = summary.String
	if published.Valid {
		t := published.Time.UTC()
		p.PublishedAt = &t
	}
	_ = json.Unmarshal([]byte(tags), &p.Tags)
	_ = json.Unmarshal([]byte(toc), &p.TOC)
	return p, nil
}

func scanPosts(rows *sql.Rows) ([]models.Post, error) {
	var out []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
