// Package postsync coordinates everything that must happen around a
// post write: the relational store is the source of truth, and the
// search index, cache versions, CDN and post-processing workflow are
// brought up to date best-effort afterwards. A failed side effect is
// logged, never surfaced to the caller.
package postsync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"inkwell/pkg/cache"
	"inkwell/pkg/cdn"
	"inkwell/pkg/content"
	"inkwell/pkg/logger"
	"inkwell/pkg/models"
	"inkwell/pkg/posts"
	"inkwell/pkg/utils"
	"inkwell/pkg/workflow"
)

// PostsNamespace is the cache version namespace invalidated on every
// post mutation.
const PostsNamespace = "posts"

// Indexer is the slice of the search engine the service needs.
type Indexer interface {
	Upsert(ctx context.Context, d models.SearchDoc) error
	Delete(ctx context.Context, id string) error
	DocFromPost(p models.Post) models.SearchDoc
}

// Enqueuer hands a payload to the post-processing workflow.
type Enqueuer interface {
	Enqueue(ctx context.Context, workflow string, payload any) (string, error)
}

// Service owns the post write path.
type Service struct {
	store  *posts.Store
	index  Indexer
	cache  *cache.Cache
	cdn    *cdn.Client
	runner Enqueuer
}

func New(store *posts.Store, index Indexer, c *cache.Cache, cdn *cdn.Client, runner Enqueuer) *Service {
	return &Service{store: store, index: index, cache: c, cdn: cdn, runner: runner}
}

// Create writes a new post and fans out side effects. The slug and
// table of contents are derived here so callers only supply content.
func (s *Service) Create(ctx context.Context, p models.Post) (models.Post, error) {
	s.derive(&p)
	saved, err := s.store.Create(ctx, p)
	if err != nil {
		return models.Post{}, err
	}
	s.fanOut(ctx, saved, saved.Visible(time.Now()))
	logger.Info("post_created", "post", saved.ID, "slug", saved.Slug, "status", saved.Status)
	return saved, nil
}

// Update rewrites an existing post. overridePublishedAt lets an editor
// backdate or correct the publish time; otherwise the stored value is
// kept once set.
func (s *Service) Update(ctx context.Context, p models.Post, overridePublishedAt bool) (models.Post, error) {
	s.derive(&p)
	saved, err := s.store.Update(ctx, p, overridePublishedAt)
	if err != nil {
		return models.Post{}, err
	}
	s.fanOut(ctx, saved, saved.Visible(time.Now()))
	logger.Info("post_updated", "post", saved.ID, "slug", saved.Slug, "status", saved.Status)
	return saved, nil
}

// Delete removes a post and clears it from the index, cache and CDN.
func (s *Service) Delete(ctx context.Context, id int64) error {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, strconv.FormatInt(id, 10)); err != nil {
		logger.Warn("post_deindex_failed", "post", id, "error", err.Error())
	}
	s.invalidate(ctx, p.Slug)
	logger.Info("post_deleted", "post", id, "slug", p.Slug)
	return nil
}

// Publish is invoked by the scheduled-publish sweep for posts whose
// publish time has just passed; the row itself needs no change.
func (s *Service) Publish(ctx context.Context, p models.Post) {
	s.fanOut(ctx, p, true)
	logger.Info("post_published", "post", p.ID, "slug", p.Slug)
}

func (s *Service) derive(p *models.Post) {
	if p.Slug == "" {
		// Before the insert the id is still unassigned; a random
		// fallback keeps titles that slugify to nothing (all-CJK
		// titles, say) from colliding on a shared value.
		fallback := strconv.FormatInt(p.ID, 10)
		if p.ID == 0 {
			fallback = strings.ToLower(ulid.Make().String())
		}
		p.Slug = utils.MakeSlug(p.Title, fallback)
	}
	p.TOC = content.TOC(p.ContentJSON)
}

// fanOut applies the side effects of a post write. Order matters only
// in that the workflow runs last; everything is best-effort.
func (s *Service) fanOut(ctx context.Context, p models.Post, visible bool) {
	if visible {
		if err := s.index.Upsert(ctx, s.index.DocFromPost(p)); err != nil {
			logger.Warn("post_index_failed", "post", p.ID, "error", err.Error())
		}
	} else {
		if err := s.index.Delete(ctx, strconv.FormatInt(p.ID, 10)); err != nil {
			logger.Warn("post_deindex_failed", "post", p.ID, "error", err.Error())
		}
	}
	s.invalidate(ctx, p.Slug)
	if _, err := s.runner.Enqueue(ctx, workflow.PostProcess, workflow.PostPayload{PostID: p.ID, IsPublished: visible}); err != nil {
		logger.Warn("post_workflow_enqueue_failed", "post", p.ID, "error", err.Error())
	}
}

func (s *Service) invalidate(ctx context.Context, slug string) {
	s.cache.BumpVersion(ctx, PostsNamespace)
	if err := s.cdn.PurgePostRelatedPaths(ctx, slug); err != nil {
		logger.Warn("cdn_purge_failed", "slug", slug, "error", err.Error())
	}
}
