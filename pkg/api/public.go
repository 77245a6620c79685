package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"inkwell/pkg/cache"
	"inkwell/pkg/feeds"
	"inkwell/pkg/models"
	"inkwell/pkg/posts"
	"inkwell/pkg/postsync"
	"inkwell/pkg/search"
	"inkwell/pkg/utils"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// postListItem is the public list shape; full content stays behind the
// per-slug endpoint.
type postListItem struct {
	ID          int64      `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

type postListResponse struct {
	Posts []postListItem `json:"posts"`
}

// listPosts handles GET /v1/posts. The response is cached under the
// posts namespace version, so a post mutation invalidates it without
// touching stored entries.
func (a *API) listPosts(w http.ResponseWriter, r *http.Request) {
	ver := a.cache.Version(r.Context(), postsync.PostsNamespace)
	out, err := cache.GetJSON(r.Context(), a.cache,
		[]string{postsync.PostsNamespace, ver, "list"},
		func(resp *postListResponse) error {
			if resp.Posts == nil {
				return errors.New("posts field missing")
			}
			return nil
		},
		func(ctx context.Context) (postListResponse, error) {
			published, err := a.posts.ListPublished(ctx, time.Now())
			if err != nil {
				return postListResponse{}, err
			}
			items := make([]postListItem, 0, len(published))
			for _, p := range published {
				items = append(items, postListItem{
					ID:          p.ID,
					Slug:        p.Slug,
					Title:       p.Title,
					Summary:     p.Summary,
					Tags:        p.Tags,
					PublishedAt: p.PublishedAt,
				})
			}
			return postListResponse{Posts: items}, nil
		}, cache.Options{})
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list posts failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

// getPost handles GET /v1/posts/{slug}. Drafts and not-yet-published
// posts read as 404.
func (a *API) getPost(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	ver := a.cache.Version(r.Context(), postsync.PostsNamespace)
	out, err := cache.GetJSON(r.Context(), a.cache,
		[]string{postsync.PostsNamespace, ver, "slug", slug},
		func(p *models.Post) error {
			if p.Slug == "" {
				return errors.New("slug missing")
			}
			return nil
		},
		func(ctx context.Context) (models.Post, error) {
			p, err := a.posts.GetBySlug(ctx, slug)
			if err != nil {
				return models.Post{}, err
			}
			if !p.Visible(time.Now()) {
				return models.Post{}, posts.ErrNotFound
			}
			return p, nil
		}, cache.Options{})
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "post not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, "load post failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

type searchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
	Total   int             `json:"total"`
}

// searchPosts handles GET /v1/search?q=&limit=. Responses are cached
// keyed by the engine's version token so an index change busts every
// query entry at once.
func (a *API) searchPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		utils.JSONError(w, http.StatusBadRequest, "query parameter q required")
		return
	}
	limit := defaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	out, err := cache.GetJSON(r.Context(), a.cache,
		[]string{"search", a.engine.Version(), q, strconv.Itoa(limit)},
		func(resp *searchResponse) error {
			if resp.Results == nil {
				return errors.New("results field missing")
			}
			return nil
		},
		func(ctx context.Context) (searchResponse, error) {
			results, err := a.engine.Search(ctx, q, limit)
			if err != nil {
				return searchResponse{}, err
			}
			if results == nil {
				results = []search.Result{}
			}
			return searchResponse{Query: q, Results: results, Total: len(results)}, nil
		}, cache.Options{})
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "search failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

// feedDocument caches a rendered XML document; the bytes are stored as
// a string because cache entries are JSON envelopes.
type feedDocument struct {
	XML string `json:"xml"`
}

// cachedFeed renders an XML feed through the versioned cache so a post
// mutation invalidates feeds along with the JSON endpoints.
func (a *API) cachedFeed(w http.ResponseWriter, r *http.Request, name, contentType string, render func([]models.Post) ([]byte, error)) {
	ver := a.cache.Version(r.Context(), postsync.PostsNamespace)
	out, err := cache.GetJSON(r.Context(), a.cache,
		[]string{postsync.PostsNamespace, ver, name},
		func(d *feedDocument) error {
			if d.XML == "" {
				return errors.New("empty document")
			}
			return nil
		},
		func(ctx context.Context) (feedDocument, error) {
			published, err := a.posts.ListPublished(ctx, time.Now())
			if err != nil {
				return feedDocument{}, err
			}
			b, err := render(published)
			if err != nil {
				return feedDocument{}, err
			}
			return feedDocument{XML: string(b)}, nil
		}, cache.Options{})
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, name+" failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write([]byte(out.XML))
}

// rssFeed handles GET /rss.xml.
func (a *API) rssFeed(w http.ResponseWriter, r *http.Request) {
	a.cachedFeed(w, r, "rss", "application/rss+xml; charset=utf-8", func(published []models.Post) ([]byte, error) {
		return feeds.RSS(a.cfg.Server.BaseURL, "inkwell", "latest posts", published)
	})
}

// sitemap handles GET /sitemap.xml.
func (a *API) sitemap(w http.ResponseWriter, r *http.Request) {
	a.cachedFeed(w, r, "sitemap", "application/xml; charset=utf-8", func(published []models.Post) ([]byte, error) {
		return feeds.Sitemap(a.cfg.Server.BaseURL, published)
	})
}
