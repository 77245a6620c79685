// Package api exposes the public read endpoints and the keyed admin
// surface over gorilla/mux.
package api

import (
	"github.com/gorilla/mux"

	"inkwell/pkg/cache"
	"inkwell/pkg/config"
	"inkwell/pkg/mailer"
	"inkwell/pkg/posts"
	"inkwell/pkg/postsync"
	"inkwell/pkg/ratelimit"
	"inkwell/pkg/search"
	"inkwell/pkg/workflow"
)

// API carries the wired services the handlers need. One instance is
// built at startup and shared by every request.
type API struct {
	cfg    *config.Config
	posts  *posts.Store
	sync   *postsync.Service
	cache  *cache.Cache
	engine *search.Engine
	limits *ratelimit.Pool
	runner *workflow.Runner
	mail   mailer.Sender

	adminKeys map[string]struct{}
}

func New(cfg *config.Config, store *posts.Store, sync *postsync.Service, c *cache.Cache, engine *search.Engine, limits *ratelimit.Pool, runner *workflow.Runner, mail mailer.Sender) *API {
	keys := make(map[string]struct{}, len(cfg.APIKeys.Admin))
	for _, k := range cfg.APIKeys.Admin {
		keys[k] = struct{}{}
	}
	return &API{
		cfg:       cfg,
		posts:     store,
		sync:      sync,
		cache:     c,
		engine:    engine,
		limits:    limits,
		runner:    runner,
		mail:      mail,
		adminKeys: keys,
	}
}

// Router builds the route table. Every route passes through the rate
// limiter; admin routes additionally require a configured API key.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.rateLimitMiddleware)

	r.HandleFunc("/v1/posts", a.listPosts).Methods("GET")
	r.HandleFunc("/v1/posts/{slug}", a.getPost).Methods("GET")
	r.HandleFunc("/v1/search", a.searchPosts).Methods("GET")
	r.HandleFunc("/rss.xml", a.rssFeed).Methods("GET")
	r.HandleFunc("/sitemap.xml", a.sitemap).Methods("GET")

	admin := r.PathPrefix("/v1/admin").Subrouter()
	admin.Use(a.adminAuthMiddleware)
	admin.HandleFunc("/posts", a.adminListPosts).Methods("GET")
	admin.HandleFunc("/posts", a.adminCreatePost).Methods("POST")
	admin.HandleFunc("/posts/{id}", a.adminGetPost).Methods("GET")
	admin.HandleFunc("/posts/{id}", a.adminUpdatePost).Methods("PUT")
	admin.HandleFunc("/posts/{id}", a.adminDeletePost).Methods("DELETE")
	admin.HandleFunc("/posts/{id}/announce", a.adminAnnouncePost).Methods("POST")
	admin.HandleFunc("/search/rebuild", a.adminRebuildIndex).Methods("POST")
	admin.HandleFunc("/workflows/{id}", a.adminGetWorkflowRun).Methods("GET")
	admin.HandleFunc("/stats", a.adminStats).Methods("GET")

	return r
}
