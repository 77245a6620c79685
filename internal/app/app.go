package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"inkwell/internal/scheduler"
	"inkwell/pkg/ai"
	"inkwell/pkg/cache"
	"inkwell/pkg/cdn"
	"inkwell/pkg/config"
	"inkwell/pkg/logger"
	"inkwell/pkg/mailer"
	"inkwell/pkg/posts"
	"inkwell/pkg/postsync"
	"inkwell/pkg/ratelimit"
	"inkwell/pkg/search"
	"inkwell/pkg/store"
	"inkwell/pkg/workflow"
)

// Finished workflow runs are kept this long before the retention job
// prunes them.
const runRetention = 7 * 24 * time.Hour

const workflowWorkers = 2

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	posts  *posts.Store
	cache  *cache.Cache
	bg     *cache.Background
	engine *search.Engine
	limits *ratelimit.Pool
	runner *workflow.Runner
	sync   *postsync.Service
	mail   mailer.Sender

	srv *http.Server

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// New opens the stores and wires the services. It does not start the
// workflow workers, schedulers or HTTP server; call Run for those.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateEffective(&eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", eff.DBPath, err)
	}
	postStore, err := posts.Open(cfg.Server.PostsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open posts db at %s: %w", cfg.Server.PostsDBPath, err)
	}

	kv := store.Live{}
	bg := cache.NewBackground()
	c := cache.New(kv, bg, time.Duration(cfg.Cache.DefaultTTL)*time.Second)
	engine := search.NewEngine(kv, postStore, cfg.Search.ContentLimit, cfg.Search.SnippetLength)
	limits := ratelimit.NewPool(kv)
	cdnClient := cdn.New(cfg.CDN.Endpoint, cfg.CDN.Token, cfg.Server.BaseURL, cfg.IsProduction())
	summarizer := ai.New(cfg.AI.Endpoint, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.RPS)
	mail := mailer.New(cfg.Mail.Endpoint, cfg.Mail.APIKey, cfg.Mail.From)

	runner := workflow.NewRunner(kv, cfg.Workflow.QueueCapacity, workflow.RetryPolicy{
		MaxAttempts:    cfg.Workflow.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Workflow.InitialBackoffMs) * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     5 * time.Minute,
	})
	runner.Register(workflow.PostProcess, workflow.PostSteps(postStore, summarizer, engine))

	svc := postsync.New(postStore, engine, c, cdnClient, runner)

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		posts:     postStore,
		cache:     c,
		bg:        bg,
		engine:    engine,
		limits:    limits,
		runner:    runner,
		sync:      svc,
		mail:      mail,
		lastSweep: time.Now().UTC(),
	}, nil
}

// Run starts the workflow workers, schedulers and HTTP server, then
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	waitWorkers := a.runner.Start(ctx, workflowWorkers)

	cancelSched, err := scheduler.Start(ctx, a.scheduledJobs())
	if err != nil {
		return err
	}

	a.printBanner()

	errCh := a.startHTTP(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	cancelSched()
	a.shutdown(waitWorkers)
	return runErr
}

func (a *App) scheduledJobs() []scheduler.Job {
	cfg := a.eff.Config
	return []scheduler.Job{
		{Name: "search_index_persist", Cron: cfg.Search.PersistCron, Run: func(ctx context.Context, _ time.Time) error {
			return a.engine.Persist(ctx)
		}},
		{Name: "scheduled_publish_sweep", Cron: cfg.Publish.SweepCron, Run: a.sweepScheduledPosts},
		{Name: "workflow_run_retention", Cron: cfg.Workflow.RetentionCron, Run: func(_ context.Context, now time.Time) error {
			n, err := a.runner.DeleteRunsBefore(now.Add(-runRetention))
			if err != nil {
				return err
			}
			logger.Info("workflow_runs_pruned", "count", n)
			return nil
		}},
	}
}

// sweepScheduledPosts fans out side effects for posts whose scheduled
// publish time passed since the previous sweep. The rows themselves
// need no change; visibility is derived from PublishedAt.
func (a *App) sweepScheduledPosts(ctx context.Context, now time.Time) error {
	a.sweepMu.Lock()
	from := a.lastSweep
	a.lastSweep = now
	a.sweepMu.Unlock()

	due, err := a.posts.ListPublishedBetween(ctx, from, now)
	if err != nil {
		return err
	}
	for _, p := range due {
		a.sync.Publish(ctx, p)
	}
	if len(due) > 0 {
		logger.Info("scheduled_posts_published", "count", len(due))
	}
	return nil
}

// shutdown drains in-flight work and persists derived state.
func (a *App) shutdown(waitWorkers func()) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.srv != nil {
		_ = a.srv.Shutdown(shutdownCtx)
	}
	a.runner.Stop()
	waitWorkers()
	a.bg.Wait()
	if err := a.engine.Persist(shutdownCtx); err != nil {
		logger.Warn("index_persist_on_shutdown_failed", "error", err.Error())
	}
	if err := a.posts.Close(); err != nil {
		logger.Warn("posts_close_failed", "error", err.Error())
	}
	if err := store.Close(); err != nil {
		logger.Warn("store_close_failed", "error", err.Error())
	}
	logger.Info("shutdown_complete")
}
