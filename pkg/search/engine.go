// Package search maintains the full-text index over published posts.
// The index lives in memory (bleve) and is derived state: it is rebuilt
// from the relational store on demand and persisted to the KV store as
// a single document blob under a fixed key.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"golang.org/x/sync/singleflight"

	"inkwell/pkg/content"
	"inkwell/pkg/logger"
	"inkwell/pkg/models"
	"inkwell/pkg/store"
	"inkwell/pkg/telemetry"
)

// blobKey is the fixed KV key holding the serialized document set.
const blobKey = "search:index"

// persistedIndex is the opaque blob format. Documents, not bleve
// internals, are persisted; the in-memory index is rebuilt from them on
// cold start.
type persistedIndex struct {
	Format int                `json:"format"`
	Docs   []models.SearchDoc `json:"docs"`
}

// Result is one search hit.
type Result struct {
	ID      string  `json:"id"`
	Slug    string  `json:"slug"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// RebuildResult reports what a full rebuild did.
type RebuildResult struct {
	Indexed  int   `json:"indexed"`
	Duration int64 `json:"duration_ms"`
}

// PostSource is the slice of the relational store the engine needs.
type PostSource interface {
	ListPublished(ctx context.Context, t time.Time) ([]models.Post, error)
}

// indexState is an immutable-by-convention pairing of a bleve index and
// the documents it holds. Mutating methods take the state's lock; a
// rebuild constructs a fresh state in isolation and swaps the pointer,
// so readers always observe either the old or the new index whole.
type indexState struct {
	mu   sync.Mutex
	idx  bleve.Index
	docs map[string]models.SearchDoc
}

// Engine is the search index engine. Construct once per process.
type Engine struct {
	kv           store.KV
	posts        PostSource
	contentLimit int
	snippetLen   int

	current atomic.Pointer[indexState]
	loads   singleflight.Group
	version atomic.Uint64
}

// NewEngine builds an Engine. The index is loaded lazily on first use.
func NewEngine(kv store.KV, posts PostSource, contentLimit, snippetLen int) *Engine {
	e := &Engine{kv: kv, posts: posts, contentLimit: contentLimit, snippetLen: snippetLen}
	// Seed with the clock so a restarted process never reissues a token
	// handed out before the restart. Durable cache entries keyed by an
	// old token would otherwise read as fresh after the index changed.
	e.version.Store(uint64(time.Now().UnixNano()))
	return e
}

// Version returns a token that changes on every index mutation. It is
// meant for upstream HTTP cache keys (cache busting), not for the
// index's own consistency.
func (e *Engine) Version() string {
	return strconv.FormatUint(e.version.Load(), 10)
}

// DocFromPost derives the search document for a post: plain text is
// extracted and truncated, and a snippet-length summary is derived when
// no human-authored summary exists.
func (e *Engine) DocFromPost(p models.Post) models.SearchDoc {
	plain := content.Truncate(content.PlainText(p.ContentJSON), e.contentLimit)
	summary := p.Summary
	if summary == "" {
		summary = content.Snippet(plain, e.snippetLen)
	}
	return models.SearchDoc{
		ID:      strconv.FormatInt(p.ID, 10),
		Slug:    p.Slug,
		Title:   p.Title,
		Summary: summary,
		Content: plain,
		Tags:    p.Tags,
	}
}

// ensure returns the current index state, cold-loading it from the
// persisted blob on first use. Concurrent cold loads coalesce into a
// single in-flight load; later callers await the same result. This is a
// correctness requirement, not an optimization: duplicate loads would
// transiently double memory and race on which result becomes current.
func (e *Engine) ensure(ctx context.Context) (*indexState, error) {
	if st := e.current.Load(); st != nil {
		return st, nil
	}
	v, err, _ := e.loads.Do("load", func() (interface{}, error) {
		if st := e.current.Load(); st != nil {
			return st, nil
		}
		st, err := e.load()
		if err != nil {
			return nil, err
		}
		e.current.Store(st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*indexState), nil
}

// load deserializes the persisted blob into a fresh in-memory index,
// falling back to an empty index when the blob is absent or corrupt.
func (e *Engine) load() (*indexState, error) {
	st, err := newIndexState()
	if err != nil {
		return nil, err
	}
	b, err := e.kv.Get(blobKey)
	if err != nil {
		logger.Info("search_index_cold_start", "reason", "blob_absent")
		return st, nil
	}
	var blob persistedIndex
	if err := json.Unmarshal(b, &blob); err != nil {
		logger.Warn("search_index_blob_corrupt", "error", err)
		return st, nil
	}
	for _, d := range blob.Docs {
		if err := st.index(d); err != nil {
			return nil, fmt.Errorf("reindex persisted doc %s: %w", d.ID, err)
		}
	}
	logger.Info("search_index_loaded", "docs", len(blob.Docs))
	telemetry.SearchIndexDocs.Set(float64(len(blob.Docs)))
	return st, nil
}

// docFields maps a document onto the lowercase field names the index
// mapping declares. bleve would otherwise index exported struct names.
func docFields(d models.SearchDoc) map[string]interface{} {
	return map[string]interface{}{
		"id":      d.ID,
		"slug":    d.Slug,
		"title":   d.Title,
		"summary": d.Summary,
		"content": d.Content,
		"tags":    d.Tags,
	}
}

func newIndexState() (*indexState, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &indexState{idx: idx, docs: make(map[string]models.SearchDoc)}, nil
}

// index writes a document under the state's lock. Indexing the same id
// twice updates in place; bleve replaces the document.
func (st *indexState) index(d models.SearchDoc) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.idx.Index(d.ID, docFields(d)); err != nil {
		return err
	}
	st.docs[d.ID] = d
	return nil
}

func (st *indexState) remove(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.idx.Delete(id); err != nil {
		return err
	}
	delete(st.docs, id)
	return nil
}

func (st *indexState) count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.docs)
}

func (st *indexState) snapshot() persistedIndex {
	st.mu.Lock()
	defer st.mu.Unlock()
	blob := persistedIndex{Format: 1, Docs: make([]models.SearchDoc, 0, len(st.docs))}
	for _, d := range st.docs {
		blob.Docs = append(blob.Docs, d)
	}
	return blob
}

// Upsert inserts or replaces the document for a single post. Idempotent:
// repeating an id updates in place rather than duplicating.
func (e *Engine) Upsert(ctx context.Context, d models.SearchDoc) error {
	st, err := e.ensure(ctx)
	if err != nil {
		return err
	}
	if err := st.index(d); err != nil {
		return fmt.Errorf("index doc %s: %w", d.ID, err)
	}
	e.version.Add(1)
	telemetry.SearchIndexDocs.Set(float64(st.count()))
	logger.Info("search_doc_upserted", "id", d.ID, "slug", d.Slug)
	return nil
}

// Delete removes the document for a post id (deleted or unpublished).
func (e *Engine) Delete(ctx context.Context, id string) error {
	st, err := e.ensure(ctx)
	if err != nil {
		return err
	}
	if err := st.remove(id); err != nil {
		return fmt.Errorf("delete doc %s: %w", id, err)
	}
	e.version.Add(1)
	telemetry.SearchIndexDocs.Set(float64(st.count()))
	logger.Info("search_doc_deleted", "id", id)
	return nil
}

// Search tokenizes the query with the index analyzer, ranks by
// relevance and returns the top hits. Title carries a boost over body
// text.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	st, err := e.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	timer := time.Now()

	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	title.SetBoost(3)
	summary := bleve.NewMatchQuery(query)
	summary.SetField("summary")
	summary.SetBoost(2)
	body := bleve.NewMatchQuery(query)
	body.SetField("content")
	tags := bleve.NewMatchQuery(query)
	tags.SetField("tags")
	tags.SetBoost(2)

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(title, summary, body, tags), limit, 0, false)
	req.Fields = []string{"slug", "title", "summary"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("content")

	res, err := st.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	telemetry.SearchQueries.Observe(time.Since(timer).Seconds())

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{ID: hit.ID, Score: hit.Score}
		if s, ok := hit.Fields["slug"].(string); ok {
			r.Slug = s
		}
		if s, ok := hit.Fields["title"].(string); ok {
			r.Title = s
		}
		if frags, ok := hit.Fragments["content"]; ok && len(frags) > 0 {
			r.Snippet = frags[0]
		} else if s, ok := hit.Fields["summary"].(string); ok {
			r.Snippet = s
		}
		out = append(out, r)
	}
	return out, nil
}

// Rebuild reconstructs the whole index from the relational store: all
// posts visible now are re-extracted and indexed into a fresh state,
// which is then swapped in atomically and persisted. Readers concurrent
// with a rebuild see the previous index until the swap.
func (e *Engine) Rebuild(ctx context.Context) (RebuildResult, error) {
	start := time.Now()
	list, err := e.posts.ListPublished(ctx, time.Now().UTC())
	if err != nil {
		return RebuildResult{}, fmt.Errorf("list published posts: %w", err)
	}
	fresh, err := newIndexState()
	if err != nil {
		return RebuildResult{}, err
	}
	for _, p := range list {
		if err := fresh.index(e.DocFromPost(p)); err != nil {
			return RebuildResult{}, fmt.Errorf("index post %d: %w", p.ID, err)
		}
	}
	e.current.Store(fresh)
	e.version.Add(1)
	telemetry.SearchIndexDocs.Set(float64(fresh.count()))

	if err := e.Persist(ctx); err != nil {
		// the in-memory swap already happened; persistence is best-effort
		logger.Warn("search_index_persist_failed", "error", err)
	}
	res := RebuildResult{Indexed: len(list), Duration: time.Since(start).Milliseconds()}
	logger.Info("search_index_rebuilt", "indexed", res.Indexed, "duration_ms", res.Duration)
	return res, nil
}

// Persist serializes the current document set to the KV store,
// replacing any previous blob.
func (e *Engine) Persist(ctx context.Context) error {
	st := e.current.Load()
	if st == nil {
		return nil
	}
	blob := st.snapshot()
	b, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("marshal index blob: %w", err)
	}
	if err := e.kv.Put(blobKey, b); err != nil {
		return fmt.Errorf("persist index blob: %w", err)
	}
	logger.Debug("search_index_persisted", "docs", len(blob.Docs), "bytes", len(b))
	return nil
}

// Count returns the number of documents currently indexed.
func (e *Engine) Count(ctx context.Context) (int, error) {
	st, err := e.ensure(ctx)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.docs), nil
}
