package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"inkwell/pkg/models"
)

type memKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemKV() *memKV { return &memKV{m: make(map[string][]byte)} }

func (k *memKV) Get(key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func (k *memKV) Put(key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = append([]byte(nil), value...)
	return nil
}

func (k *memKV) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
	return nil
}

func (k *memKV) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	keys := make([]string, 0, len(k.m))
	for key := range k.m {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn(key, k.m[key]); err != nil {
			return err
		}
	}
	return nil
}

type fakePosts struct {
	posts []models.Post
}

func (f *fakePosts) ListPublished(ctx context.Context, t time.Time) ([]models.Post, error) {
	return f.posts, nil
}

func richText(paragraphs ...string) string {
	var b strings.Builder
	b.WriteString(`{"type":"doc","content":[`)
	for i, p := range paragraphs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"type":"paragraph","content":[{"type":"text","text":"` + p + `"}]}`)
	}
	b.WriteString(`]}`)
	return b.String()
}

func publishedPost(id int64, slug, title, body string) models.Post {
	t := time.Now().Add(-time.Hour)
	return models.Post{
		ID:          id,
		Slug:        slug,
		Title:       title,
		ContentJSON: richText(body),
		Status:      models.StatusPublished,
		PublishedAt: &t,
	}
}

func newTestEngine(kv *memKV, src *fakePosts) *Engine {
	return NewEngine(kv, src, 10000, 200)
}

func TestRebuildAndSearchByTitle(t *testing.T) {
	src := &fakePosts{posts: []models.Post{
		publishedPost(1, "go-concurrency", "Concurrency patterns in Go", "channels and goroutines everywhere"),
		publishedPost(2, "sql-tips", "Practical SQL tips", "indexes make queries fast"),
	}}
	e := newTestEngine(newMemKV(), src)

	res, err := e.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Indexed != 2 {
		t.Fatalf("expected 2 indexed, got %d", res.Indexed)
	}

	hits, err := e.Search(context.Background(), "concurrency", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected a hit for title token")
	}
	if hits[0].Slug != "go-concurrency" {
		t.Fatalf("expected go-concurrency first, got %q", hits[0].Slug)
	}
}

func TestSearchMatchesCJKSubstrings(t *testing.T) {
	src := &fakePosts{posts: []models.Post{
		publishedPost(1, "hello-zh", "中文博客文章", "这是一篇关于数据库的文章"),
	}}
	e := newTestEngine(newMemKV(), src)
	if _, err := e.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	// CJK text has no word delimiters; the bigram analyzer must still
	// match a two-character substring of the body.
	hits, err := e.Search(context.Background(), "数据", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected CJK bigram match")
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	e := newTestEngine(newMemKV(), &fakePosts{})
	ctx := context.Background()

	d := e.DocFromPost(publishedPost(7, "one", "One post", "some body text"))
	if err := e.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	d.Title = "One post, revised"
	if err := e.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	n, err := e.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 doc after double upsert, got %d", n)
	}
	hits, err := e.Search(ctx, "revised", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected revised doc to match, got %d hits", len(hits))
	}
}

func TestDeleteRemovesDoc(t *testing.T) {
	e := newTestEngine(newMemKV(), &fakePosts{})
	ctx := context.Background()

	if err := e.Upsert(ctx, e.DocFromPost(publishedPost(3, "gone", "Disappearing post", "now you see it"))); err != nil {
		t.Fatal(err)
	}
	if err := e.Delete(ctx, "3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hits, err := e.Search(ctx, "disappearing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits after delete, got %d", len(hits))
	}
}

func TestPersistedBlobSurvivesColdStart(t *testing.T) {
	kv := newMemKV()
	src := &fakePosts{posts: []models.Post{
		publishedPost(1, "persisted", "Persisted post", "this one outlives the process"),
	}}
	e := newTestEngine(kv, src)
	if _, err := e.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A fresh engine over the same KV must answer queries without any
	// rebuild, purely from the persisted blob.
	e2 := newTestEngine(kv, &fakePosts{})
	hits, err := e2.Search(context.Background(), "outlives", 10)
	if err != nil {
		t.Fatalf("Search after cold start: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected persisted doc to match, got %d hits", len(hits))
	}
}

func TestCorruptBlobFallsBackToEmpty(t *testing.T) {
	kv := newMemKV()
	if err := kv.Put("search:index", []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(kv, &fakePosts{})
	hits, err := e.Search(context.Background(), "anything", 10)
	if err != nil {
		t.Fatalf("Search over corrupt blob: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected empty index, got %d hits", len(hits))
	}
}

func TestVersionChangesOnMutation(t *testing.T) {
	e := newTestEngine(newMemKV(), &fakePosts{})
	ctx := context.Background()

	v0 := e.Version()
	if err := e.Upsert(ctx, e.DocFromPost(publishedPost(1, "a", "A", "body"))); err != nil {
		t.Fatal(err)
	}
	v1 := e.Version()
	if v0 == v1 {
		t.Fatal("version should change on upsert")
	}
	if err := e.Delete(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if e.Version() == v1 {
		t.Fatal("version should change on delete")
	}
}

func TestVersionTokenNotReusedAcrossRestart(t *testing.T) {
	kv := newMemKV()
	src := &fakePosts{}
	ctx := context.Background()

	e := newTestEngine(kv, src)
	before := e.Version()
	if err := e.Upsert(ctx, e.DocFromPost(publishedPost(1, "a", "A", "body"))); err != nil {
		t.Fatal(err)
	}
	after := e.Version()
	if err := e.Persist(ctx); err != nil {
		t.Fatal(err)
	}

	// cached responses keyed by pre-restart tokens must stay dead
	restarted := newTestEngine(kv, src)
	if v := restarted.Version(); v == before || v == after {
		t.Fatalf("restarted engine reissued token %q", v)
	}
}

func TestConcurrentColdLoadsCoalesce(t *testing.T) {
	kv := newMemKV()
	src := &fakePosts{posts: []models.Post{
		publishedPost(1, "p", "Warm cache", "shared body"),
	}}
	seed := newTestEngine(kv, src)
	if _, err := seed.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(kv, &fakePosts{})
	var wg sync.WaitGroup
	states := make([]*indexState, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := e.ensure(context.Background())
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			states[i] = st
		}(i)
	}
	wg.Wait()
	for i := 1; i < 8; i++ {
		if states[i] != states[0] {
			t.Fatal("concurrent cold loads produced distinct states")
		}
	}
}

func TestDocFromPostDerivesSummary(t *testing.T) {
	e := newTestEngine(newMemKV(), &fakePosts{})
	p := publishedPost(1, "s", "Title", "word one two three")
	d := e.DocFromPost(p)
	if d.Summary == "" {
		t.Fatal("expected derived summary when none authored")
	}
	p.Summary = "authored"
	if got := e.DocFromPost(p).Summary; got != "authored" {
		t.Fatalf("authored summary must win, got %q", got)
	}
}
