package postsync

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"inkwell/pkg/cache"
	"inkwell/pkg/cdn"
	"inkwell/pkg/models"
	"inkwell/pkg/posts"
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

type noopIndex struct{}

func (noopIndex) Upsert(ctx context.Context, d models.SearchDoc) error { return nil }
func (noopIndex) Delete(ctx context.Context, id string) error          { return nil }
func (noopIndex) DocFromPost(p models.Post) models.SearchDoc {
	return models.SearchDoc{ID: p.Slug, Slug: p.Slug, Title: p.Title}
}

type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(ctx context.Context, workflow string, payload any) (string, error) {
	return "run", nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := posts.Open(filepath.Join(t.TempDir(), "posts.db"))
	if err != nil {
		t.Fatalf("open posts db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	c := cache.New(newMemKV(), cache.NewBackground(), time.Minute)
	return New(store, noopIndex{}, c, cdn.New("", "", "https://example.com", false), noopEnqueuer{})
}

func TestCreateDerivesSlugFromTitle(t *testing.T) {
	s := newTestService(t)
	p, err := s.Create(context.Background(), models.Post{Title: "Hello World", ContentJSON: "{}"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Slug != "hello-world" {
		t.Fatalf("slug = %q, want hello-world", p.Slug)
	}
}

func TestCreateCJKTitlesGetDistinctSlugs(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	a, err := s.Create(ctx, models.Post{Title: "中文标题一", ContentJSON: "{}"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	b, err := s.Create(ctx, models.Post{Title: "另一个标题", ContentJSON: "{}"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if a.Slug == "" || b.Slug == "" {
		t.Fatalf("derived empty slug: %q, %q", a.Slug, b.Slug)
	}
	if a.Slug == b.Slug {
		t.Fatalf("two distinct posts derived the same slug %q", a.Slug)
	}
}

func TestExplicitSlugIsKept(t *testing.T) {
	s := newTestService(t)
	p, err := s.Create(context.Background(), models.Post{Title: "中文标题", Slug: "my-post", ContentJSON: "{}"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Slug != "my-post" {
		t.Fatalf("slug = %q, want my-post", p.Slug)
	}
}
