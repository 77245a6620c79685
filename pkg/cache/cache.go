// Package cache provides versioned, typed get-or-compute caching over
// the KV store. Caching here is strictly an optimization: KV
// unavailability degrades to always-miss and is never surfaced to
// callers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"inkwell/pkg/logger"
	"inkwell/pkg/store"
	"inkwell/pkg/telemetry"
)

const (
	entryPrefix   = "cache:"
	versionPrefix = "cachever:"
	keySeparator  = ":"
	// BaselineVersion is returned for namespaces that were never bumped.
	BaselineVersion = "0"
)

// envelope wraps a cached payload with its expiry. Pebble has no native
// TTL, so expiry is enforced on read; stale entries read as misses.
type envelope struct {
	ExpiresAt int64           `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Options control a single Get call.
type Options struct {
	TTL time.Duration
}

// Cache is constructed once per process and injected where needed;
// there is no package-level instance, which keeps cold-start behavior
// explicit and the layer testable.
type Cache struct {
	kv         store.KV
	bg         *Background
	defaultTTL time.Duration
	verSeq     atomic.Uint64
}

// New builds a Cache over kv. Writes run through bg so they never block
// the response that triggered them.
func New(kv store.KV, bg *Background, defaultTTL time.Duration) *Cache {
	return &Cache{kv: kv, bg: bg, defaultTTL: defaultTTL}
}

// Key joins segments into a single cache key string.
func Key(segments ...string) string {
	return strings.Join(segments, keySeparator)
}

// GetJSON attempts a cache read for the joined key segments. A stored
// entry is returned only when it parses as JSON and passes validate;
// any failure (absent, expired, corrupt, invalid) falls through to
// fetch, whose result is written back asynchronously with the given
// TTL and returned. validate may be nil when decoding alone suffices.
func GetJSON[T any](ctx context.Context, c *Cache, segments []string, validate func(*T) error, fetch func(context.Context) (T, error), opts Options) (T, error) {
	key := entryPrefix + Key(segments...)
	ns := ""
	if len(segments) > 0 {
		ns = segments[0]
	}

	if v, ok := c.read(key); ok {
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			telemetry.CacheMisses.WithLabelValues(ns, "decode").Inc()
			logger.Warn("cache_entry_corrupt", "key", key, "error", err)
		} else if validate != nil && validate(&out) != nil {
			telemetry.CacheMisses.WithLabelValues(ns, "schema").Inc()
			logger.Warn("cache_entry_invalid", "key", key)
		} else {
			telemetry.CacheHits.WithLabelValues(ns).Inc()
			return out, nil
		}
	} else {
		telemetry.CacheMisses.WithLabelValues(ns, "absent").Inc()
	}

	out, err := fetch(ctx)
	if err != nil {
		return out, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload, merr := json.Marshal(out)
	if merr != nil {
		logger.Warn("cache_marshal_failed", "key", key, "error", merr)
		return out, nil
	}
	c.bg.Schedule("cache_write", func() error {
		return c.write(key, payload, ttl)
	})
	return out, nil
}

// read returns the raw payload for key if present and unexpired.
func (c *Cache) read(key string) ([]byte, bool) {
	b, err := c.kv.Get(key)
	if err != nil {
		// absent and unavailable both read as miss
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, false
	}
	if env.ExpiresAt > 0 && time.Now().UnixNano() > env.ExpiresAt {
		return nil, false
	}
	return env.Payload, true
}

func (c *Cache) write(key string, payload []byte, ttl time.Duration) error {
	env := envelope{
		ExpiresAt: time.Now().Add(ttl).UnixNano(),
		Payload:   payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.kv.Put(key, b)
}

// Version reads the current version token for a namespace, defaulting
// to BaselineVersion when absent or unreadable. The token participates
// in cache keys so BumpVersion invalidates a whole namespace in O(1).
func (c *Cache) Version(ctx context.Context, namespace string) string {
	b, err := c.kv.Get(versionPrefix + namespace)
	if err != nil || len(b) == 0 {
		return BaselineVersion
	}
	return string(b)
}

// BumpVersion writes a new, distinct version token for the namespace
// and returns it. Tokens combine a nanosecond timestamp with a
// process-wide counter so two bumps inside the same clock tick still
// yield distinct, ordered tokens.
func (c *Cache) BumpVersion(ctx context.Context, namespace string) string {
	token := fmt.Sprintf("%d-%d", time.Now().UnixNano(), c.verSeq.Add(1))
	if err := c.kv.Put(versionPrefix+namespace, []byte(token)); err != nil {
		logger.Warn("cache_version_bump_failed", "namespace", namespace, "error", err)
	}
	telemetry.CacheVersionBumps.WithLabelValues(namespace).Inc()
	logger.Debug("cache_version_bumped", "namespace", namespace, "token", token)
	return token
}
