// Package ratelimit implements per-identity token-bucket admission
// control. Each identity maps to exactly one bucket actor; the actor
// serializes its checks and owns its durable state exclusively, so the
// algorithm itself needs no cross-instance coordination.
package ratelimit

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"inkwell/pkg/logger"
	"inkwell/pkg/store"
	"inkwell/pkg/telemetry"
)

const keyPrefix = "ratelimit:"

// RetryAfterImpossible is the sentinel for requests whose cost exceeds
// capacity: no amount of waiting will satisfy them.
const RetryAfterImpossible = int64(-1)

// Params configure a single check.
type Params struct {
	Capacity float64
	Interval time.Duration
	Cost     float64
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed      bool  `json:"allowed"`
	Remaining    int64 `json:"remaining"`
	RetryAfterMs int64 `json:"retry_after_ms"`
}

// bucketState is the durable per-identity state. LastRefillMs is 0 until
// first use.
type bucketState struct {
	Tokens       float64 `json:"tokens"`
	LastRefillMs int64   `json:"last_refill_ms"`
}

type bucket struct {
	mu     sync.Mutex
	loaded bool
	state  bucketState
}

// Pool hands out one bucket actor per identity. Buckets are lazily
// created on first request and never explicitly deleted; unused buckets
// simply stop being read.
type Pool struct {
	mu  sync.Mutex
	m   map[string]*bucket
	kv  store.KV
	now func() time.Time
}

// NewPool builds a Pool over kv.
func NewPool(kv store.KV) *Pool {
	return &Pool{m: make(map[string]*bucket), kv: kv, now: time.Now}
}

func (p *Pool) get(identity string) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.m[identity]; ok {
		return b
	}
	b := &bucket{}
	p.m[identity] = b
	return b
}

// CheckLimit runs one admission check for identity. The bucket's state
// is loaded from durable storage before the first check is served;
// concurrent checks on the same identity serialize behind the actor's
// lock, so none ever observes default state.
func (p *Pool) CheckLimit(identity string, params Params) Decision {
	cost := params.Cost
	if cost <= 0 {
		cost = 1
	}
	if cost > params.Capacity {
		telemetry.RateLimitDecisions.WithLabelValues("impossible").Inc()
		return Decision{Allowed: false, Remaining: 0, RetryAfterMs: RetryAfterImpossible}
	}

	b := p.get(identity)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		b.state = p.load(identity)
		b.loaded = true
	}

	nowMs := p.now().UnixMilli()
	intervalMs := float64(params.Interval.Milliseconds())
	if intervalMs <= 0 {
		intervalMs = 1000
	}
	rate := params.Capacity / intervalMs // tokens per millisecond

	// Lazy refill: the bucket is never ticked by a timer, only
	// recomputed against the clock on demand. First use initializes to
	// full capacity without any elapsed-time growth.
	var hypothetical float64
	if b.state.LastRefillMs == 0 {
		hypothetical = params.Capacity
	} else {
		elapsed := float64(nowMs - b.state.LastRefillMs)
		if elapsed < 0 {
			elapsed = 0
		}
		hypothetical = math.Min(params.Capacity, b.state.Tokens+elapsed*rate)
	}

	if hypothetical < cost {
		// Denials do not persist: advancing lastRefill on a denied
		// request would silently burn tokens accrued between attempts.
		retryAfter := int64(math.Ceil((cost - hypothetical) / rate))
		telemetry.RateLimitDecisions.WithLabelValues("denied").Inc()
		return Decision{Allowed: false, Remaining: int64(math.Floor(hypothetical)), RetryAfterMs: retryAfter}
	}

	b.state = bucketState{Tokens: hypothetical - cost, LastRefillMs: nowMs}
	p.persist(identity, b.state)
	telemetry.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true, Remaining: int64(math.Floor(b.state.Tokens)), RetryAfterMs: 0}
}

func (p *Pool) load(identity string) bucketState {
	b, err := p.kv.Get(keyPrefix + identity)
	if err != nil {
		return bucketState{}
	}
	var st bucketState
	if err := json.Unmarshal(b, &st); err != nil {
		logger.Warn("rate_limit_state_corrupt", "identity", identity, "error", err)
		return bucketState{}
	}
	return st
}

func (p *Pool) persist(identity string, st bucketState) {
	b, err := json.Marshal(st)
	if err != nil {
		logger.Error("rate_limit_marshal_failed", "identity", identity, "error", err)
		return
	}
	if err := p.kv.Put(keyPrefix+identity, b); err != nil {
		logger.Error("rate_limit_persist_failed", "identity", identity, "error", err)
	}
}
