package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"inkwell/pkg/ratelimit"
	"inkwell/pkg/utils"
)

// apiKey pulls the caller's key from Authorization: Bearer or
// X-API-Key.
func apiKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// clientIdentity decides which bucket a request draws from: the API key
// when present, otherwise the client IP.
func clientIdentity(r *http.Request) string {
	if k := apiKey(r); k != "" {
		return "key:" + k
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	params := ratelimit.Params{
		Capacity: a.cfg.RateLimit.Capacity,
		Interval: time.Duration(a.cfg.RateLimit.IntervalMs) * time.Millisecond,
		Cost:     1,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := a.limits.CheckLimit(clientIdentity(r), params)
		if !d.Allowed {
			if d.RetryAfterMs >= 0 {
				secs := (d.RetryAfterMs + 999) / 1000
				w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate limited","retry_after_ms":%d}`, d.RetryAfterMs)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		if key == "" {
			utils.JSONError(w, http.StatusUnauthorized, "api key required")
			return
		}
		if _, ok := a.adminKeys[key]; !ok {
			utils.JSONError(w, http.StatusForbidden, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
