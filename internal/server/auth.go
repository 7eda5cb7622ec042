// Package server provides the HTTP API: the streaming chat endpoint that
// drives the relay pipeline, plus health and operator lookups.
package server

import (
	"net/http"
	"strings"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/requestctx"
)

const apiKeyHeader = "X-Relay-Key"

// AuthMiddleware validates X-Relay-Key or Authorization: Bearer <key> against
// the brand registry and stores the resolved brand key in the request
// context.
func AuthMiddleware(brands *brand.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			b, ok := brands.Authenticate(key)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			r = r.WithContext(requestctx.SetBrandKey(r.Context(), b.Key))
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows browser clients from the given origins. "*" allows
// any origin.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+apiKeyHeader)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware rejects requests over the brand's budget with 429.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			brandKey := requestctx.BrandKey(r.Context())
			if brandKey == "" || rl.Allow(brandKey) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, slow down")
		})
	}
}
