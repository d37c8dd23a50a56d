package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/auth"
	"github.com/fetchframe/webextract-api/internal/ratelimit"
)

// stripVersionPrefix removes a leading "/v1" so routes are registered once
// and answer both "/extract" and "/v1/extract".
func stripVersionPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			r.URL.Path = strings.TrimPrefix(r.URL.Path, "/v1")
		} else if r.URL.Path == "/v1" {
			r.URL.Path = "/"
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders sets the fixed header set required on every response:
// no-sniff, deny-frame, HSTS, and a conservative referrer policy.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// bodySizeLimit rejects requests whose declared Content-Length exceeds
// maxBytes with 413, before any body is read.
func bodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, r, apperr.New(apperr.KindPayloadTooLarge, "request body exceeds the configured size limit"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// requireAPIKey authenticates the x-api-key header for a route group. When
// anonymousMode is enabled, a missing key is allowed through with an empty
// owner id rather than rejected.
func requireAPIKey(authenticator *auth.Authenticator, anonymousMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plain := r.Header.Get("x-api-key")
			if plain == "" {
				if anonymousMode {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, r, apperr.New(apperr.KindUnauthorized, "x-api-key header is required"))
				return
			}
			result, err := authenticator.VerifyAPIKey(r.Context(), plain)
			if err != nil {
				writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to verify api key", err))
				return
			}
			if !result.OK {
				writeError(w, r, apperr.New(apperr.KindUnauthorized, "invalid or inactive api key"))
				return
			}
			ctx := withAPIKeyID(r.Context(), result.APIKeyID)
			ctx = withAPIKeyPlain(ctx, plain)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimit applies the bespoke fixed-window limiter ahead of every route,
// keyed per spec §4.3: key:<first-8-of-api-key> when present, else
// ip:<remote-addr>. It always sets the X-RateLimit-* triplet.
func rateLimit(limiter ratelimit.Limiter, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("x-api-key")
			limit := ratelimit.AnonymousRequestsPerMinute
			if apiKey != "" {
				limit = ratelimit.AuthenticatedRequestsPerMinute
			}
			clientKey := ratelimit.ClientKey(apiKey, clientIP(r), newAnonymousID)

			result, err := limiter.Allow(r.Context(), clientKey, limit, window)
			if err != nil {
				writeError(w, r, apperr.Wrap(apperr.KindServerError, "rate limiter unavailable", err))
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))

			if !result.Allowed {
				h.Set("Retry-After", result.ResetAt.UTC().Format(time.RFC3339))
				writeError(w, r, apperr.New(apperr.KindRateLimited, "rate limit exceeded").WithSuggestion("retry after the window resets"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// newAnonymousID is the ratelimit.ClientKey fallback when neither an api key
// nor a remote address is available (practically never, since clientIP
// always returns something for a real connection).
func newAnonymousID() string {
	return ulid.Make().String()
}

func clientIP(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-For")
	if host != "" {
		return strings.TrimSpace(strings.Split(host, ",")[0])
	}
	host = r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
