package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/ratelimit"
	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/pkg/logger"
)

type Limiter interface {
	Allow(ctx context.Context, actor string) (ratelimit.Decision, error)
}

type RateLimitRecorder interface {
	RateLimited()
}

// RateLimit throttles mutating requests per actor. The actor is the session
// user when one is present, otherwise the client address. A nil limiter
// disables the middleware; counter failures let the request through.
func RateLimit(limiter Limiter, recorder RateLimitRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		base := transport.NewBaseHandler(nil)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			actor := actorFor(r)
			decision, err := limiter.Allow(r.Context(), actor)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable, allowing request", "actor", actor, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				if recorder != nil {
					recorder.RateLimited()
				}
				logger.From(r.Context()).Warn("rate limit exceeded", "actor", actor, "limit", decision.Limit)
				base.HandleServiceError(w, internal.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func actorFor(r *http.Request) string {
	if userID := internal.UserIDFromContext(r.Context()); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
