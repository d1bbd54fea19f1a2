package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"fenrir-perp/internal/agent"
	"fenrir-perp/internal/common"
	"github.com/rs/zerolog/log"
)

type contextKey int

const agentIDKey contextKey = iota

func agentFromContext(ctx context.Context) (common.AgentId, bool) {
	id, ok := ctx.Value(agentIDKey).(common.AgentId)
	return id, ok
}

// requireAuth resolves the X-API-Key header (or Authorization: Bearer
// token) to an agent id and stores it on the request context; every
// state-mutating endpoint is wrapped with it per spec.md §6.
func requireAuth(registry *agent.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
					key = auth[7:]
				}
			}
			if key == "" {
				writeError(w, common.NewError(common.KindValidation, "missing API key"))
				return
			}
			id, err := registry.Authenticate(r.Context(), common.APIKey(key))
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), agentIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimit enforces a per-source-IP sliding window, writing the headers
// spec.md §6 requires on every response, not only on breach.
func rateLimit(limiter *slidingWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := sourceIP(r)
			res := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(res.ResetIn.Seconds())))

			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.ResetIn.Seconds())))
				writeError(w, common.NewError(common.KindBusy, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// logRequests logs each completed request at Debug, mirroring the teacher's
// structured zerolog calls rather than stdlib's plain text logger.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// recoverPanic converts a handler panic into a 500 instead of crashing the
// listener goroutine, the boundary-of-last-resort for a Fatal-kind bug.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic")
				writeError(w, common.NewError(common.KindFatal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
