package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/domrelay/domrelay/internal/pkg/auth"
	"github.com/domrelay/domrelay/internal/pkg/metrics"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

type claimsKey struct{}

// claimsFrom returns the authenticated subject of the request.
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// authenticate rejects requests without a valid bearer token.
func authenticate(a Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeJSON(w, http.StatusUnauthorized, v1.ErrorResponse{Code: v1.CodeUnauthenticated, Message: "bearer token required"})
				return
			}
			claims, err := a.Parse(token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, v1.ErrorResponse{Code: v1.CodeUnauthenticated, Message: err.Error()})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// limiterSet hands out one token bucket per subject.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func (s *limiterSet) get(subject string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[subject]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[subject] = l
	}
	return l
}

// rateLimit answers 429 once a subject exceeds its bucket. A zero limit
// disables it.
func rateLimit(limit float64, burst int) mux.MiddlewareFunc {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	set := &limiterSet{limit: rate.Limit(limit), burst: burst, limiters: map[string]*rate.Limiter{}}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := "anonymous"
			if c := claimsFrom(r.Context()); c != nil {
				subject = c.Subject + "/" + c.DeviceID
			}
			if !set.get(subject).Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, v1.ErrorResponse{Code: v1.CodeRateLimited, Message: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// timeout bounds every handler's context.
func timeout(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records latency per route template and logs each request.
func instrument(logger log.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			elapsed := time.Since(start)
			metrics.RequestLatency.WithLabelValues(route, strconv.Itoa(rec.code)).Observe(elapsed.Seconds())
			logger.Debug("HTTP request", "method", r.Method, "route", route, "code", rec.code, "duration", elapsed)
		})
	}
}
