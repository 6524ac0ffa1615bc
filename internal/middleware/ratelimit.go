package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures token bucket limiting for the HTTP surface.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
	// RoleHeader and Roles give each listed role its own bucket. Requests
	// naming any other role, or none, share the default bucket.
	RoleHeader string
	Roles      []string
}

type limiterSet struct {
	shared *rate.Limiter
	byRole map[string]*rate.Limiter
	mu     sync.Mutex
	rps    rate.Limit
	burst  int
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	s := &limiterSet{
		shared: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		rps:    rate.Limit(cfg.RPS),
		burst:  cfg.Burst,
	}
	if cfg.RoleHeader != "" && len(cfg.Roles) > 0 {
		s.byRole = make(map[string]*rate.Limiter, len(cfg.Roles))
		for _, role := range cfg.Roles {
			s.byRole[strings.TrimSpace(role)] = nil
		}
	}
	return s
}

// limiter returns the bucket for role. Role buckets are created on first use
// and only for configured roles, so the map never grows past the allowlist.
func (s *limiterSet) limiter(role string) *rate.Limiter {
	if s.byRole == nil {
		return s.shared
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, known := s.byRole[role]
	if !known {
		return s.shared
	}
	if l == nil {
		l = rate.NewLimiter(s.rps, s.burst)
		s.byRole[role] = l
	}
	return l
}

// RateLimitMiddleware rejects requests beyond the configured rate with 429
// and a Retry-After header.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	limiters := newLimiterSet(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var role string
			if cfg.RoleHeader != "" {
				role = strings.TrimSpace(r.Header.Get(cfg.RoleHeader))
			}
			if reservation := limiters.limiter(role).Reserve(); !reservation.OK() || reservation.Delay() > 0 {
				wait := reservation.Delay()
				reservation.Cancel()
				w.Header().Set("Retry-After", retryAfter(wait.Seconds()))
				writeGraphQLError(w, r, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter rounds a wait up to the whole seconds Retry-After carries.
func retryAfter(seconds float64) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(seconds))))
}
