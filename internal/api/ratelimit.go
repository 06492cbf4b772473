package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// rateLimitMiddleware throttles requests per client IP. When the counter
// store is unreachable the request is let through.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		res, err := s.limiter.Allow(r.Context(), ip)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request",
				"client_ip", ip,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			if s.metrics != nil {
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				s.metrics.RateLimited.WithLabelValues(route).Inc()
			}
			s.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests, try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}
