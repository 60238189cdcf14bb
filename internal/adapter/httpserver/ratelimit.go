package httpserver

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/zeroatsteel/zero-agent/internal/service/ratelimiter"
)

func principalKeyFunc(r *http.Request) (string, error) {
	p, ok := PrincipalFrom(r.Context())
	if !ok || p.Token == "" {
		return "", errors.New("no principal")
	}
	return Fingerprint(p.Token), nil
}

func rateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	writeFlatError(w, http.StatusTooManyRequests, "rate_limit")
}

// RateLimit limits each authenticated token to perMinute requests. With a
// shared limiter the budget holds across replicas; otherwise httprate keeps it
// in process. It must run after Auth.
func RateLimit(perMinute int, shared ratelimiter.Limiter) func(http.Handler) http.Handler {
	if shared == nil {
		return httprate.Limit(perMinute, time.Minute,
			httprate.WithKeyFuncs(principalKeyFunc),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				rateLimited(w, 0)
			}),
		)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := principalKeyFunc(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ok, retry, err := shared.Allow(r.Context(), key)
			if err != nil {
				LoggerFrom(r).Warn("rate limiter unavailable", "error", err)
			}
			if !ok {
				rateLimited(w, retry)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
