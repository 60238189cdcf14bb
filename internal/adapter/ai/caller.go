// Package ai provides provider-agnostic plumbing for model calls: credential
// rotation, admission control, rate-limit backoff and embedding caching.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/zeroatsteel/zero-agent/internal/adapter/ai/keypool"
	"github.com/zeroatsteel/zero-agent/internal/adapter/observability"
	"github.com/zeroatsteel/zero-agent/internal/config"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// Caller wraps single provider calls with key rotation, a concurrency ceiling
// and exponential backoff on rate-limit errors. One Caller per provider is
// shared by every request in the process.
type Caller struct {
	provider string
	pool     *keypool.Pool
	sem      *semaphore.Weighted
	policy   config.BackoffPolicy
	timeout  time.Duration
	// timer is nil in production; tests swap in an instant timer.
	timer backoff.Timer
}

// NewCaller builds a caller. maxConcurrency below 1 is treated as 1; timeout 0
// leaves individual attempts unbounded.
func NewCaller(provider string, pool *keypool.Pool, maxConcurrency int, policy config.BackoffPolicy, timeout time.Duration) *Caller {
	return &Caller{
		provider: provider,
		pool:     pool,
		sem:      semaphore.NewWeighted(int64(max(1, maxConcurrency))),
		policy:   policy,
		timeout:  timeout,
	}
}

// Provider returns the label used in logs and metrics.
func (c *Caller) Provider() string { return c.provider }

// Configured reports whether the caller has at least one credential.
func (c *Caller) Configured() bool { return c != nil && c.pool.Configured() }

// newBackOff returns base*2^n capped at max with no jitter and no elapsed-time limit.
func newBackOff(p config.BackoffPolicy) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Delays returns the first n delays the policy produces for consecutive
// rate-limited attempts.
func Delays(p config.BackoffPolicy, n int) []time.Duration {
	b := newBackOff(p)
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// Call runs fn with a pooled credential. Rate-limit failures cool the key down
// for the computed delay, sleep and retry with the next key, up to the policy's
// attempt count. The key behind the final rate-limited attempt is cooled too. Any other failure is returned at once wrapped in
// domain.ErrProvider. An empty pool fails with domain.ErrNotConfigured before
// any call is made.
func Call[T any](ctx context.Context, c *Caller, fn func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	if !c.Configured() {
		return zero, fmt.Errorf("op=%s.call: %w", c.provider, domain.ErrNotConfigured)
	}

	var (
		out     T
		lastKey string
		attempt int
	)
	op := func() error {
		attempt++
		key, _ := c.pool.Next()
		lastKey = key

		if err := c.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		observability.AIInFlight.WithLabelValues(c.provider).Inc()
		res, err := runAttempt(ctx, c, key, fn)
		observability.AIInFlight.WithLabelValues(c.provider).Dec()
		c.sem.Release(1)

		if err == nil {
			out = res
			return nil
		}
		if IsRateLimit(err) {
			slog.Warn("ai provider rate limited",
				slog.String("provider", c.provider),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(_ error, d time.Duration) {
		c.pool.Cooldown(lastKey, d)
	}

	retries := uint64(max(1, c.policy.MaxAttempts) - 1)
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(c.policy), retries), ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, c.timer)
	if err == nil {
		return out, nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return zero, fmt.Errorf("op=%s.call: %w", c.provider, err)
		}
		return zero, fmt.Errorf("op=%s.call: %w: %w", c.provider, domain.ErrUpstreamTimeout, err)
	case IsRateLimit(err):
		c.pool.Cooldown(lastKey, delayFor(c.policy, attempt))
		slog.Error("ai provider rate limit retries exhausted",
			slog.String("provider", c.provider),
			slog.Int("attempts", attempt))
		if !errors.Is(err, domain.ErrUpstreamRateLimit) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstreamRateLimit, err)
		}
		return zero, fmt.Errorf("op=%s.call: %w", c.provider, err)
	case errors.Is(err, domain.ErrProvider):
		return zero, fmt.Errorf("op=%s.call: %w", c.provider, err)
	default:
		return zero, fmt.Errorf("op=%s.call: %w: %w", c.provider, domain.ErrProvider, err)
	}
}

// delayFor is the delay the policy assigns to the nth rate-limited attempt.
func delayFor(p config.BackoffPolicy, n int) time.Duration {
	d := Delays(p, max(1, n))
	return d[len(d)-1]
}

// runAttempt issues one call, bounded by the per-attempt timeout when set.
func runAttempt[T any](ctx context.Context, c *Caller, key string, fn func(ctx context.Context, key string) (T, error)) (T, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := fn(ctx, key)
	observability.ObserveProviderCall(c.provider, outcome(err), time.Since(start))
	return res, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsRateLimit(err):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// IsRateLimit reports whether err signals a provider rate limit: the typed
// sentinel, or a message mentioning "rate" or "429".
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrUpstreamRateLimit) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate") || strings.Contains(msg, "429")
}

// IsModelNotFound reports whether err means the requested model is unknown to the provider.
func IsModelNotFound(err error) bool {
	return err != nil && errors.Is(err, domain.ErrModelNotFound)
}

// Classify maps a provider failure onto the domain taxonomy using the HTTP
// status when the SDK exposes one and the error text otherwise.
func Classify(status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrUpstreamRateLimit, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrModelNotFound, err)
	}
	if IsRateLimit(err) {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamRateLimit, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not_found") || strings.Contains(msg, "model") {
		return fmt.Errorf("%w: %w", domain.ErrModelNotFound, err)
	}
	return err
}
