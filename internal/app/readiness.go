package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/zeroatsteel/zero-agent/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a dependency capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// ReadinessDeps lists the dependencies probed by /readyz. Nil optional
// dependencies are not probed; the database always is.
type ReadinessDeps struct {
	DB     Pinger
	Redis  RedisClient
	Qdrant Pinger
	Tika   Pinger
	Audit  Pinger
}

// BuildReadinessChecks returns the checks for the configured dependencies.
func BuildReadinessChecks(d ReadinessDeps) []httpserver.ReadinessCheck {
	checks := []httpserver.ReadinessCheck{{
		Name: "db",
		Check: func(ctx context.Context) error {
			if d.DB == nil {
				return fmt.Errorf("db not configured")
			}
			return d.DB.Ping(ctx)
		},
	}}
	if d.Redis != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() },
		})
	}
	for _, opt := range []struct {
		name string
		p    Pinger
	}{{"qdrant", d.Qdrant}, {"tika", d.Tika}, {"audit", d.Audit}} {
		if opt.p == nil {
			continue
		}
		checks = append(checks, httpserver.ReadinessCheck{Name: opt.name, Check: opt.p.Ping})
	}
	return checks
}
