package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CleanupService deletes sessions and files older than the retention window.
type CleanupService struct {
	Pool      PgxPool
	Retention time.Duration
	Now       func() time.Time
}

// NewCleanupService creates a new cleanup service. A non-positive retention keeps 30 days.
func NewCleanupService(pool PgxPool, retention time.Duration) *CleanupService {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &CleanupService{Pool: pool, Retention: retention, Now: time.Now}
}

// CleanupOldData removes expired rows and reports how many went.
func (s *CleanupService) CleanupOldData(ctx context.Context) (sessions, files int64, err error) {
	cutoff := s.Now().Add(-s.Retention).UTC()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	sessions = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM files WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup files: %w", err)
	}
	files = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_files", files),
		slog.Time("cutoff", cutoff),
	)
	return sessions, files, nil
}

// RunPeriodic runs a cleanup immediately and then every interval until ctx ends.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, _, err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if _, _, err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
