package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// AuditService records user-visible actions in the log and, when a sink is
// configured, on the audit topic. Sink failures never fail the action.
type AuditService struct {
	Sink domain.AuditSink
	Now  func() time.Time
}

// Record logs and publishes one event.
func (s AuditService) Record(ctx domain.Context, actor, typ string, details map[string]any) {
	at := time.Now().UTC()
	if s.Now != nil {
		at = s.Now().UTC()
	}
	slog.InfoContext(ctx, "audit", slog.String("type", typ), slog.String("actor", actor), slog.Any("details", details))
	if s.Sink == nil {
		return
	}
	if err := s.Sink.Publish(ctx, domain.AuditEvent{Type: typ, Actor: actor, At: at, Details: details}); err != nil {
		slog.WarnContext(ctx, "audit publish failed", slog.String("type", typ), slog.Any("error", err))
	}
}

// Publish makes AuditService usable wherever an AuditSink is expected.
func (s AuditService) Publish(ctx domain.Context, ev domain.AuditEvent) error {
	s.Record(ctx, ev.Actor, ev.Type, ev.Details)
	return nil
}

// LogAction records a client-reported action.
func (s AuditService) LogAction(ctx domain.Context, actor, action string, meta any) error {
	if strings.TrimSpace(action) == "" {
		return fmt.Errorf("%w: action_required", domain.ErrInvalidArgument)
	}
	s.Record(ctx, actor, "action", map[string]any{"action": action, "meta": meta})
	return nil
}

// QueueCBAMReport records a request for an automated report on a batch.
func (s AuditService) QueueCBAMReport(ctx domain.Context, actor, batchID string) error {
	if strings.TrimSpace(batchID) == "" {
		return fmt.Errorf("%w: batch_id_required", domain.ErrInvalidArgument)
	}
	s.Record(ctx, actor, "auto_cbam_report", map[string]any{"batch_id": batchID})
	return nil
}

// OpenBatch records that a batch was opened.
func (s AuditService) OpenBatch(ctx domain.Context, actor, batchID string) error {
	if strings.TrimSpace(batchID) == "" {
		return fmt.Errorf("%w: batch_id_required", domain.ErrInvalidArgument)
	}
	s.Record(ctx, actor, "auto_open_batch", map[string]any{"batch_id": batchID})
	return nil
}
