package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// Stream event names.
const (
	EventClaude    = "claude"
	EventValidator = "validator"
	EventSession   = "session"
	EventFinal     = "final"
	EventStatus    = "status"
	EventError     = "error"
)

// Default round counts when the caller does not ask for one.
const (
	DefaultStreamRounds   = 3
	DefaultPipelineRounds = 2
)

// Emitter delivers one named event to the client.
type Emitter func(event string, data any) error

// PipelineRequest is one generate-validate request.
type PipelineRequest struct {
	Text           string
	PrimaryModel   string
	ValidatorModel string
	// MaxRounds is nil when the caller did not ask for a round count.
	MaxRounds      *int
	History        []domain.Message
	FileIDs        []string
	SessionID      string
	Mode           string
	// Actor identifies the caller in audit events.
	Actor string
}

// PipelineService exposes the loop as a stream or a single response.
type PipelineService struct {
	Loop      Loop
	Assembler ContextAssembler
	Sessions  domain.SessionRepository
	Aborts    domain.AbortRegistry
	Audit     domain.AuditSink

	PrimaryModels   []string
	ValidatorModels []string
	// PrimaryReady and ValidatorReady report whether each provider has credentials.
	PrimaryReady   bool
	ValidatorReady bool

	Now   func() time.Time
	NewID func() string
}

// Validate rejects requests that cannot start: empty text or a provider with no keys.
func (s PipelineService) Validate(req PipelineRequest) error {
	if !s.PrimaryReady || !s.ValidatorReady {
		return fmt.Errorf("%w: both primary and validator keys are required", domain.ErrNotConfigured)
	}
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text is required", domain.ErrInvalidArgument)
	}
	return nil
}

// Stream runs the loop and reports it through emit: one claude and one
// validator event per round, then exactly one of session+final, status
// cancelled, status done or error. Validate must have passed.
func (s PipelineService) Stream(ctx context.Context, req PipelineRequest, emit Emitter) error {
	text := strings.TrimSpace(req.Text)
	mode := NormalizeMode(req.Mode)
	sid := strings.TrimSpace(req.SessionID)

	if sid != "" && s.Aborts != nil {
		if err := s.Aborts.Register(ctx, sid); err != nil {
			_ = emit(EventError, map[string]string{"error": err.Error()})
			return err
		}
		defer func() {
			if err := s.Aborts.Release(context.WithoutCancel(ctx), sid); err != nil {
				slog.WarnContext(ctx, "abort flag release failed", slog.String("session_id", sid), slog.Any("error", err))
			}
		}()
	}

	conv := s.Assembler.Assemble(ctx, AssembleInput{Text: text, History: req.History, FileIDs: req.FileIDs, Mode: req.Mode})
	res, err := s.Loop.Run(ctx, LoopInput{
		Task:           text,
		Conversation:   conv,
		System:         SystemPrompt(mode),
		Model:          SelectModel(req.PrimaryModel, s.PrimaryModels),
		Candidates:     s.PrimaryModels,
		ValidatorModel: SelectModel(req.ValidatorModel, s.ValidatorModels),
		MaxRounds:      RoundsOrDefault(req.MaxRounds, DefaultStreamRounds),
		Cancelled:      s.cancelled(sid),
		OnRound: func(ev RoundEvent) {
			var err error
			switch ev.Kind {
			case EventGenerated:
				err = emit(EventClaude, map[string]any{"index": ev.Index, "text": ev.Text})
			case EventValidated:
				err = emit(EventValidator, map[string]any{"index": ev.Index, "validator": ev.Verdict})
			}
			if err != nil {
				slog.DebugContext(ctx, "stream event dropped", slog.Any("error", err))
			}
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "pipeline stream failed", slog.Any("error", err))
		_ = emit(EventError, map[string]string{"error": err.Error()})
		return err
	}

	switch res.Status {
	case StatusPass:
		id := s.saveTranscript(ctx, sid, mode, res.Transcript)
		s.publish(ctx, req.Actor, "final", map[string]any{"session_id": id, "rounds": len(res.Iterations)})
		if err := emit(EventSession, map[string]string{"id": id}); err != nil {
			return err
		}
		return emit(EventFinal, map[string]string{"text": res.FinalText})
	case StatusCancelled:
		return emit(EventStatus, map[string]bool{"cancelled": true})
	default:
		return emit(EventStatus, map[string]bool{"done": true})
	}
}

// Run is the non-streaming variant: the user's text alone, no history,
// files or session persistence.
func (s PipelineService) Run(ctx context.Context, req PipelineRequest) (LoopResult, error) {
	if err := s.Validate(req); err != nil {
		return LoopResult{}, err
	}
	text := strings.TrimSpace(req.Text)
	res, err := s.Loop.Run(ctx, LoopInput{
		Task:           text,
		Conversation:   []domain.Message{domain.TextMessage(domain.RoleUserMsg, text)},
		System:         SystemPrompt(NormalizeMode(req.Mode)),
		Model:          SelectModel(req.PrimaryModel, s.PrimaryModels),
		Candidates:     s.PrimaryModels,
		ValidatorModel: SelectModel(req.ValidatorModel, s.ValidatorModels),
		MaxRounds:      RoundsOrDefault(req.MaxRounds, DefaultPipelineRounds),
	})
	if err != nil {
		return res, err
	}
	s.publish(ctx, req.Actor, "pipeline", map[string]any{"status": res.Status, "rounds": len(res.Iterations)})
	return res, nil
}

// Cancel sets the abort flag of a running stream.
func (s PipelineService) Cancel(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session_id_required", domain.ErrInvalidArgument)
	}
	if s.Aborts == nil {
		return fmt.Errorf("%w: session_not_found", domain.ErrNotFound)
	}
	return s.Aborts.Cancel(ctx, sessionID)
}

func (s PipelineService) cancelled(sid string) func(context.Context) bool {
	if sid == "" || s.Aborts == nil {
		return nil
	}
	return func(ctx context.Context) bool {
		c, err := s.Aborts.Cancelled(ctx, sid)
		if err != nil {
			slog.WarnContext(ctx, "abort flag read failed", slog.String("session_id", sid), slog.Any("error", err))
			return false
		}
		return c
	}
}

// saveTranscript appends to the stored session. A failed write is logged and
// the id is still reported so the client can retry with it.
func (s PipelineService) saveTranscript(ctx context.Context, sid, mode string, transcript []domain.Message) string {
	if sid == "" {
		sid = s.newID()
	}
	if s.Sessions == nil {
		return sid
	}
	rec := domain.SessionRecord{ID: sid, Messages: transcript, Mode: mode, CreatedAt: s.now()}
	if err := s.Sessions.Append(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "session save failed", slog.String("session_id", sid), slog.Any("error", err))
	}
	return sid
}

func (s PipelineService) publish(ctx context.Context, actor, typ string, details map[string]any) {
	if s.Audit == nil {
		return
	}
	ev := domain.AuditEvent{Type: typ, Actor: actor, At: s.now(), Details: details}
	if err := s.Audit.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		slog.WarnContext(ctx, "audit publish failed", slog.String("type", typ), slog.Any("error", err))
	}
}

func (s PipelineService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s PipelineService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
