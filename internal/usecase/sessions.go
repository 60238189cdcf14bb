package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// DefaultSessionListLimit is used when the caller does not ask for a page size.
const DefaultSessionListLimit = 50

// SessionService stores and lists conversation transcripts.
type SessionService struct {
	Repo  domain.SessionRepository
	Now   func() time.Time
	NewID func() string
}

// NewSessionService constructs a SessionService with the given repo.
func NewSessionService(r domain.SessionRepository) SessionService {
	return SessionService{Repo: r}
}

// Save stores msgs as a new session and returns its id.
func (s SessionService) Save(ctx domain.Context, msgs []domain.Message, mode string) (string, error) {
	if msgs == nil {
		return "", fmt.Errorf("%w: messages array required", domain.ErrInvalidArgument)
	}
	id := uuid.NewString()
	if s.NewID != nil {
		id = s.NewID()
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	rec := domain.SessionRecord{ID: id, Messages: msgs, Mode: NormalizeMode(mode), CreatedAt: now}
	if err := s.Repo.Append(ctx, rec); err != nil {
		return "", fmt.Errorf("op=session.save: %w", err)
	}
	return id, nil
}

// Get loads one session.
func (s SessionService) Get(ctx domain.Context, id string) (domain.SessionRecord, error) {
	if strings.TrimSpace(id) == "" {
		return domain.SessionRecord{}, fmt.Errorf("%w: id required", domain.ErrInvalidArgument)
	}
	return s.Repo.Get(ctx, id)
}

// List returns the newest sessions first. limit below 1 selects the default;
// query filters case-insensitively on title and mode.
func (s SessionService) List(ctx domain.Context, limit int, query string) ([]domain.SessionSummary, error) {
	if limit < 1 {
		limit = DefaultSessionListLimit
	}
	out, err := s.Repo.List(ctx, limit, strings.ToLower(strings.TrimSpace(query)))
	if err != nil {
		return nil, fmt.Errorf("op=session.list: %w", err)
	}
	if out == nil {
		out = []domain.SessionSummary{}
	}
	return out, nil
}
