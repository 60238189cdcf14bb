package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// SessionRepo stores transcripts as JSONB arrays.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// Append inserts rec or appends its messages to the stored transcript.
// The title is derived from the first user turn and kept once set.
func (r *SessionRepo) Append(ctx domain.Context, rec domain.SessionRecord) error {
	ctx, span := startSpan(ctx, "sessions", "Append", "UPSERT")
	defer span.End()
	msgs := rec.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("op=session.append: %w", err)
	}
	mode := rec.Mode
	if mode == "" {
		mode = domain.ModeGeneral
	}
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	q := `INSERT INTO sessions (id, title, mode, messages, created_at, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $5)
ON CONFLICT (id) DO UPDATE SET
  messages = sessions.messages || EXCLUDED.messages,
  mode = EXCLUDED.mode,
  title = CASE WHEN sessions.title = '' THEN EXCLUDED.title ELSE sessions.title END,
  updated_at = EXCLUDED.updated_at`
	if _, err := r.Pool.Exec(ctx, q, rec.ID, domain.SessionTitle(msgs), mode, string(b), at.UTC()); err != nil {
		return fmt.Errorf("op=session.append: %w", err)
	}
	return nil
}

// Get loads a session; a missing id yields domain.ErrNotFound.
func (r *SessionRepo) Get(ctx domain.Context, id string) (domain.SessionRecord, error) {
	ctx, span := startSpan(ctx, "sessions", "Get", "SELECT")
	defer span.End()
	var (
		rec domain.SessionRecord
		raw []byte
	)
	q := `SELECT id, mode, messages, created_at FROM sessions WHERE id=$1`
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.Mode, &raw, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionRecord{}, fmt.Errorf("op=session.get: %w", domain.ErrNotFound)
		}
		return domain.SessionRecord{}, fmt.Errorf("op=session.get: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Messages); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("op=session.get: decode messages: %w", err)
	}
	if rec.Messages == nil {
		rec.Messages = []domain.Message{}
	}
	return rec, nil
}

// List returns up to limit summaries, most recently updated first. A non-empty
// query keeps sessions whose "title mode" text contains it, case-insensitively.
func (r *SessionRepo) List(ctx domain.Context, limit int, query string) ([]domain.SessionSummary, error) {
	ctx, span := startSpan(ctx, "sessions", "List", "SELECT")
	defer span.End()
	q := `SELECT id, created_at, title, mode FROM sessions
WHERE $1 = '' OR position($1 in lower(title || ' ' || mode)) > 0
ORDER BY updated_at DESC
LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("op=session.list: %w", err)
	}
	defer rows.Close()
	out := []domain.SessionSummary{}
	for rows.Next() {
		var s domain.SessionSummary
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.Title, &s.Mode); err != nil {
			return nil, fmt.Errorf("op=session.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=session.list: %w", err)
	}
	return out, nil
}
