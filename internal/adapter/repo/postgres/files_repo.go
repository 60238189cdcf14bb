package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// FileRepo persists uploaded files with their extracted text or base64 data.
type FileRepo struct{ Pool PgxPool }

// NewFileRepo constructs a FileRepo with the given pool.
func NewFileRepo(p PgxPool) *FileRepo { return &FileRepo{Pool: p} }

// Create stores a file and returns its id (generates one if empty).
func (r *FileRepo) Create(ctx domain.Context, f domain.FileRecord) (string, error) {
	ctx, span := startSpan(ctx, "files", "Create", "INSERT")
	defer span.End()
	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	at := f.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	q := `INSERT INTO files (id, name, type, mime, size, text, data, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := r.Pool.Exec(ctx, q, id, f.Name, f.Type, f.MIME, f.Size, f.Text, f.Data, at.UTC()); err != nil {
		return "", fmt.Errorf("op=file.create: %w", err)
	}
	return id, nil
}

// Get loads a file with its payload.
func (r *FileRepo) Get(ctx domain.Context, id string) (domain.FileRecord, error) {
	ctx, span := startSpan(ctx, "files", "Get", "SELECT")
	defer span.End()
	q := `SELECT id, name, type, mime, size, text, data, created_at FROM files WHERE id=$1`
	var f domain.FileRecord
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&f.ID, &f.Name, &f.Type, &f.MIME, &f.Size, &f.Text, &f.Data, &f.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FileRecord{}, fmt.Errorf("op=file.get: %w", domain.ErrNotFound)
		}
		return domain.FileRecord{}, fmt.Errorf("op=file.get: %w", err)
	}
	return f, nil
}

// List returns file metadata, newest first. Payload columns are not loaded.
func (r *FileRepo) List(ctx domain.Context) ([]domain.FileRecord, error) {
	ctx, span := startSpan(ctx, "files", "List", "SELECT")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT id, name, type, mime, size, created_at FROM files ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("op=file.list: %w", err)
	}
	defer rows.Close()
	out := []domain.FileRecord{}
	for rows.Next() {
		var f domain.FileRecord
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.MIME, &f.Size, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=file.list: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=file.list: %w", err)
	}
	return out, nil
}
