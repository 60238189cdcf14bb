// Package domain holds the core types and ports of the agent gateway.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrRateLimited       = errors.New("rate limited")
	ErrNotConfigured     = errors.New("provider not configured")
	ErrProvider          = errors.New("provider error")
	ErrModelNotFound     = errors.New("model not found")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrInternal          = errors.New("internal error")
)

// Context is an alias so ports can be declared without importing context everywhere.
type Context = context.Context

// Roles carried by authenticated callers.
const (
	RoleUser     = "user"
	RoleEngineer = "engineer"
	RoleAdmin    = "admin"
)

// CanWrite reports whether role may mutate shared resources (files, alert rules).
func CanWrite(role string) bool { return role == RoleAdmin || role == RoleEngineer }

// Modes select the system instruction and whether retrieval is used.
const (
	ModeGeneral = "general"
	ModeSteel   = "steel"
	ModeDesign  = "design"
)

// File record types.
const (
	FileTypeText   = "text"
	FileTypeImage  = "image"
	FileTypeBinary = "binary"
)

// SessionRecord is a persisted transcript. Saving under an existing id appends.
type SessionRecord struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode"`
}

// FileRecord is an uploaded file. Text files carry Text; images and binaries carry base64 Data and MIME.
type FileRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	MIME      string    `json:"mime,omitempty"`
	Size      int64     `json:"size"`
	Text      string    `json:"text,omitempty"`
	Data      string    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RagChunk is one embedded slice of an indexed document.
type RagChunk struct {
	ID         string
	DocumentID string
	Title      string
	Index      int
	Text       string
	Embedding  []float32
}

// RagMatch is a similarity search hit.
type RagMatch struct {
	DocumentID string  `json:"doc_id"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// AlertRule is a user-managed alert definition.
type AlertRule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rule      string    `json:"rule"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEvent records a user-visible action.
type AuditEvent struct {
	Type    string         `json:"type"`
	Actor   string         `json:"actor"`
	At      time.Time      `json:"at"`
	Details map[string]any `json:"details,omitempty"`
}

// Repositories (ports)

type SessionRepository interface {
	// Append stores rec, appending rec.Messages to any transcript already stored under rec.ID.
	Append(ctx Context, rec SessionRecord) error
	Get(ctx Context, id string) (SessionRecord, error)
	List(ctx Context, limit int, query string) ([]SessionSummary, error)
}

type FileRepository interface {
	Create(ctx Context, f FileRecord) (string, error)
	Get(ctx Context, id string) (FileRecord, error)
	List(ctx Context) ([]FileRecord, error)
}

type AlertRuleRepository interface {
	List(ctx Context) ([]AlertRule, error)
	Upsert(ctx Context, r AlertRule) (string, error)
	Delete(ctx Context, id string) error
}

// VectorStore persists embedded chunks and answers similarity queries.
type VectorStore interface {
	Upsert(ctx Context, chunks []RagChunk) error
	Search(ctx Context, embedding []float32, topK int) ([]RagMatch, error)
}

// Providers (ports)

// ChatRequest is a single completion call against a chat model.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// ChatModel returns the text of one completion.
type ChatModel interface {
	Chat(ctx Context, req ChatRequest) (string, error)
}

// Embedder returns one embedding per input text.
type Embedder interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
}

// AbortRegistry tracks cooperative cancellation flags keyed by session id.
type AbortRegistry interface {
	Register(ctx Context, sessionID string) error
	// Cancel sets the flag; it returns ErrNotFound when no run is registered under sessionID.
	Cancel(ctx Context, sessionID string) error
	Cancelled(ctx Context, sessionID string) (bool, error)
	Release(ctx Context, sessionID string) error
}

// TextExtractor extracts plain text from document bytes (PDF, DOCX).
type TextExtractor interface {
	Extract(ctx Context, fileName string, data []byte) (string, error)
}

// AuditSink receives audit events.
type AuditSink interface {
	Publish(ctx Context, ev AuditEvent) error
}

// CBAMInputs are the simulation parameters forwarded to the report service.
type CBAMInputs struct {
	Tonnage             float64 `json:"tonnage"`
	IntensityTCO2PerTon float64 `json:"intensity_tco2_per_ton"`
	ETSEURPerTCO2       float64 `json:"ets_eur_per_tco2"`
	ElecEURPerMWh       float64 `json:"elec_eur_per_mwh"`
	H2EURPerKg          float64 `json:"h2_eur_per_kg"`
	H2Blend             float64 `json:"h2_blend"`
}

// ReportResult is the report service's answer: a link, an inline PDF, or raw data.
type ReportResult struct {
	PDFURL    string
	PDFBase64 string
	Raw       map[string]any
}

// ReportGenerator produces CBAM reports.
type ReportGenerator interface {
	GenerateCBAM(ctx Context, in CBAMInputs) (ReportResult, error)
}

// UpstreamStatusError carries a non-2xx status from a downstream service so it
// can be relayed to the caller unchanged.
type UpstreamStatusError struct {
	Status  int
	Message string
}

func (e *UpstreamStatusError) Error() string { return e.Message }
