package usecase

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/pkg/textx"
)

// Document MIME types whose text is extracted on upload.
const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// FileInput is an uploaded file: Text for text files, base64 Data plus MIME otherwise.
type FileInput struct {
	Name string `json:"name" validate:"required"`
	Text string `json:"text"`
	Data string `json:"data"`
	MIME string `json:"mime"`
}

// FileService stores uploaded files, extracting text from documents.
type FileService struct {
	Repo      domain.FileRepository
	Extractor domain.TextExtractor
	MaxBytes  int64
	Now       func() time.Time
}

// NewFileService constructs a FileService.
func NewFileService(r domain.FileRepository, ex domain.TextExtractor, maxBytes int64) FileService {
	return FileService{Repo: r, Extractor: ex, MaxBytes: maxBytes}
}

// Save classifies and stores in on behalf of a caller with role. Images keep
// their data; PDF and DOCX become text; anything else with data is binary.
func (s FileService) Save(ctx domain.Context, role string, in FileInput) (string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	if !domain.CanWrite(role) {
		return "", fmt.Errorf("%w: role %q cannot upload files", domain.ErrForbidden, role)
	}
	hasData := in.Data != "" && in.MIME != ""
	hasText := in.Text != ""
	if !hasData && !hasText {
		return "", fmt.Errorf("%w: provide text or data+mime", domain.ErrInvalidArgument)
	}

	var raw []byte
	size := int64(len(in.Text))
	if !hasText {
		b, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			return "", fmt.Errorf("%w: data is not valid base64", domain.ErrInvalidArgument)
		}
		raw = b
		size = int64(len(b))
	}
	if s.MaxBytes > 0 && size > s.MaxBytes {
		return "", fmt.Errorf("%w: file_too_large", domain.ErrPayloadTooLarge)
	}

	rec := domain.FileRecord{Name: in.Name, CreatedAt: s.now()}
	mime := s.resolveMIME(in.MIME, raw)
	switch {
	case hasData && strings.HasPrefix(mime, "image/"):
		rec.Type, rec.MIME, rec.Data, rec.Size = domain.FileTypeImage, mime, in.Data, size
	case hasData && (mime == MIMEPDF || mime == MIMEDOCX):
		text, err := s.extract(ctx, in.Name, raw)
		if err != nil {
			return "", err
		}
		rec.Type, rec.Text, rec.Size = domain.FileTypeText, text, int64(len(text))
	case hasText:
		rec.Type, rec.Text, rec.Size = domain.FileTypeText, in.Text, size
	default:
		rec.Type, rec.MIME, rec.Data, rec.Size = domain.FileTypeBinary, mime, in.Data, size
	}

	id, err := s.Repo.Create(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("op=file.save: %w", err)
	}
	slog.InfoContext(ctx, "file stored", slog.String("file_id", id), slog.String("type", rec.Type), slog.Int64("size", rec.Size))
	return id, nil
}

// resolveMIME trusts the declared type unless it is generic, in which case the
// content is sniffed.
func (s FileService) resolveMIME(declared string, raw []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if len(raw) == 0 {
		return declared
	}
	if declared == "" || declared == "application/octet-stream" {
		m := mimetype.Detect(raw).String()
		if i := strings.IndexByte(m, ';'); i >= 0 {
			m = m[:i]
		}
		return m
	}
	return declared
}

func (s FileService) extract(ctx domain.Context, name string, raw []byte) (string, error) {
	if s.Extractor == nil {
		return "", fmt.Errorf("%w: document extraction requires a text extractor", domain.ErrNotConfigured)
	}
	text, err := s.Extractor.Extract(ctx, name, raw)
	if err != nil {
		return "", fmt.Errorf("op=file.extract: %w", err)
	}
	return textx.SanitizeText(text), nil
}

// List returns stored files without their payloads.
func (s FileService) List(ctx domain.Context) ([]domain.FileRecord, error) {
	files, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=file.list: %w", err)
	}
	out := make([]domain.FileRecord, 0, len(files))
	for _, f := range files {
		f.Text, f.Data = "", ""
		out = append(out, f)
	}
	return out, nil
}

// Get loads one file with its payload.
func (s FileService) Get(ctx domain.Context, id string) (domain.FileRecord, error) {
	return s.Repo.Get(ctx, id)
}

func (s FileService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
