package usecase

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/oklog/ulid/v2"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// ReportFileRoute prefixes the download URL of stored reports.
const ReportFileRoute = "/api/reports/file/"

var reportNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ReportOutcome is one of: a URL (with ID when stored locally) or the raw result.
type ReportOutcome struct {
	URL    string         `json:"url,omitempty"`
	ID     string         `json:"id,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// ReportService requests CBAM reports and stores inline PDFs under Dir.
type ReportService struct {
	Generator domain.ReportGenerator
	Dir       string
	NewID     func() string
}

// GenerateCBAM forwards in to the report service.
func (s ReportService) GenerateCBAM(ctx domain.Context, in domain.CBAMInputs) (ReportOutcome, error) {
	if s.Generator == nil {
		return ReportOutcome{}, fmt.Errorf("%w: N8N_URL_not_configured", domain.ErrNotConfigured)
	}
	res, err := s.Generator.GenerateCBAM(ctx, in)
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("op=report.cbam: %w", err)
	}
	switch {
	case res.PDFURL != "":
		return ReportOutcome{URL: res.PDFURL}, nil
	case res.PDFBase64 != "":
		pdf, err := base64.StdEncoding.DecodeString(res.PDFBase64)
		if err != nil {
			return ReportOutcome{}, fmt.Errorf("op=report.decode: %w: %v", domain.ErrProvider, err)
		}
		id := s.newID()
		if err := os.MkdirAll(s.Dir, 0o750); err != nil {
			return ReportOutcome{}, fmt.Errorf("op=report.store: %w", err)
		}
		name := id + ".pdf"
		if err := os.WriteFile(filepath.Join(s.Dir, name), pdf, 0o640); err != nil {
			return ReportOutcome{}, fmt.Errorf("op=report.store: %w", err)
		}
		return ReportOutcome{URL: ReportFileRoute + name, ID: id}, nil
	default:
		raw := res.Raw
		if raw == nil {
			raw = map[string]any{}
		}
		return ReportOutcome{Result: raw}, nil
	}
}

// FilePath resolves a stored report name to its path.
func (s ReportService) FilePath(name string) (string, error) {
	if !reportNameRe.MatchString(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid_name", domain.ErrInvalidArgument)
	}
	p := filepath.Join(s.Dir, name)
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && st.IsDir()) {
		return "", fmt.Errorf("%w: not_found", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("op=report.file: %w", err)
	}
	return p, nil
}

func (s ReportService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return ulid.Make().String()
}
