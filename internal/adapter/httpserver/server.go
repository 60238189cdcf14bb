package httpserver

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/zeroatsteel/zero-agent/internal/adapter/sandbox"
	"github.com/zeroatsteel/zero-agent/internal/config"
	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

// ReadinessCheck probes one dependency for /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Pipeline   usecase.PipelineService
	Chat       usecase.ChatService
	OpenAIChat usecase.ChatService
	Sessions   usecase.SessionService
	Files      usecase.FileService
	Rag        usecase.RagService
	Alerts     usecase.AlertService
	Audit      usecase.AuditService
	Reports    usecase.ReportService
	// Terminal is nil when the sandbox could not be prepared.
	Terminal *sandbox.Runner
	Checks   []ReadinessCheck

	Started time.Time
}

// HealthzHandler reports liveness together with provider and disk state.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"uptime_sec":   int64(time.Since(s.Started).Round(time.Second).Seconds()),
			"openai_ok":    s.Pipeline.ValidatorReady,
			"anthropic_ok": s.Pipeline.PrimaryReady,
			"fs_writable":  writable(s.Reports.Dir),
		})
	}
}

func writable(dir string) bool {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// ReadyzHandler runs every readiness check and answers 503 if any fails.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ok := true
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: c.Name, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
