package httpserver

import (
	"fmt"
	"net/http"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// ModelsHandler lists the primary provider's candidate models.
func (s *Server) ModelsHandler() http.HandlerFunc {
	return modelsHandler(func() ([]string, bool) { return s.Pipeline.PrimaryModels, s.Pipeline.PrimaryReady }, "ANTHROPIC_API_KEY")
}

// OpenAIModelsHandler lists the validator provider's candidate models.
func (s *Server) OpenAIModelsHandler() http.HandlerFunc {
	return modelsHandler(func() ([]string, bool) { return s.Pipeline.ValidatorModels, s.Pipeline.ValidatorReady }, "OPENAI_API_KEY")
}

func modelsHandler(get func() ([]string, bool), envName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, ready := get()
		if !ready {
			writeError(w, r, fmt.Errorf("%w: %s environment variable not set", domain.ErrNotConfigured, envName), nil)
			return
		}
		if models == nil {
			models = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	}
}

// MeHandler returns the caller's role.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"role": principal(r).Role})
	}
}

type actionLogRequest struct {
	Action string `json:"action"`
	Meta   any    `json:"meta"`
}

// ActionLogHandler records a client-reported action.
func (s *Server) ActionLogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionLogRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Audit.LogAction(r.Context(), principal(r).Subject, req.Action, req.Meta); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type batchRequest struct {
	BatchID string `json:"batch_id"`
}

// AutoCBAMReportHandler queues an automated report for a batch.
func (s *Server) AutoCBAMReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Audit.QueueCBAMReport(r.Context(), principal(r).Subject, req.BatchID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "batch_id": req.BatchID})
	}
}

// OpenBatchHandler records that a batch was opened.
func (s *Server) OpenBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Audit.OpenBatch(r.Context(), principal(r).Subject, req.BatchID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "batch_id": req.BatchID})
	}
}
