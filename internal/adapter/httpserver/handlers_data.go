package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

type sessionSaveRequest struct {
	Messages json.RawMessage `json:"messages"`
	Mode     string          `json:"mode"`
}

// SessionSaveHandler stores a transcript under a new id.
func (s *Server) SessionSaveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionSaveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		msgs, ok := decodeMessages(req.Messages)
		if !ok {
			writeError(w, r, fmt.Errorf("%w: messages array required", domain.ErrInvalidArgument), nil)
			return
		}
		id, err := s.Sessions.Save(r.Context(), msgs, req.Mode)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.Audit.Record(r.Context(), principal(r).Subject, "session_save", map[string]any{"id": id})
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// SessionGetHandler returns one stored transcript.
func (s *Server) SessionGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// SessionListHandler lists sessions newest first, filtered by ?query and capped by ?limit.
func (s *Server) SessionListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		out, err := s.Sessions.List(r.Context(), limit, q.Get("query"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// FileSaveHandler stores an uploaded file.
func (s *Server) FileSaveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in usecase.FileInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, err, nil)
			return
		}
		p := principal(r)
		id, err := s.Files.Save(r.Context(), p.Role, in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.Audit.Record(r.Context(), p.Subject, "file_save", map[string]any{"id": id})
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// FileListHandler lists file metadata.
func (s *Server) FileListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := s.Files.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": files})
	}
}

// FileGetHandler returns one file with its content.
func (s *Server) FileGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := s.Files.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

// RagIndexHandler indexes text or stored files.
func (s *Server) RagIndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in usecase.RagIndexInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, n, err := s.Rag.Index(r.Context(), in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "chunks": n})
	}
}

type ragQueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RagQueryHandler answers a similarity query.
func (s *Server) RagQueryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ragQueryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		results, err := s.Rag.Query(r.Context(), req.Query, req.TopK)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if results == nil {
			results = []domain.RagMatch{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// AlertRulesListHandler lists alert rules.
func (s *Server) AlertRulesListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := s.Alerts.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
	}
}

// AlertRuleUpsertHandler creates or replaces a rule.
func (s *Server) AlertRuleUpsertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in usecase.AlertRuleInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, err := s.Alerts.Upsert(r.Context(), principal(r).Role, in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// AlertRuleDeleteHandler removes a rule.
func (s *Server) AlertRuleDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Alerts.Delete(r.Context(), principal(r).Role, chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
