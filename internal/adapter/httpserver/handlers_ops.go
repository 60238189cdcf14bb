package httpserver

import (
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/zeroatsteel/zero-agent/internal/adapter/sandbox"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// ReportCBAMHandler requests a CBAM simulation report.
func (s *Server) ReportCBAMHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in domain.CBAMInputs
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, err, nil)
			return
		}
		out, err := s.Reports.GenerateCBAM(r.Context(), in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.Audit.Record(r.Context(), principal(r).Subject, "report_cbam", map[string]any{"id": out.ID, "url": out.URL})
		writeJSON(w, http.StatusOK, out)
	}
}

// ReportFileHandler serves a stored report.
func (s *Server) ReportFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Reports.FilePath(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		http.ServeFile(w, r, p)
	}
}

type terminalRequest struct {
	Cmd string `json:"cmd"`
}

// TerminalHandler runs an allowlisted command in the sandbox for admins.
func (s *Server) TerminalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Cfg.TerminalEnabled || s.Terminal == nil {
			writeFlatError(w, http.StatusForbidden, "Terminal disabled. Set TERMINAL_ENABLED=true")
			return
		}
		p := principal(r)
		if p.Role != domain.RoleAdmin {
			writeFlatError(w, http.StatusForbidden, "forbidden")
			return
		}
		if ips := s.Cfg.AllowedIPs; len(ips) > 0 && !slices.Contains(ips, ClientIP(r)) {
			writeFlatError(w, http.StatusForbidden, "ip_forbidden")
			return
		}
		var req terminalRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		res, err := s.Terminal.Run(r.Context(), req.Cmd)
		switch {
		case errors.Is(err, sandbox.ErrNotAllowed):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "command not allowed", "allow": s.Terminal.Allow})
			return
		case errors.Is(err, sandbox.ErrEmptyCommand):
			writeFlatError(w, http.StatusBadRequest, "cmd is required")
			return
		case errors.Is(err, sandbox.ErrUnsupportedSymbol):
			writeFlatError(w, http.StatusBadRequest, "unsupported characters")
			return
		case err != nil:
			writeError(w, r, err, nil)
			return
		}
		s.Audit.Record(r.Context(), p.Subject, "terminal", map[string]any{"cmd": req.Cmd, "code": res.Code})
		writeJSON(w, http.StatusOK, res)
	}
}
