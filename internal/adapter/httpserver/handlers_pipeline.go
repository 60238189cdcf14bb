package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

// ChatHandler proxies one call to the primary provider.
func (s *Server) ChatHandler() http.HandlerFunc { return s.chatHandler(s.Chat) }

// OpenAIChatHandler proxies one call to the validator provider.
func (s *Server) OpenAIChatHandler() http.HandlerFunc { return s.chatHandler(s.OpenAIChat) }

func (s *Server) chatHandler(svc usecase.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.ChatProxyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		reply, err := svc.Complete(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.Audit.Record(r.Context(), principal(r).Subject, "chat", map[string]any{"provider": svc.Provider, "model": reply.Model})
		writeJSON(w, http.StatusOK, map[string]any{
			"content": []domain.ContentBlock{{Type: domain.BlockText, Text: reply.Text}},
			"model":   reply.Model,
		})
	}
}

type pipelineRequest struct {
	Text        string `json:"text"`
	ClaudeModel string `json:"claude_model"`
	OpenAIModel string `json:"openai_model"`
	MaxIters    *int   `json:"max_iters"`
	Mode        string `json:"mode"`
}

type pipelineResponse struct {
	Status     string         `json:"status"`
	OutputText *string        `json:"output_text"`
	Iterations []domain.Round `json:"iterations"`
}

// PipelineHandler runs the loop to completion and answers once.
func (s *Server) PipelineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipelineRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		res, err := s.Pipeline.Run(r.Context(), usecase.PipelineRequest{
			Text:           req.Text,
			PrimaryModel:   req.ClaudeModel,
			ValidatorModel: req.OpenAIModel,
			MaxRounds:      req.MaxIters,
			Mode:           req.Mode,
			Actor:          principal(r).Subject,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := pipelineResponse{Status: res.Status, Iterations: res.Iterations}
		if out.Iterations == nil {
			out.Iterations = []domain.Round{}
		}
		if res.Passed() {
			text := res.FinalText
			out.OutputText = &text
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// StreamHandler drives the loop as server-sent events. Requests that cannot
// start fail with a plain status before the stream opens.
func (s *Server) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var rounds *int
		if n, err := strconv.Atoi(strings.TrimSpace(q.Get("max_iters"))); err == nil {
			rounds = &n
		}
		req := usecase.PipelineRequest{
			Text:           q.Get("text"),
			PrimaryModel:   q.Get("claude_model"),
			ValidatorModel: q.Get("openai_model"),
			MaxRounds:      rounds,
			History:        usecase.DecodeHistory(q.Get("history")),
			FileIDs:        usecase.SplitIDs(q.Get("file_ids")),
			SessionID:      q.Get("session_id"),
			Mode:           q.Get("mode"),
			Actor:          principal(r).Subject,
		}
		if err := s.Pipeline.Validate(req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		defer trackStream()()
		sse := startSSE(w)
		if err := s.Pipeline.Stream(r.Context(), req, sse.Send); err != nil {
			LoggerFrom(r).Warn("stream ended with error", "error", err)
		}
	}
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

// CancelHandler sets the abort flag of a running stream.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if strings.TrimSpace(req.SessionID) == "" {
			writeFlatError(w, http.StatusBadRequest, "session_id_required")
			return
		}
		if err := s.Pipeline.Cancel(r.Context(), req.SessionID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeFlatError(w, http.StatusNotFound, "session_not_found")
				return
			}
			writeError(w, r, err, nil)
			return
		}
		s.Audit.Record(r.Context(), principal(r).Subject, "cancel", map[string]any{"session_id": req.SessionID})
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

// decodeMessages accepts the messages array of a session save.
func decodeMessages(raw json.RawMessage) ([]domain.Message, bool) {
	var msgs []domain.Message
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, false
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, true
}
