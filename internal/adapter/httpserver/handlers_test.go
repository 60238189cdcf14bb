package httpserver_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/zeroatsteel/zero-agent/internal/adapter/httpserver"
	"github.com/zeroatsteel/zero-agent/internal/adapter/sandbox"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["anthropic_ok"])
	assert.Equal(t, true, body["openai_ok"])
	assert.Equal(t, true, body["fs_writable"])
	assert.Contains(t, body, "uptime_sec")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, nil, nil, func(s *httpserver.Server) {
		s.Checks = []httpserver.ReadinessCheck{
			{Name: "db", Check: func(context.Context) error { return nil }},
			{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
		}
	})
	rec := f.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Checks []struct {
			Name    string `json:"name"`
			OK      bool   `json:"ok"`
			Details string `json:"details"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Checks, 2)
	assert.True(t, body.Checks[0].OK)
	assert.False(t, body.Checks[1].OK)
	assert.Equal(t, "down", body.Checks[1].Details)
}

func TestAPI_RequiresCredentials(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/me", "nope", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe_QueryTokenOnGet(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/api/me?api_key="+engineerKey, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"role":"engineer"}`, rec.Body.String())
}

func TestModels(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/api/models", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"models":["claude-a","claude-b"]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/openai/models", userKey, nil)
	assert.JSONEq(t, `{"models":["gpt-a"]}`, rec.Body.String())

	f = newFixture(t, nil, nil, func(s *httpserver.Server) { s.Pipeline.PrimaryReady = false })
	rec = f.do(t, http.MethodGet, "/api/models", userKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ANTHROPIC_API_KEY")
}

func TestPipeline(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		rec := f.do(t, http.MethodPost, "/api/pipeline", userKey, map[string]any{"text": "explain CBAM"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "pass", body["status"])
		assert.Equal(t, "answer", body["output_text"])
		iters := body["iterations"].([]any)
		require.Len(t, iters, 1)
		first := iters[0].(map[string]any)
		assert.Equal(t, "answer", first["claude"])
		assert.Equal(t, "pass", first["validator"].(map[string]any)["status"])
	})

	t.Run("fail keeps output null", func(t *testing.T) {
		f := newFixture(t, nil, reply(failVerdict))
		rec := f.do(t, http.MethodPost, "/api/pipeline", userKey, map[string]any{"text": "explain CBAM"})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "fail", body["status"])
		assert.Nil(t, body["output_text"])
		assert.Len(t, body["iterations"], 2)
	})

	t.Run("empty text", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		rec := f.do(t, http.MethodPost, "/api/pipeline", userKey, map[string]any{"text": "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("primary failure", func(t *testing.T) {
		boom := chatFunc(func(domain.Context, domain.ChatRequest) (string, error) { return "", errors.New("boom") })
		f := newFixture(t, boom, nil)
		rec := f.do(t, http.MethodPost, "/api/pipeline", userKey, map[string]any{"text": "x"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func parseEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		lines := strings.Split(block, "\n")
		require.Len(t, lines, 2, block)
		require.True(t, strings.HasPrefix(lines[0], "event: "), block)
		require.True(t, strings.HasPrefix(lines[1], "data: "), block)
		events = append(events, strings.TrimPrefix(lines[0], "event: "))
	}
	return events
}

func TestStream_PassPersistsSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	q := url.Values{"text": {"hello"}, "session_id": {"s-1"}, "max_iters": {"2"}}
	rec := f.do(t, http.MethodGet, "/api/pipeline/stream?"+q.Encode(), userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, []string{"claude", "validator", "session", "final"}, parseEvents(t, rec.Body.String()))
	assert.Contains(t, rec.Body.String(), `data: {"id":"s-1"}`)
	assert.Contains(t, rec.Body.String(), `data: {"text":"answer"}`)

	saved, err := f.sessions.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotEmpty(t, saved.Messages)
	assert.Equal(t, "answer", saved.Messages[len(saved.Messages)-1].Text())
	assert.Equal(t, 0, f.aborts.Len())
}

func TestStream_ExhaustedEndsWithDone(t *testing.T) {
	f := newFixture(t, nil, reply(failVerdict))
	rec := f.do(t, http.MethodGet, "/api/pipeline/stream?text=hi&max_iters=2", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"claude", "validator", "claude", "validator", "status"}, parseEvents(t, rec.Body.String()))
	assert.Contains(t, rec.Body.String(), `data: {"done":true}`)
}

func TestRounds_ZeroRunsOnce(t *testing.T) {
	var calls atomic.Int32
	primary := chatFunc(func(domain.Context, domain.ChatRequest) (string, error) {
		calls.Add(1)
		return "answer", nil
	})
	f := newFixture(t, primary, reply(failVerdict))

	rec := f.do(t, http.MethodGet, "/api/pipeline/stream?text=hi&max_iters=0", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"claude", "validator", "status"}, parseEvents(t, rec.Body.String()))
	assert.Equal(t, int32(1), calls.Load())

	rec = f.do(t, http.MethodPost, "/api/pipeline", userKey, map[string]any{"text": "hi", "max_iters": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["iterations"], 1)

	rec = f.do(t, http.MethodPost, "/api/pipeline", userKey, map[string]any{"text": "hi", "max_iters": 9})
	assert.Len(t, decode(t, rec)["iterations"], 5)

	calls.Store(0)
	rec = f.do(t, http.MethodGet, "/api/pipeline/stream?text=hi", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStream_HistoryReachesPrimary(t *testing.T) {
	var seen atomic.Int32
	primary := chatFunc(func(_ domain.Context, req domain.ChatRequest) (string, error) {
		seen.Store(int32(len(req.Messages)))
		return "answer", nil
	})
	f := newFixture(t, primary, nil)
	hist, _ := json.Marshal([]domain.Message{
		domain.TextMessage(domain.RoleUserMsg, "earlier"),
		domain.TextMessage(domain.RoleAssistantMsg, "reply"),
	})
	q := url.Values{"text": {"now"}, "history": {base64.StdEncoding.EncodeToString(hist)}}
	rec := f.do(t, http.MethodGet, "/api/pipeline/stream?"+q.Encode(), userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(3), seen.Load())
}

func TestStream_RejectedBeforeOpening(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/api/pipeline/stream?text=", userKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))

	f = newFixture(t, nil, nil, func(s *httpserver.Server) { s.Pipeline.ValidatorReady = false })
	rec = f.do(t, http.MethodGet, "/api/pipeline/stream?text=hi", userKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/api/chat/cancel", userKey, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"session_id_required"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/chat/cancel", userKey, map[string]string{"session_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"session_not_found"}`, rec.Body.String())

	require.NoError(t, f.aborts.Register(context.Background(), "live"))
	rec = f.do(t, http.MethodPost, "/api/chat/cancel", userKey, map[string]string{"session_id": "live"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cancelled"}`, rec.Body.String())
	cancelled, err := f.aborts.Cancelled(context.Background(), "live")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestChat(t *testing.T) {
	f := newFixture(t, nil, nil)
	msgs := []domain.Message{domain.TextMessage(domain.RoleUserMsg, "hi")}

	rec := f.do(t, http.MethodPost, "/api/chat", userKey, map[string]any{"messages": msgs, "model": "claude-b"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"answer"}],"model":"claude-b"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/chat", userKey, map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/openai/chat", userKey, map[string]any{"messages": msgs})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gpt-a", decode(t, rec)["model"])
}

func TestChat_ModelFallback(t *testing.T) {
	onlyB := chatFunc(func(_ domain.Context, req domain.ChatRequest) (string, error) {
		if req.Model != "claude-b" {
			return "", fmt.Errorf("model %s: %w", req.Model, domain.ErrModelNotFound)
		}
		return "from b", nil
	})
	f := newFixture(t, onlyB, nil)
	msgs := []domain.Message{domain.TextMessage(domain.RoleUserMsg, "hi")}
	rec := f.do(t, http.MethodPost, "/api/chat", userKey, map[string]any{"messages": msgs})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "claude-b", decode(t, rec)["model"])

	none := chatFunc(func(_ domain.Context, req domain.ChatRequest) (string, error) {
		return "", fmt.Errorf("model %s: %w", req.Model, domain.ErrModelNotFound)
	})
	f = newFixture(t, none, nil)
	rec = f.do(t, http.MethodPost, "/api/chat", userKey, map[string]any{"messages": msgs})
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{"claude-a", "claude-b"}, body["suggestedModels"])
	assert.NotEmpty(t, body["error"])
}

func TestSessions(t *testing.T) {
	f := newFixture(t, nil, nil)
	msgs := []domain.Message{domain.TextMessage(domain.RoleUserMsg, "steel prices"), domain.TextMessage(domain.RoleAssistantMsg, "up")}

	rec := f.do(t, http.MethodPost, "/api/session/save", userKey, map[string]any{"messages": msgs, "mode": "steel"})
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodGet, "/api/session/"+id, userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "steel", got["mode"])
	assert.Len(t, got["messages"], 2)

	rec = f.do(t, http.MethodGet, "/api/session/list?query=STEEL&limit=5", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.SessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "steel prices", list[0].Title)

	rec = f.do(t, http.MethodGet, "/api/session/list?query=design", userKey, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/session/missing", userKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/session/save", userKey, map[string]any{"messages": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFiles(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/api/files/save", userKey, map[string]any{"name": "a.txt", "text": "hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/files/save", engineerKey, map[string]any{"text": "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/files/save", engineerKey, map[string]any{"name": "big.txt", "text": strings.Repeat("x", 2048)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/files/save", engineerKey, map[string]any{"name": "a.txt", "text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = f.do(t, http.MethodGet, "/api/files/list", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode(t, rec)["files"].([]any)
	require.Len(t, files, 1)
	assert.NotContains(t, files[0].(map[string]any), "text")

	rec = f.do(t, http.MethodGet, "/api/files/"+id, userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", decode(t, rec)["text"])
}

func TestStream_AttachedFilesReachPrimary(t *testing.T) {
	var prompt atomic.Value
	primary := chatFunc(func(_ domain.Context, req domain.ChatRequest) (string, error) {
		var sb strings.Builder
		for _, m := range req.Messages {
			sb.WriteString(m.Text())
		}
		prompt.Store(sb.String())
		return "answer", nil
	})
	f := newFixture(t, primary, nil)
	id, err := f.files.Create(context.Background(), domain.FileRecord{Name: "beam.txt", Type: domain.FileTypeText, Text: "grade S355"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/pipeline/stream?text=which+grade&file_ids="+id, userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, prompt.Load().(string), "grade S355")
}

func TestAlertRules(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/api/alert-rules", userKey, map[string]any{"name": "n", "rule": "r"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/alert-rules", engineerKey, map[string]any{"name": "n"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/alert-rules", engineerKey, map[string]any{"name": "temp", "rule": "t > 1600", "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = f.do(t, http.MethodGet, "/api/alert-rules", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode(t, rec)["rules"].([]any)
	require.Len(t, rules, 1)
	assert.Equal(t, false, rules[0].(map[string]any)["enabled"])

	rec = f.do(t, http.MethodDelete, "/api/alert-rules/"+id, userKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/alert-rules/"+id, adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/alert-rules", userKey, nil)
	assert.JSONEq(t, `{"rules":[]}`, rec.Body.String())
}

func TestRag(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/api/rag/index", userKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/rag/index", userKey, map[string]any{"title": "cbam", "text": strings.Repeat("a", 2500)})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["id"])
	assert.EqualValues(t, 3, body["chunks"])

	rec = f.do(t, http.MethodPost, "/api/rag/query", userKey, map[string]any{"query": "cbam", "top_k": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "cbam", results[0].(map[string]any)["title"])

	rec = f.do(t, http.MethodPost, "/api/rag/query", userKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubReports struct {
	res domain.ReportResult
	err error
}

func (s stubReports) GenerateCBAM(domain.Context, domain.CBAMInputs) (domain.ReportResult, error) {
	return s.res, s.err
}

func TestReports(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/api/reports/cbam", userKey, map[string]any{"tonnage": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "N8N_URL_not_configured")

	pdf := []byte("%PDF-1.4 test")
	f = newFixture(t, nil, nil, func(s *httpserver.Server) {
		s.Reports.Generator = stubReports{res: domain.ReportResult{PDFBase64: base64.StdEncoding.EncodeToString(pdf)}}
		s.Reports.NewID = func() string { return "r1" }
	})
	rec = f.do(t, http.MethodPost, "/api/reports/cbam", userKey, map[string]any{"tonnage": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"/api/reports/file/r1.pdf","id":"r1"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/reports/file/r1.pdf", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pdf, rec.Body.Bytes())

	rec = f.do(t, http.MethodGet, "/api/reports/file/missing.pdf", userKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/reports/file/bad%20name", userKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f = newFixture(t, nil, nil, func(s *httpserver.Server) {
		s.Reports.Generator = stubReports{err: &domain.UpstreamStatusError{Status: http.StatusUnprocessableEntity, Message: "bad tonnage"}}
	})
	rec = f.do(t, http.MethodPost, "/api/reports/cbam", userKey, map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":"bad tonnage"}`, rec.Body.String())
}

func TestAuditEndpoints(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/api/actions/log", userKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/actions/log", userKey, map[string]any{"action": "open_panel", "meta": map[string]any{"x": 1}})
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/auto/cbam-report", userKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/auto/cbam-report", userKey, map[string]any{"batch_id": "b7"})
	assert.JSONEq(t, `{"status":"queued","batch_id":"b7"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/auto/open-batch", userKey, map[string]any{"batch_id": "b7"})
	assert.JSONEq(t, `{"status":"ok","batch_id":"b7"}`, rec.Body.String())
}

func TestTerminal(t *testing.T) {
	dir := t.TempDir()
	runner, err := sandbox.NewRunner(dir, 0, 1000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hi"), 0o600))

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/api/terminal/exec", adminKey, map[string]string{"cmd": "ls"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Terminal disabled. Set TERMINAL_ENABLED=true"}`, rec.Body.String())

	f = newFixture(t, nil, nil, func(s *httpserver.Server) {
		s.Cfg.TerminalEnabled = true
		s.Terminal = runner
	})
	rec = f.do(t, http.MethodPost, "/api/terminal/exec", engineerKey, map[string]string{"cmd": "ls"})
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/terminal/exec", adminKey, map[string]string{"cmd": "rm -rf x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "command not allowed", body["error"])
	assert.Contains(t, body["allow"], "ls")

	rec = f.do(t, http.MethodPost, "/api/terminal/exec", adminKey, map[string]string{"cmd": "ls; pwd"})
	assert.JSONEq(t, `{"error":"unsupported characters"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/terminal/exec", adminKey, map[string]string{"cmd": "ls"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res sandbox.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 0, res.Code)
	assert.Contains(t, res.Stdout, "note.txt")

	f = newFixture(t, nil, nil, func(s *httpserver.Server) {
		s.Cfg.TerminalEnabled = true
		s.Cfg.AllowedIPs = []string{"10.0.0.1"}
		s.Terminal = runner
	})
	req := httptest.NewRequest(http.MethodPost, "/api/terminal/exec", strings.NewReader(`{"cmd":"ls"}`))
	req.Header.Set("X-API-Key", adminKey)
	req.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.1")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.JSONEq(t, `{"error":"ip_forbidden"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/terminal/exec", strings.NewReader(`{"cmd":"pwd"}`))
	req.Header.Set("X-API-Key", adminKey)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
