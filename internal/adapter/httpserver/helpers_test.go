package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeroatsteel/zero-agent/internal/adapter/abort"
	httpserver "github.com/zeroatsteel/zero-agent/internal/adapter/httpserver"
	"github.com/zeroatsteel/zero-agent/internal/app"
	"github.com/zeroatsteel/zero-agent/internal/config"
	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

const (
	adminKey    = "admin-key"
	engineerKey = "eng-key"
	userKey     = "user-key"
	jwtSecret   = "test-jwt-secret"
)

type chatFunc func(domain.Context, domain.ChatRequest) (string, error)

func (f chatFunc) Chat(ctx domain.Context, req domain.ChatRequest) (string, error) { return f(ctx, req) }

func reply(text string) chatFunc {
	return func(domain.Context, domain.ChatRequest) (string, error) { return text, nil }
}

const passVerdict = `{"status":"pass","critique":"ok","needs":[]}`
const failVerdict = `{"status":"fail","critique":"too short","needs":["detail"]}`

type memSessions struct {
	mu   sync.Mutex
	recs map[string]domain.SessionRecord
}

func (m *memSessions) Append(_ domain.Context, rec domain.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = map[string]domain.SessionRecord{}
	}
	cur, ok := m.recs[rec.ID]
	if ok {
		cur.Messages = append(cur.Messages, rec.Messages...)
		m.recs[rec.ID] = cur
		return nil
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memSessions) Get(_ domain.Context, id string) (domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return domain.SessionRecord{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

func (m *memSessions) List(_ domain.Context, limit int, query string) ([]domain.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SessionSummary
	for _, r := range m.recs {
		title := domain.SessionTitle(r.Messages)
		if query != "" && !strings.Contains(strings.ToLower(title+" "+r.Mode), query) {
			continue
		}
		out = append(out, domain.SessionSummary{ID: r.ID, CreatedAt: r.CreatedAt, Title: title, Mode: r.Mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memFiles struct {
	mu    sync.Mutex
	files map[string]domain.FileRecord
	n     int
}

func (m *memFiles) Create(_ domain.Context, f domain.FileRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string]domain.FileRecord{}
	}
	m.n++
	f.ID = fmt.Sprintf("f%d", m.n)
	m.files[f.ID] = f
	return f.ID, nil
}

func (m *memFiles) Get(_ domain.Context, id string) (domain.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return domain.FileRecord{}, fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

func (m *memFiles) List(_ domain.Context) ([]domain.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.FileRecord, 0, len(m.files))
	for _, f := range m.files {
		f.Text, f.Data = "", ""
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memAlerts struct {
	mu    sync.Mutex
	rules []domain.AlertRule
}

func (m *memAlerts) List(domain.Context) ([]domain.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AlertRule(nil), m.rules...), nil
}

func (m *memAlerts) Upsert(_ domain.Context, r domain.AlertRule) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = fmt.Sprintf("r%d", len(m.rules)+1)
	}
	for i := range m.rules {
		if m.rules[i].ID == r.ID {
			m.rules[i] = r
			return r.ID, nil
		}
	}
	m.rules = append(m.rules, r)
	return r.ID, nil
}

func (m *memAlerts) Delete(_ domain.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.rules[:0]
	for _, r := range m.rules {
		if r.ID != id {
			out = append(out, r)
		}
	}
	m.rules = out
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type memVectors struct {
	mu     sync.Mutex
	chunks []domain.RagChunk
}

func (m *memVectors) Upsert(_ domain.Context, chunks []domain.RagChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memVectors) Search(_ domain.Context, _ []float32, topK int) ([]domain.RagMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RagMatch
	for _, c := range m.chunks {
		out = append(out, domain.RagMatch{DocumentID: c.DocumentID, Title: c.Title, Text: c.Text, Score: 1})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type fixture struct {
	srv      *httpserver.Server
	handler  http.Handler
	sessions *memSessions
	files    *memFiles
	aborts   *abort.Memory
}

// newFixture wires a Server over in-memory adapters. primary and validator
// default to an answer that passes on the first round.
func newFixture(t *testing.T, primary, validator domain.ChatModel, mutate ...func(*httpserver.Server)) *fixture {
	t.Helper()
	if primary == nil {
		primary = reply("answer")
	}
	if validator == nil {
		validator = reply(passVerdict)
	}
	f := &fixture{sessions: &memSessions{}, files: &memFiles{}, aborts: abort.NewMemory()}
	cfg := config.Config{
		RateLimitPerMinute: 1000,
		RequestTimeout:     5 * time.Second,
		ReportsDir:         t.TempDir(),
	}
	vectors := &memVectors{}
	audit := usecase.AuditService{}
	f.srv = &httpserver.Server{
		Cfg: cfg,
		Pipeline: usecase.PipelineService{
			Loop:            usecase.NewLoop(primary, validator),
			Assembler:       usecase.ContextAssembler{Files: f.files},
			Sessions:        f.sessions,
			Aborts:          f.aborts,
			Audit:           audit,
			PrimaryModels:   []string{"claude-a", "claude-b"},
			ValidatorModels: []string{"gpt-a"},
			PrimaryReady:    true,
			ValidatorReady:  true,
		},
		Chat:       usecase.ChatService{Provider: "anthropic", Model: primary, Candidates: []string{"claude-a", "claude-b"}, Ready: true},
		OpenAIChat: usecase.ChatService{Provider: "openai", Model: validator, Candidates: []string{"gpt-a"}, Ready: true},
		Sessions:   usecase.NewSessionService(f.sessions),
		Files:      usecase.NewFileService(f.files, nil, 1024),
		Rag:        usecase.RagService{Files: f.files, Embedder: fakeEmbedder{}, Vectors: vectors},
		Alerts:     usecase.AlertService{Repo: &memAlerts{}},
		Audit:      audit,
		Reports:    usecase.ReportService{Dir: cfg.ReportsDir},
		Started:    time.Now(),
	}
	for _, m := range mutate {
		m(f.srv)
	}
	auth := httpserver.NewAuthenticator(adminKey+":admin,"+engineerKey+":engineer,"+userKey, jwtSecret)
	f.handler = app.BuildRouter(f.srv.Cfg, f.srv, auth, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
