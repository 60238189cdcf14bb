package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroatsteel/zero-agent/internal/adapter/repo/postgres"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, m.ExpectationsWereMet())
		m.Close()
	})
	return m
}

var at = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestSessionRepo_Append(t *testing.T) {
	tests := []struct {
		name      string
		rec       domain.SessionRecord
		wantTitle string
		wantMode  string
		wantJSON  string
		err       error
	}{
		{
			name:      "title from first user turn",
			rec:       domain.SessionRecord{ID: "s1", Mode: domain.ModeSteel, CreatedAt: at, Messages: []domain.Message{domain.TextMessage("user", "hello")}},
			wantTitle: "hello",
			wantMode:  domain.ModeSteel,
			wantJSON:  `[{"role":"user","content":[{"type":"text","text":"hello"}]}]`,
		},
		{
			name:     "empty transcript defaults mode",
			rec:      domain.SessionRecord{ID: "s2", CreatedAt: at},
			wantMode: domain.ModeGeneral,
			wantJSON: `[]`,
		},
		{
			name:     "database error",
			rec:      domain.SessionRecord{ID: "s3", CreatedAt: at},
			wantMode: domain.ModeGeneral,
			wantJSON: `[]`,
			err:      assert.AnError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock(t)
			e := m.ExpectExec("INSERT INTO sessions").
				WithArgs(tt.rec.ID, tt.wantTitle, tt.wantMode, tt.wantJSON, at)
			if tt.err != nil {
				e.WillReturnError(tt.err)
			} else {
				e.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}
			err := postgres.NewSessionRepo(m).Append(context.Background(), tt.rec)
			if tt.err != nil {
				assert.ErrorContains(t, err, "op=session.append")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSessionRepo_Get(t *testing.T) {
	m := newMock(t)
	m.ExpectQuery("SELECT id, mode, messages, created_at FROM sessions").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "mode", "messages", "created_at"}).
			AddRow("s1", "steel", []byte(`[{"role":"user","content":"hi"}]`), at))
	m.ExpectQuery("SELECT id, mode, messages, created_at FROM sessions").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	repo := postgres.NewSessionRepo(m)
	rec, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "steel", rec.Mode)
	require.Len(t, rec.Messages, 1)
	assert.Equal(t, "hi", rec.Messages[0].Text())
	assert.Equal(t, at, rec.CreatedAt)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepo_List(t *testing.T) {
	m := newMock(t)
	m.ExpectQuery("SELECT id, created_at, title, mode FROM sessions").
		WithArgs("cbam", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "title", "mode"}).
			AddRow("b", at, "CBAM costs", "steel").
			AddRow("a", at.Add(-time.Hour), "cbam basics", "general"))
	m.ExpectQuery("SELECT id, created_at, title, mode FROM sessions").
		WithArgs("", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "title", "mode"}))
	m.ExpectQuery("SELECT id, created_at, title, mode FROM sessions").
		WithArgs("", 5).
		WillReturnError(assert.AnError)

	repo := postgres.NewSessionRepo(m)
	out, err := repo.List(context.Background(), 10, "cbam")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "CBAM costs", out[0].Title)

	out, err = repo.List(context.Background(), 50, "")
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	_, err = repo.List(context.Background(), 5, "")
	assert.ErrorContains(t, err, "op=session.list")
}

func TestFileRepo(t *testing.T) {
	m := newMock(t)
	repo := postgres.NewFileRepo(m)
	ctx := context.Background()

	m.ExpectExec("INSERT INTO files").
		WithArgs("f1", "notes.txt", "text", "", int64(5), "alpha", "", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := repo.Create(ctx, domain.FileRecord{ID: "f1", Name: "notes.txt", Type: "text", Size: 5, Text: "alpha", CreatedAt: at})
	require.NoError(t, err)
	assert.Equal(t, "f1", id)

	m.ExpectExec("INSERT INTO files").
		WithArgs(pgxmock.AnyArg(), "a.png", "image", "image/png", int64(3), "", "AAAA", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err = repo.Create(ctx, domain.FileRecord{Name: "a.png", Type: "image", MIME: "image/png", Size: 3, Data: "AAAA"})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	m.ExpectExec("INSERT INTO files").WillReturnError(assert.AnError)
	_, err = repo.Create(ctx, domain.FileRecord{ID: "x", CreatedAt: at})
	assert.ErrorContains(t, err, "op=file.create")

	m.ExpectQuery("SELECT id, name, type, mime, size, text, data, created_at FROM files").
		WithArgs("f1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "type", "mime", "size", "text", "data", "created_at"}).
			AddRow("f1", "notes.txt", "text", "", int64(5), "alpha", "", at))
	f, err := repo.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", f.Text)

	m.ExpectQuery("SELECT id, name, type").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m.ExpectQuery("SELECT id, name, type, mime, size, created_at FROM files").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "type", "mime", "size", "created_at"}).
			AddRow("f2", "b.bin", "binary", "application/zip", int64(9), at).
			AddRow("f1", "notes.txt", "text", "", int64(5), at.Add(-time.Minute)))
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "f2", list[0].ID)
	assert.Empty(t, list[1].Text)
}

func TestAlertRuleRepo(t *testing.T) {
	m := newMock(t)
	repo := postgres.NewAlertRuleRepo(m)
	ctx := context.Background()

	m.ExpectExec("INSERT INTO alert_rules").
		WithArgs("r1", "High CO2", "co2 > 2", true, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := repo.Upsert(ctx, domain.AlertRule{ID: "r1", Name: "High CO2", Rule: "co2 > 2", Enabled: true, UpdatedAt: at})
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	m.ExpectExec("INSERT INTO alert_rules").
		WithArgs(pgxmock.AnyArg(), "n", "r", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err = repo.Upsert(ctx, domain.AlertRule{Name: "n", Rule: "r"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	m.ExpectQuery("SELECT id, name, rule, enabled, updated_at FROM alert_rules").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "rule", "enabled", "updated_at"}).
			AddRow("r1", "High CO2", "co2 > 2", true, at))
	rules, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Enabled)

	m.ExpectExec("DELETE FROM alert_rules").WithArgs("r1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.Delete(ctx, "r1"))

	m.ExpectExec("DELETE FROM alert_rules").WithArgs("r2").WillReturnError(assert.AnError)
	assert.ErrorContains(t, repo.Delete(ctx, "r2"), "op=alert_rule.delete")
}

func TestRagStore_Upsert(t *testing.T) {
	m := newMock(t)
	store := postgres.NewRagStore(m)
	chunks := []domain.RagChunk{
		{ID: "d-0", DocumentID: "d", Title: "Guide", Index: 0, Text: "one", Embedding: []float32{1, 0}},
		{ID: "d-1", DocumentID: "d", Title: "Guide", Index: 1, Text: "two", Embedding: []float32{0, 1}},
	}

	m.ExpectBegin()
	m.ExpectExec("INSERT INTO rag_chunks").WithArgs("d-0", "d", "Guide", 0, "one", []float32{1, 0}).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO rag_chunks").WithArgs("d-1", "d", "Guide", 1, "two", []float32{0, 1}).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectCommit()
	require.NoError(t, store.Upsert(context.Background(), chunks))

	m.ExpectBegin()
	m.ExpectExec("INSERT INTO rag_chunks").WillReturnError(assert.AnError)
	m.ExpectRollback()
	assert.ErrorContains(t, store.Upsert(context.Background(), chunks), "op=rag.upsert")

	require.NoError(t, store.Upsert(context.Background(), nil))
}

func TestRagStore_SearchRanksByCosine(t *testing.T) {
	m := newMock(t)
	m.ExpectQuery("SELECT doc_id, title, text, embedding FROM rag_chunks").
		WillReturnRows(pgxmock.NewRows([]string{"doc_id", "title", "text", "embedding"}).
			AddRow("d1", "A", "orthogonal", []float32{0, 1}).
			AddRow("d2", "B", "same", []float32{2, 0}).
			AddRow("d3", "C", "close", []float32{1, 1}))

	out, err := postgres.NewRagStore(m).Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "same", out[0].Text)
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
	assert.Equal(t, "close", out[1].Text)
}

func TestCleanupService_CleanupOldData(t *testing.T) {
	m := newMock(t)
	svc := postgres.NewCleanupService(m, 24*time.Hour)
	svc.Now = func() time.Time { return at }
	cutoff := at.Add(-24 * time.Hour)

	m.ExpectBegin()
	m.ExpectExec("DELETE FROM sessions").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	m.ExpectExec("DELETE FROM files").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	m.ExpectCommit()
	m.ExpectRollback()

	sessions, files, err := svc.CleanupOldData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), sessions)
	assert.Equal(t, int64(2), files)
}

func TestCleanupService_Errors(t *testing.T) {
	m := newMock(t)
	svc := postgres.NewCleanupService(m, 0)
	assert.Equal(t, 30*24*time.Hour, svc.Retention)

	m.ExpectBegin().WillReturnError(assert.AnError)
	_, _, err := svc.CleanupOldData(context.Background())
	assert.ErrorContains(t, err, "cleanup begin tx")

	m.ExpectBegin()
	m.ExpectExec("DELETE FROM sessions").WillReturnError(assert.AnError)
	m.ExpectRollback()
	_, _, err = svc.CleanupOldData(context.Background())
	assert.ErrorContains(t, err, "cleanup sessions")
}

func TestCleanupService_RunPeriodicStopsOnCancel(t *testing.T) {
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	m.ExpectBegin().WillReturnError(assert.AnError)
	svc := postgres.NewCleanupService(m, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunPeriodic(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not return after cancel")
	}
}
