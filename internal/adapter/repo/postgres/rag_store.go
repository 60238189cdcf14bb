package postgres

import (
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/pkg/vecx"
)

// RagStore keeps chunk embeddings in a REAL[] column and ranks them by cosine
// similarity in process. It implements domain.VectorStore.
type RagStore struct{ Pool PgxPool }

// NewRagStore constructs a RagStore with the given pool.
func NewRagStore(p PgxPool) *RagStore { return &RagStore{Pool: p} }

// Upsert writes all chunks in one transaction.
func (s *RagStore) Upsert(ctx domain.Context, chunks []domain.RagChunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "rag_chunks", "Upsert", "UPSERT")
	defer span.End()
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=rag.upsert: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	q := `INSERT INTO rag_chunks (id, doc_id, title, idx, text, embedding) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET doc_id = EXCLUDED.doc_id, title = EXCLUDED.title, idx = EXCLUDED.idx, text = EXCLUDED.text, embedding = EXCLUDED.embedding`
	for _, ch := range chunks {
		if _, err = tx.Exec(ctx, q, ch.ID, ch.DocumentID, ch.Title, ch.Index, ch.Text, ch.Embedding); err != nil {
			return fmt.Errorf("op=rag.upsert: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=rag.upsert: commit: %w", err)
	}
	return nil
}

// Search scores every stored chunk against embedding and returns the topK best.
func (s *RagStore) Search(ctx domain.Context, embedding []float32, topK int) ([]domain.RagMatch, error) {
	ctx, span := startSpan(ctx, "rag_chunks", "Search", "SELECT")
	defer span.End()
	rows, err := s.Pool.Query(ctx, `SELECT doc_id, title, text, embedding FROM rag_chunks`)
	if err != nil {
		return nil, fmt.Errorf("op=rag.search: %w", err)
	}
	defer rows.Close()
	out := []domain.RagMatch{}
	for rows.Next() {
		var (
			m   domain.RagMatch
			emb []float32
		)
		if err := rows.Scan(&m.DocumentID, &m.Title, &m.Text, &emb); err != nil {
			return nil, fmt.Errorf("op=rag.search: %w", err)
		}
		m.Score = vecx.Cosine(embedding, emb)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=rag.search: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
