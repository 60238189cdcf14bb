package usecase

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/pkg/textx"
)

// Retrieval sizing.
const (
	RagChunkSize    = 1000
	RagDefaultTopK  = 5
	RagMaxTopK      = 20
	ragDefaultTitle = "doc"
)

// RagIndexInput names the source of an indexed document: raw text or stored files.
type RagIndexInput struct {
	Title   string   `json:"title"`
	Text    string   `json:"text"`
	FileIDs []string `json:"file_ids"`
}

// RagService indexes documents into the vector store and answers similarity queries.
type RagService struct {
	Files    domain.FileRepository
	Embedder domain.Embedder
	Vectors  domain.VectorStore
	NewID    func() string
}

// Index chunks, embeds and stores a document. It returns the document id and chunk count.
func (s RagService) Index(ctx domain.Context, in RagIndexInput) (string, int, error) {
	ctx, span := otel.Tracer("usecase.rag").Start(ctx, "RagService.Index")
	defer span.End()

	source, err := s.sourceText(ctx, in)
	if err != nil {
		return "", 0, err
	}
	if s.Embedder == nil || s.Vectors == nil {
		return "", 0, fmt.Errorf("%w: retrieval is not configured", domain.ErrNotConfigured)
	}
	texts := textx.Chunk(source, RagChunkSize)
	span.SetAttributes(attribute.Int("rag.chunks", len(texts)))
	docID := uuid.NewString()
	if s.NewID != nil {
		docID = s.NewID()
	}
	if len(texts) == 0 {
		return docID, 0, nil
	}
	vecs, err := s.Embedder.Embed(ctx, texts)
	if err != nil {
		return "", 0, fmt.Errorf("op=rag.embed: %w", err)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = ragDefaultTitle
	}
	chunks := make([]domain.RagChunk, len(texts))
	for i, t := range texts {
		chunks[i] = domain.RagChunk{
			ID:         fmt.Sprintf("%s-%d", docID, i),
			DocumentID: docID,
			Title:      title,
			Index:      i,
			Text:       t,
			Embedding:  vecs[i],
		}
	}
	if err := s.Vectors.Upsert(ctx, chunks); err != nil {
		return "", 0, fmt.Errorf("op=rag.upsert: %w", err)
	}
	return docID, len(chunks), nil
}

// sourceText prefers file ids over raw text; missing files and files without
// text contribute nothing.
func (s RagService) sourceText(ctx domain.Context, in RagIndexInput) (string, error) {
	if len(in.FileIDs) > 0 {
		if s.Files == nil {
			return "", fmt.Errorf("%w: file storage is not configured", domain.ErrNotConfigured)
		}
		var sb strings.Builder
		for _, id := range in.FileIDs {
			f, err := s.Files.Get(ctx, id)
			if err != nil || f.Text == "" {
				continue
			}
			sb.WriteString("\n\n")
			sb.WriteString(f.Text)
		}
		return sb.String(), nil
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", fmt.Errorf("%w: text_or_file_ids_required", domain.ErrInvalidArgument)
	}
	return in.Text, nil
}

// ClampTopK bounds k to [1, RagMaxTopK]; zero selects RagDefaultTopK.
func ClampTopK(k int) int {
	if k == 0 {
		k = RagDefaultTopK
	}
	return min(RagMaxTopK, max(1, k))
}

// Query returns the best matching chunks for query, best first.
func (s RagService) Query(ctx domain.Context, query string, topK int) ([]domain.RagMatch, error) {
	ctx, span := otel.Tracer("usecase.rag").Start(ctx, "RagService.Query")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query_required", domain.ErrInvalidArgument)
	}
	if s.Embedder == nil || s.Vectors == nil {
		return nil, fmt.Errorf("%w: retrieval is not configured", domain.ErrNotConfigured)
	}
	vecs, err := s.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("op=rag.embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("op=rag.embed: %w: empty embedding", domain.ErrProvider)
	}
	matches, err := s.Vectors.Search(ctx, vecs[0], ClampTopK(topK))
	if err != nil {
		return nil, fmt.Errorf("op=rag.search: %w", err)
	}
	if matches == nil {
		matches = []domain.RagMatch{}
	}
	return matches, nil
}
