// Package qdrant stores retrieval chunks in a Qdrant collection over its HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/observability"
)

// Client is a minimal Qdrant HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	ext        *observability.ExternalClient
}

// New constructs a Qdrant client with baseURL and optional apiKey.
func New(baseURL, apiKey string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		ext:        observability.NewExternalClient(observability.ConnectionTypeVectorDB, baseURL, 10*time.Second),
	}
}

// Point is one stored vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// EnsureCollection creates the collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error {
	return c.ext.Execute(ctx, observability.OperationTypeQuery, func(ctx context.Context) error {
		status, _, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
		if err != nil {
			return err
		}
		if status == http.StatusOK {
			return nil
		}
		payload := map[string]any{"vectors": map[string]any{"size": vectorSize, "distance": distance}}
		status, _, err = c.do(ctx, http.MethodPut, "/collections/"+name, payload)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("qdrant ensure create status %d", status)
		}
		return nil
	})
}

// UpsertPoints inserts or replaces points and waits for the write to apply.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	return c.ext.Execute(ctx, observability.OperationTypeUpsert, func(ctx context.Context) error {
		status, _, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", map[string]any{"points": points})
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("qdrant upsert status %d", status)
		}
		return nil
	})
}

// Search returns the topK nearest points with payloads.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error) {
	var out struct {
		Result []ScoredPoint `json:"result"`
	}
	err := c.ext.Execute(ctx, observability.OperationTypeSearch, func(ctx context.Context) error {
		body := map[string]any{"vector": vector, "limit": topK, "with_payload": true}
		status, b, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("qdrant search status %d", status)
		}
		return json.Unmarshal(b, &out)
	})
	return out.Result, err
}

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/readyz", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant readyz status %d", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

// Store adapts a collection to domain.VectorStore. The collection is created
// with cosine distance on first use.
type Store struct {
	client     *Client
	collection string
	dims       int

	mu    sync.Mutex
	ready bool
}

// NewStore constructs a Store over collection with vectors of dims dimensions.
func NewStore(c *Client, collection string, dims int) *Store {
	return &Store{client: c, collection: collection, dims: dims}
}

// ensure creates the collection once; a failed attempt is retried on the next call.
func (s *Store) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.client.EnsureCollection(ctx, s.collection, s.dims, "Cosine"); err != nil {
		return err
	}
	s.ready = true
	return nil
}

// PointID maps a chunk id to the UUID Qdrant requires, stably.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("zero-rag:"+chunkID)).String()
}

// Upsert stores chunks.
func (s *Store) Upsert(ctx domain.Context, chunks []domain.RagChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensure(ctx); err != nil {
		return fmt.Errorf("op=qdrant.ensure: %w", err)
	}
	points := make([]Point, len(chunks))
	for i, ch := range chunks {
		points[i] = Point{
			ID:     PointID(ch.ID),
			Vector: ch.Embedding,
			Payload: map[string]any{
				"chunk_id": ch.ID,
				"doc_id":   ch.DocumentID,
				"title":    ch.Title,
				"index":    ch.Index,
				"text":     ch.Text,
			},
		}
	}
	if err := s.client.UpsertPoints(ctx, s.collection, points); err != nil {
		return fmt.Errorf("op=qdrant.upsert: %w", err)
	}
	return nil
}

// Search returns the best matches, best first.
func (s *Store) Search(ctx domain.Context, embedding []float32, topK int) ([]domain.RagMatch, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, fmt.Errorf("op=qdrant.ensure: %w", err)
	}
	hits, err := s.client.Search(ctx, s.collection, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("op=qdrant.search: %w", err)
	}
	out := make([]domain.RagMatch, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.RagMatch{
			DocumentID: payloadString(h.Payload, "doc_id"),
			Title:      payloadString(h.Payload, "title"),
			Text:       payloadString(h.Payload, "text"),
			Score:      h.Score,
		})
	}
	return out, nil
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}
