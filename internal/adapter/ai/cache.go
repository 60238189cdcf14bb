package ai

import (
	"container/list"
	"crypto/sha256"
	"strings"
	"sync"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// vectorKey identifies a text by the digest of its trimmed form, so RAG chunks
// and queries that differ only in surrounding whitespace share one vector.
type vectorKey [sha256.Size]byte

func vectorKeyOf(text string) vectorKey {
	return sha256.Sum256([]byte(strings.TrimSpace(text)))
}

type cachedVector struct {
	key vectorKey
	vec []float32
}

// vectorLRU sits in front of the validator's embedding endpoint. Ingest and
// retrieval both embed through it, so re-uploading a file or repeating a
// question does not pay for the same vectors twice.
type vectorLRU struct {
	next domain.Embedder
	size int

	mu    sync.Mutex
	items map[vectorKey]*list.Element
	order *list.List // front is most recently used
}

// NewEmbedCache returns an Embedder that remembers up to size vectors, dropping
// the least recently used. size <= 0 or a nil next disables caching.
func NewEmbedCache(next domain.Embedder, size int) domain.Embedder {
	if size <= 0 || next == nil {
		return next
	}
	return &vectorLRU{next: next, size: size, items: make(map[vectorKey]*list.Element), order: list.New()}
}

// Embed answers hits from memory and sends each distinct missing text upstream
// once, in a single batch. Failed batches are not remembered.
func (c *vectorLRU) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[vectorKey][]int)
	var ask []string
	var askKeys []vectorKey

	c.mu.Lock()
	for i, t := range texts {
		k := vectorKeyOf(t)
		if el, ok := c.items[k]; ok {
			c.order.MoveToFront(el)
			out[i] = el.Value.(*cachedVector).vec
			continue
		}
		if _, seen := pending[k]; !seen {
			ask = append(ask, t)
			askKeys = append(askKeys, k)
		}
		pending[k] = append(pending[k], i)
	}
	c.mu.Unlock()

	if len(ask) == 0 {
		return out, nil
	}
	vecs, err := c.next.Embed(ctx, ask)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, k := range askKeys {
		if j >= len(vecs) {
			break
		}
		for _, i := range pending[k] {
			out[i] = vecs[j]
		}
		c.remember(k, vecs[j])
	}
	return out, nil
}

// remember must be called with mu held.
func (c *vectorLRU) remember(k vectorKey, vec []float32) {
	if el, ok := c.items[k]; ok {
		el.Value.(*cachedVector).vec = vec
		c.order.MoveToFront(el)
		return
	}
	c.items[k] = c.order.PushFront(&cachedVector{key: k, vec: vec})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cachedVector).key)
	}
}
