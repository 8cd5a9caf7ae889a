package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/querydeck/querydeck/internal/domain"
)

const defaultMemoSize = 1000

// Memo wraps an Embedder with a bounded LRU keyed by the raw query text.
// Texts are normalized (lower-cased, trimmed) before embedding. Failures are
// not memoized.
type Memo struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewMemo wraps next with an LRU of the given size.
func NewMemo(next Embedder, size int) (*Memo, error) {
	if size <= 0 {
		size = defaultMemoSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding memo: %w", err)
	}
	return &Memo{next: next, cache: c}, nil
}

// EmbedSingle returns the memoized embedding for text, computing it on miss.
func (m *Memo) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if v, ok := m.cache.Get(text); ok {
		return v, nil
	}
	v, err := m.next.EmbedSingle(ctx, domain.NormalizeQuery(text))
	if err != nil {
		return nil, err
	}
	m.cache.Add(text, v)
	return v, nil
}

// Embed embeds texts, only sending the ones not yet memoized.
func (m *Memo) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var slots []int
	for i, text := range texts {
		if v, ok := m.cache.Get(text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, domain.NormalizeQuery(text))
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := m.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(missing))
	}
	for j, i := range slots {
		out[i] = vecs[j]
		m.cache.Add(texts[i], vecs[j])
	}
	return out, nil
}

// Len returns the number of memoized embeddings.
func (m *Memo) Len() int {
	return m.cache.Len()
}

// Model returns the wrapped model name.
func (m *Memo) Model() string {
	return m.next.Model()
}

// Dimension returns the wrapped embedding dimension.
func (m *Memo) Dimension() int {
	return m.next.Dimension()
}
