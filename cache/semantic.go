package cache

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"
)

// Semantic cache defaults.
const (
	DefaultSemanticMaxSize   = 200
	DefaultSemanticTTL       = 30 * time.Minute
	DefaultSemanticThreshold = 0.82
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticEntry is what the semantic cache stores per key.
type SemanticEntry[V any] struct {
	Question  string
	Embedding []float32
	Value     V
}

// Semantic answers lookups by embedding similarity. Entries live in a Bounded
// cache; keys is the side list scanned on search and pruned lazily.
type Semantic[V any] struct {
	store     *Bounded[SemanticEntry[V]]
	embedder  Embedder
	threshold float64

	mu   sync.Mutex
	keys []string
}

// SemanticOptions configures a Semantic cache.
type SemanticOptions struct {
	MaxSize   int
	TTL       time.Duration
	Threshold float64
	Clock     func() time.Time
}

// NewSemantic creates a semantic cache. embedder may be nil, in which case
// Embed always fails and callers treat the cache as a permanent miss.
func NewSemantic[V any](embedder Embedder, optFns ...func(o *SemanticOptions)) *Semantic[V] {
	opts := SemanticOptions{
		MaxSize:   DefaultSemanticMaxSize,
		TTL:       DefaultSemanticTTL,
		Threshold: DefaultSemanticThreshold,
		Clock:     time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Semantic[V]{
		store: NewBounded[SemanticEntry[V]](opts.MaxSize, opts.TTL, func(o *Options) {
			o.Clock = opts.Clock
		}),
		embedder:  embedder,
		threshold: opts.Threshold,
	}
}

// ErrNoEmbedder is returned by Embed when the cache was built without one.
var ErrNoEmbedder = errors.New("semantic cache has no embedder")

// Embed delegates to the embedding collaborator.
func (s *Semantic[V]) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return s.embedder.Embed(ctx, text)
}

// Search returns the best entry whose similarity to query is at least the
// threshold. When nothing qualifies it returns false together with the best
// score seen. Keys whose entries have expired are dropped from the side list.
func (s *Semantic[V]) Search(query []float32) (V, float64, bool) {
	return s.SearchMatching(query, nil)
}

// SearchMatching is Search restricted to entries accepted by match. Rejected
// entries are neither scored nor counted; a nil match accepts everything.
func (s *Semantic[V]) SearchMatching(query []float32, match func(V) bool) (V, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		zero      V
		best      = math.Inf(-1)
		bestValue V
		found     bool
	)
	live := s.keys[:0]
	for _, key := range s.keys {
		e, ok := s.store.Peek(key)
		if !ok {
			continue
		}
		live = append(live, key)
		if match != nil && !match(e.Value) {
			continue
		}

		score, err := CosineSimilarity(query, e.Embedding)
		if err != nil {
			continue
		}
		if score > best {
			best = score
			bestValue = e.Value
			found = true
		}
	}
	clear(s.keys[len(live):])
	s.keys = live

	if !found {
		s.store.recordMiss()
		return zero, 0, false
	}
	if best >= s.threshold {
		s.store.recordHit()
		return bestValue, best, true
	}
	s.store.recordMiss()
	return zero, best, false
}

// Store inserts or overwrites key and tracks it for future searches.
func (s *Semantic[V]) Store(key, question string, embedding []float32, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Set(key, SemanticEntry[V]{Question: question, Embedding: embedding, Value: value})
	if !slices.Contains(s.keys, key) {
		s.keys = append(s.keys, key)
	}
}

// Clear empties the cache and the tracked key list.
func (s *Semantic[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
	s.keys = nil
}

// Stats returns the underlying cache counters plus the similarity threshold.
func (s *Semantic[V]) Stats() Stats {
	st := s.store.Stats()
	st.Threshold = s.threshold
	return st
}

// Threshold returns the minimum similarity for a hit.
func (s *Semantic[V]) Threshold() float64 { return s.threshold }
