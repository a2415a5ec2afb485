package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEmbedder map[string][]float32

func (e staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := e[text]
	if !ok {
		return nil, errors.New("no embedding")
	}
	return v, nil
}

func TestCosineSimilarity(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSemantic_ThresholdAndBest(t *testing.T) {
	s := NewSemantic[string](nil, func(o *SemanticOptions) { o.Threshold = 0.9 })

	s.Store("exact", "ventas 2024", []float32{1, 0, 0}, "A")
	s.Store("close", "ventas del 2024", []float32{0.95, 0.3, 0}, "B")
	s.Store("far", "clientes", []float32{0, 1, 0}, "C")

	v, score, ok := s.Search([]float32{1, 0, 0})
	require.True(t, ok)
	assert.Equal(t, "A", v)
	assert.InDelta(t, 1.0, score, 1e-6)

	_, score, ok = s.Search([]float32{0.6, 0.6, 0.5})
	assert.False(t, ok)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 0.9)
}

func TestSemantic_SearchMatching(t *testing.T) {
	s := NewSemantic[string](nil, func(o *SemanticOptions) { o.Threshold = 0.9 })
	s.Store("ranking", "saldo por banco", []float32{1, 0, 0}, "ranking")
	s.Store("share", "participacion por banco", []float32{0.96, 0.28, 0}, "concentracion")

	v, _, ok := s.SearchMatching([]float32{1, 0, 0}, func(v string) bool { return v == "concentracion" })
	require.True(t, ok)
	assert.Equal(t, "concentracion", v)

	_, score, ok := s.SearchMatching([]float32{1, 0, 0}, func(v string) bool { return v == "tendencia" })
	assert.False(t, ok)
	assert.Zero(t, score)

	st := s.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestSemantic_PrunesExpiredKeys(t *testing.T) {
	clock := newFakeClock()
	s := NewSemantic[int](nil, func(o *SemanticOptions) {
		o.TTL = time.Minute
		o.Clock = clock.Now
	})

	s.Store("a", "a", []float32{1, 0}, 1)
	clock.Advance(30 * time.Second)
	s.Store("b", "b", []float32{0, 1}, 2)
	clock.Advance(45 * time.Second)

	_, _, ok := s.Search([]float32{1, 0})
	assert.False(t, ok, "expired entry must not match")
	assert.Equal(t, []string{"b"}, s.keys)

	v, _, ok := s.Search([]float32{0, 1})
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSemantic_StoreTracksKeyOnce(t *testing.T) {
	s := NewSemantic[int](nil)
	s.Store("a", "a", []float32{1}, 1)
	s.Store("a", "a", []float32{1}, 2)
	assert.Len(t, s.keys, 1)

	v, _, ok := s.Search([]float32{1})
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSemantic_EmbedAndStats(t *testing.T) {
	s := NewSemantic[int](staticEmbedder{"hola": {1, 2}})

	v, err := s.Embed(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)

	_, err = s.Embed(context.Background(), "otro")
	assert.Error(t, err)

	_, err = NewSemantic[int](nil).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoEmbedder)

	s.Store("k", "hola", []float32{1, 2}, 7)
	_, _, _ = s.Search([]float32{1, 2})
	_, _, _ = s.Search([]float32{-1, -2})
	st := s.Stats()
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, DefaultSemanticThreshold, st.Threshold)

	s.Clear()
	assert.Empty(t, s.keys)
	assert.Equal(t, 0, s.Stats().Size)
}
