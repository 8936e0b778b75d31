package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
)

type stubScorer struct {
	scores []float64
	err    error
	calls  int
}

func (s *stubScorer) Score(ctx context.Context, query string, candidates []core.RetrievalCandidate) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func candidates(ids ...string) []core.RetrievalCandidate {
	out := make([]core.RetrievalCandidate, len(ids))
	for i, id := range ids {
		out[i] = core.RetrievalCandidate{Hit: core.Hit{ChunkID: id, Index: i}, FusedScore: float64(len(ids) - i)}
	}
	return out
}

func rerankConfig(enabled bool) *config.Config {
	return &config.Config{RerankEnabled: enabled, FinalK: 2}
}

func TestRerankReordersByScore(t *testing.T) {
	scorer := &stubScorer{scores: []float64{1, 9, 5}}
	r := NewReranker(scorer, rerankConfig(true), zap.NewNop())

	out := r.Rerank(context.Background(), "q", candidates("a", "b", "c"))
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "c", out[1].ChunkID)
	assert.Equal(t, 9.0, out[0].RerankScore)
}

func TestRerankDisabledPassesFusedOrder(t *testing.T) {
	scorer := &stubScorer{scores: []float64{1, 9, 5}}
	r := NewReranker(scorer, rerankConfig(false), zap.NewNop())

	out := r.Rerank(context.Background(), "q", candidates("a", "b", "c"))
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.Zero(t, scorer.calls)
}

func TestRerankScorerFailureFallsBackToFusedOrder(t *testing.T) {
	scorer := &stubScorer{err: errors.New("model unavailable")}
	r := NewReranker(scorer, rerankConfig(true), zap.NewNop())

	out := r.Rerank(context.Background(), "q", candidates("a", "b", "c"))
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
}

func TestRerankScoreCountMismatchFallsBack(t *testing.T) {
	scorer := &stubScorer{scores: []float64{1}}
	r := NewReranker(scorer, rerankConfig(true), zap.NewNop())

	out := r.Rerank(context.Background(), "q", candidates("a", "b", "c"))
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
}

func TestRerankDeterministicOnTies(t *testing.T) {
	scorer := &stubScorer{scores: []float64{5, 5, 5}}
	r := NewReranker(scorer, rerankConfig(true), zap.NewNop())

	first := r.Rerank(context.Background(), "q", candidates("a", "b", "c"))
	for i := 0; i < 5; i++ {
		again := r.Rerank(context.Background(), "q", candidates("a", "b", "c"))
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].ChunkID, again[j].ChunkID)
		}
	}
	// equal scores keep sequence order
	assert.Equal(t, "a", first[0].ChunkID)
}

func TestRerankEmptyInput(t *testing.T) {
	r := NewReranker(&stubScorer{}, rerankConfig(true), zap.NewNop())
	assert.Empty(t, r.Rerank(context.Background(), "q", nil))
}

type stubCompleter struct{ raw string }

func (s stubCompleter) CompleteJSON(ctx context.Context, system, prompt string) (string, error) {
	return s.raw, nil
}

func TestLLMScorerParsesScores(t *testing.T) {
	s := NewLLMScorer(stubCompleter{raw: "[7, 2.5, 0]"})
	scores, err := s.Score(context.Background(), "q", candidates("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 2.5, 0}, scores)
}

func TestLLMScorerRejectsWrongCount(t *testing.T) {
	s := NewLLMScorer(stubCompleter{raw: "[7]"})
	_, err := s.Score(context.Background(), "q", candidates("a", "b"))
	assert.Error(t, err)
}
