package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
)

// Scorer assigns one relevance score per candidate, in input order.
// Implementations must be deterministic: identical inputs produce identical
// scores so repeated queries rank the same way.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []core.RetrievalCandidate) ([]float64, error)
}

// Reranker reorders fused candidates by cross-encoder relevance and keeps
// the top final_k. Disabled, it passes the fused order through; a scorer
// failure degrades to the fused order rather than failing the query.
type Reranker struct {
	scorer Scorer
	cfg    *config.Config
	log    *zap.Logger
}

func NewReranker(scorer Scorer, cfg *config.Config, log *zap.Logger) *Reranker {
	return &Reranker{scorer: scorer, cfg: cfg, log: log}
}

func (r *Reranker) Rerank(ctx context.Context, query string, candidates []core.RetrievalCandidate) []core.RetrievalCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	out := make([]core.RetrievalCandidate, len(candidates))
	copy(out, candidates)

	if r.cfg.RerankEnabled && r.scorer != nil {
		scores, err := r.scorer.Score(ctx, query, out)
		if err != nil || len(scores) != len(out) {
			r.log.Warn("rerank scoring failed, keeping fused order", zap.Error(err))
		} else {
			for i := range out {
				out[i].RerankScore = scores[i]
				out[i].Reranked = true
			}
			sort.SliceStable(out, func(i, j int) bool {
				if out[i].RerankScore != out[j].RerankScore {
					return out[i].RerankScore > out[j].RerankScore
				}
				if out[i].Index != out[j].Index {
					return out[i].Index < out[j].Index
				}
				return out[i].ChunkID < out[j].ChunkID
			})
		}
	}

	if len(out) > r.cfg.FinalK {
		out = out[:r.cfg.FinalK]
	}
	return out
}

// JSONCompleter is the temperature-0 structured completion used for scoring.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, system, prompt string) (string, error)
}

// LLMScorer grades each candidate passage against the query on a 0-10
// scale in one structured completion.
type LLMScorer struct {
	llm JSONCompleter
}

func NewLLMScorer(llm JSONCompleter) *LLMScorer {
	return &LLMScorer{llm: llm}
}

const rerankSystem = `You grade how relevant each passage is to a question on a scale from 0 to 10.
Respond with a JSON array of numbers only, one per passage, in the same order. No other text.`

func (s *LLMScorer) Score(ctx context.Context, query string, candidates []core.RetrievalCandidate) ([]float64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "Passage %d:\n%s\n\n", i+1, c.Text)
	}
	fmt.Fprintf(&sb, "Return a JSON array of %d scores.", len(candidates))

	raw, err := s.llm.CompleteJSON(ctx, rerankSystem, sb.String())
	if err != nil {
		return nil, err
	}
	var scores []float64
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return nil, fmt.Errorf("parse rerank scores: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("rerank returned %d scores for %d passages", len(scores), len(candidates))
	}
	return scores, nil
}
