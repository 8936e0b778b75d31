// Package rag implements hybrid retrieval: a lexical leg and a vector leg
// fused by reciprocal rank, optionally reranked before synthesis.
package rag

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/storage"
)

// rrfK is the reciprocal-rank-fusion smoothing constant.
const rrfK = 60

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type LexicalSearcher interface {
	Search(ctx context.Context, query string, topK int, scope core.Scope) ([]core.Hit, error)
	// ExistingChunks reports which of the given chunk ids currently have rows.
	ExistingChunks(ctx context.Context, chunkIDs []string) (map[string]bool, error)
}

// Retriever runs both search legs and fuses their rankings. Both legs see
// the same scope; a chunk absent from both legs never appears in the output.
type Retriever struct {
	embedder Embedder
	lexical  LexicalSearcher
	vector   storage.VectorStore
	locks    *storage.VideoLocks
	cfg      *config.Config
	log      *zap.Logger
}

func NewRetriever(embedder Embedder, lexical LexicalSearcher, vector storage.VectorStore,
	locks *storage.VideoLocks, cfg *config.Config, log *zap.Logger) *Retriever {
	return &Retriever{
		embedder: embedder,
		lexical:  lexical,
		vector:   vector,
		locks:    locks,
		cfg:      cfg,
		log:      log,
	}
}

// Retrieve returns at most initial_k fused candidates in fused order. An
// empty corpus or a query matching nothing yields an empty slice, not an
// error. Video-scoped queries hold the videos' read locks across both legs;
// all queries additionally confirm every hit against the lexical chunk
// table, which re-ingestion swaps transactionally, so a concurrent swap
// cannot interleave old and new chunks. Transient embedding and store
// failures retry with exponential backoff up to the configured budget.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope core.Scope) ([]core.RetrievalCandidate, error) {
	if len(scope.VideoIDs) > 0 {
		unlock := r.locks.RLockAll(scope.VideoIDs)
		defer unlock()
	}

	var lexHits []core.Hit
	err := r.retry(ctx, "lexical search", func() error {
		var searchErr error
		lexHits, searchErr = r.lexical.Search(ctx, query, r.cfg.LexicalK, scope)
		return searchErr
	})
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	err = r.retry(ctx, "embed query", func() error {
		var embedErr error
		vectors, embedErr = r.embedder.Embed(ctx, []string{query})
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	var vecHits []core.Hit
	err = r.retry(ctx, "vector search", func() error {
		var searchErr error
		vecHits, searchErr = r.vector.Search(ctx, vectors[0], r.cfg.VectorK, scope)
		return searchErr
	})
	if err != nil {
		return nil, err
	}

	lexHits, vecHits, err = r.confirmChunks(ctx, lexHits, vecHits)
	if err != nil {
		return nil, err
	}

	fused := fuse(lexHits, vecHits)
	if len(fused) > r.cfg.InitialK {
		fused = fused[:r.cfg.InitialK]
	}
	r.log.Debug("retrieval complete",
		zap.Int("lexical", len(lexHits)),
		zap.Int("vector", len(vecHits)),
		zap.Int("fused", len(fused)))
	return fused, nil
}

// confirmChunks keeps only hits whose chunk rows exist in the lexical store
// right now. The lexical swap during re-ingestion is transactional, so one
// membership snapshot taken after both legs pins the result to a single side
// of the swap: vector points upserted before the swap commits are dropped,
// and stale points lingering after it are dropped too. Chunk ids are content
// hashes, so unchanged chunks pass through either way.
func (r *Retriever) confirmChunks(ctx context.Context, lexHits, vecHits []core.Hit) ([]core.Hit, []core.Hit, error) {
	ids := make([]string, 0, len(lexHits)+len(vecHits))
	for _, h := range lexHits {
		ids = append(ids, h.ChunkID)
	}
	for _, h := range vecHits {
		ids = append(ids, h.ChunkID)
	}
	if len(ids) == 0 {
		return lexHits, vecHits, nil
	}
	present, err := r.lexical.ExistingChunks(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return keepPresent(lexHits, present), keepPresent(vecHits, present), nil
}

func keepPresent(hits []core.Hit, present map[string]bool) []core.Hit {
	out := make([]core.Hit, 0, len(hits))
	for _, h := range hits {
		if present[h.ChunkID] {
			out = append(out, h)
		}
	}
	return out
}

// retry runs op with exponential backoff while the failure class is
// transient. Non-retryable errors, including configuration mismatches, stop
// immediately.
func (r *Retriever) retry(ctx context.Context, name string, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
	), uint64(r.cfg.MaxRetries))

	attempt := 0
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		if !core.Retryable(err) {
			return backoff.Permanent(err)
		}
		attempt++
		r.log.Warn("transient failure, retrying",
			zap.String("op", name), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(bo, ctx))
}

// fuse merges the two ranked lists with reciprocal rank fusion: each list
// contributes 1/(k+rank) with 1-based ranks. A chunk ranked first in both
// lists always outranks any chunk in only one list. Ties break by chunk
// sequence index, then chunk id, so fusion is deterministic.
func fuse(lexHits, vecHits []core.Hit) []core.RetrievalCandidate {
	byID := map[string]*core.RetrievalCandidate{}

	add := func(h core.Hit) *core.RetrievalCandidate {
		if c, ok := byID[h.ChunkID]; ok {
			return c
		}
		c := &core.RetrievalCandidate{Hit: h}
		c.Score = 0
		byID[h.ChunkID] = c
		return c
	}

	for rank, h := range lexHits {
		c := add(h)
		c.LexicalScore = h.Score
		c.FusedScore += 1.0 / float64(rrfK+rank+1)
	}
	for rank, h := range vecHits {
		c := add(h)
		c.VectorScore = h.Score
		c.FusedScore += 1.0 / float64(rrfK+rank+1)
	}

	out := lo.Map(lo.Values(byID), func(c *core.RetrievalCandidate, _ int) core.RetrievalCandidate {
		return *c
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}
