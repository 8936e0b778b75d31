package processors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/storage"
)

// Embedder turns chunk texts into vectors, one per input, all sharing the
// configured dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LexicalWriter is the slice of the lexical store the indexer needs.
type LexicalWriter interface {
	ReplaceChunks(ctx context.Context, video core.Video, chunks []core.Chunk) error
	VideoChunks(ctx context.Context, videoID string, limit int) ([]core.Hit, error)
	DeleteVideo(ctx context.Context, videoID string) error
}

// CachePurger invalidates derived artifacts when a video's chunks change.
type CachePurger interface {
	PurgeVideo(ctx context.Context, videoID string) error
}

// Indexer writes a video's chunk set into both stores. Re-ingestion holds the
// video's write lock for the whole swap, so readers observe the old set or
// the new set, never a mix. Chunk ids are content-derived, which makes
// re-ingesting identical content idempotent.
type Indexer struct {
	embedder Embedder
	vector   storage.VectorStore
	lexical  LexicalWriter
	locks    *storage.VideoLocks
	cache    CachePurger
	cfg      *config.Config
	log      *zap.Logger
}

func NewIndexer(embedder Embedder, vector storage.VectorStore, lexical LexicalWriter,
	locks *storage.VideoLocks, cache CachePurger, cfg *config.Config, log *zap.Logger) *Indexer {
	return &Indexer{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		locks:    locks,
		cache:    cache,
		cfg:      cfg,
		log:      log,
	}
}

// Index chunks the transcript, embeds every chunk, and atomically replaces
// the video's chunk set in both stores. Transient embedding and store
// failures retry with exponential backoff up to the configured budget;
// dimension mismatches fail immediately.
func (ix *Indexer) Index(ctx context.Context, video core.Video, segments []core.Segment) (core.IndexResult, error) {
	chunks, err := ChunkTranscript(video.ID, segments, ChunkOptions{
		TargetSeconds:  ix.cfg.ChunkSeconds,
		OverlapSeconds: ix.cfg.ChunkOverlapSeconds,
		MinTailSeconds: ix.cfg.ChunkMinTailSeconds,
	})
	if err != nil {
		return core.IndexResult{}, err
	}
	if len(chunks) == 0 {
		return core.IndexResult{}, fmt.Errorf("%w: transcript produced no chunks", core.ErrMalformedTranscript)
	}
	if video.Duration == 0 {
		video.Duration = chunks[len(chunks)-1].End
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vectors [][]float32
	err = ix.retry(ctx, "embed", func() error {
		var embedErr error
		vectors, embedErr = ix.embedder.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return core.IndexResult{}, err
	}

	points := make([]storage.VectorPoint, len(chunks))
	for i, c := range chunks {
		points[i] = storage.VectorPoint{
			ID:     c.ID,
			Vector: vectors[i],
			Payload: core.Hit{
				ChunkID:    c.ID,
				VideoID:    c.VideoID,
				VideoTitle: video.Title,
				VideoURL:   video.URL,
				Chapter:    video.Chapter,
				Index:      c.Index,
				Start:      c.Start,
				End:        c.End,
				Text:       c.Text,
			},
		}
	}

	ix.locks.Lock(video.ID)
	defer ix.locks.Unlock(video.ID)

	oldHits, err := ix.lexical.VideoChunks(ctx, video.ID, 0)
	if err != nil {
		return core.IndexResult{}, fmt.Errorf("read previous chunk set: %w", err)
	}
	newIDs := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		newIDs[c.ID] = true
	}

	// New vector points first. If the lexical swap then fails, the rows added
	// here are rolled back; the old set stays intact in both stores.
	if err := ix.retry(ctx, "vector upsert", func() error {
		return ix.vector.Upsert(ctx, points)
	}); err != nil {
		return core.IndexResult{}, err
	}

	if err := ix.retry(ctx, "lexical replace", func() error {
		return ix.lexical.ReplaceChunks(ctx, video, chunks)
	}); err != nil {
		var added []string
		for _, c := range chunks {
			if !containsChunk(oldHits, c.ID) {
				added = append(added, c.ID)
			}
		}
		if rbErr := ix.vector.Delete(ctx, added); rbErr != nil {
			ix.log.Warn("vector rollback failed, stale points remain",
				zap.String("video_id", video.ID), zap.Error(rbErr))
		}
		return core.IndexResult{}, err
	}

	// Both stores now hold the new set; drop vector points for chunks the new
	// set no longer contains.
	var stale []string
	for _, h := range oldHits {
		if !newIDs[h.ChunkID] {
			stale = append(stale, h.ChunkID)
		}
	}
	if len(stale) > 0 {
		if err := ix.vector.Delete(ctx, stale); err != nil {
			ix.log.Warn("stale vector cleanup failed",
				zap.String("video_id", video.ID), zap.Int("count", len(stale)), zap.Error(err))
		}
	}

	if err := ix.cache.PurgeVideo(ctx, video.ID); err != nil {
		ix.log.Warn("summary cache purge failed", zap.String("video_id", video.ID), zap.Error(err))
	}

	ix.log.Info("video indexed",
		zap.String("video_id", video.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int("replaced", len(oldHits)))
	return core.IndexResult{VideoID: video.ID, ChunkCount: len(chunks)}, nil
}

// Remove deletes a video from both stores and purges its cached summaries.
func (ix *Indexer) Remove(ctx context.Context, videoID string) error {
	ix.locks.Lock(videoID)
	defer ix.locks.Unlock(videoID)

	if err := ix.lexical.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	if err := ix.vector.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	if err := ix.cache.PurgeVideo(ctx, videoID); err != nil {
		ix.log.Warn("summary cache purge failed", zap.String("video_id", videoID), zap.Error(err))
	}
	ix.log.Info("video removed", zap.String("video_id", videoID))
	return nil
}

// retry runs op with exponential backoff while the failure class is
// transient. Non-retryable errors, including configuration mismatches, stop
// immediately.
func (ix *Indexer) retry(ctx context.Context, name string, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
	), uint64(ix.cfg.MaxRetries))

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
		ix.log.Warn("transient failure, retrying",
			zap.String("op", name), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(bo, ctx))
}

func containsChunk(hits []core.Hit, chunkID string) bool {
	for _, h := range hits {
		if h.ChunkID == chunkID {
			return true
		}
	}
	return false
}
