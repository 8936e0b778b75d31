package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
)

// VectorPoint is one chunk ready for vector upsert: the embedding plus the
// payload both stores key by the same chunk id.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload core.Hit // Score unused on write
}

// VectorStore abstracts the vector backend. Cosine distance and the vector
// dimension are fixed at index-creation time; Search fails fast with a
// configuration error when the query vector dimension differs.
type VectorStore interface {
	Upsert(ctx context.Context, points []VectorPoint) error
	Delete(ctx context.Context, chunkIDs []string) error
	DeleteVideo(ctx context.Context, videoID string) error
	Search(ctx context.Context, vector []float32, topK int, scope core.Scope) ([]core.Hit, error)
	Close(ctx context.Context) error
}

// NewVectorStore selects the backend from configuration: pgvector (default),
// milvus, or the in-memory store used by tests and local runs.
func NewVectorStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (VectorStore, error) {
	switch cfg.Store {
	case "pgvector":
		return NewPgVectorStore(ctx, cfg, log)
	case "milvus":
		return NewMilvusStore(ctx, cfg, log)
	case "memory":
		return NewMemoryVectorStore(cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Store)
	}
}

func checkDim(expected, got int) error {
	if got != expected {
		return fmt.Errorf("%w: query vector dimension %d, index dimension %d",
			core.ErrRetrievalConfig, got, expected)
	}
	return nil
}

func scopeMatches(h core.Hit, scope core.Scope) bool {
	if scope.Chapter != "" && h.Chapter != scope.Chapter {
		return false
	}
	if len(scope.VideoIDs) > 0 {
		for _, id := range scope.VideoIDs {
			if h.VideoID == id {
				return true
			}
		}
		return false
	}
	return true
}
