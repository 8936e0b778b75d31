package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
)

// PgVectorStore keeps chunk embeddings in Postgres with the pgvector
// extension, cosine distance.
type PgVectorStore struct {
	pool *pgxpool.Pool
	dim  int
	log  *zap.Logger
}

func NewPgVectorStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*PgVectorStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PgVectorStore{pool: pool, dim: cfg.EmbeddingDim, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id    VARCHAR(64) PRIMARY KEY,
			video_id    VARCHAR(255) NOT NULL,
			video_title VARCHAR(500) NOT NULL DEFAULT '',
			video_url   VARCHAR(1000) NOT NULL DEFAULT '',
			chapter     VARCHAR(255) NOT NULL DEFAULT '',
			idx         INT NOT NULL,
			start_time  FLOAT NOT NULL,
			end_time    FLOAT NOT NULL,
			text        TEXT NOT NULL,
			embedding   vector(%d) NOT NULL
		);`, s.dim)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create chunk_embeddings table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_video ON chunk_embeddings(video_id);",
		"CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_chapter ON chunk_embeddings(chapter);",
		`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_embedding
			ON chunk_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
	}
	for _, q := range indexes {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			s.log.Warn("create index failed", zap.Error(err))
		}
	}
	return nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	defer tx.Rollback(ctx)

	for _, p := range points {
		if err := checkDim(s.dim, len(p.Vector)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO chunk_embeddings
				(chunk_id, video_id, video_title, video_url, chapter, idx, start_time, end_time, text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (chunk_id) DO UPDATE SET
				video_id = EXCLUDED.video_id,
				video_title = EXCLUDED.video_title,
				video_url = EXCLUDED.video_url,
				chapter = EXCLUDED.chapter,
				idx = EXCLUDED.idx,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				text = EXCLUDED.text,
				embedding = EXCLUDED.embedding
		`, p.ID, p.Payload.VideoID, p.Payload.VideoTitle, p.Payload.VideoURL, p.Payload.Chapter,
			p.Payload.Index, p.Payload.Start, p.Payload.End, p.Payload.Text, pgvector.NewVector(p.Vector))
		if err != nil {
			return fmt.Errorf("%w: upsert chunk %s: %v", core.ErrStoreWrite, p.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *PgVectorStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM chunk_embeddings WHERE chunk_id = ANY($1)", chunkIDs); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *PgVectorStore) DeleteVideo(ctx context.Context, videoID string) error {
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM chunk_embeddings WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *PgVectorStore) Search(ctx context.Context, vector []float32, topK int, scope core.Scope) ([]core.Hit, error) {
	if err := checkDim(s.dim, len(vector)); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	var sb strings.Builder
	args := []any{pgvector.NewVector(vector)}
	sb.WriteString(`
		SELECT chunk_id, video_id, video_title, video_url, chapter, idx, start_time, end_time, text,
		       1 - (embedding <=> $1) AS similarity
		FROM chunk_embeddings`)
	var conds []string
	if len(scope.VideoIDs) > 0 {
		args = append(args, scope.VideoIDs)
		conds = append(conds, fmt.Sprintf("video_id = ANY($%d)", len(args)))
	}
	if scope.Chapter != "" {
		args = append(args, scope.Chapter)
		conds = append(conds, fmt.Sprintf("chapter = $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, topK)
	sb.WriteString(fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args)))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []core.Hit
	for rows.Next() {
		var h core.Hit
		if err := rows.Scan(&h.ChunkID, &h.VideoID, &h.VideoTitle, &h.VideoURL, &h.Chapter,
			&h.Index, &h.Start, &h.End, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PgVectorStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
