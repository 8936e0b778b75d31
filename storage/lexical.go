package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"courseTutor/core"
)

// LexicalStore holds videos and chunk rows in Postgres and serves the
// full-text leg of hybrid retrieval via ts_rank. Chunk rows share ids with
// the vector store so the two can be joined.
type LexicalStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewLexicalStore(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) (*LexicalStore, error) {
	s := &LexicalStore{pool: pool, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LexicalStore) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id         VARCHAR(255) PRIMARY KEY,
			title      VARCHAR(500) NOT NULL,
			url        VARCHAR(1000) NOT NULL,
			duration   FLOAT NOT NULL DEFAULT 0,
			chapter    VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id         VARCHAR(64) PRIMARY KEY,
			video_id   VARCHAR(255) NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			idx        INT NOT NULL,
			start_time FLOAT NOT NULL,
			end_time   FLOAT NOT NULL,
			text       TEXT NOT NULL,
			hash       VARCHAR(64) NOT NULL,
			UNIQUE (video_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_video ON chunks(video_id);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_text_fts ON chunks
			USING GIN (to_tsvector('english', text));`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("lexical schema: %w", err)
		}
	}
	return nil
}

// ReplaceChunks swaps a video's chunk set in one transaction: delete old,
// insert new, upsert the video row. Readers never observe a partial set.
func (s *LexicalStore) ReplaceChunks(ctx context.Context, video core.Video, chunks []core.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", core.ErrStoreWrite, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO videos (id, title, url, duration, chapter)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			duration = EXCLUDED.duration,
			chapter = EXCLUDED.chapter
	`, video.ID, video.Title, video.URL, video.Duration, video.Chapter)
	if err != nil {
		return fmt.Errorf("%w: upsert video: %v", core.ErrStoreWrite, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM chunks WHERE video_id = $1", video.ID); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", core.ErrStoreWrite, err)
	}
	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, video_id, idx, start_time, end_time, text, hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, c.VideoID, c.Index, c.Start, c.End, c.Text, c.Hash)
		if err != nil {
			return fmt.Errorf("%w: insert chunk %d: %v", core.ErrStoreWrite, c.Index, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *LexicalStore) DeleteVideo(ctx context.Context, videoID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM videos WHERE id = $1", videoID); err != nil {
		return fmt.Errorf("%w: delete video: %v", core.ErrStoreWrite, err)
	}
	return nil
}

// Search runs full-text ranking over chunk text, optionally scoped.
func (s *LexicalStore) Search(ctx context.Context, query string, topK int, scope core.Scope) ([]core.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	var sb strings.Builder
	args := []any{query}
	sb.WriteString(`
		SELECT c.id, c.video_id, v.title, v.url, v.chapter, c.idx, c.start_time, c.end_time, c.text,
		       ts_rank(to_tsvector('english', c.text), plainto_tsquery('english', $1)) AS rank_score
		FROM chunks c
		JOIN videos v ON c.video_id = v.id
		WHERE to_tsvector('english', c.text) @@ plainto_tsquery('english', $1)`)
	if len(scope.VideoIDs) > 0 {
		args = append(args, scope.VideoIDs)
		sb.WriteString(fmt.Sprintf(" AND c.video_id = ANY($%d)", len(args)))
	}
	if scope.Chapter != "" {
		args = append(args, scope.Chapter)
		sb.WriteString(fmt.Sprintf(" AND v.chapter = $%d", len(args)))
	}
	args = append(args, topK)
	sb.WriteString(fmt.Sprintf(" ORDER BY rank_score DESC, c.idx ASC LIMIT $%d", len(args)))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []core.Hit
	for rows.Next() {
		var h core.Hit
		if err := rows.Scan(&h.ChunkID, &h.VideoID, &h.VideoTitle, &h.VideoURL, &h.Chapter,
			&h.Index, &h.Start, &h.End, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ExistingChunks reports which of the given chunk ids currently have rows.
// Retrieval uses one call as a membership snapshot so a query overlapping a
// re-ingestion swap resolves to the old set or the new set, not a mix.
func (s *LexicalStore) ExistingChunks(ctx context.Context, chunkIDs []string) (map[string]bool, error) {
	present := make(map[string]bool, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return present, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT id FROM chunks WHERE id = ANY($1)", chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("existing chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		present[id] = true
	}
	return present, rows.Err()
}

// VideoChunks returns a video's full chunk set in timestamp order, used by
// summaries and quiz sampling. limit 0 means no limit.
func (s *LexicalStore) VideoChunks(ctx context.Context, videoID string, limit int) ([]core.Hit, error) {
	q := `
		SELECT c.id, c.video_id, v.title, v.url, v.chapter, c.idx, c.start_time, c.end_time, c.text
		FROM chunks c
		JOIN videos v ON c.video_id = v.id
		WHERE c.video_id = $1
		ORDER BY c.idx ASC`
	args := []any{videoID}
	if limit > 0 {
		args = append(args, limit)
		q += " LIMIT $2"
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("video chunks: %w", err)
	}
	defer rows.Close()

	var hits []core.Hit
	for rows.Next() {
		var h core.Hit
		if err := rows.Scan(&h.ChunkID, &h.VideoID, &h.VideoTitle, &h.VideoURL, &h.Chapter,
			&h.Index, &h.Start, &h.End, &h.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *LexicalStore) ListVideos(ctx context.Context, chapter string) ([]core.Video, error) {
	q := "SELECT id, title, url, duration, chapter FROM videos"
	args := []any{}
	if chapter != "" {
		q += " WHERE chapter = $1"
		args = append(args, chapter)
	}
	q += " ORDER BY created_at ASC"
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []core.Video
	for rows.Next() {
		var v core.Video
		if err := rows.Scan(&v.ID, &v.Title, &v.URL, &v.Duration, &v.Chapter); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (s *LexicalStore) ListChapters(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT DISTINCT chapter FROM videos WHERE chapter <> '' ORDER BY chapter ASC")
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}
