package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
)

// MilvusStore is the alternative vector backend, selected with STORE=milvus.
type MilvusStore struct {
	mc   client.Client
	coll string
	dim  int
	log  *zap.Logger
}

func NewMilvusStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*MilvusStore, error) {
	mc, err := client.NewClient(ctx, client.Config{
		Address:  cfg.MilvusAddr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := &MilvusStore{mc: mc, coll: cfg.MilvusCollection, dim: cfg.EmbeddingDim, log: log}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema().WithName(s.coll)
		schema.WithField(entity.NewField().WithName("chunk_id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("video_title").WithDataType(entity.FieldTypeVarChar).WithMaxLength(500))
		schema.WithField(entity.NewField().WithName("video_url").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName("chapter").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("idx").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusStore) Upsert(ctx context.Context, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	n := len(points)
	chunkIDs := make([]string, 0, n)
	videoIDs := make([]string, 0, n)
	titles := make([]string, 0, n)
	urls := make([]string, 0, n)
	chapters := make([]string, 0, n)
	idxs := make([]int64, 0, n)
	starts := make([]float64, 0, n)
	ends := make([]float64, 0, n)
	texts := make([]string, 0, n)
	vectors := make([][]float32, 0, n)

	for _, p := range points {
		if err := checkDim(s.dim, len(p.Vector)); err != nil {
			return err
		}
		chunkIDs = append(chunkIDs, p.ID)
		videoIDs = append(videoIDs, p.Payload.VideoID)
		titles = append(titles, p.Payload.VideoTitle)
		urls = append(urls, p.Payload.VideoURL)
		chapters = append(chapters, p.Payload.Chapter)
		idxs = append(idxs, int64(p.Payload.Index))
		starts = append(starts, p.Payload.Start)
		ends = append(ends, p.Payload.End)
		texts = append(texts, p.Payload.Text)
		vectors = append(vectors, p.Vector)
	}

	_, err := s.mc.Upsert(ctx, s.coll, "",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnVarChar("video_title", titles),
		entity.NewColumnVarChar("video_url", urls),
		entity.NewColumnVarChar("chapter", chapters),
		entity.NewColumnInt64("idx", idxs),
		entity.NewColumnDouble("start", starts),
		entity.NewColumnDouble("end", ends),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("%w: milvus upsert: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *MilvusStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	quoted := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("chunk_id in [%s]", strings.Join(quoted, ", "))
	if err := s.mc.Delete(ctx, s.coll, "", expr); err != nil {
		return fmt.Errorf("%w: milvus delete: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *MilvusStore) DeleteVideo(ctx context.Context, videoID string) error {
	expr := fmt.Sprintf("video_id == %q", videoID)
	if err := s.mc.Delete(ctx, s.coll, "", expr); err != nil {
		return fmt.Errorf("%w: milvus delete video: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int, scope core.Scope) ([]core.Hit, error) {
	if err := checkDim(s.dim, len(vector)); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	var conds []string
	if len(scope.VideoIDs) > 0 {
		quoted := make([]string, len(scope.VideoIDs))
		for i, id := range scope.VideoIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		conds = append(conds, fmt.Sprintf("video_id in [%s]", strings.Join(quoted, ", ")))
	}
	if scope.Chapter != "" {
		conds = append(conds, fmt.Sprintf("chapter == %q", scope.Chapter))
	}
	filter := strings.Join(conds, " and ")

	sp, _ := entity.NewIndexHNSWSearchParam(74)
	fields := []string{"chunk_id", "video_id", "video_title", "video_url", "chapter", "idx", "start", "end", "text"}
	res, err := s.mc.Search(ctx, s.coll, []string{}, filter, fields,
		[]entity.Vector{entity.FloatVector(vector)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []core.Hit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			h := core.Hit{Score: float64(r.Scores[i])}
			h.ChunkID = varcharAt(cols, "chunk_id", i)
			h.VideoID = varcharAt(cols, "video_id", i)
			h.VideoTitle = varcharAt(cols, "video_title", i)
			h.VideoURL = varcharAt(cols, "video_url", i)
			h.Chapter = varcharAt(cols, "chapter", i)
			h.Index = int(int64At(cols, "idx", i))
			h.Start = doubleAt(cols, "start", i)
			h.End = doubleAt(cols, "end", i)
			h.Text = varcharAt(cols, "text", i)
			hits = append(hits, h)
		}
	}
	return hits, nil
}

func (s *MilvusStore) Close(ctx context.Context) error {
	return s.mc.Close()
}

func varcharAt(cols map[string]entity.Column, name string, i int) string {
	if c, ok := cols[name].(*entity.ColumnVarChar); ok {
		if data := c.Data(); i < len(data) {
			return data[i]
		}
	}
	return ""
}

func doubleAt(cols map[string]entity.Column, name string, i int) float64 {
	if c, ok := cols[name].(*entity.ColumnDouble); ok {
		if data := c.Data(); i < len(data) {
			return data[i]
		}
	}
	return 0
}

func int64At(cols map[string]entity.Column, name string, i int) int64 {
	if c, ok := cols[name].(*entity.ColumnInt64); ok {
		if data := c.Data(); i < len(data) {
			return data[i]
		}
	}
	return 0
}
