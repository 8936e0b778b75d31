package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/processors"
	"courseTutor/storage"
)

func hit(id string, index int, score float64) core.Hit {
	return core.Hit{ChunkID: id, VideoID: "v1", Index: index, Score: score}
}

func TestFuseBothListsOutrankSingleList(t *testing.T) {
	lex := []core.Hit{hit("both", 0, 3.0), hit("lex-only", 1, 2.0)}
	vec := []core.Hit{hit("both", 0, 0.9), hit("vec-only", 2, 0.8)}

	fused := fuse(lex, vec)
	require.Len(t, fused, 3)
	assert.Equal(t, "both", fused[0].ChunkID)
	// rank-1 in both always beats any single-list chunk
	assert.Greater(t, fused[0].FusedScore, fused[1].FusedScore)
}

func TestFuseAbsentChunkNeverAppears(t *testing.T) {
	fused := fuse([]core.Hit{hit("a", 0, 1)}, []core.Hit{hit("b", 1, 1)})
	for _, c := range fused {
		assert.Contains(t, []string{"a", "b"}, c.ChunkID)
	}
}

func TestFuseKeepsPerLegScores(t *testing.T) {
	lex := []core.Hit{hit("both", 0, 2.5)}
	vec := []core.Hit{hit("both", 0, 0.7)}

	fused := fuse(lex, vec)
	require.Len(t, fused, 1)
	assert.Equal(t, 2.5, fused[0].LexicalScore)
	assert.Equal(t, 0.7, fused[0].VectorScore)
}

func TestFuseTieBreaksBySequenceIndex(t *testing.T) {
	// same single-list rank on opposite legs: identical fused score
	lex := []core.Hit{hit("later", 5, 1)}
	vec := []core.Hit{hit("earlier", 2, 1)}

	fused := fuse(lex, vec)
	require.Len(t, fused, 2)
	assert.Equal(t, "earlier", fused[0].ChunkID)
	assert.Equal(t, "later", fused[1].ChunkID)
}

func TestFuseDeterministic(t *testing.T) {
	lex := []core.Hit{hit("a", 0, 3), hit("b", 1, 2), hit("c", 2, 1)}
	vec := []core.Hit{hit("c", 2, 0.9), hit("d", 3, 0.8)}

	first := fuse(lex, vec)
	for i := 0; i < 10; i++ {
		again := fuse(lex, vec)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].ChunkID, again[j].ChunkID)
		}
	}
}

type staticEmbedder struct{ vec []float32 }

func (s staticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = s.vec
	}
	return out, nil
}

func retrievalConfig() *config.Config {
	return &config.Config{
		EmbeddingDim: 3,
		LexicalK:     10,
		VectorK:      10,
		InitialK:     2,
		FinalK:       2,
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	r := NewRetriever(staticEmbedder{vec: []float32{1, 0, 0}},
		storage.NewMemoryLexicalStore(), storage.NewMemoryVectorStore(3),
		storage.NewVideoLocks(), retrievalConfig(), zap.NewNop())

	out, err := r.Retrieve(context.Background(), "anything", core.Scope{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRetrieveTruncatesToInitialK(t *testing.T) {
	ctx := context.Background()
	lexical := storage.NewMemoryLexicalStore()
	vector := storage.NewMemoryVectorStore(3)

	video := core.Video{ID: "v1", Title: "T"}
	var chunks []core.Chunk
	var points []storage.VectorPoint
	for i := 0; i < 5; i++ {
		c := core.Chunk{
			ID: string(rune('a' + i)), VideoID: "v1", Index: i,
			Start: float64(i * 60), End: float64((i + 1) * 60),
			Text: "neural networks layer",
		}
		chunks = append(chunks, c)
		points = append(points, storage.VectorPoint{
			ID: c.ID, Vector: []float32{1, 0, 0},
			Payload: core.Hit{ChunkID: c.ID, VideoID: "v1", Index: i, Text: c.Text},
		})
	}
	require.NoError(t, lexical.ReplaceChunks(ctx, video, chunks))
	require.NoError(t, vector.Upsert(ctx, points))

	r := NewRetriever(staticEmbedder{vec: []float32{1, 0, 0}}, lexical, vector,
		storage.NewVideoLocks(), retrievalConfig(), zap.NewNop())

	out, err := r.Retrieve(ctx, "neural networks", core.Scope{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRetrieveMidSwapSeesOneSide(t *testing.T) {
	ctx := context.Background()
	lexical := storage.NewMemoryLexicalStore()
	vector := storage.NewMemoryVectorStore(3)

	point := func(c core.Chunk) storage.VectorPoint {
		return storage.VectorPoint{ID: c.ID, Vector: []float32{1, 0, 0},
			Payload: core.Hit{ChunkID: c.ID, VideoID: c.VideoID, Index: c.Index, Text: c.Text}}
	}
	old := []core.Chunk{
		{ID: "old-a", VideoID: "v1", Index: 0, Start: 0, End: 60, Text: "alpha vectors explained"},
		{ID: "old-b", VideoID: "v1", Index: 1, Start: 60, End: 120, Text: "alpha vectors continued"},
	}
	require.NoError(t, lexical.ReplaceChunks(ctx, core.Video{ID: "v1"}, old))
	require.NoError(t, vector.Upsert(ctx, []storage.VectorPoint{point(old[0]), point(old[1])}))

	// re-ingestion upserts new vector points before the lexical swap commits
	newChunk := core.Chunk{ID: "new-a", VideoID: "v1", Index: 0, Start: 0, End: 90, Text: "delta vectors explained"}
	require.NoError(t, vector.Upsert(ctx, []storage.VectorPoint{point(newChunk)}))

	cfg := retrievalConfig()
	cfg.InitialK = 10
	r := NewRetriever(staticEmbedder{vec: []float32{1, 0, 0}}, lexical, vector,
		storage.NewVideoLocks(), cfg, zap.NewNop())

	out, err := r.Retrieve(ctx, "vectors", core.Scope{})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for _, c := range out {
		assert.NotContains(t, c.Text, "delta", "uncommitted chunks must not surface")
	}

	// after the swap commits, stale vector points must not surface either
	require.NoError(t, lexical.ReplaceChunks(ctx, core.Video{ID: "v1"}, []core.Chunk{newChunk}))
	out, err = r.Retrieve(ctx, "vectors", core.Scope{})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for _, c := range out {
		assert.NotContains(t, c.Text, "alpha", "replaced chunks must not surface")
	}
}

type slowSwapLexical struct {
	*storage.MemoryLexicalStore
	delay time.Duration
}

func (s *slowSwapLexical) ReplaceChunks(ctx context.Context, video core.Video, chunks []core.Chunk) error {
	time.Sleep(s.delay)
	return s.MemoryLexicalStore.ReplaceChunks(ctx, video, chunks)
}

type noopPurger struct{}

func (noopPurger) PurgeVideo(ctx context.Context, videoID string) error { return nil }

func TestRetrieveDuringReingestionSeesOldOrNew(t *testing.T) {
	ctx := context.Background()
	lexical := &slowSwapLexical{MemoryLexicalStore: storage.NewMemoryLexicalStore(), delay: 150 * time.Millisecond}
	vector := storage.NewMemoryVectorStore(3)
	locks := storage.NewVideoLocks()
	cfg := &config.Config{
		EmbeddingDim:        3,
		ChunkSeconds:        60,
		ChunkOverlapSeconds: 10,
		ChunkMinTailSeconds: 15,
		LexicalK:            10,
		VectorK:             10,
		InitialK:            20,
		FinalK:              5,
		MaxRetries:          1,
	}
	embedder := staticEmbedder{vec: []float32{1, 0, 0}}
	ix := processors.NewIndexer(embedder, vector, lexical, locks, noopPurger{}, cfg, zap.NewNop())

	segs := func(word string) []core.Segment {
		return []core.Segment{
			{Start: 0, End: 60, Text: word + " vectors part one"},
			{Start: 60, End: 120, Text: word + " vectors part two"},
			{Start: 120, End: 180, Text: word + " vectors part three"},
		}
	}
	_, err := ix.Index(ctx, core.Video{ID: "v1", Title: "T"}, segs("alpha"))
	require.NoError(t, err)

	r := NewRetriever(embedder, lexical, vector, locks, cfg, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := ix.Index(ctx, core.Video{ID: "v1", Title: "T"}, segs("delta"))
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out, err := r.Retrieve(ctx, "vectors", core.Scope{})
		require.NoError(t, err)
		var sawOld, sawNew bool
		for _, c := range out {
			if c.VideoID != "v1" {
				continue
			}
			if strings.Contains(c.Text, "alpha") {
				sawOld = true
			}
			if strings.Contains(c.Text, "delta") {
				sawNew = true
			}
		}
		require.False(t, sawOld && sawNew, "old and new chunks mixed in one result")
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("re-ingestion never finished")
}

type flakyEmbedder struct {
	vec      []float32
	failures int
	calls    int
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("%w: transient", core.ErrEmbeddingUnavailable)
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func TestRetrieveRetriesTransientEmbedFailure(t *testing.T) {
	ctx := context.Background()
	lexical := storage.NewMemoryLexicalStore()
	vector := storage.NewMemoryVectorStore(3)
	c := core.Chunk{ID: "c0", VideoID: "v1", Index: 0, Start: 0, End: 60, Text: "gradient descent"}
	require.NoError(t, lexical.ReplaceChunks(ctx, core.Video{ID: "v1"}, []core.Chunk{c}))
	require.NoError(t, vector.Upsert(ctx, []storage.VectorPoint{{
		ID: c.ID, Vector: []float32{1, 0, 0},
		Payload: core.Hit{ChunkID: c.ID, VideoID: "v1", Text: c.Text},
	}}))

	cfg := retrievalConfig()
	cfg.MaxRetries = 2
	emb := &flakyEmbedder{vec: []float32{1, 0, 0}, failures: 1}
	r := NewRetriever(emb, lexical, vector, storage.NewVideoLocks(), cfg, zap.NewNop())

	out, err := r.Retrieve(ctx, "gradient", core.Scope{})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, 2, emb.calls, "one transient failure, one successful retry")
}

type badConfigEmbedder struct{ calls int }

func (b *badConfigEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.calls++
	return nil, fmt.Errorf("%w: embedding dimension mismatch", core.ErrRetrievalConfig)
}

func TestRetrieveDoesNotRetryConfigMismatch(t *testing.T) {
	cfg := retrievalConfig()
	cfg.MaxRetries = 3
	emb := &badConfigEmbedder{}
	r := NewRetriever(emb, storage.NewMemoryLexicalStore(), storage.NewMemoryVectorStore(3),
		storage.NewVideoLocks(), cfg, zap.NewNop())

	_, err := r.Retrieve(context.Background(), "anything", core.Scope{})
	require.ErrorIs(t, err, core.ErrRetrievalConfig)
	assert.Equal(t, 1, emb.calls)
}

func TestRetrieveHonorsScope(t *testing.T) {
	ctx := context.Background()
	lexical := storage.NewMemoryLexicalStore()
	vector := storage.NewMemoryVectorStore(3)

	for _, vid := range []string{"v1", "v2"} {
		c := core.Chunk{ID: vid + "-c0", VideoID: vid, Index: 0, Start: 0, End: 60, Text: "gradient descent"}
		require.NoError(t, lexical.ReplaceChunks(ctx, core.Video{ID: vid}, []core.Chunk{c}))
		require.NoError(t, vector.Upsert(ctx, []storage.VectorPoint{{
			ID: c.ID, Vector: []float32{1, 0, 0},
			Payload: core.Hit{ChunkID: c.ID, VideoID: vid, Index: 0, Text: c.Text},
		}}))
	}

	r := NewRetriever(staticEmbedder{vec: []float32{1, 0, 0}}, lexical, vector,
		storage.NewVideoLocks(), retrievalConfig(), zap.NewNop())

	out, err := r.Retrieve(ctx, "gradient descent", core.Scope{VideoIDs: []string{"v2"}})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for _, c := range out {
		assert.Equal(t, "v2", c.VideoID)
	}
}
