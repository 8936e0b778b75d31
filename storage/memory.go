package storage

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"courseTutor/core"
)

// MemoryVectorStore is the in-process fallback used by tests and local runs
// without a database.
type MemoryVectorStore struct {
	mu     sync.RWMutex
	dim    int
	points map[string]VectorPoint
}

func NewMemoryVectorStore(dim int) *MemoryVectorStore {
	return &MemoryVectorStore{dim: dim, points: map[string]VectorPoint{}}
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, points []VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if err := checkDim(s.dim, len(p.Vector)); err != nil {
			return err
		}
		s.points[p.ID] = p
	}
	return nil
}

func (s *MemoryVectorStore) Delete(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.points, id)
	}
	return nil
}

func (s *MemoryVectorStore) DeleteVideo(ctx context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload.VideoID == videoID {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, vector []float32, topK int, scope core.Scope) ([]core.Hit, error) {
	if err := checkDim(s.dim, len(vector)); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []core.Hit
	for _, p := range s.points {
		if !scopeMatches(p.Payload, scope) {
			continue
		}
		h := p.Payload
		h.Score = cosine(vector, p.Vector)
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryVectorStore) Close(ctx context.Context) error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryLexicalStore is the term-frequency counterpart to the in-memory
// vector store, for tests and store-free runs.
type MemoryLexicalStore struct {
	mu     sync.RWMutex
	videos map[string]core.Video
	chunks map[string][]core.Chunk // video id -> ordered chunks
}

func NewMemoryLexicalStore() *MemoryLexicalStore {
	return &MemoryLexicalStore{
		videos: map[string]core.Video{},
		chunks: map[string][]core.Chunk{},
	}
}

func (s *MemoryLexicalStore) ReplaceChunks(ctx context.Context, video core.Video, chunks []core.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[video.ID] = video
	cp := make([]core.Chunk, len(chunks))
	copy(cp, chunks)
	s.chunks[video.ID] = cp
	return nil
}

func (s *MemoryLexicalStore) DeleteVideo(ctx context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.videos, videoID)
	delete(s.chunks, videoID)
	return nil
}

func (s *MemoryLexicalStore) Search(ctx context.Context, query string, topK int, scope core.Scope) ([]core.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []core.Hit
	for videoID, chunks := range s.chunks {
		video := s.videos[videoID]
		for _, c := range chunks {
			h := hitFromChunk(video, c)
			if !scopeMatches(h, scope) {
				continue
			}
			text := strings.ToLower(c.Text)
			var score float64
			for _, t := range terms {
				score += float64(strings.Count(text, t))
			}
			if score == 0 {
				continue
			}
			h.Score = score
			hits = append(hits, h)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// ExistingChunks reports which of the given chunk ids currently have rows,
// in one consistent snapshot.
func (s *MemoryLexicalStore) ExistingChunks(ctx context.Context, chunkIDs []string) (map[string]bool, error) {
	wanted := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		wanted[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	present := make(map[string]bool, len(chunkIDs))
	for _, chunks := range s.chunks {
		for _, c := range chunks {
			if wanted[c.ID] {
				present[c.ID] = true
			}
		}
	}
	return present, nil
}

func (s *MemoryLexicalStore) VideoChunks(ctx context.Context, videoID string, limit int) ([]core.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.chunks[videoID]
	if !ok {
		return nil, nil
	}
	video := s.videos[videoID]
	hits := make([]core.Hit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, hitFromChunk(video, c))
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryLexicalStore) ListVideos(ctx context.Context, chapter string) ([]core.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Video
	for _, v := range s.videos {
		if chapter != "" && v.Chapter != chapter {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryLexicalStore) ListChapters(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, v := range s.videos {
		if v.Chapter == "" || seen[v.Chapter] {
			continue
		}
		seen[v.Chapter] = true
		out = append(out, v.Chapter)
	}
	sort.Strings(out)
	return out, nil
}

func hitFromChunk(v core.Video, c core.Chunk) core.Hit {
	return core.Hit{
		ChunkID:    c.ID,
		VideoID:    c.VideoID,
		VideoTitle: v.Title,
		VideoURL:   v.URL,
		Chapter:    v.Chapter,
		Index:      c.Index,
		Start:      c.Start,
		End:        c.End,
		Text:       c.Text,
	}
}
