package quiz

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/storage"
)

const mcqJSON = `{"question": "What is a tensor?", "options": {"A": "a scalar", "B": "a multi-dimensional array", "C": "a loop", "D": "a database"}, "correct_answer": "B", "explanation": "tensors generalize matrices"}`

const openJSON = `{"question": "Explain gradient descent.", "reference_answer": "Iteratively step against the gradient.", "key_points": ["gradient direction", "learning rate"]}`

type scriptedCompleter struct {
	mu       sync.Mutex
	garbage  int // serve this many malformed responses first
	calls    int
	gradeRaw string
}

func (s *scriptedCompleter) CompleteJSON(ctx context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.garbage > 0 {
		s.garbage--
		return "not json at all", nil
	}
	switch system {
	case mcqSystem:
		return mcqJSON, nil
	case openSystem:
		return openJSON, nil
	case gradeSystem:
		return s.gradeRaw, nil
	}
	return "", fmt.Errorf("unexpected system prompt")
}

func quizConfig() *config.Config {
	return &config.Config{QuizMaxQuestions: 20, QuizRetryBudget: 2}
}

func newTestQuizService(t *testing.T, llm JSONCompleter) (*Service, storage.SessionStore) {
	t.Helper()
	lexical := storage.NewMemoryLexicalStore()
	chunks := make([]core.Chunk, 10)
	for i := range chunks {
		chunks[i] = core.Chunk{
			ID: fmt.Sprintf("c%d", i), VideoID: "v1", Index: i,
			Start: float64(i * 60), End: float64((i + 1) * 60),
			Text: fmt.Sprintf("topic %d content", i),
		}
	}
	require.NoError(t, lexical.ReplaceChunks(context.Background(),
		core.Video{ID: "v1", Title: "ML Basics"}, chunks))

	sessions := storage.NewMemorySessionStore()
	svc := NewService(lexical, llm, sessions, storage.NewVideoLocks(), quizConfig(), zap.NewNop())
	return svc, sessions
}

func generate(t *testing.T, svc *Service, req GenerateRequest) []core.Event {
	t.Helper()
	stream := core.NewStream(64)
	go svc.Generate(context.Background(), stream, req)
	var out []core.Event
	for ev := range stream.Events() {
		out = append(out, ev)
	}
	return out
}

func lastDone(t *testing.T, events []core.Event) core.DoneEvent {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, core.EventDone, last.Type())
	return last.(core.DoneEvent)
}

func TestGenerateMixedPolicySplit(t *testing.T) {
	svc, _ := newTestQuizService(t, &scriptedCompleter{})

	done := lastDone(t, generate(t, svc, GenerateRequest{
		VideoIDs: []string{"v1"}, NumQuestions: 5, Policy: core.PolicyMixed,
	}))

	require.Len(t, done.Questions, 5)
	mcq, open := 0, 0
	for _, q := range done.Questions {
		switch q.Type {
		case core.QuestionMCQ:
			mcq++
		case core.QuestionOpenEnded:
			open++
		}
	}
	// odd count rounds the MCQ share up
	assert.Equal(t, 3, mcq)
	assert.Equal(t, 2, open)
}

func TestGenerateDenseIndicesAndProvenance(t *testing.T) {
	svc, _ := newTestQuizService(t, &scriptedCompleter{})

	done := lastDone(t, generate(t, svc, GenerateRequest{
		VideoIDs: []string{"v1"}, NumQuestions: 4,
	}))
	for i, q := range done.Questions {
		assert.Equal(t, i, q.Index)
		assert.Equal(t, "v1", q.SourceVideoID)
		assert.GreaterOrEqual(t, q.SourceEnd, q.SourceStart)
	}
}

func TestGenerateStripsAnswerKeys(t *testing.T) {
	svc, sessions := newTestQuizService(t, &scriptedCompleter{})

	done := lastDone(t, generate(t, svc, GenerateRequest{
		VideoIDs: []string{"v1"}, NumQuestions: 2, Policy: core.PolicyMCQ,
	}))
	for _, q := range done.Questions {
		assert.Empty(t, q.CorrectAnswer)
		assert.Empty(t, q.SourceText)
	}

	// the stored quiz keeps the keys for validation
	stored, err := sessions.GetQuiz(context.Background(), done.QuizID)
	require.NoError(t, err)
	for _, q := range stored.Questions {
		assert.NotEmpty(t, q.CorrectAnswer)
	}
}

func TestGenerateDropsPersistentlyMalformedSlots(t *testing.T) {
	// garbage count covers one slot's full retry budget (1 + 2 retries)
	svc, _ := newTestQuizService(t, &scriptedCompleter{garbage: 3})

	done := lastDone(t, generate(t, svc, GenerateRequest{
		VideoIDs: []string{"v1"}, NumQuestions: 3, Policy: core.PolicyMCQ,
	}))
	assert.Equal(t, 3, done.Requested)
	assert.Equal(t, 2, done.QuestionCount)
	require.Len(t, done.Questions, 2)
	for i, q := range done.Questions {
		assert.Equal(t, i, q.Index, "indices stay dense after a dropped slot")
	}
}

func TestGenerateAllSlotsFailing(t *testing.T) {
	svc, _ := newTestQuizService(t, &scriptedCompleter{garbage: 1000})

	events := generate(t, svc, GenerateRequest{VideoIDs: []string{"v1"}, NumQuestions: 2})
	last := events[len(events)-1]
	assert.Equal(t, core.EventError, last.Type())
}

func TestGenerateClampsToMaxQuestions(t *testing.T) {
	svc, _ := newTestQuizService(t, &scriptedCompleter{})

	done := lastDone(t, generate(t, svc, GenerateRequest{
		VideoIDs: []string{"v1"}, NumQuestions: 500, Policy: core.PolicyMCQ,
	}))
	assert.Equal(t, 20, done.Requested)
}

func TestGenerateNoVideos(t *testing.T) {
	svc, _ := newTestQuizService(t, &scriptedCompleter{})
	events := generate(t, svc, GenerateRequest{NumQuestions: 3})
	assert.Equal(t, core.EventError, events[len(events)-1].Type())
}

func TestSpreadChunksCoversTimeline(t *testing.T) {
	hits := make([]core.Hit, 12)
	for i := range hits {
		hits[i] = core.Hit{ChunkID: fmt.Sprintf("c%d", i), Index: i}
	}
	out := spreadChunks(hits, 4)
	require.Len(t, out, 4)
	// one pick per quarter of the timeline
	for w := 0; w < 4; w++ {
		assert.GreaterOrEqual(t, out[w].Index, w*3)
		assert.Less(t, out[w].Index, (w+1)*3)
	}
}

func TestSpreadChunksFewerChunksThanQuestions(t *testing.T) {
	hits := []core.Hit{{ChunkID: "a"}, {ChunkID: "b"}}
	out := spreadChunks(hits, 5)
	require.Len(t, out, 5)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.Equal(t, "a", out[2].ChunkID)
}
