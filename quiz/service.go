// Package quiz generates quizzes from indexed course material and grades
// submitted answers.
package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/storage"
)

type JSONCompleter interface {
	CompleteJSON(ctx context.Context, system, prompt string) (string, error)
}

// ChunkReader serves a video's ordered chunk set.
type ChunkReader interface {
	VideoChunks(ctx context.Context, videoID string, limit int) ([]core.Hit, error)
}

type Service struct {
	chunks   ChunkReader
	llm      JSONCompleter
	sessions storage.SessionStore
	locks    *storage.VideoLocks
	cfg      *config.Config
	log      *zap.Logger
}

func NewService(chunks ChunkReader, llm JSONCompleter, sessions storage.SessionStore,
	locks *storage.VideoLocks, cfg *config.Config, log *zap.Logger) *Service {
	return &Service{chunks: chunks, llm: llm, sessions: sessions, locks: locks, cfg: cfg, log: log}
}

// GenerateRequest asks for a quiz over one or more videos. NumQuestions is
// clamped to the configured maximum; Policy defaults to mixed.
type GenerateRequest struct {
	VideoIDs     []string            `json:"video_ids"`
	NumQuestions int                 `json:"num_questions"`
	Policy       core.QuestionPolicy `json:"policy"`
	SessionID    string              `json:"session_id,omitempty"`
}

// Generate builds a quiz and streams progress while doing so. Source chunks
// are spread across the material's timeline so questions do not cluster. A
// slot whose model output stays malformed through the retry budget is
// dropped; the quiz ships with fewer questions and reports both counts.
func (s *Service) Generate(ctx context.Context, stream *core.Stream, req GenerateRequest) {
	if len(req.VideoIDs) == 0 {
		stream.Fail(ctx, "at least one video id is required")
		return
	}
	n := req.NumQuestions
	if n <= 0 {
		n = 5
	}
	if n > s.cfg.QuizMaxQuestions {
		n = s.cfg.QuizMaxQuestions
	}
	policy := req.Policy
	if policy == "" {
		policy = core.PolicyMixed
	}

	if err := stream.Send(ctx, core.ProgressEvent{Message: "selecting source material"}); err != nil {
		return
	}

	unlock := s.locks.RLockAll(req.VideoIDs)
	var all []core.Hit
	for _, id := range req.VideoIDs {
		hits, err := s.chunks.VideoChunks(ctx, id, 0)
		if err != nil {
			unlock()
			s.log.Error("read chunks failed", zap.String("video_id", id), zap.Error(err))
			stream.Fail(ctx, "could not read video transcript")
			return
		}
		all = append(all, hits...)
	}
	unlock()
	if len(all) == 0 {
		stream.Fail(ctx, "no indexed content for the requested videos")
		return
	}

	sampled := spreadChunks(all, n)
	types := questionTypes(policy, n)

	if err := stream.Send(ctx, core.ProgressEvent{
		Message: fmt.Sprintf("generating %d questions", n),
	}); err != nil {
		return
	}

	var questions []core.QuizQuestion
	dropped := 0
	for slot := 0; slot < n; slot++ {
		q, err := s.generateQuestion(ctx, types[slot], sampled[slot])
		if err != nil {
			dropped++
			s.log.Warn("question slot dropped", zap.Int("slot", slot), zap.Error(err))
			continue
		}
		q.Index = len(questions)
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		stream.Fail(ctx, "question generation failed for every slot")
		return
	}

	quiz := core.Quiz{
		ID:           core.NewID(),
		SessionID:    req.SessionID,
		VideoIDs:     req.VideoIDs,
		Policy:       policy,
		Questions:    questions,
		RequestedNum: n,
		GeneratedNum: len(questions),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.sessions.SaveQuiz(ctx, quiz); err != nil {
		s.log.Error("save quiz failed", zap.Error(err))
		stream.Fail(ctx, "could not save quiz")
		return
	}

	_ = stream.Send(ctx, core.DoneEvent{
		QuizID:        quiz.ID,
		Questions:     withoutAnswers(questions),
		QuestionCount: quiz.GeneratedNum,
		Requested:     quiz.RequestedNum,
	})
}

// Get returns a stored quiz with answer keys stripped.
func (s *Service) Get(ctx context.Context, quizID string) (core.Quiz, error) {
	quiz, err := s.sessions.GetQuiz(ctx, quizID)
	if err != nil {
		return core.Quiz{}, err
	}
	quiz.Questions = withoutAnswers(quiz.Questions)
	return quiz, nil
}

// generateQuestion fills one slot, retrying malformed model output within
// the configured budget.
func (s *Service) generateQuestion(ctx context.Context, typ core.QuestionType, src core.Hit) (core.QuizQuestion, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.QuizRetryBudget; attempt++ {
		system := mcqSystem
		if typ == core.QuestionOpenEnded {
			system = openSystem
		}
		raw, err := s.llm.CompleteJSON(ctx, system, questionPrompt(src))
		if err != nil {
			return core.QuizQuestion{}, err
		}
		q, err := parseQuestion(typ, raw)
		if err != nil {
			lastErr = err
			continue
		}
		q.SourceVideoID = src.VideoID
		q.SourceStart = src.Start
		q.SourceEnd = src.End
		q.SourceText = src.Text
		return q, nil
	}
	return core.QuizQuestion{}, lastErr
}

func parseQuestion(typ core.QuestionType, raw string) (core.QuizQuestion, error) {
	switch typ {
	case core.QuestionMCQ:
		var out struct {
			Question      string            `json:"question"`
			Options       map[string]string `json:"options"`
			CorrectAnswer string            `json:"correct_answer"`
			Explanation   string            `json:"explanation"`
		}
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return core.QuizQuestion{}, fmt.Errorf("%w: %v", core.ErrMalformedQuestion, err)
		}
		out.CorrectAnswer = strings.ToUpper(strings.TrimSpace(out.CorrectAnswer))
		if out.Question == "" || len(out.Options) < 2 {
			return core.QuizQuestion{}, fmt.Errorf("%w: missing question or options", core.ErrMalformedQuestion)
		}
		if _, ok := out.Options[out.CorrectAnswer]; !ok {
			return core.QuizQuestion{}, fmt.Errorf("%w: correct answer %q not among options", core.ErrMalformedQuestion, out.CorrectAnswer)
		}
		return core.QuizQuestion{
			Type:          core.QuestionMCQ,
			Prompt:        out.Question,
			Options:       out.Options,
			CorrectAnswer: out.CorrectAnswer,
			Explanation:   out.Explanation,
		}, nil

	case core.QuestionOpenEnded:
		var out struct {
			Question        string   `json:"question"`
			ReferenceAnswer string   `json:"reference_answer"`
			KeyPoints       []string `json:"key_points"`
		}
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return core.QuizQuestion{}, fmt.Errorf("%w: %v", core.ErrMalformedQuestion, err)
		}
		if out.Question == "" || out.ReferenceAnswer == "" {
			return core.QuizQuestion{}, fmt.Errorf("%w: missing question or reference answer", core.ErrMalformedQuestion)
		}
		return core.QuizQuestion{
			Type:            core.QuestionOpenEnded,
			Prompt:          out.Question,
			ReferenceAnswer: out.ReferenceAnswer,
			KeyPoints:       out.KeyPoints,
		}, nil
	}
	return core.QuizQuestion{}, fmt.Errorf("%w: unknown question type %q", core.ErrMalformedQuestion, typ)
}

// spreadChunks picks n source chunks spread across the ordered material:
// the timeline is cut into n windows and each window contributes its middle
// chunk. With fewer chunks than windows, chunks repeat round-robin.
func spreadChunks(hits []core.Hit, n int) []core.Hit {
	out := make([]core.Hit, 0, n)
	if len(hits) >= n {
		for w := 0; w < n; w++ {
			lo := w * len(hits) / n
			hi := (w + 1) * len(hits) / n
			out = append(out, hits[lo+(hi-lo)/2])
		}
		return out
	}
	for i := 0; i < n; i++ {
		out = append(out, hits[i%len(hits)])
	}
	return out
}

// questionTypes expands a policy into a per-slot type list. Mixed rounds
// the MCQ share up on odd counts.
func questionTypes(policy core.QuestionPolicy, n int) []core.QuestionType {
	types := make([]core.QuestionType, n)
	switch policy {
	case core.PolicyMCQ:
		for i := range types {
			types[i] = core.QuestionMCQ
		}
	case core.PolicyOpenEnded:
		for i := range types {
			types[i] = core.QuestionOpenEnded
		}
	default:
		mcq := (n + 1) / 2
		for i := range types {
			if i < mcq {
				types[i] = core.QuestionMCQ
			} else {
				types[i] = core.QuestionOpenEnded
			}
		}
	}
	return types
}

// withoutAnswers strips grading material from questions sent to clients.
func withoutAnswers(questions []core.QuizQuestion) []core.QuizQuestion {
	out := make([]core.QuizQuestion, len(questions))
	for i, q := range questions {
		q.CorrectAnswer = ""
		q.ReferenceAnswer = ""
		q.KeyPoints = nil
		q.Explanation = ""
		q.SourceText = ""
		out[i] = q
	}
	return out
}
