package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"courseTutor/core"
)

// Answer is one submitted response keyed by question index.
type Answer struct {
	QuestionIndex int    `json:"question_index"`
	Answer        string `json:"answer"`
}

// ValidateRequest grades a set of answers against a stored quiz.
type ValidateRequest struct {
	QuizID  string   `json:"quiz_id"`
	Answers []Answer `json:"answers"`
}

// ValidationReport is the graded outcome: per-question results plus the
// aggregate computed from them.
type ValidationReport struct {
	QuizID  string                  `json:"quiz_id"`
	Results []core.ValidationResult `json:"results"`
	Summary AggregateResult         `json:"summary"`
}

// Validate grades each answer. MCQ grading is a strict exact match and never
// calls the model; open-ended answers are graded against the reference
// answer and key points at temperature 0. A scoring failure marks that
// question and grading continues.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (ValidationReport, error) {
	quiz, err := s.sessions.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return ValidationReport{}, err
	}
	byIndex := map[int]core.QuizQuestion{}
	for _, q := range quiz.Questions {
		byIndex[q.Index] = q
	}

	results := make([]core.ValidationResult, 0, len(req.Answers))
	for _, a := range req.Answers {
		q, ok := byIndex[a.QuestionIndex]
		if !ok {
			results = append(results, core.ValidationResult{
				QuestionIndex: a.QuestionIndex,
				Score:         0,
				Feedback:      "no such question in this quiz",
			})
			continue
		}
		results = append(results, s.gradeOne(ctx, q, a.Answer))
	}

	if err := s.sessions.SaveValidation(ctx, req.QuizID, results); err != nil {
		s.log.Warn("persist validation failed", zap.String("quiz_id", req.QuizID), zap.Error(err))
	}
	return ValidationReport{
		QuizID:  req.QuizID,
		Results: results,
		Summary: Aggregate(results, len(quiz.Questions)),
	}, nil
}

func (s *Service) gradeOne(ctx context.Context, q core.QuizQuestion, answer string) core.ValidationResult {
	switch q.Type {
	case core.QuestionMCQ:
		correct := strings.EqualFold(strings.TrimSpace(answer), q.CorrectAnswer)
		score := 0
		if correct {
			score = 100
		}
		return core.ValidationResult{
			QuestionIndex: q.Index,
			Correct:       &correct,
			Score:         score,
			Feedback:      q.Explanation,
		}

	case core.QuestionOpenEnded:
		res, err := s.gradeOpenEnded(ctx, q, answer)
		if err != nil {
			s.log.Warn("open-ended grading failed",
				zap.Int("question_index", q.Index), zap.Error(err))
			return core.ValidationResult{
				QuestionIndex: q.Index,
				Score:         0,
				Feedback:      "grading failed for this question",
			}
		}
		return res
	}
	return core.ValidationResult{
		QuestionIndex: q.Index,
		Score:         0,
		Feedback:      "unknown question type",
	}
}

func (s *Service) gradeOpenEnded(ctx context.Context, q core.QuizQuestion, answer string) (core.ValidationResult, error) {
	raw, err := s.llm.CompleteJSON(ctx, gradeSystem, gradePrompt(q, answer))
	if err != nil {
		return core.ValidationResult{}, fmt.Errorf("%w: %v", core.ErrValidationScoring, err)
	}
	var out struct {
		Score         int      `json:"score"`
		Feedback      string   `json:"feedback"`
		CoveredPoints []string `json:"covered_points"`
		MissingPoints []string `json:"missing_points"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return core.ValidationResult{}, fmt.Errorf("%w: %v", core.ErrValidationScoring, err)
	}
	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 100 {
		out.Score = 100
	}
	return core.ValidationResult{
		QuestionIndex: q.Index,
		Score:         out.Score,
		Feedback:      out.Feedback,
		CoveredPoints: out.CoveredPoints,
		MissingPoints: out.MissingPoints,
	}, nil
}

// AggregateResult summarizes a graded quiz: the overall percentage across
// the whole question set, the strictly-correct MCQ tally, and how many
// questions were actually answered.
type AggregateResult struct {
	TotalScore    int `json:"total_score"`
	CorrectCount  int `json:"correct_count"`
	AnsweredCount int `json:"answered_count"`
	QuestionCount int `json:"question_count"`
}

// Aggregate is a pure function of the per-question results: summed scores
// over 100 per question across the quiz's full question count, so an
// unanswered question scores zero. Recomputable from persisted results
// without any model call.
func Aggregate(results []core.ValidationResult, questionCount int) AggregateResult {
	if questionCount < len(results) {
		questionCount = len(results)
	}
	if questionCount == 0 {
		return AggregateResult{}
	}
	sum := 0
	correct := 0
	for _, r := range results {
		sum += r.Score
		if r.Correct != nil && *r.Correct {
			correct++
		}
	}
	return AggregateResult{
		TotalScore:    int(math.Round(float64(sum) / float64(questionCount))),
		CorrectCount:  correct,
		AnsweredCount: len(results),
		QuestionCount: questionCount,
	}
}
