package quiz

import (
	"fmt"

	"courseTutor/core"
)

const mcqSystem = `You write one multiple-choice question testing understanding of a lecture excerpt.
Respond with JSON only, no other text:
{"question": "...", "options": {"A": "...", "B": "...", "C": "...", "D": "..."}, "correct_answer": "A", "explanation": "..."}
Exactly one option is correct. correct_answer is the option letter.`

const openSystem = `You write one open-ended question testing understanding of a lecture excerpt.
Respond with JSON only, no other text:
{"question": "...", "reference_answer": "...", "key_points": ["...", "..."]}
key_points are the 2-4 facts a complete answer must cover.`

const gradeSystem = `You grade a student's answer to an open-ended question against a reference answer and its key points.
Respond with JSON only, no other text:
{"score": 0-100, "feedback": "...", "covered_points": ["..."], "missing_points": ["..."]}
Score reflects how many key points the answer covers and how accurately.`

func questionPrompt(h core.Hit) string {
	return fmt.Sprintf("Lecture: %s\nExcerpt (%s - %s):\n%s",
		h.VideoTitle, core.FormatTime(h.Start), core.FormatTime(h.End), h.Text)
}

func gradePrompt(q core.QuizQuestion, answer string) string {
	return fmt.Sprintf(`Question: %s

Reference answer: %s

Key points: %v

Source excerpt:
%s

Student answer: %s`, q.Prompt, q.ReferenceAnswer, q.KeyPoints, q.SourceText, answer)
}
