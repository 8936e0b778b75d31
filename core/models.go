package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ========== Ingestion ==========

// Segment is one timestamped span of transcript text as returned by the
// transcription service. Sub-segment timing is unknown.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Video struct {
	ID       string  `json:"video_id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
	Chapter  string  `json:"chapter,omitempty"`
}

// Chunk is the atomic retrieval unit: a merged window of transcript
// segments with a stable identifier shared by the lexical and vector stores.
type Chunk struct {
	ID      string  `json:"chunk_id"`
	VideoID string  `json:"video_id"`
	Index   int     `json:"index"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Hash    string  `json:"hash"`
}

// ContentHash derives the stable chunk identifier input. Identical content
// at the same position re-ingests to the same id.
func ContentHash(videoID string, index int, start, end float64, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%.3f|%.3f|%s", videoID, index, start, end, text)))
	return hex.EncodeToString(sum[:])
}

type IndexResult struct {
	VideoID    string `json:"video_id"`
	ChunkCount int    `json:"chunk_count"`
}

// ========== Retrieval ==========

// Scope restricts a search to a chapter and/or a set of videos. The zero
// value means corpus-wide.
type Scope struct {
	VideoIDs []string `json:"video_ids,omitempty"`
	Chapter  string   `json:"chapter,omitempty"`
}

func (s Scope) Empty() bool {
	return len(s.VideoIDs) == 0 && s.Chapter == ""
}

// Hit is one store result: chunk content plus the video metadata it was
// indexed with, and the store-specific score.
type Hit struct {
	ChunkID    string  `json:"chunk_id"`
	VideoID    string  `json:"video_id"`
	VideoTitle string  `json:"video_title"`
	VideoURL   string  `json:"video_url"`
	Chapter    string  `json:"chapter,omitempty"`
	Index      int     `json:"index"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// RetrievalCandidate exists only within one query's lifetime; it is never
// persisted.
type RetrievalCandidate struct {
	Hit
	LexicalScore float64 `json:"lexical_score"`
	VectorScore  float64 `json:"vector_score"`
	FusedScore   float64 `json:"fused_score"`
	RerankScore  float64 `json:"rerank_score"`
	// Reranked reports whether RerankScore replaced FusedScore as the sort key.
	Reranked bool `json:"reranked"`
}

// SourceReference is the citation unit exposed to clients. Index is 1-based
// and stable for the lifetime of one answer.
type SourceReference struct {
	Index      int     `json:"index"`
	VideoID    string  `json:"video_id"`
	VideoTitle string  `json:"video_title"`
	VideoURL   string  `json:"video_url"`
	Chapter    string  `json:"chapter,omitempty"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

type VideoInfo struct {
	VideoID         string  `json:"video_id"`
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	Chapter         string  `json:"chapter,omitempty"`
	Duration        string  `json:"duration"`
	DurationSeconds float64 `json:"duration_seconds"`
	NumChunks       int     `json:"num_chunks"`
}

// ========== Sessions ==========

type TaskType string

const (
	TaskQA      TaskType = "qa"
	TaskSummary TaskType = "video_summary"
	TaskQuiz    TaskType = "quiz"
)

type Session struct {
	ID        string    `json:"id"`
	TaskType  TaskType  `json:"task_type"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"` // user, assistant
	Content   string            `json:"content"`
	Sources   []SourceReference `json:"sources,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ========== Quizzes ==========

type QuestionType string

const (
	QuestionMCQ       QuestionType = "mcq"
	QuestionOpenEnded QuestionType = "open_ended"
)

// QuestionPolicy selects the question-type mix for one generated quiz.
type QuestionPolicy string

const (
	PolicyMCQ       QuestionPolicy = "mcq"
	PolicyOpenEnded QuestionPolicy = "open_ended"
	PolicyMixed     QuestionPolicy = "mixed"
)

type Quiz struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id,omitempty"`
	VideoIDs     []string       `json:"video_ids"`
	Policy       QuestionPolicy `json:"policy"`
	Questions    []QuizQuestion `json:"questions"`
	RequestedNum int            `json:"requested_num"`
	GeneratedNum int            `json:"generated_num"`
	CreatedAt    time.Time      `json:"created_at"`
}

// QuizQuestion always carries provenance back to the chunk it was generated
// from. Index is dense from 0 in final-batch order and is the only
// identifier validation needs.
type QuizQuestion struct {
	Index           int               `json:"index"`
	Type            QuestionType      `json:"type"`
	Prompt          string            `json:"question"`
	Options         map[string]string `json:"options,omitempty"`
	CorrectAnswer   string            `json:"correct_answer,omitempty"`
	ReferenceAnswer string            `json:"reference_answer,omitempty"`
	KeyPoints       []string          `json:"key_points,omitempty"`
	Explanation     string            `json:"explanation,omitempty"`
	SourceVideoID   string            `json:"source_video_id"`
	SourceStart     float64           `json:"source_start"`
	SourceEnd       float64           `json:"source_end"`
	SourceText      string            `json:"source_text,omitempty"`
}

// ValidationResult is the per-question outcome. MCQ is strictly binary,
// open-ended carries a 0-100 score with covered/missing key points.
type ValidationResult struct {
	QuestionIndex int      `json:"question_index"`
	Correct       *bool    `json:"correct,omitempty"`
	Score         int      `json:"score"`
	Feedback      string   `json:"feedback,omitempty"`
	CoveredPoints []string `json:"covered_points,omitempty"`
	MissingPoints []string `json:"missing_points,omitempty"`
}

// ========== Summary cache ==========

type SummaryType string

const (
	SummaryDetailed SummaryType = "detailed"
	SummaryQuick    SummaryType = "quick"
)

type SummaryEntry struct {
	VideoID   string            `json:"video_id"`
	Type      SummaryType       `json:"summary_type"`
	Content   string            `json:"content"`
	Sources   []SourceReference `json:"sources,omitempty"`
	VideoInfo VideoInfo         `json:"video_info"`
	CreatedAt time.Time         `json:"created_at"`
}
