package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"courseTutor/core"
	"courseTutor/processors"
	"courseTutor/qa"
	"courseTutor/quiz"
	"courseTutor/storage"
	"courseTutor/summary"
)

// Catalog lists what has been ingested.
type Catalog interface {
	ListVideos(ctx context.Context, chapter string) ([]core.Video, error)
	ListChapters(ctx context.Context) ([]string, error)
}

type Handlers struct {
	pipeline  *processors.Pipeline
	indexer   *processors.Indexer
	answers   *qa.Synthesizer
	summaries *summary.Service
	quizzes   *quiz.Service
	catalog   Catalog
	sessions  storage.SessionStore
	log       *zap.Logger
}

func NewHandlers(pipeline *processors.Pipeline, indexer *processors.Indexer,
	answers *qa.Synthesizer, summaries *summary.Service, quizzes *quiz.Service,
	catalog Catalog, sessions storage.SessionStore, log *zap.Logger) *Handlers {
	return &Handlers{
		pipeline:  pipeline,
		indexer:   indexer,
		answers:   answers,
		summaries: summaries,
		quizzes:   quizzes,
		catalog:   catalog,
		sessions:  sessions,
		log:       log,
	}
}

// Health probes the chunk store with a cheap read and reports per-component
// status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := map[string]string{"server": "ok", "store": "ok"}
	if _, err := h.catalog.ListChapters(r.Context()); err != nil {
		components["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	core.WriteJSON(w, status, map[string]any{
		"status":     statusWord(status),
		"components": components,
	})
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// ========== Ingestion ==========

func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	var req processors.IngestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.pipeline.Ingest(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, result)
}

func (h *Handlers) RemoveVideo(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["id"]
	if err := h.indexer.Remove(r.Context(), videoID); err != nil {
		h.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]string{"video_id": videoID, "status": "removed"})
}

// ========== Catalog ==========

func (h *Handlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.catalog.ListVideos(r.Context(), r.URL.Query().Get("chapter"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if videos == nil {
		videos = []core.Video{}
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func (h *Handlers) ListChapters(w http.ResponseWriter, r *http.Request) {
	chapters, err := h.catalog.ListChapters(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if chapters == nil {
		chapters = []string{}
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"chapters": chapters})
}

// ========== Q&A ==========

func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	var req qa.AskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	streamSSE(w, r, h.log, func(ctx context.Context, stream *core.Stream) {
		h.answers.Ask(ctx, stream, req)
	})
}

// FollowUp is Ask anchored to an existing session; the session is created
// here when the client has none yet.
func (h *Handlers) FollowUp(w http.ResponseWriter, r *http.Request) {
	var req qa.AskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.SessionID == "" {
		sess, err := h.answers.NewSession(r.Context(), core.Snippet(req.Query, 80))
		if err != nil {
			h.writeError(w, err)
			return
		}
		req.SessionID = sess.ID
	}
	streamSSE(w, r, h.log, func(ctx context.Context, stream *core.Stream) {
		h.answers.Ask(ctx, stream, req)
	})
}

func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	msgs, err := h.answers.History(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

// ========== Summaries ==========

func (h *Handlers) Summarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VideoID string           `json:"video_id"`
		Type    core.SummaryType `json:"summary_type"`
		Force   bool             `json:"force"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VideoID == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video_id is required"})
		return
	}
	streamSSE(w, r, h.log, func(ctx context.Context, stream *core.Stream) {
		h.summaries.Summarize(ctx, stream, req.VideoID, req.Type, req.Force)
	})
}

// ========== Quizzes ==========

func (h *Handlers) GenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req quiz.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	streamSSE(w, r, h.log, func(ctx context.Context, stream *core.Stream) {
		h.quizzes.Generate(ctx, stream, req)
	})
}

func (h *Handlers) GetQuiz(w http.ResponseWriter, r *http.Request) {
	q, err := h.quizzes.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, q)
}

func (h *Handlers) ValidateQuiz(w http.ResponseWriter, r *http.Request) {
	var req quiz.ValidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.QuizID == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "quiz_id is required"})
		return
	}
	report, err := h.quizzes.Validate(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, report)
}

// ========== helpers ==========

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrMalformedTranscript):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrRetrievalConfig):
		status = http.StatusInternalServerError
	case core.Retryable(err):
		status = http.StatusServiceUnavailable
	}
	h.log.Error("request failed", zap.Error(err))
	core.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
