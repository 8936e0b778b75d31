// Package qa turns retrieved chunks into grounded streaming answers with
// inline citations.
package qa

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/rag"
	"courseTutor/storage"
)

// Streamer is the token-streaming generation call.
type Streamer interface {
	Stream(ctx context.Context, system, prompt string, onToken func(string) error) (string, error)
}

// Synthesizer answers questions over the indexed corpus. Tokens stream as
// generated; the terminal event carries the full answer with citations
// renumbered to first-appearance order and only the sources actually cited.
type Synthesizer struct {
	retriever *rag.Retriever
	reranker  *rag.Reranker
	llm       Streamer
	sessions  storage.SessionStore
	cfg       *config.Config
	log       *zap.Logger
}

func NewSynthesizer(retriever *rag.Retriever, reranker *rag.Reranker, llm Streamer,
	sessions storage.SessionStore, cfg *config.Config, log *zap.Logger) *Synthesizer {
	return &Synthesizer{
		retriever: retriever,
		reranker:  reranker,
		llm:       llm,
		sessions:  sessions,
		cfg:       cfg,
		log:       log,
	}
}

// AskRequest is one question. A non-empty SessionID makes this a follow-up:
// prior turns are included in the prompt and the exchange is appended to the
// session.
type AskRequest struct {
	Query     string     `json:"query"`
	Scope     core.Scope `json:"scope"`
	SessionID string     `json:"session_id,omitempty"`
}

// Ask runs retrieve, rerank, generate and streams events into stream. The
// stream always ends with exactly one terminal event. The exchange is
// persisted only after a successful answer; partial output is never written.
func (s *Synthesizer) Ask(ctx context.Context, stream *core.Stream, req AskRequest) {
	if err := stream.Send(ctx, core.ProgressEvent{Message: "searching course material"}); err != nil {
		return
	}

	var history []core.Message
	if req.SessionID != "" {
		if _, err := s.sessions.GetSession(ctx, req.SessionID); err != nil {
			stream.Fail(ctx, "session not found")
			return
		}
		var err error
		history, err = s.sessions.History(ctx, req.SessionID, 0)
		if err != nil {
			stream.Fail(ctx, "could not load conversation history")
			return
		}
	}

	candidates, err := s.retriever.Retrieve(ctx, req.Query, req.Scope)
	if err != nil {
		s.log.Error("retrieval failed", zap.Error(err))
		stream.Fail(ctx, retrievalErrMessage(err))
		return
	}
	if len(candidates) == 0 {
		_ = stream.Send(ctx, core.DoneEvent{
			Content:   "I could not find anything in the course material about that.",
			SessionID: req.SessionID,
		})
		return
	}

	candidates = s.reranker.Rerank(ctx, req.Query, candidates)
	sources := sourceReferences(candidates)

	prompt := buildAnswerPrompt(req.Query, candidates, history)
	answer, err := s.llm.Stream(ctx, answerSystem, prompt, func(token string) error {
		return stream.Send(ctx, core.TokenEvent{Content: token})
	})
	if err != nil {
		s.log.Error("generation failed", zap.Error(err))
		stream.Fail(ctx, generationErrMessage(err))
		return
	}

	remapped, cited := RemapCitations(answer, sources)

	sessionID := req.SessionID
	if sessionID != "" {
		now := time.Now().UTC()
		userMsg := core.Message{
			ID: core.NewID(), SessionID: sessionID, Role: "user",
			Content: req.Query, CreatedAt: now,
		}
		assistantMsg := core.Message{
			ID: core.NewID(), SessionID: sessionID, Role: "assistant",
			Content: remapped, Sources: cited, CreatedAt: now.Add(time.Millisecond),
		}
		if err := s.sessions.AppendMessage(ctx, userMsg); err != nil {
			s.log.Warn("persist user message failed", zap.Error(err))
		} else if err := s.sessions.AppendMessage(ctx, assistantMsg); err != nil {
			s.log.Warn("persist assistant message failed", zap.Error(err))
		}
	}

	if err := stream.Send(ctx, core.SourcesEvent{Sources: cited}); err != nil {
		return
	}
	_ = stream.Send(ctx, core.DoneEvent{
		Content:   remapped,
		Sources:   cited,
		SessionID: sessionID,
	})
}

// NewSession creates a conversation to anchor follow-up questions.
func (s *Synthesizer) NewSession(ctx context.Context, title string) (core.Session, error) {
	return s.sessions.CreateSession(ctx, core.TaskQA, title)
}

// History returns a session's transcript in order.
func (s *Synthesizer) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.History(ctx, sessionID, 0)
}

func sourceReferences(candidates []core.RetrievalCandidate) []core.SourceReference {
	refs := make([]core.SourceReference, len(candidates))
	for i, c := range candidates {
		// the exposed score matches whichever key produced the final order
		score := c.FusedScore
		if c.Reranked {
			score = c.RerankScore
		}
		refs[i] = core.SourceReference{
			Index:      i + 1,
			VideoID:    c.VideoID,
			VideoTitle: c.VideoTitle,
			VideoURL:   c.VideoURL,
			Chapter:    c.Chapter,
			Start:      c.Start,
			End:        c.End,
			Snippet:    core.Snippet(c.Text, 200),
			Score:      score,
		}
	}
	return refs
}

func retrievalErrMessage(err error) string {
	if errors.Is(err, core.ErrRetrievalConfig) {
		return "retrieval configuration error, check embedding model and index dimension"
	}
	if errors.Is(err, core.ErrEmbeddingUnavailable) {
		return "embedding service is unavailable, try again shortly"
	}
	return "search failed"
}

func generationErrMessage(err error) string {
	if errors.Is(err, core.ErrGenerationTimeout) {
		return "answer generation timed out"
	}
	return "answer generation failed"
}
