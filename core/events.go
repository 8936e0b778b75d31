package core

import (
	"context"
	"errors"
	"sync"
)

// EventType tags the closed set of stream event variants. Anything outside
// this set is rejected at the transport boundary.
type EventType string

const (
	EventProgress EventType = "progress"
	EventMetadata EventType = "metadata"
	EventToken    EventType = "token"
	EventSources  EventType = "sources"
	EventCached   EventType = "cached"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is the sealed variant interface. Each variant carries only the
// fields its kind requires; the transport marshals the variant as-is.
type Event interface {
	Type() EventType
}

type ProgressEvent struct {
	Message string `json:"message"`
}

type MetadataEvent struct {
	VideoInfo VideoInfo `json:"video_info"`
}

type TokenEvent struct {
	Content string `json:"content"`
}

type SourcesEvent struct {
	Sources []SourceReference `json:"sources"`
}

// CachedEvent is terminal: a cache hit carries the full text in one event
// and streams no tokens.
type CachedEvent struct {
	Content   string            `json:"content"`
	Sources   []SourceReference `json:"sources,omitempty"`
	VideoInfo VideoInfo         `json:"video_info"`
}

type DoneEvent struct {
	Content       string            `json:"content"`
	Sources       []SourceReference `json:"sources,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	QuizID        string            `json:"quiz_id,omitempty"`
	Questions     []QuizQuestion    `json:"questions,omitempty"`
	QuestionCount int               `json:"question_count,omitempty"`
	Requested     int               `json:"requested_count,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (ProgressEvent) Type() EventType { return EventProgress }
func (MetadataEvent) Type() EventType { return EventMetadata }
func (TokenEvent) Type() EventType    { return EventToken }
func (SourcesEvent) Type() EventType  { return EventSources }
func (CachedEvent) Type() EventType   { return EventCached }
func (DoneEvent) Type() EventType     { return EventDone }
func (ErrorEvent) Type() EventType    { return EventError }

func terminal(ev Event) bool {
	switch ev.Type() {
	case EventDone, EventError, EventCached:
		return true
	}
	return false
}

// ErrStreamTerminated is returned by Send after a terminal event.
var ErrStreamTerminated = errors.New("stream already terminated")

// ErrEventOutOfOrder is returned when an event violates the stream contract
// (metadata/progress first, then tokens, then exactly one terminal event).
var ErrEventOutOfOrder = errors.New("event out of order")

const (
	stagePreamble = iota
	stageTokens
	stageDone
)

// Stream is the single-producer, ordered event channel each request owns.
// The producer Sends typed events; the transport drains Events and forwards
// them to the client. Consumer-side cancellation propagates through ctx.
type Stream struct {
	ch        chan Event
	closeOnce sync.Once

	mu    sync.Mutex
	stage int
}

func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan Event, buffer)}
}

// Events is the consumer side. The channel is closed after the terminal
// event; nothing is ever delivered past it.
func (s *Stream) Events() <-chan Event { return s.ch }

// Send enforces the ordering contract and delivers ev, blocking on the next
// consumer slot unless ctx is cancelled. Sending after a terminal event
// fails; a progress or metadata event after the first token fails. A
// cancelled context terminates the stream so the consumer's drain loop
// always exits, even when the producer bails out without a terminal event.
func (s *Stream) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		s.Close()
		return err
	}

	s.mu.Lock()
	switch {
	case s.stage == stageDone:
		s.mu.Unlock()
		return ErrStreamTerminated
	case terminal(ev):
		s.stage = stageDone
	case ev.Type() == EventToken:
		s.stage = stageTokens
	case s.stage == stageTokens && ev.Type() != EventSources:
		// sources may trail tokens; progress/metadata may not
		s.mu.Unlock()
		return ErrEventOutOfOrder
	}
	done := s.stage == stageDone
	s.mu.Unlock()

	select {
	case s.ch <- ev:
		if done {
			s.closeOnce.Do(func() { close(s.ch) })
		}
		return nil
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// Close terminates the stream without an event and releases the consumer.
// Idempotent; safe after a terminal event. The transport defers it so the
// channel closes no matter how the producer returns.
func (s *Stream) Close() {
	s.mu.Lock()
	s.stage = stageDone
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.ch) })
}

// Fail terminates the stream with an error event carrying a human-readable
// message. Safe to call after the stream is already terminated.
func (s *Stream) Fail(ctx context.Context, msg string) {
	_ = s.Send(ctx, ErrorEvent{Message: msg})
}
