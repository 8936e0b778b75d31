package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Stream) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func TestStreamOrderedDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewStream(16)

	require.NoError(t, s.Send(ctx, ProgressEvent{Message: "working"}))
	require.NoError(t, s.Send(ctx, MetadataEvent{}))
	require.NoError(t, s.Send(ctx, TokenEvent{Content: "a"}))
	require.NoError(t, s.Send(ctx, TokenEvent{Content: "b"}))
	require.NoError(t, s.Send(ctx, SourcesEvent{}))
	require.NoError(t, s.Send(ctx, DoneEvent{Content: "ab"}))

	events := drain(s)
	require.Len(t, events, 6)
	assert.Equal(t, EventProgress, events[0].Type())
	assert.Equal(t, EventDone, events[5].Type())
}

func TestStreamRejectsProgressAfterTokens(t *testing.T) {
	ctx := context.Background()
	s := NewStream(16)

	require.NoError(t, s.Send(ctx, TokenEvent{Content: "a"}))
	err := s.Send(ctx, ProgressEvent{Message: "late"})
	assert.ErrorIs(t, err, ErrEventOutOfOrder)

	err = s.Send(ctx, MetadataEvent{})
	assert.ErrorIs(t, err, ErrEventOutOfOrder)
}

func TestStreamNothingAfterTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewStream(16)

	require.NoError(t, s.Send(ctx, DoneEvent{Content: "done"}))

	assert.ErrorIs(t, s.Send(ctx, TokenEvent{Content: "x"}), ErrStreamTerminated)
	assert.ErrorIs(t, s.Send(ctx, ErrorEvent{Message: "x"}), ErrStreamTerminated)

	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type())
}

func TestStreamCachedIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewStream(16)

	require.NoError(t, s.Send(ctx, CachedEvent{Content: "cached"}))
	assert.ErrorIs(t, s.Send(ctx, TokenEvent{Content: "x"}), ErrStreamTerminated)

	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventCached, events[0].Type())
}

func TestStreamFailAfterTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewStream(16)

	require.NoError(t, s.Send(ctx, DoneEvent{}))
	s.Fail(ctx, "too late")

	events := drain(s)
	require.Len(t, events, 1)
}

func TestStreamSendRespectsCancelledContext(t *testing.T) {
	s := NewStream(0) // unbuffered, no consumer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, TokenEvent{Content: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamCancelledSendTerminates(t *testing.T) {
	s := NewStream(16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a producer bailing out on a failed non-terminal send must still leave
	// the channel closed for the consumer
	require.ErrorIs(t, s.Send(ctx, ProgressEvent{Message: "searching"}), context.Canceled)
	assert.ErrorIs(t, s.Send(context.Background(), TokenEvent{Content: "x"}), ErrStreamTerminated)

	done := make(chan struct{})
	go func() {
		drain(s)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream never closed after cancelled send")
	}
}

func TestStreamCloseReleasesConsumer(t *testing.T) {
	ctx := context.Background()
	s := NewStream(16)
	require.NoError(t, s.Send(ctx, ProgressEvent{Message: "working"}))

	s.Close()
	s.Close()

	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventProgress, events[0].Type())
	assert.ErrorIs(t, s.Send(ctx, DoneEvent{}), ErrStreamTerminated)
}
