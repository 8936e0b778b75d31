package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"courseTutor/core"
)

// streamSSE runs produce in a goroutine and forwards its events to the
// client as server-sent events, one frame per event. The client going away
// cancels the request context, which stops the producer; whatever was
// already flushed stays delivered.
func streamSSE(w http.ResponseWriter, r *http.Request, log *zap.Logger,
	produce func(ctx context.Context, stream *core.Stream)) {

	flusher, ok := w.(http.Flusher)
	if !ok {
		core.WriteJSON(w, http.StatusInternalServerError,
			map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	stream := core.NewStream(16)
	go func() {
		defer stream.Close()
		produce(ctx, stream)
	}()

	for ev := range stream.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error("marshal event failed", zap.String("type", string(ev.Type())), zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), data)
		flusher.Flush()
	}
}
