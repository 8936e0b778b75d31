package processors

import (
	"context"

	"courseTutor/core"
)

// Transcriber produces ordered timestamped segments for an audio file.
// Ingestion accepts either a pre-made transcript or an audio path routed
// through this boundary.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]core.Segment, error)
}
