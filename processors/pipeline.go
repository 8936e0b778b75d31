package processors

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"courseTutor/core"
)

// IngestRequest carries one video into the pipeline. Either Segments or
// AudioPath must be set; segments win when both are present.
type IngestRequest struct {
	Video     core.Video     `json:"video"`
	Segments  []core.Segment `json:"segments,omitempty"`
	AudioPath string         `json:"audio_path,omitempty"`
}

// Pipeline is the ingestion entry point: transcribe when needed, then chunk
// and index.
type Pipeline struct {
	transcriber Transcriber
	indexer     *Indexer
	log         *zap.Logger
}

func NewPipeline(transcriber Transcriber, indexer *Indexer, log *zap.Logger) *Pipeline {
	return &Pipeline{transcriber: transcriber, indexer: indexer, log: log}
}

func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (core.IndexResult, error) {
	if req.Video.ID == "" {
		return core.IndexResult{}, fmt.Errorf("%w: video id is required", core.ErrMalformedTranscript)
	}

	segments := req.Segments
	if len(segments) == 0 {
		if req.AudioPath == "" {
			return core.IndexResult{}, fmt.Errorf("%w: neither segments nor audio path provided", core.ErrMalformedTranscript)
		}
		var err error
		segments, err = p.transcriber.Transcribe(ctx, req.AudioPath)
		if err != nil {
			return core.IndexResult{}, err
		}
	}

	p.log.Info("ingesting video",
		zap.String("video_id", req.Video.ID),
		zap.Int("segments", len(segments)))
	return p.indexer.Index(ctx, req.Video, segments)
}
