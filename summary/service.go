// Package summary generates and caches per-video summaries. Entries never
// expire; re-ingestion of a video purges them.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/storage"
)

type Streamer interface {
	Stream(ctx context.Context, system, prompt string, onToken func(string) error) (string, error)
}

// ChunkReader serves a video's ordered chunk set.
type ChunkReader interface {
	VideoChunks(ctx context.Context, videoID string, limit int) ([]core.Hit, error)
}

type Service struct {
	chunks ChunkReader
	llm    Streamer
	cache  storage.SummaryCache
	locks  *storage.VideoLocks
	cfg    *config.Config
	log    *zap.Logger
}

func NewService(chunks ChunkReader, llm Streamer, cache storage.SummaryCache,
	locks *storage.VideoLocks, cfg *config.Config, log *zap.Logger) *Service {
	return &Service{chunks: chunks, llm: llm, cache: cache, locks: locks, cfg: cfg, log: log}
}

const detailedSystem = `You summarize lecture videos for students reviewing course material.
Write a structured summary with timestamped sections using the MM:SS markers from the transcript.
Cover every major topic in order. Use only the transcript provided.`

const quickSystem = `You summarize lecture videos for students deciding what to watch.
Write a short overview, at most three paragraphs, of what the video covers. Use only the transcript provided.`

// Summarize streams a summary for one video. A cache hit terminates with a
// single cached event and generates nothing; a miss generates, caches, and
// terminates with done. force skips the cache read and overwrites the entry.
// The stream always ends with exactly one terminal event.
func (s *Service) Summarize(ctx context.Context, stream *core.Stream, videoID string, typ core.SummaryType, force bool) {
	if typ == "" {
		typ = core.SummaryDetailed
	}

	if entry, ok := s.cache.Get(ctx, videoID, typ); ok && !force {
		_ = stream.Send(ctx, core.CachedEvent{
			Content:   entry.Content,
			Sources:   entry.Sources,
			VideoInfo: entry.VideoInfo,
		})
		return
	}

	if err := stream.Send(ctx, core.ProgressEvent{Message: "reading transcript"}); err != nil {
		return
	}

	s.locks.RLock(videoID)
	hits, err := s.chunks.VideoChunks(ctx, videoID, s.cfg.MaxSummaryChunks)
	s.locks.RUnlock(videoID)
	if err != nil {
		s.log.Error("read chunks failed", zap.String("video_id", videoID), zap.Error(err))
		stream.Fail(ctx, "could not read video transcript")
		return
	}
	if len(hits) == 0 {
		stream.Fail(ctx, "video not found")
		return
	}

	info := core.BuildVideoInfo(hits)
	if err := stream.Send(ctx, core.MetadataEvent{VideoInfo: info}); err != nil {
		return
	}

	system := detailedSystem
	if typ == core.SummaryQuick {
		system = quickSystem
	}
	content, err := s.llm.Stream(ctx, system, buildTranscriptPrompt(info, hits), func(token string) error {
		return stream.Send(ctx, core.TokenEvent{Content: token})
	})
	if err != nil {
		s.log.Error("summary generation failed", zap.String("video_id", videoID), zap.Error(err))
		stream.Fail(ctx, "summary generation failed")
		return
	}

	entry := core.SummaryEntry{
		VideoID:   videoID,
		Type:      typ,
		Content:   content,
		VideoInfo: info,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.cache.Put(ctx, entry); err != nil {
		s.log.Warn("summary cache write failed", zap.String("video_id", videoID), zap.Error(err))
	}

	_ = stream.Send(ctx, core.DoneEvent{Content: content})
}

func buildTranscriptPrompt(info core.VideoInfo, hits []core.Hit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Video: %s (duration %s)\n\nTranscript:\n\n", info.Title, info.Duration)
	for _, h := range hits {
		fmt.Fprintf(&sb, "[%s - %s] %s\n", core.FormatTime(h.Start), core.FormatTime(h.End), h.Text)
	}
	return sb.String()
}
