package processors

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"courseTutor/core"
)

// ChunkOptions control transcript windowing.
type ChunkOptions struct {
	// TargetSeconds is the duration a chunk accumulates before closing.
	TargetSeconds float64
	// OverlapSeconds rewinds the next chunk's start behind the previous
	// chunk's end, so adjacent chunks share trailing segments for recall.
	OverlapSeconds float64
	// MinTailSeconds: a trailing remainder shorter than this is merged into
	// the previous chunk instead of standing alone.
	MinTailSeconds float64
}

var chunkNamespace = uuid.MustParse("9f2c1c1e-5b62-47e0-93a8-6a2f6f2b4c11")

// ChunkTranscript merges consecutive timestamped segments into retrieval
// chunks. A single segment longer than the target becomes its own chunk
// unsplit: sub-segment timing is unknown, so splitting mid-segment would
// fabricate timestamps.
func ChunkTranscript(videoID string, segments []core.Segment, opts ChunkOptions) ([]core.Chunk, error) {
	if err := validateSegments(segments); err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, nil
	}

	// spans are inclusive segment index ranges; overlap makes adjacent
	// spans share their boundary segments.
	type span struct{ a, b int }
	var spans []span

	a := 0
	for i, s := range segments {
		if i == a {
			continue
		}
		if s.End-segments[a].Start <= opts.TargetSeconds {
			continue
		}
		spans = append(spans, span{a, i - 1})

		overlapStart := segments[i-1].End - opts.OverlapSeconds
		next := i
		for j := i - 1; j > a; j-- {
			if segments[j].End <= overlapStart {
				break
			}
			next = j
		}
		a = next
	}
	spans = append(spans, span{a, len(segments) - 1})

	// merge a near-empty tail into the previous chunk
	if n := len(spans); n >= 2 {
		last := spans[n-1]
		if segments[last.b].End-segments[last.a].Start < opts.MinTailSeconds {
			spans[n-2].b = last.b
			spans = spans[:n-1]
		}
	}

	chunks := make([]core.Chunk, 0, len(spans))
	for idx, sp := range spans {
		var parts []string
		for j := sp.a; j <= sp.b; j++ {
			parts = append(parts, strings.TrimSpace(segments[j].Text))
		}
		start := segments[sp.a].Start
		end := segments[sp.b].End
		text := strings.Join(parts, " ")
		hash := core.ContentHash(videoID, idx, start, end, text)
		chunks = append(chunks, core.Chunk{
			ID:      uuid.NewSHA1(chunkNamespace, []byte(hash)).String(),
			VideoID: videoID,
			Index:   idx,
			Start:   start,
			End:     end,
			Text:    text,
			Hash:    hash,
		})
	}
	return chunks, nil
}

func validateSegments(segments []core.Segment) error {
	for i, s := range segments {
		if s.Start < 0 {
			return fmt.Errorf("%w: segment %d has negative start %.3f", core.ErrMalformedTranscript, i, s.Start)
		}
		if s.End <= s.Start {
			return fmt.Errorf("%w: segment %d has non-positive span [%.3f, %.3f]", core.ErrMalformedTranscript, i, s.Start, s.End)
		}
		if i > 0 && s.Start < segments[i-1].Start {
			return fmt.Errorf("%w: segment %d starts before segment %d", core.ErrMalformedTranscript, i, i-1)
		}
	}
	return nil
}
