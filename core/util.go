package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
)

// FormatTime renders seconds as MM:SS for prompts and video info.
func FormatTime(seconds float64) string {
	minutes := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

func NewID() string {
	return uuid.NewString()
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write json error: %v", err)
	}
}

// Snippet truncates chunk text for source references.
func Snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' {
			return cut[:i] + "..."
		}
	}
	return cut + "..."
}

// BuildVideoInfo derives video metadata from an ordered chunk set.
func BuildVideoInfo(hits []Hit) VideoInfo {
	if len(hits) == 0 {
		return VideoInfo{}
	}
	first, last := hits[0], hits[len(hits)-1]
	dur := last.End - first.Start
	if dur < 0 {
		dur = 0
	}
	return VideoInfo{
		VideoID:         first.VideoID,
		Title:           first.VideoTitle,
		URL:             first.VideoURL,
		Chapter:         first.Chapter,
		Duration:        FormatTime(dur),
		DurationSeconds: dur,
		NumChunks:       len(hits),
	}
}
