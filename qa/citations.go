package qa

import (
	"fmt"
	"regexp"
	"strconv"

	"courseTutor/core"
)

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// RemapCitations renumbers inline [n] markers to first-appearance order and
// returns the rewritten text with the sources actually cited, reindexed to
// match. A marker pointing outside the source list is left literal and
// contributes no source. Uncited sources are dropped.
func RemapCitations(text string, sources []core.SourceReference) (string, []core.SourceReference) {
	remap := map[int]int{} // original index -> new index
	var kept []core.SourceReference

	out := citationRe.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n < 1 || n > len(sources) {
			return m
		}
		newIdx, ok := remap[n]
		if !ok {
			newIdx = len(kept) + 1
			remap[n] = newIdx
			src := sources[n-1]
			src.Index = newIdx
			kept = append(kept, src)
		}
		return fmt.Sprintf("[%d]", newIdx)
	})
	return out, kept
}
