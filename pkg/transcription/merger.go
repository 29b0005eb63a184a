package transcription

import (
	"math"
	"sort"
	"strings"
)

// chunkRelativeSlack is the tolerance, in seconds, when deciding whether a
// model-reported timestamp is chunk-relative. Models are prompted to return
// session-relative times but occasionally regress to chunk-relative; a time
// more than this far below the chunk's start is implausible as a
// session-relative value and gets the chunk start added back.
const chunkRelativeSlack = 5.0

// ChunkResult pairs one chunk's position in the session with the raw segments
// the model returned for it.
type ChunkResult struct {
	// StartSeconds is the chunk's offset from the start of the full session.
	StartSeconds float64

	// Segments is the model output for this chunk, unmodified.
	Segments []RawSegment
}

// Merge combines per-chunk model results into a single chronological segment
// list. For every segment it repairs chunk-relative timestamps, clamps to
// ≥ 0, rounds to the nearest whole second, drops blank-text segments, and
// finally sorts ascending by timestamp. The sort is stable, so segments with
// equal timestamps keep their input order.
//
// Merge is pure: calling it twice over the same results yields identical
// output regardless of chunk retries or reordering upstream.
func Merge(results []ChunkResult) []Segment {
	var merged []Segment
	for _, r := range results {
		for _, raw := range r.Segments {
			text := strings.TrimSpace(raw.Text)
			if text == "" {
				continue
			}

			t := raw.TimeSeconds
			if t < r.StartSeconds-chunkRelativeSlack {
				// Implausibly small for this chunk's position: the model
				// returned a chunk-relative time.
				t += r.StartSeconds
			}
			if t < 0 {
				t = 0
			}

			merged = append(merged, Segment{
				TimeSeconds: int(math.Round(t)),
				Text:        text,
				Speaker:     strings.TrimSpace(raw.Speaker),
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].TimeSeconds < merged[j].TimeSeconds
	})
	return merged
}
