// Package transcription defines the shared domain types of the tavernlog
// transcription pipeline: model output segments, the normalized final
// transcript, the error taxonomy for failed chunks, response validation, and
// the merge logic that reassembles per-chunk results into one chronological
// transcript.
//
// These types form the lingua franca between the audio segmenter, the model
// providers, the ledger, and the orchestrator. Provider packages depend on
// this package, never the other way around.
package transcription

import (
	"fmt"
	"strings"
)

// RawSegment is one utterance as returned by the generative model. Times may
// be fractional and, when the model drifts from its prompt contract, may be
// chunk-relative rather than session-relative; [Merge] repairs both.
type RawSegment struct {
	// TimeSeconds is the utterance start offset as reported by the model.
	TimeSeconds float64 `json:"timeSeconds"`

	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Speaker is an optional speaker label (player name, "GM", etc.).
	Speaker string `json:"speaker,omitempty"`
}

// ModelOutput is the JSON document the model is instructed to emit on success.
type ModelOutput struct {
	Segments []RawSegment `json:"segments"`
}

// modelFailure is the alternative JSON document the model emits when it
// cannot transcribe the audio at all.
type modelFailure struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Segment is a normalized transcript segment: the timestamp is
// session-relative, non-negative, and rounded to whole seconds, and the text
// is non-empty after trimming.
type Segment struct {
	// TimeSeconds is the utterance start, in whole seconds from the start of
	// the full session recording.
	TimeSeconds int `json:"timeSeconds"`

	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Speaker is an optional speaker label.
	Speaker string `json:"speaker,omitempty"`
}

// Result is the final normalized transcription artifact: the ordered segment
// list plus a flattened human-readable transcript.
type Result struct {
	// Segments is sorted ascending by TimeSeconds.
	Segments []Segment `json:"segments"`

	// RawTranscript is one "[mm:ss] text" line per segment, in segment order.
	RawTranscript string `json:"rawTranscript"`
}

// NewResult builds a [Result] from already-merged segments, rendering the
// flattened transcript string.
func NewResult(segments []Segment) Result {
	var sb strings.Builder
	for i, s := range segments {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(FormatTimestamp(s.TimeSeconds))
		sb.WriteByte(' ')
		if s.Speaker != "" {
			sb.WriteString(s.Speaker)
			sb.WriteString(": ")
		}
		sb.WriteString(s.Text)
	}
	return Result{Segments: segments, RawTranscript: sb.String()}
}

// FormatTimestamp renders a whole-second offset as "[mm:ss]". Minutes are not
// wrapped at the hour ("[75:04]" for 4504s) so lines sort and read naturally
// for multi-hour sessions.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("[%02d:%02d]", seconds/60, seconds%60)
}
