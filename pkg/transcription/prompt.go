package transcription

import (
	"fmt"
	"strings"
)

// basePrompt is the instruction sent with every transcription request.
// The output contract (segments JSON, session-relative timestamps, speaker
// labels) is stated here and reinforced per-chunk by [ChunkContext].
const basePrompt = `Transcribe this tabletop role-playing session recording.

Return a JSON object of the form {"segments": [{"timeSeconds": <number>, "text": <string>, "speaker": <string, optional>}]}.
Rules:
- timeSeconds is the offset from the start of the FULL SESSION recording, in seconds.
- Label speakers where you can distinguish them (e.g. "GM", "Player 1", or a character name).
- Transcribe speech faithfully, including in-character dialogue and dice-roll announcements.
- Do not summarise, do not invent content, do not repeat yourself.
If the audio contains no speech, return {"error": "NO_AUDIO_DETECTED", "message": <string>}.
If the audio cannot be decoded, return {"error": "AUDIO_CORRUPTED", "message": <string>}.`

// ChunkContext describes one chunk's position within the full session, used
// to extend the prompt so the model anchors its timestamps correctly.
type ChunkContext struct {
	// Index is the zero-based chunk ordinal.
	Index int

	// Total is the number of chunks in the session.
	Total int

	// StartSeconds and EndSeconds bound the chunk within the full recording.
	StartSeconds float64
	EndSeconds   float64
}

// Prompt builds the transcription instruction for a single-shot request.
// vocabulary lists campaign proper nouns (character, place, and item names)
// the model should spell correctly; it may be empty.
func Prompt(vocabulary []string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	if len(vocabulary) > 0 {
		sb.WriteString("\nNames that appear in this campaign: ")
		sb.WriteString(strings.Join(vocabulary, ", "))
		sb.WriteByte('.')
	}
	return sb.String()
}

// ChunkPrompt builds the instruction for one chunk of a chunked request,
// appending the chunk-position context to [Prompt].
func ChunkPrompt(vocabulary []string, cctx ChunkContext) string {
	return fmt.Sprintf(
		"%s\n\nThis audio is chunk %d of %d, covering %.0f–%.0f seconds of the full session. "+
			"All timestamps must be relative to the full session start, NOT to the start of this chunk.",
		Prompt(vocabulary), cctx.Index+1, cctx.Total, cctx.StartSeconds, cctx.EndSeconds)
}
