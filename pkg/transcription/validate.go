package transcription

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validation thresholds for degenerate model output.
const (
	// maxConsecutiveWordRepeats is the run length of one normalized word at
	// which a response is rejected as catastrophic repetition.
	maxConsecutiveWordRepeats = 5

	// duplicateSentenceRatio is the fraction of sentence-like pieces (longer
	// than minSentenceLength) that may be duplicates before rejection.
	duplicateSentenceRatio = 0.5

	// minSentenceLength filters out short interjections ("Yes.", "Okay.")
	// that legitimately repeat during a session.
	minSentenceLength = 20
)

// ResponseMeta carries the response-shaping metadata a provider reports
// alongside the raw response text.
type ResponseMeta struct {
	// FinishReason is the provider's stated reason generation stopped.
	// Normalized values the validator recognises: "stop", "max_tokens".
	// Anything else is treated as unusual and produces a warning.
	FinishReason string

	// PromptTokens is the input size in the provider's token unit.
	PromptTokens int

	// ThoughtTokens is the reasoning-token usage, when the provider reports it.
	ThoughtTokens int
}

// Validate applies the strict acceptance checks to a raw model response
// before it may be parsed: truncated generation, truncated JSON, and
// catastrophic repetition are rejected. Unusual-but-not-fatal conditions
// (odd finish reason, outsized reasoning-token usage) are returned as
// warnings for the caller to log.
func Validate(raw string, meta ResponseMeta) (warnings []string, err error) {
	switch strings.ToLower(meta.FinishReason) {
	case "max_tokens", "length":
		return nil, fmt.Errorf("%w: finish reason %q", ErrResponseTruncated, meta.FinishReason)
	case "stop", "":
		// Normal completion.
	default:
		warnings = append(warnings, fmt.Sprintf("unusual finish reason %q", meta.FinishReason))
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !strings.HasSuffix(trimmed, "}") {
		return warnings, fmt.Errorf("%w: response does not end with a closing brace", ErrResponseTruncated)
	}

	if reason, degenerate := detectRepetition(trimmed); degenerate {
		return warnings, fmt.Errorf("%w: %s", ErrCatastrophicRepetition, reason)
	}

	// Reasoning-token usage exceeding the input size is a quality signal:
	// the model spent more effort thinking than listening.
	if meta.PromptTokens > 0 && meta.ThoughtTokens > meta.PromptTokens {
		warnings = append(warnings, fmt.Sprintf(
			"reasoning tokens (%d) exceed prompt tokens (%d)", meta.ThoughtTokens, meta.PromptTokens))
	}

	return warnings, nil
}

// Decode parses a validated raw response into [ModelOutput]. It understands
// both the success document ({"segments": [...]}) and the structured failure
// document ({"error": CODE, "message": ...}), mapping the latter onto the
// error taxonomy. A parsed document with no usable segments is rejected with
// [ErrNoValidSpeechContent].
func Decode(raw string) (ModelOutput, error) {
	raw = strings.TrimSpace(raw)

	var failure modelFailure
	if err := json.Unmarshal([]byte(raw), &failure); err == nil && failure.Error != "" {
		return ModelOutput{}, errorForCode(failure.Error, failure.Message)
	}

	var out ModelOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ModelOutput{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Segments) == 0 {
		return ModelOutput{}, fmt.Errorf("%w: empty segment list", ErrNoValidSpeechContent)
	}

	anyText := false
	for _, s := range out.Segments {
		if strings.TrimSpace(s.Text) != "" {
			anyText = true
			break
		}
	}
	if !anyText {
		return ModelOutput{}, fmt.Errorf("%w: every segment text is blank", ErrNoValidSpeechContent)
	}
	return out, nil
}

// detectRepetition scans text for the two degenerate-output pathologies:
// a single normalized word repeated maxConsecutiveWordRepeats or more times
// in a row, or more than duplicateSentenceRatio of the sentence-like pieces
// being duplicates of each other.
func detectRepetition(text string) (reason string, degenerate bool) {
	words := strings.Fields(text)
	run := 0
	prev := ""
	for _, w := range words {
		norm := normalizeWord(w)
		if norm == "" {
			continue
		}
		if norm == prev {
			run++
			if run >= maxConsecutiveWordRepeats {
				return fmt.Sprintf("word %q repeated %d+ times consecutively", prev, run), true
			}
		} else {
			prev = norm
			run = 1
		}
	}

	sentences := splitSentences(text)
	long := 0
	seen := make(map[string]bool)
	dupes := 0
	for _, s := range sentences {
		if len(s) <= minSentenceLength {
			continue
		}
		long++
		key := strings.ToLower(s)
		if seen[key] {
			dupes++
		}
		seen[key] = true
	}
	if long > 1 && float64(dupes)/float64(long) > duplicateSentenceRatio {
		return fmt.Sprintf("%d of %d long sentences are duplicates", dupes, long), true
	}

	return "", false
}

// normalizeWord lowercases a token and strips surrounding punctuation so
// "The," and "the" count as the same word in the run detector.
func normalizeWord(w string) string {
	return strings.Trim(strings.ToLower(w), ".,!?;:\"'()[]{}")
}

// splitSentences breaks text on sentence-ending punctuation. A lightweight
// split is sufficient here; the detector only needs rough sentence pieces.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			piece := strings.TrimSpace(text[start:i])
			if piece != "" {
				out = append(out, piece)
			}
			start = i + 1
		}
	}
	if piece := strings.TrimSpace(text[start:]); piece != "" {
		out = append(out, piece)
	}
	return out
}
