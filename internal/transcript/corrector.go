package transcript

import (
	"strings"

	"github.com/tavernlog/tavernlog/pkg/transcription"
)

// Correction records one applied replacement.
type Correction struct {
	// SegmentIndex is the position of the affected segment in the result.
	SegmentIndex int `json:"segmentIndex"`

	// Original is the text as the model produced it.
	Original string `json:"original"`

	// Corrected is the canonical vocabulary spelling.
	Corrected string `json:"corrected"`

	// Confidence is the Jaro-Winkler score of the accepted match.
	Confidence float64 `json:"confidence"`
}

// Corrector aligns misheard campaign proper nouns in a transcription result
// back to their canonical vocabulary spelling. Safe for concurrent use.
type Corrector struct {
	matcher    *Matcher
	vocabulary []string
	maxNGram   int
}

// NewCorrector creates a Corrector for the given vocabulary. The n-gram
// window is sized to the longest vocabulary entry so multi-word names like
// "Tower of Whispers" can be matched against runs of misheard words.
func NewCorrector(vocabulary []string, opts ...MatcherOption) *Corrector {
	maxNGram := 1
	for _, v := range vocabulary {
		if n := len(strings.Fields(v)); n > maxNGram {
			maxNGram = n
		}
	}
	return &Corrector{
		matcher:    NewMatcher(opts...),
		vocabulary: vocabulary,
		maxNGram:   maxNGram,
	}
}

// Correct rewrites every segment of result, replacing words and phrases that
// phonetically match a vocabulary entry, and rebuilds the flattened
// transcript. The returned corrections list what changed; an empty vocabulary
// returns the input untouched.
func (c *Corrector) Correct(result transcription.Result) (transcription.Result, []Correction) {
	if len(c.vocabulary) == 0 {
		return result, nil
	}

	var corrections []Correction
	segments := make([]transcription.Segment, len(result.Segments))
	copy(segments, result.Segments)

	for i := range segments {
		corrected, applied := c.correctText(segments[i].Text)
		segments[i].Text = corrected
		for _, a := range applied {
			a.SegmentIndex = i
			corrections = append(corrections, a)
		}
	}

	return transcription.NewResult(segments), corrections
}

// correctText scans the text's tokens with n-gram windows, longest first, so
// a multi-word entry wins over a partial single-word match.
func (c *Corrector) correctText(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var corrections []Correction
	out := make([]string, 0, len(tokens))

	for i := 0; i < len(tokens); {
		replaced := false
		for n := min(c.maxNGram, len(tokens)-i); n >= 1 && !replaced; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			core, prefix, suffix := trimPunct(window)
			if core == "" {
				continue
			}
			match, score, ok := c.matcher.Match(core, c.vocabulary)
			if !ok {
				continue
			}
			out = append(out, prefix+match+suffix)
			corrections = append(corrections, Correction{
				Original:   core,
				Corrected:  match,
				Confidence: score,
			})
			i += n
			replaced = true
		}
		if !replaced {
			out = append(out, tokens[i])
			i++
		}
	}

	return strings.Join(out, " "), corrections
}

// trimPunct splits leading and trailing punctuation off a token so the match
// is tested against the bare word and the punctuation survives replacement.
func trimPunct(s string) (core, prefix, suffix string) {
	const punct = ".,!?;:\"'()[]{}"
	start := 0
	for start < len(s) && strings.ContainsRune(punct, rune(s[start])) {
		start++
	}
	end := len(s)
	for end > start && strings.ContainsRune(punct, rune(s[end-1])) {
		end--
	}
	return s[start:end], s[:start], s[end:]
}
