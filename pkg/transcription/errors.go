package transcription

import (
	"errors"
	"fmt"
)

// Error taxonomy for chunk transcription failures. All of these are terminal
// for the current chunk except [ErrProviderOverloaded], which callers retry
// with backoff up to a fixed attempt ceiling.
var (
	// ErrNoAudioDetected means the model reported the chunk contains no audio.
	ErrNoAudioDetected = errors.New("no audio detected")

	// ErrAudioCorrupted means the model could not decode the chunk payload.
	ErrAudioCorrupted = errors.New("audio corrupted or unreadable")

	// ErrResponseTruncated means generation stopped at the output token limit
	// or the response JSON was cut off mid-document.
	ErrResponseTruncated = errors.New("model response truncated")

	// ErrMalformedResponse means the response was not valid JSON or did not
	// conform to the segment schema.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrCatastrophicRepetition means the response text is degenerate:
	// the model looped on a word or duplicated most of its sentences.
	ErrCatastrophicRepetition = errors.New("catastrophic repetition in model response")

	// ErrNoValidSpeechContent means the response parsed but carried no usable
	// segments (empty list or every text blank).
	ErrNoValidSpeechContent = errors.New("no valid speech content in model response")

	// ErrProviderOverloaded is a transient provider throttling/overload signal.
	ErrProviderOverloaded = errors.New("provider overloaded")

	// ErrProvider covers any other non-transient provider failure.
	ErrProvider = errors.New("provider error")
)

// Model-reported failure codes from the structured error response.
const (
	codeNoAudioDetected = "NO_AUDIO_DETECTED"
	codeAudioCorrupted  = "AUDIO_CORRUPTED"
)

// errorForCode maps a model-reported failure code to the taxonomy, wrapping
// the model's human-readable message.
func errorForCode(code, message string) error {
	var base error
	switch code {
	case codeNoAudioDetected:
		base = ErrNoAudioDetected
	case codeAudioCorrupted:
		base = ErrAudioCorrupted
	default:
		base = ErrProvider
	}
	if message == "" {
		message = code
	}
	return fmt.Errorf("%w: %s", base, message)
}

// IsRetryable reports whether err is a transient condition worth retrying
// with backoff rather than a terminal chunk failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderOverloaded)
}
