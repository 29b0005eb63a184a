// Package model defines the Provider interface for generative transcription
// backends.
//
// A model provider accepts one self-contained audio payload plus a
// natural-language instruction prompt and returns the model's raw response
// text together with its finish reason and token accounting. Response
// validation and JSON decoding are deliberately NOT the provider's job —
// the transcription package applies those checks uniformly so every backend
// is held to the same acceptance bar.
//
// Implementations must be safe for concurrent use and must map transient
// throttling/overload signals to [transcription.ErrProviderOverloaded] so
// callers can retry with backoff.
package model

import "context"

// Schema is a provider-neutral response schema. Providers translate it into
// their native response-shaping configuration (e.g. Gemini's controlled
// generation schema).
type Schema struct {
	// Type is one of "object", "array", "string", "number", "integer",
	// "boolean".
	Type string

	// Description is optional human-readable guidance for the model.
	Description string

	// Properties describes object members; only meaningful when Type is
	// "object".
	Properties map[string]*Schema

	// Items describes array elements; only meaningful when Type is "array".
	Items *Schema

	// Required lists mandatory object members.
	Required []string
}

// GenerationConfig is the response-shaping configuration sent with a request.
// Zero values select the provider's defaults.
type GenerationConfig struct {
	// ResponseSchema constrains the model output structure. Providers that
	// cannot enforce a schema natively embed it in the prompt instead.
	ResponseSchema *Schema

	// MaxOutputTokens caps generation length.
	MaxOutputTokens int

	// Temperature controls randomness; transcription wants it low.
	Temperature float64

	// TopP and TopK are nucleus/top-k sampling bounds.
	TopP float64
	TopK int

	// StopSequences halt generation when emitted.
	StopSequences []string
}

// Request carries one transcription call: the audio payload, its media type,
// and the instruction prompt.
type Request struct {
	// MIMEType identifies the audio container (e.g. "audio/wav").
	MIMEType string

	// Audio is the self-contained audio payload, transmitted inline.
	Audio []byte

	// Prompt is the transcription instruction, optionally extended with
	// chunk-position context.
	Prompt string

	// Config is the response-shaping configuration.
	Config GenerationConfig
}

// Usage holds token accounting reported by the backend. Counts are in the
// model's native token unit; zero means the backend did not report the value.
type Usage struct {
	// PromptTokens covers the audio and prompt input.
	PromptTokens int

	// OutputTokens covers the generated response.
	OutputTokens int

	// ThoughtTokens covers reasoning tokens, for models that report them.
	ThoughtTokens int
}

// Response is the raw, unvalidated model output.
type Response struct {
	// Text is the verbatim response body.
	Text string

	// FinishReason is the provider's stated reason generation stopped,
	// passed through unmodified (e.g. "STOP", "MAX_TOKENS").
	FinishReason string

	// Usage is the token accounting for this call.
	Usage Usage
}

// Provider is the abstraction over any generative transcription backend.
//
// Transcribe must propagate context cancellation promptly and must be safe
// for concurrent use.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (Response, error)
}
