// Package pipeline drives chunked transcription end to end: it segments the
// session audio, submits each chunk to the generative model, validates and
// decodes the responses, persists progress in the ledger, and merges the
// per-chunk segments into the final normalized transcript.
package pipeline

import (
	"context"
	"fmt"

	"github.com/tavernlog/tavernlog/internal/observe"
	"github.com/tavernlog/tavernlog/pkg/audio"
	"github.com/tavernlog/tavernlog/pkg/provider/model"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

// defaultMaxOutputTokens bounds the response size per chunk. Ten minutes of
// table talk rarely exceeds a few thousand tokens of transcript; the headroom
// is for dense sessions.
const defaultMaxOutputTokens = 16384

// TranscriberOption is a functional option for [ChunkTranscriber].
type TranscriberOption func(*ChunkTranscriber)

// WithVocabulary sets the campaign proper nouns injected into every prompt.
func WithVocabulary(words []string) TranscriberOption {
	return func(t *ChunkTranscriber) { t.vocabulary = words }
}

// WithMaxOutputTokens overrides the per-request output token cap.
func WithMaxOutputTokens(n int) TranscriberOption {
	return func(t *ChunkTranscriber) { t.maxOutputTokens = n }
}

// ChunkTranscriber submits audio to a generative model and turns the raw
// response into validated transcript segments. It is stateless between calls
// and safe for concurrent use.
type ChunkTranscriber struct {
	provider        model.Provider
	vocabulary      []string
	maxOutputTokens int
}

// NewChunkTranscriber creates a transcriber over the given model provider.
func NewChunkTranscriber(provider model.Provider, opts ...TranscriberOption) *ChunkTranscriber {
	t := &ChunkTranscriber{
		provider:        provider,
		maxOutputTokens: defaultMaxOutputTokens,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TranscribeChunk transcribes one chunk of a chunked session. The prompt
// anchors the model's timestamps to the full session via the chunk's
// position, and total is the session's chunk count.
func (t *ChunkTranscriber) TranscribeChunk(ctx context.Context, chunk audio.Chunk, total int) ([]transcription.RawSegment, error) {
	prompt := transcription.ChunkPrompt(t.vocabulary, transcription.ChunkContext{
		Index:        chunk.Index,
		Total:        total,
		StartSeconds: chunk.StartSeconds(),
		EndSeconds:   chunk.EndSeconds(),
	})
	return t.submit(ctx, chunk.WAV, "audio/wav", prompt)
}

// TranscribeClip transcribes a whole recording in one request. It is used
// for sessions short enough to skip chunking and for sources that cannot be
// split locally, where the raw asset is submitted with its own mime type.
func (t *ChunkTranscriber) TranscribeClip(ctx context.Context, data []byte, mimeType string) ([]transcription.RawSegment, error) {
	return t.submit(ctx, data, mimeType, transcription.Prompt(t.vocabulary))
}

// submit performs one provider round trip followed by the strict validation
// and decode steps. Validation warnings are logged, not returned; a
// validation failure rejects the response outright.
func (t *ChunkTranscriber) submit(ctx context.Context, data []byte, mimeType, prompt string) ([]transcription.RawSegment, error) {
	resp, err := t.provider.Transcribe(ctx, model.Request{
		MIMEType: mimeType,
		Audio:    data,
		Prompt:   prompt,
		Config: model.GenerationConfig{
			ResponseSchema:  transcriptSchema(),
			MaxOutputTokens: t.maxOutputTokens,
		},
	})
	if err != nil {
		return nil, err
	}

	warnings, err := transcription.Validate(resp.Text, transcription.ResponseMeta{
		FinishReason:  resp.FinishReason,
		PromptTokens:  resp.Usage.PromptTokens,
		ThoughtTokens: resp.Usage.ThoughtTokens,
	})
	for _, w := range warnings {
		observe.Logger(ctx).Warn("transcription response anomaly", "detail", w)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: validate response: %w", err)
	}

	out, err := transcription.Decode(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode response: %w", err)
	}
	return out.Segments, nil
}

// transcriptSchema is the response schema sent with every request, matching
// [transcription.ModelOutput].
func transcriptSchema() *model.Schema {
	return &model.Schema{
		Type: "object",
		Properties: map[string]*model.Schema{
			"segments": {
				Type: "array",
				Items: &model.Schema{
					Type: "object",
					Properties: map[string]*model.Schema{
						"timeSeconds": {
							Type:        "number",
							Description: "Utterance start offset from the beginning of the full session, in seconds.",
						},
						"text": {
							Type:        "string",
							Description: "Transcribed speech content.",
						},
						"speaker": {
							Type:        "string",
							Description: "Speaker label, when distinguishable.",
						},
					},
					Required: []string{"timeSeconds", "text"},
				},
			},
		},
		Required: []string{"segments"},
	}
}
