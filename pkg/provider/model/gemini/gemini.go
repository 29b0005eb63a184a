// Package gemini implements the model.Provider interface over Google's
// Gemini API using the google.golang.org/genai SDK.
//
// Audio is transmitted inline as bytes alongside the instruction prompt, and
// the response is constrained to JSON via Gemini's controlled-generation
// schema support. Throttling and overload responses (HTTP 429/503) are
// mapped to [transcription.ErrProviderOverloaded] so callers retry with
// backoff.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/tavernlog/tavernlog/pkg/provider/model"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

// Compile-time assertion that Provider satisfies model.Provider.
var _ model.Provider = (*Provider)(nil)

const defaultModel = "gemini-2.5-flash"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for transcription requests.
func WithModel(name string) Option {
	return func(p *Provider) { p.model = name }
}

// Provider implements model.Provider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Gemini Provider with the given API key and options.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	p := &Provider{client: client, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements model.Provider. It submits the audio and prompt in a
// single generateContent call and returns the raw response text, finish
// reason, and token usage without validating the payload.
func (p *Provider) Transcribe(ctx context.Context, req model.Request) (model.Response, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Audio, req.MIMEType),
			genai.NewPartFromText(req.Prompt),
		}, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, generationConfig(req.Config))
	if err != nil {
		return model.Response{}, mapError(err)
	}
	if len(resp.Candidates) == 0 {
		return model.Response{}, fmt.Errorf("%w: gemini returned no candidates", transcription.ErrProvider)
	}

	out := model.Response{
		Text:         resp.Text(),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if um := resp.UsageMetadata; um != nil {
		out.Usage = model.Usage{
			PromptTokens:  int(um.PromptTokenCount),
			OutputTokens:  int(um.CandidatesTokenCount),
			ThoughtTokens: int(um.ThoughtsTokenCount),
		}
	}
	return out, nil
}

// generationConfig translates the neutral config into the genai SDK form.
func generationConfig(cfg model.GenerationConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if cfg.ResponseSchema != nil {
		out.ResponseSchema = convertSchema(cfg.ResponseSchema)
	}
	if cfg.MaxOutputTokens > 0 {
		out.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}
	if cfg.Temperature > 0 {
		out.Temperature = genai.Ptr(float32(cfg.Temperature))
	}
	if cfg.TopP > 0 {
		out.TopP = genai.Ptr(float32(cfg.TopP))
	}
	if cfg.TopK > 0 {
		out.TopK = genai.Ptr(float32(cfg.TopK))
	}
	if len(cfg.StopSequences) > 0 {
		out.StopSequences = cfg.StopSequences
	}
	return out
}

// convertSchema maps the neutral schema onto genai's schema type.
func convertSchema(s *model.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       convertSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchema(prop)
		}
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

// mapError classifies SDK errors into the transcription taxonomy: HTTP 429
// and 503 are transient overload, everything else is a provider error.
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: gemini: %s", transcription.ErrProviderOverloaded, apiErr.Message)
		default:
			return fmt.Errorf("%w: gemini: %s", transcription.ErrProvider, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: gemini: %v", transcription.ErrProvider, err)
}
