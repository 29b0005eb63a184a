// Package recap turns a finished session transcript into narrative
// artifacts: a "previously on" session recap for the table and a two-host
// podcast script for players who missed the session.
//
// Generation is a single completion call against a [llm.Provider]; the
// transcript travels as one user message with the instructions in the system
// prompt. Related snippets from earlier sessions can be attached to give the
// model campaign continuity it cannot see in one transcript.
package recap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/tavernlog/tavernlog/internal/observe"
	"github.com/tavernlog/tavernlog/internal/search"
	"github.com/tavernlog/tavernlog/pkg/provider/llm"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

// ErrEmptyTranscript is returned when the request carries no transcript text.
var ErrEmptyTranscript = errors.New("recap: empty transcript")

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048

	// maxTranscriptChars bounds the transcript sent to the model. Longer
	// transcripts keep their opening and closing halves; recaps care most
	// about how the session started and how it ended.
	maxTranscriptChars = 120000
)

const recapSystemPrompt = `You are the chronicler of a long-running tabletop RPG campaign.
Write a session recap from the transcript the user provides.
Cover: major plot events in order, decisions the party made, NPCs introduced or revealed,
items and clues gained, unresolved threads and the cliffhanger if any.
Write in past tense, in-world where possible, and keep it under 500 words.
Do not invent events that are not in the transcript.`

const podcastSystemPrompt = `You are writing a short "previously on" recap podcast for a tabletop RPG campaign.
Turn the transcript the user provides into a script for two hosts, HOST A and HOST B,
who banter while retelling the session's events in order.
Mark each line with the host name followed by a colon.
Keep the whole script under 900 words, keep every retold event grounded in the transcript,
and end with a teaser question about what might happen next session.`

// Request carries everything needed to generate a recap for one session.
type Request struct {
	// SessionID identifies the session, used in logs and metrics.
	SessionID string

	// Transcript is the merged transcription result for the session.
	Transcript transcription.Result

	// Context optionally carries snippets from earlier sessions so the
	// recap can reference the wider campaign arc.
	Context []search.Snippet
}

// Option configures a [Generator].
type Option func(*Generator)

// WithTemperature sets the sampling temperature for generation.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// Generator produces recaps and podcast scripts from session transcripts.
// Safe for concurrent use.
type Generator struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

// NewGenerator creates a Generator over the given completion provider.
func NewGenerator(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider:    provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Recap generates a prose session recap.
func (g *Generator) Recap(ctx context.Context, req Request) (string, error) {
	return g.generate(ctx, "recap", recapSystemPrompt, req)
}

// PodcastScript generates a two-host "previously on" script.
func (g *Generator) PodcastScript(ctx context.Context, req Request) (string, error) {
	return g.generate(ctx, "podcast", podcastSystemPrompt, req)
}

func (g *Generator) generate(ctx context.Context, kind, systemPrompt string, req Request) (string, error) {
	if strings.TrimSpace(req.Transcript.RawTranscript) == "" {
		return "", ErrEmptyTranscript
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildUserMessage(req)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if g.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		g.metrics.RecapDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("kind", kind), observe.Attr("status", status)))
	}
	if err != nil {
		return "", fmt.Errorf("recap: %s for session %s: %w", kind, req.SessionID, err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("recap: %s for session %s: provider returned empty completion", kind, req.SessionID)
	}
	return text, nil
}

// buildUserMessage renders the transcript, preceded by any campaign context
// snippets, as a single user message.
func buildUserMessage(req Request) string {
	var sb strings.Builder
	if len(req.Context) > 0 {
		sb.WriteString("Relevant moments from earlier sessions:\n")
		for _, sn := range req.Context {
			sb.WriteString("- ")
			if sn.Speaker != "" {
				sb.WriteString(sn.Speaker)
				sb.WriteString(": ")
			}
			sb.WriteString(sn.Text)
			sb.WriteByte('\n')
		}
		sb.WriteString("\nSession transcript:\n")
	}
	sb.WriteString(trimTranscript(req.Transcript.RawTranscript))
	return sb.String()
}

// trimTranscript keeps the transcript under maxTranscriptChars by cutting
// out the middle, preserving the session's opening and ending.
func trimTranscript(s string) string {
	if len(s) <= maxTranscriptChars {
		return s
	}
	half := maxTranscriptChars / 2
	head := s[:half]
	tail := s[len(s)-half:]
	if i := strings.LastIndexByte(head, '\n'); i > 0 {
		head = head[:i]
	}
	if i := strings.IndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}
	return head + "\n[... transcript truncated ...]\n" + tail
}
