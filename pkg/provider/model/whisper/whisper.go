// Package whisper implements model.Provider over a local whisper.cpp model.
//
// It exists as an offline fallback when no hosted generative model is
// available. Whisper has no notion of prompts or response schemas, so the
// provider transcribes the audio directly and renders the segments into the
// same JSON document shape a generative model would return. Speaker
// diarization is not available locally; every segment is attributed to a
// single generic speaker.
package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/tavernlog/tavernlog/pkg/audio"
	"github.com/tavernlog/tavernlog/pkg/provider/model"
	"github.com/tavernlog/tavernlog/pkg/transcription"
)

var _ model.Provider = (*Provider)(nil)

// whisper.cpp only accepts 16 kHz mono float32 samples.
const whisperSampleRate = 16000

const defaultSpeaker = "Speaker"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the spoken language hint passed to the model.
// The default is auto detection.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements model.Provider using a whisper.cpp model file.
type Provider struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
}

// New loads the whisper model at modelPath.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	m, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: m, language: "auto"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the loaded model.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe implements model.Provider. The request prompt and schema are
// ignored; the audio is decoded, downmixed, resampled and run through the
// model, and the resulting segments are marshaled into the standard JSON
// transcript document.
func (p *Provider) Transcribe(ctx context.Context, req model.Request) (model.Response, error) {
	clip, err := audio.DecodeWAV(req.Audio)
	if err != nil {
		return model.Response{}, fmt.Errorf("%w: whisper: decode audio: %v", transcription.ErrAudioCorrupted, err)
	}

	samples := prepareSamples(clip)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return model.Response{}, fmt.Errorf("%w: whisper: model is closed", transcription.ErrProvider)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return model.Response{}, fmt.Errorf("%w: whisper: create context: %v", transcription.ErrProvider, err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		return model.Response{}, fmt.Errorf("%w: whisper: set language %q: %v", transcription.ErrProvider, p.language, err)
	}

	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return model.Response{}, fmt.Errorf("%w: whisper: process audio: %v", transcription.ErrProvider, err)
	}

	var out transcription.ModelOutput
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Response{}, fmt.Errorf("%w: whisper: read segment: %v", transcription.ErrProvider, err)
		}
		out.Segments = append(out.Segments, transcription.RawSegment{
			TimeSeconds: math.Round(seg.Start.Seconds()*100) / 100,
			Text:        seg.Text,
			Speaker:     defaultSpeaker,
		})
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return model.Response{}, fmt.Errorf("whisper: marshal segments: %w", err)
	}
	return model.Response{
		Text:         string(payload),
		FinishReason: "stop",
	}, nil
}

// prepareSamples converts a decoded clip into the 16 kHz mono float32 form
// whisper.cpp requires.
func prepareSamples(clip audio.Clip) []float32 {
	pcm := clip.PCM
	if clip.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if clip.SampleRate != whisperSampleRate {
		pcm = audio.ResampleMono16(pcm, clip.SampleRate, whisperSampleRate)
	}
	return audio.PCMToFloat32(pcm)
}
