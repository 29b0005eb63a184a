package audio

import (
	"errors"
	"time"
)

// DefaultChunkDuration is the window length used when a [Segmenter] is
// created with a zero chunk duration. Ten-minute windows keep each chunk
// comfortably inside generative-model input limits while bounding the blast
// radius of a failed chunk.
const DefaultChunkDuration = 600 * time.Second

// ErrEmptyClip is returned by [Segmenter.Split] when the clip holds no samples.
var ErrEmptyClip = errors.New("audio: empty clip")

// Segmenter splits a decoded [Clip] into fixed-duration, contiguous,
// non-overlapping [Chunk] values. Boundaries are computed from sample counts
// only, so the same clip and chunk duration always produce identical chunks —
// a resumed transcription attempt lines up exactly with the chunk list a
// previous run persisted.
//
// Segmenter is read-only after construction and safe for concurrent use.
type Segmenter struct {
	chunkDuration time.Duration
}

// NewSegmenter creates a Segmenter carving windows of the given duration.
// A non-positive duration selects [DefaultChunkDuration].
func NewSegmenter(chunkDuration time.Duration) *Segmenter {
	if chunkDuration <= 0 {
		chunkDuration = DefaultChunkDuration
	}
	return &Segmenter{chunkDuration: chunkDuration}
}

// ChunkDuration returns the configured window length.
func (s *Segmenter) ChunkDuration() time.Duration { return s.chunkDuration }

// Split carves clip into windows of up to the configured chunk duration,
// starting at time zero. The last window may be shorter. A clip shorter than
// one window yields exactly one chunk spanning the full clip.
//
// Every returned chunk is re-encoded as a self-contained WAV container in
// the clip's original sample rate and channel count.
func (s *Segmenter) Split(clip Clip) ([]Chunk, error) {
	if clip.SampleRate <= 0 || clip.Channels <= 0 {
		return nil, ErrUnsupportedFormat
	}
	frameSize := 2 * clip.Channels
	totalFrames := len(clip.PCM) / frameSize
	if totalFrames == 0 {
		return nil, ErrEmptyClip
	}

	framesPerChunk := int(int64(s.chunkDuration) * int64(clip.SampleRate) / int64(time.Second))
	if framesPerChunk <= 0 {
		framesPerChunk = totalFrames
	}

	var chunks []Chunk
	for startFrame := 0; startFrame < totalFrames; startFrame += framesPerChunk {
		endFrame := startFrame + framesPerChunk
		if endFrame > totalFrames {
			endFrame = totalFrames
		}

		window := Clip{
			PCM:        clip.PCM[startFrame*frameSize : endFrame*frameSize],
			SampleRate: clip.SampleRate,
			Channels:   clip.Channels,
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: frameOffset(startFrame, clip.SampleRate),
			End:   frameOffset(endFrame, clip.SampleRate),
			WAV:   EncodeWAV(window),
		})
	}
	return chunks, nil
}

// frameOffset converts a frame index to a time offset at the given rate.
func frameOffset(frame, sampleRate int) time.Duration {
	return time.Duration(int64(frame) * int64(time.Second) / int64(sampleRate))
}
