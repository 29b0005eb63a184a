package audio

import "time"

// Clip is a fully decoded audio asset held in memory as little-endian int16
// PCM. Clips are the unit of work for the [Segmenter]: a session upload is
// decoded into one Clip, which is then carved into [Chunk] values.
type Clip struct {
	// PCM audio data, interleaved little-endian int16 samples.
	PCM []byte

	// SampleRate in Hz (e.g., 44100 for typical uploads, 16000 for whisper).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.PCM) / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Chunk is a contiguous slice of the source audio, re-encoded as a
// self-contained WAV container so it can be submitted to a transcription
// backend independently of its neighbours.
//
// Chunks produced by [Segmenter.Split] are contiguous and non-overlapping:
// the Start of chunk n equals the End of chunk n-1, and the final chunk's
// End equals the source duration.
type Chunk struct {
	// Index is the zero-based ordinal position within the source.
	Index int

	// Start is the offset of the chunk's first sample in the source.
	Start time.Duration

	// End is the offset just past the chunk's last sample in the source.
	End time.Duration

	// WAV is the chunk audio as a complete RIFF/WAVE container.
	WAV []byte
}

// Duration returns the length of this chunk.
func (c Chunk) Duration() time.Duration {
	return c.End - c.Start
}

// StartSeconds returns Start as fractional seconds.
func (c Chunk) StartSeconds() float64 { return c.Start.Seconds() }

// EndSeconds returns End as fractional seconds.
func (c Chunk) EndSeconds() float64 { return c.End.Seconds() }
