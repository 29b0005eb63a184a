// Package audio provides WAV decoding/encoding, PCM conversion helpers, and
// the time-based segmenter that splits long session recordings into
// independently transmittable chunks.
//
// Only 16-bit integer PCM in a RIFF/WAVE container is supported. Session
// uploads in other formats are rejected with [ErrUnsupportedFormat], which
// callers treat as "no chunking possible" and fall back to submitting the
// raw asset in a single shot.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned by [DecodeWAV] when the input is not a
// PCM WAV container this package can decode.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// wavFormatPCM is the audio format tag for uncompressed integer PCM.
const wavFormatPCM = 1

// DecodeWAV parses a RIFF/WAVE container and returns the raw PCM clip.
// It walks the RIFF chunk list rather than assuming a fixed 44-byte header,
// since the fmt chunk size varies between encoders.
//
// Returns [ErrUnsupportedFormat] (possibly wrapped) for anything that is not
// 16-bit integer PCM.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedFormat)
	}

	var (
		clip     Clip
		foundFmt bool
	)

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			fmtData := data[body:]
			format := int(binary.LittleEndian.Uint16(fmtData[0:2]))
			clip.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bitsPerSample := int(binary.LittleEndian.Uint16(fmtData[14:16]))
			if format != wavFormatPCM {
				return Clip{}, fmt.Errorf("%w: format tag %d (want PCM)", ErrUnsupportedFormat, format)
			}
			if bitsPerSample != 16 {
				return Clip{}, fmt.Errorf("%w: %d bits per sample (want 16)", ErrUnsupportedFormat, bitsPerSample)
			}
			if clip.Channels <= 0 || clip.SampleRate <= 0 {
				return Clip{}, fmt.Errorf("%w: invalid fmt chunk values", ErrUnsupportedFormat)
			}
			foundFmt = true

		case "data":
			if !foundFmt {
				return Clip{}, fmt.Errorf("%w: data chunk precedes fmt chunk", ErrUnsupportedFormat)
			}
			end := body + chunkSize
			if end > len(data) {
				end = len(data)
			}
			clip.PCM = data[body:end]
			// Truncate to whole frames; a ragged tail would desync channels.
			frameSize := 2 * clip.Channels
			clip.PCM = clip.PCM[:len(clip.PCM)/frameSize*frameSize]
			return clip, nil
		}

		// Chunks are word-aligned: pad by 1 when the size is odd.
		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Clip{}, fmt.Errorf("%w: missing data chunk", ErrUnsupportedFormat)
}

// EncodeWAV wraps the clip's PCM in a minimal fixed-header RIFF/WAVE
// container (16-byte fmt chunk, then the data chunk). The result is fully
// self-contained and suitable for submitting to a transcription backend.
func EncodeWAV(clip Clip) []byte {
	const headerSize = 44
	blockAlign := 2 * clip.Channels
	byteRate := clip.SampleRate * blockAlign

	out := make([]byte, headerSize+len(clip.PCM))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(clip.PCM)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(clip.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(clip.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(clip.PCM)))
	copy(out[44:], clip.PCM)
	return out
}
