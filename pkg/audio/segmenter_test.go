package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func clipOfDuration(t *testing.T, d time.Duration, sampleRate, channels int) Clip {
	t.Helper()
	frames := int(int64(d) * int64(sampleRate) / int64(time.Second))
	return Clip{
		PCM:        makePCM(frames, channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

func TestSegmenter_ShortSourceSingleChunk(t *testing.T) {
	seg := NewSegmenter(600 * time.Second)
	clip := clipOfDuration(t, 45*time.Second, 16000, 1)

	chunks, err := seg.Split(clip)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].Start != 0 {
		t.Errorf("Start = %v, want 0", chunks[0].Start)
	}
	if chunks[0].End != clip.Duration() {
		t.Errorf("End = %v, want %v", chunks[0].End, clip.Duration())
	}
}

func TestSegmenter_BoundariesContiguousAndExhaustive(t *testing.T) {
	// 25-minute recording with 10-minute windows: [0,600) [600,1200) [1200,1500).
	seg := NewSegmenter(600 * time.Second)
	clip := clipOfDuration(t, 25*time.Minute, 8000, 1)

	chunks, err := seg.Split(clip)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunks[%d].Index = %d", i, c.Index)
		}
		if i > 0 && chunks[i-1].End != c.Start {
			t.Errorf("gap between chunk %d end (%v) and chunk %d start (%v)",
				i-1, chunks[i-1].End, i, c.Start)
		}
	}
	if chunks[0].End != 600*time.Second {
		t.Errorf("chunks[0].End = %v, want 600s", chunks[0].End)
	}
	if last := chunks[len(chunks)-1]; last.End != clip.Duration() {
		t.Errorf("last chunk End = %v, want source duration %v", last.End, clip.Duration())
	}
	if last := chunks[len(chunks)-1]; last.Duration() != 300*time.Second {
		t.Errorf("last chunk duration = %v, want 300s", last.Duration())
	}
}

func TestSegmenter_Deterministic(t *testing.T) {
	seg := NewSegmenter(60 * time.Second)
	clip := clipOfDuration(t, 150*time.Second, 16000, 2)

	first, err := seg.Split(clip)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	second, err := seg.Split(clip)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Start != second[i].Start || first[i].End != second[i].End {
			t.Errorf("chunk %d boundaries differ between runs", i)
		}
		if !bytes.Equal(first[i].WAV, second[i].WAV) {
			t.Errorf("chunk %d payload differs between runs", i)
		}
	}
}

func TestSegmenter_ChunksAreSelfContainedWAV(t *testing.T) {
	seg := NewSegmenter(30 * time.Second)
	clip := clipOfDuration(t, 70*time.Second, 16000, 1)

	chunks, err := seg.Split(clip)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	var totalFrames int
	for _, c := range chunks {
		decoded, err := DecodeWAV(c.WAV)
		if err != nil {
			t.Fatalf("chunk %d is not decodable WAV: %v", c.Index, err)
		}
		if decoded.SampleRate != clip.SampleRate || decoded.Channels != clip.Channels {
			t.Errorf("chunk %d format = %d/%d, want %d/%d",
				c.Index, decoded.SampleRate, decoded.Channels, clip.SampleRate, clip.Channels)
		}
		totalFrames += len(decoded.PCM) / 2
	}
	if totalFrames != len(clip.PCM)/2 {
		t.Errorf("chunks cover %d samples, source has %d", totalFrames, len(clip.PCM)/2)
	}
}

func TestSegmenter_EmptyClip(t *testing.T) {
	seg := NewSegmenter(0)
	_, err := seg.Split(Clip{SampleRate: 16000, Channels: 1})
	if !errors.Is(err, ErrEmptyClip) {
		t.Fatalf("err = %v, want ErrEmptyClip", err)
	}
}

func TestNewSegmenter_DefaultDuration(t *testing.T) {
	if got := NewSegmenter(0).ChunkDuration(); got != DefaultChunkDuration {
		t.Errorf("ChunkDuration = %v, want %v", got, DefaultChunkDuration)
	}
}
