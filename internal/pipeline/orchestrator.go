package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/tavernlog/tavernlog/internal/observe"
	"github.com/tavernlog/tavernlog/internal/resilience"
	"github.com/tavernlog/tavernlog/internal/transcript"
	"github.com/tavernlog/tavernlog/pkg/audio"
	"github.com/tavernlog/tavernlog/pkg/transcription"
	"github.com/tavernlog/tavernlog/pkg/transcription/ledger"
)

// ErrRunInProgress is returned by [Orchestrator.Run] when a run is already
// driving the same session. Only one orchestrator may mutate a given ledger
// record at a time; this guard enforces that within the process.
var ErrRunInProgress = errors.New("pipeline: transcription already running for this session")

// Stage identifies a phase of a transcription run, published with every
// progress event.
type Stage string

const (
	StageDecoding       Stage = "decoding"
	StageChunkStarted   Stage = "chunk_started"
	StageChunkCompleted Stage = "chunk_completed"
	StageChunkFailed    Stage = "chunk_failed"
	StageMerging        Stage = "merging"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// Event is a progress notification emitted as a run advances.
type Event struct {
	SessionID       string `json:"sessionId"`
	RecordID        string `json:"recordId,omitempty"`
	Stage           Stage  `json:"stage"`
	ChunkIndex      int    `json:"chunkIndex"`
	TotalChunks     int    `json:"totalChunks"`
	CompletedChunks int    `json:"completedChunks"`
	Message         string `json:"message,omitempty"`
}

// Sink receives progress events. Publish must not block; slow consumers
// should buffer or drop.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(Event)

// Publish implements [Sink].
func (f SinkFunc) Publish(e Event) { f(e) }

// OrchestratorOption is a functional option for [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithChunkDuration sets the chunk window length. Non-positive selects the
// default of ten minutes.
func WithChunkDuration(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.segmenter = audio.NewSegmenter(d) }
}

// WithRetrier replaces the default per-chunk retry policy.
func WithRetrier(r *resilience.Retrier) OrchestratorOption {
	return func(o *Orchestrator) { o.retrier = r }
}

// WithMetrics attaches metric instruments to the run.
func WithMetrics(m *observe.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithProgressSink attaches a progress event consumer.
func WithProgressSink(s Sink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = s }
}

// Corrector rewrites a merged result before it is persisted, returning the
// corrected result and the list of replacements made.
type Corrector interface {
	Correct(result transcription.Result) (transcription.Result, []transcript.Correction)
}

// WithCorrector applies vocabulary-based proper noun correction to the
// merged transcript before it is written to the ledger.
func WithCorrector(c Corrector) OrchestratorOption {
	return func(o *Orchestrator) { o.corrector = c }
}

// Orchestrator drives a transcription run end to end. Chunks are processed
// one at a time, in index order, with no parallel dispatch; chunk k's ledger
// write always happens before chunk k+1's processing begins, which is what
// makes resume-by-ledger safe without cross-process locking.
type Orchestrator struct {
	store       ledger.Store
	transcriber *ChunkTranscriber
	segmenter   *audio.Segmenter
	retrier     *resilience.Retrier
	metrics     *observe.Metrics
	sink        Sink
	corrector   Corrector

	mu     sync.Mutex
	active map[string]struct{}
}

// NewOrchestrator creates an orchestrator over the given ledger store and
// transcriber.
func NewOrchestrator(store ledger.Store, transcriber *ChunkTranscriber, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		transcriber: transcriber,
		segmenter:   audio.NewSegmenter(0),
		active:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retrier == nil {
		o.retrier = resilience.NewRetrier(resilience.RetryConfig{
			Name:       "chunk-transcription",
			Retryable:  transcription.IsRetryable,
			IsOverload: transcription.IsRetryable,
		})
	}
	return o
}

// Run transcribes a session recording. WAV sources longer than the chunk
// duration are split and processed chunk by chunk with ledger persistence;
// shorter sessions go through in a single request. Sources that do not
// decode as WAV (compressed or float PCM uploads) are submitted whole in a
// single request with their detected mime type.
//
// When an earlier run for the same session left an incomplete ledger record,
// Run resumes it: chunks already completed are reused without a provider
// call, and processing continues from the first unfinished index. On failure
// the ledger is left in its last-written state so a later invocation can
// continue rather than restart; partial progress is never discarded.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, src []byte) (transcription.Result, error) {
	if err := o.acquire(sessionID); err != nil {
		return transcription.Result{}, err
	}
	defer o.release(sessionID)

	start := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveRuns.Add(ctx, 1)
		defer o.metrics.ActiveRuns.Add(ctx, -1)
		defer func() {
			o.metrics.RunDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	result, err := o.run(ctx, sessionID, src)
	if err != nil {
		o.publish(Event{SessionID: sessionID, Stage: StageFailed, Message: err.Error()})
		return transcription.Result{}, err
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, sessionID string, src []byte) (transcription.Result, error) {
	log := observe.Logger(ctx).With("session_id", sessionID)

	o.publish(Event{SessionID: sessionID, Stage: StageDecoding})

	var (
		chunks     []audio.Chunk
		singleShot bool
		mimeType   = "audio/wav"
	)
	clip, err := audio.DecodeWAV(src)
	if err != nil {
		// Not linear PCM WAV, so local segmentation is impossible. Submit
		// the whole asset in one request and let the model decode it.
		mimeType = detectAudioMIME(src)
		singleShot = true
		chunks = []audio.Chunk{{Index: 0, WAV: src}}
		log.Warn("source not splittable locally, submitting whole asset",
			"mime_type", mimeType,
			"decode_error", err,
		)
	} else {
		singleShot = clip.Duration() <= o.segmenter.ChunkDuration()
		if singleShot {
			chunks = []audio.Chunk{{Index: 0, Start: 0, End: clip.Duration(), WAV: src}}
		} else {
			chunks, err = o.segmenter.Split(clip)
			if err != nil {
				return transcription.Result{}, fmt.Errorf("pipeline: segment audio: %w", err)
			}
		}
		log.Info("transcription run starting",
			"duration", clip.Duration(),
			"chunks", len(chunks),
			"single_shot", singleShot,
		)
	}

	rec, err := o.openRecord(ctx, sessionID, len(chunks))
	if err != nil {
		return transcription.Result{}, err
	}

	for _, chunk := range chunks {
		prev := rec.Chunk(chunk.Index)
		if prev != nil && prev.Status == ledger.StatusCompleted {
			log.Info("skipping completed chunk", "chunk", chunk.Index)
			continue
		}

		o.publish(Event{
			SessionID:       sessionID,
			RecordID:        rec.ID,
			Stage:           StageChunkStarted,
			ChunkIndex:      chunk.Index,
			TotalChunks:     rec.TotalChunks,
			CompletedChunks: rec.CompletedChunks,
		})

		rec, err = o.processChunk(ctx, rec, chunk, len(chunks), singleShot, mimeType)
		if err != nil {
			o.publish(Event{
				SessionID:   sessionID,
				Stage:       StageChunkFailed,
				ChunkIndex:  chunk.Index,
				TotalChunks: len(chunks),
				Message:     err.Error(),
			})
			return transcription.Result{}, fmt.Errorf("pipeline: chunk %d/%d failed: %w", chunk.Index+1, len(chunks), err)
		}
		o.publish(Event{
			SessionID:       sessionID,
			RecordID:        rec.ID,
			Stage:           StageChunkCompleted,
			ChunkIndex:      chunk.Index,
			TotalChunks:     rec.TotalChunks,
			CompletedChunks: rec.CompletedChunks,
		})
	}

	o.publish(Event{SessionID: sessionID, RecordID: rec.ID, Stage: StageMerging,
		TotalChunks: rec.TotalChunks, CompletedChunks: rec.CompletedChunks})

	result := o.merge(ctx, rec)
	if o.corrector != nil {
		var corrections []transcript.Correction
		result, corrections = o.corrector.Correct(result)
		if len(corrections) > 0 {
			log.Info("vocabulary corrections applied", "count", len(corrections))
		}
	}
	if err := o.store.MarkComplete(ctx, rec.ID, result); err != nil {
		return transcription.Result{}, fmt.Errorf("pipeline: mark complete: %w", err)
	}

	o.publish(Event{SessionID: sessionID, RecordID: rec.ID, Stage: StageCompleted,
		TotalChunks: rec.TotalChunks, CompletedChunks: rec.TotalChunks})
	log.Info("transcription run completed", "segments", len(result.Segments))
	return result, nil
}

// openRecord finds a resumable ledger record for the session or initializes
// a fresh one. A leftover record whose chunk count no longer matches (the
// chunk duration configuration changed between runs) is cleared and
// restarted, since its completed segments are cut at different boundaries.
func (o *Orchestrator) openRecord(ctx context.Context, sessionID string, totalChunks int) (*ledger.Record, error) {
	rec, err := o.store.FindIncomplete(ctx, sessionID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		rec, err = o.store.Initialize(ctx, sessionID, totalChunks)
		if err != nil {
			return nil, fmt.Errorf("pipeline: initialize ledger: %w", err)
		}
		return rec, nil
	case err != nil:
		return nil, fmt.Errorf("pipeline: find ledger: %w", err)
	}

	if rec.TotalChunks != totalChunks {
		observe.Logger(ctx).Warn("resumable record has stale chunk layout, restarting",
			"session_id", sessionID,
			"record_chunks", rec.TotalChunks,
			"current_chunks", totalChunks,
		)
		if err := o.store.Clear(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("pipeline: clear stale ledger: %w", err)
		}
		rec, err = o.store.Get(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: reload ledger: %w", err)
		}
		return rec, nil
	}

	observe.Logger(ctx).Info("resuming incomplete transcription",
		"session_id", sessionID,
		"record_id", rec.ID,
		"completed_chunks", rec.CompletedChunks,
		"total_chunks", rec.TotalChunks,
	)
	return rec, nil
}

// processChunk marks the chunk processing, transcribes it with the retry
// policy, and persists the outcome. The returned record reflects the final
// chunk state; on error the chunk is recorded failed with its message and
// accumulated retry count before the error is propagated.
func (o *Orchestrator) processChunk(ctx context.Context, rec *ledger.Record, chunk audio.Chunk, total int, singleShot bool, mimeType string) (*ledger.Record, error) {
	retries := 0
	if prev := rec.Chunk(chunk.Index); prev != nil {
		retries = prev.RetryCount
	}

	state := ledger.ChunkState{
		Index:            chunk.Index,
		StartTimeSeconds: chunk.StartSeconds(),
		EndTimeSeconds:   chunk.EndSeconds(),
		DurationSeconds:  chunk.Duration().Seconds(),
		Status:           ledger.StatusProcessing,
		RetryCount:       retries,
	}
	rec, err := o.store.UpsertChunk(ctx, rec.ID, state)
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	start := time.Now()
	var segments []transcription.RawSegment
	err = o.retrier.Do(ctx, func(ctx context.Context) error {
		var attemptErr error
		if singleShot {
			segments, attemptErr = o.transcriber.TranscribeClip(ctx, chunk.WAV, mimeType)
		} else {
			segments, attemptErr = o.transcriber.TranscribeChunk(ctx, chunk, total)
		}
		if attemptErr != nil && transcription.IsRetryable(attemptErr) {
			state.RetryCount++
			if o.metrics != nil {
				o.metrics.RecordChunkRetry(ctx, "overloaded")
			}
		}
		return attemptErr
	})
	elapsed := time.Since(start)

	if o.metrics != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		o.metrics.ChunkDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(observe.Attr("status", status)))
	}

	state.ProcessingTimeMs = elapsed.Milliseconds()
	if err != nil {
		state.Status = ledger.StatusFailed
		state.Error = err.Error()
		if _, upsertErr := o.store.UpsertChunk(ctx, rec.ID, state); upsertErr != nil {
			observe.Logger(ctx).Error("failed to persist chunk failure",
				"record_id", rec.ID, "chunk", chunk.Index, "error", upsertErr)
		}
		return nil, err
	}

	state.Status = ledger.StatusCompleted
	state.Segments = segments
	rec, err = o.store.UpsertChunk(ctx, rec.ID, state)
	if err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	return rec, nil
}

// merge reassembles the per-chunk raw segments into the normalized result.
func (o *Orchestrator) merge(ctx context.Context, rec *ledger.Record) transcription.Result {
	results := make([]transcription.ChunkResult, 0, len(rec.Chunks))
	for _, c := range rec.Chunks {
		results = append(results, transcription.ChunkResult{
			StartSeconds: c.StartTimeSeconds,
			Segments:     c.Segments,
		})
	}
	segments := transcription.Merge(results)
	if o.metrics != nil {
		o.metrics.SegmentsMerged.Add(ctx, int64(len(segments)))
	}
	return transcription.NewResult(segments)
}

func (o *Orchestrator) acquire(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[sessionID]; busy {
		return ErrRunInProgress
	}
	o.active[sessionID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, sessionID)
}

func (o *Orchestrator) publish(e Event) {
	if o.sink != nil {
		o.sink.Publish(e)
	}
}

// detectAudioMIME sniffs the content type of an asset that did not decode as
// WAV, normalising the sniffer's container-level names to the audio types
// transcription backends accept.
func detectAudioMIME(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "audio/wave", "audio/x-wav":
		return "audio/wav"
	case "application/ogg":
		return "audio/ogg"
	case "video/mp4":
		return "audio/mp4"
	default:
		return ct
	}
}
