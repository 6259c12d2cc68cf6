package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/slidecast-labs/narrate-core/internal/config"
	"github.com/slidecast-labs/narrate-core/internal/jobstore"
	"github.com/slidecast-labs/narrate-core/internal/merge"
	"github.com/slidecast-labs/narrate-core/internal/planner"
	"github.com/slidecast-labs/narrate-core/internal/quality"
	"github.com/slidecast-labs/narrate-core/internal/segment"
	"github.com/slidecast-labs/narrate-core/internal/synth"
	"github.com/slidecast-labs/narrate-core/internal/timeline"
)

// ErrJobLocked is returned when another orchestrator run owns the job.
var ErrJobLocked = errors.New("job is already being processed")

// JobRequest describes one narration job.
type JobRequest struct {
	JobID           string
	Segments        []segment.Segment
	Voice           string
	ForceRegenerate bool
}

// ChunkFailure names one chunk to retry, with the slides it contains.
type ChunkFailure struct {
	ChunkIndex   int    `json:"chunk_index"`
	SlideIndexes []int  `json:"slide_indexes"`
	LastError    string `json:"last_error"`
	Attempts     int    `json:"attempts"`
}

// Result is the outcome of one orchestrator run. State is either
// jobstore.JobStateComplete with Artifact set, or
// jobstore.JobStatePartialFailure with Failed listing what to retry.
type Result struct {
	JobID    string
	State    string
	Artifact *merge.Artifact
	Failed   []ChunkFailure
}

// Orchestrator drives planning, generation, allocation and merge for a job,
// enforcing idempotency against the job store. A single orchestrator run owns
// a job at a time; chunks within a job are processed by a bounded worker pool.
type Orchestrator struct {
	synthCfg config.SynthesisConfig
	pipeCfg  config.PipelineConfig

	store       *jobstore.Store
	artifacts   merge.ArtifactStore
	synthesizer synth.Synthesizer
	gate        *quality.Gate
	alloc       *timeline.Allocator
	merger      *merge.Engine
	log         *slog.Logger

	chunksGenerated metric.Int64Counter
	chunksFailed    metric.Int64Counter
	chunkRetries    metric.Int64Counter
	jobsCompleted   metric.Int64Counter
}

func New(cfg config.Config, store *jobstore.Store, artifacts merge.ArtifactStore, synthesizer synth.Synthesizer, log *slog.Logger) *Orchestrator {
	meter := otel.Meter("narrate.pipeline")
	chunksGenerated, _ := meter.Int64Counter("narrate.chunks.generated")
	chunksFailed, _ := meter.Int64Counter("narrate.chunks.failed")
	chunkRetries, _ := meter.Int64Counter("narrate.chunks.retries")
	jobsCompleted, _ := meter.Int64Counter("narrate.jobs.completed")

	return &Orchestrator{
		synthCfg:        cfg.Synthesis,
		pipeCfg:         cfg.Pipeline,
		store:           store,
		artifacts:       artifacts,
		synthesizer:     synthesizer,
		gate:            quality.NewGate(cfg.Quality),
		alloc:           timeline.NewAllocator(cfg.Synthesis.SpeakingRateWPM),
		merger:          merge.NewEngine(artifacts, store, log),
		log:             log.With(slog.String("component", "pipeline")),
		chunksGenerated: chunksGenerated,
		chunksFailed:    chunksFailed,
		chunkRetries:    chunkRetries,
		jobsCompleted:   jobsCompleted,
	}
}

// Run executes the pipeline for one job. Re-invocation with the same job ID
// after a partial failure reuses ready chunks and only re-attempts failed or
// pending ones, unless ForceRegenerate is set.
func (o *Orchestrator) Run(ctx context.Context, req JobRequest) (*Result, error) {
	voice := req.Voice
	if voice == "" {
		voice = o.synthCfg.Voice
	}

	plan, err := planner.Plan(req.Segments, o.synthCfg.MaxChunkBytes)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return &Result{JobID: req.JobID, State: jobstore.JobStateComplete}, nil
	}

	if err := o.store.EnsureJob(ctx, req.JobID); err != nil {
		return nil, fmt.Errorf("ensure job: %w", err)
	}
	ok, err := o.store.AcquireLease(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("acquire job lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s: %w", req.JobID, ErrJobLocked)
	}
	storeCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := o.store.ReleaseLease(storeCtx, req.JobID); err != nil {
			o.log.Warn("failed to release job lease", slog.String("job_id", req.JobID), slog.String("error", err.Error()))
		}
	}()

	existing, err := o.store.GetChunks(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("load chunk records: %w", err)
	}
	known := make(map[int]jobstore.ChunkRecord, len(existing))
	for _, rec := range existing {
		known[rec.Index] = rec
	}

	if err := o.store.SetJobState(ctx, req.JobID, jobstore.JobStateProcessing); err != nil {
		return nil, fmt.Errorf("set job state: %w", err)
	}

	records := make(map[int]jobstore.ChunkRecord, len(plan))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sema := make(chan struct{}, o.pipeCfg.Concurrency)

	for _, c := range plan {
		if c.Oversized {
			o.log.Warn("oversized single-segment chunk exceeds request size limit",
				slog.String("job_id", req.JobID),
				slog.Int("chunk_index", c.Index),
				slog.Int("encoded_size", c.EncodedSize),
				slog.Int("max_bytes", o.synthCfg.MaxChunkBytes))
		}

		prior, seen := known[c.Index]
		if seen && prior.Status == jobstore.StatusReady && !req.ForceRegenerate {
			mu.Lock()
			records[c.Index] = prior
			mu.Unlock()
			o.log.Debug("reusing ready chunk", slog.String("job_id", req.JobID), slog.Int("chunk_index", c.Index))
			continue
		}

		pending := o.pendingRecord(req.JobID, c)
		if err := o.store.UpsertChunk(ctx, pending); err != nil {
			return nil, fmt.Errorf("record pending chunk %d: %w", c.Index, err)
		}

		// Cancellation stops issuing new chunk generations; in-flight ones
		// complete below and are recorded.
		if ctx.Err() != nil {
			mu.Lock()
			records[c.Index] = pending
			mu.Unlock()
			continue
		}

		wg.Add(1)
		chunk := c
		go func() {
			defer wg.Done()
			sema <- struct{}{}
			defer func() { <-sema }()

			rec := o.processChunk(ctx, req.JobID, chunk, voice)
			if err := o.store.UpsertChunk(storeCtx, rec); err != nil {
				o.log.Error("failed to persist chunk record",
					slog.String("job_id", req.JobID),
					slog.Int("chunk_index", chunk.Index),
					slog.String("error", err.Error()))
				rec.Status = jobstore.StatusFailed
				rec.LastError = err.Error()
			}
			mu.Lock()
			records[chunk.Index] = rec
			mu.Unlock()
		}()
	}
	wg.Wait()

	ordered := make([]jobstore.ChunkRecord, 0, len(records))
	for _, rec := range records {
		ordered = append(ordered, rec)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var failures []ChunkFailure
	for _, rec := range ordered {
		if rec.Status != jobstore.StatusReady {
			failures = append(failures, ChunkFailure{
				ChunkIndex:   rec.Index,
				SlideIndexes: rec.SlideIndexes,
				LastError:    rec.LastError,
				Attempts:     rec.Attempts,
			})
		}
	}
	if len(failures) > 0 {
		if err := o.store.SetJobState(storeCtx, req.JobID, jobstore.JobStatePartialFailure); err != nil {
			o.log.Warn("failed to record partial failure state", slog.String("job_id", req.JobID), slog.String("error", err.Error()))
		}
		o.log.Warn("job finished with failed chunks",
			slog.String("job_id", req.JobID),
			slog.Int("failed", len(failures)),
			slog.Int("total", len(ordered)))
		return &Result{JobID: req.JobID, State: jobstore.JobStatePartialFailure, Failed: failures}, nil
	}

	if err := o.store.SetJobState(ctx, req.JobID, jobstore.JobStateMerging); err != nil {
		return nil, fmt.Errorf("set job state: %w", err)
	}
	artifactOut, err := o.merger.Merge(ctx, req.JobID, ordered)
	if err != nil {
		// Job-level failure: chunk records stay ready, a retry of the job
		// re-attempts only the merge.
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := o.store.SetJobState(storeCtx, req.JobID, jobstore.JobStateComplete); err != nil {
		o.log.Warn("failed to record job completion", slog.String("job_id", req.JobID), slog.String("error", err.Error()))
	}
	o.jobsCompleted.Add(storeCtx, 1)

	return &Result{JobID: req.JobID, State: jobstore.JobStateComplete, Artifact: artifactOut}, nil
}

func (o *Orchestrator) pendingRecord(jobID string, c planner.Chunk) jobstore.ChunkRecord {
	provisional := o.alloc.Provisional(c)
	return jobstore.ChunkRecord{
		JobID:             jobID,
		Index:             c.Index,
		Status:            jobstore.StatusPending,
		EncodedSize:       c.EncodedSize,
		Oversized:         c.Oversized,
		SlideIndexes:      c.SlideIndexes(),
		PredictedDuration: o.alloc.PredictedDuration(c.WordCount()),
		Ranges:            provisional,
	}
}

// processChunk runs the generate/inspect/allocate sequence for one chunk with
// the configured retry budget. Fatal synthesis errors abort immediately;
// transient errors and quality rejections count against the budget.
func (o *Orchestrator) processChunk(ctx context.Context, jobID string, c planner.Chunk, voice string) jobstore.ChunkRecord {
	rec := o.pendingRecord(jobID, c)
	provisional := rec.Ranges
	predicted := rec.PredictedDuration

	req := synth.Request{
		Text:       c.Text(),
		Voice:      voice,
		SampleRate: o.synthCfg.SampleRate,
		Channels:   o.synthCfg.Channels,
	}

	var lastErr error
	for attempt := 1; attempt <= o.pipeCfg.MaxAttempts; attempt++ {
		rec.Attempts++

		duration, ref, err := o.attempt(ctx, req)
		if err == nil {
			rec.Status = jobstore.StatusReady
			rec.ActualDuration = duration
			rec.ScaleFactor = timeline.ScaleFactor(predicted, duration)
			rec.AudioRef = ref
			rec.Ranges = timeline.Correct(provisional, duration)
			rec.LastError = ""
			o.chunksGenerated.Add(ctx, 1)
			o.log.Info("chunk ready",
				slog.String("job_id", jobID),
				slog.Int("chunk_index", c.Index),
				slog.Int("attempt", attempt),
				slog.Float64("predicted_duration", predicted),
				slog.Float64("actual_duration", duration))
			return rec
		}

		lastErr = err
		o.log.Warn("chunk generation attempt failed",
			slog.String("job_id", jobID),
			slog.Int("chunk_index", c.Index),
			slog.Int("attempt", attempt),
			slog.Int("budget", o.pipeCfg.MaxAttempts),
			slog.String("error", err.Error()))

		if synth.IsFatal(err) {
			break
		}
		o.chunkRetries.Add(ctx, 1)
		if attempt < o.pipeCfg.MaxAttempts && !o.waitRetry(ctx) {
			break
		}
	}

	rec.Status = jobstore.StatusFailed
	rec.LastError = lastErr.Error()
	o.chunksFailed.Add(ctx, 1)
	return rec
}

// attempt runs one synthesize + quality gate + artifact write cycle. The
// attempt context is detached from job cancellation so an in-flight call runs
// to completion under its own timeout.
func (o *Orchestrator) attempt(ctx context.Context, req synth.Request) (float64, string, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		time.Duration(o.pipeCfg.AttemptTimeoutMS)*time.Millisecond)
	defer cancel()

	res, err := o.synthesizer.Synthesize(attemptCtx, req)
	if err != nil {
		return 0, "", err
	}

	duration, err := o.gate.Inspect(res.PCM, res.SampleRate, res.Channels)
	if err != nil {
		return 0, "", err
	}

	ref, err := o.artifacts.Put(res.PCM, res.SampleRate, res.Channels)
	if err != nil {
		return 0, "", fmt.Errorf("store chunk artifact: %w", err)
	}
	return duration, ref, nil
}

// waitRetry sleeps for the fixed inter-attempt delay. It returns false when
// the job was cancelled, which stops issuing further attempts.
func (o *Orchestrator) waitRetry(ctx context.Context) bool {
	delay := time.Duration(o.pipeCfg.RetryDelayMS) * time.Millisecond
	if delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
