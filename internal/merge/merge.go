package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/slidecast-labs/narrate-core/internal/jobstore"
	"github.com/slidecast-labs/narrate-core/internal/timeline"
)

// Artifact is the merged narration track: one audio ref plus a monotonically
// increasing global timeline of slide time ranges.
type Artifact struct {
	AudioRef      string           `json:"audio_ref"`
	TotalDuration float64          `json:"total_duration"`
	SegmentRanges []timeline.Range `json:"segment_ranges"`
}

// ArtifactStore is the slice of the artifact store the engine needs.
type ArtifactStore interface {
	Put(pcm []byte, sampleRate, channels int) (string, error)
	Fetch(ref string) ([]byte, int, int, error)
}

// Engine concatenates ready chunk audio into a single track. A merge failure
// is a job-level error: chunk records stay ready and a retry of the job only
// re-attempts the merge.
type Engine struct {
	artifacts  ArtifactStore
	store      *jobstore.Store
	log        *slog.Logger
	fetchTries uint
	fetchDelay time.Duration
}

func NewEngine(artifacts ArtifactStore, store *jobstore.Store, log *slog.Logger) *Engine {
	return &Engine{
		artifacts:  artifacts,
		store:      store,
		log:        log.With(slog.String("component", "merge-engine")),
		fetchTries: 3,
		fetchDelay: 2 * time.Second,
	}
}

type fetched struct {
	pcm        []byte
	sampleRate int
	channels   int
}

// Merge joins all chunks of a job in chunk order. Every chunk must be ready:
// a partial merge would silently drop slides from the presentation timeline.
// No gap is inserted between chunks, so the global ranges match the literal
// concatenated audio.
func (e *Engine) Merge(ctx context.Context, jobID string, chunks []jobstore.ChunkRecord) (*Artifact, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("merge %s: no chunks", jobID)
	}
	for _, c := range chunks {
		if c.Status != jobstore.StatusReady {
			return nil, fmt.Errorf("merge %s: chunk %d is %s, merge requires all chunks ready", jobID, c.Index, c.Status)
		}
	}

	var (
		pcm        []byte
		sampleRate int
		channels   int
		offset     float64
		ranges     []timeline.Range
	)

	for _, c := range chunks {
		part, err := e.fetchWithRetry(ctx, c.AudioRef)
		if err != nil {
			return nil, fmt.Errorf("merge %s: fetch chunk %d: %w", jobID, c.Index, err)
		}
		if sampleRate == 0 {
			sampleRate = part.sampleRate
			channels = part.channels
		} else if part.sampleRate != sampleRate || part.channels != channels {
			return nil, fmt.Errorf("merge %s: chunk %d format %d/%d does not match %d/%d",
				jobID, c.Index, part.sampleRate, part.channels, sampleRate, channels)
		}

		pcm = append(pcm, part.pcm...)
		ranges = append(ranges, timeline.Offset(c.Ranges, offset)...)
		offset += c.ActualDuration
	}

	ref, err := e.artifacts.Put(pcm, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("merge %s: store merged artifact: %w", jobID, err)
	}

	if e.store != nil {
		if err := e.store.SetMergedArtifact(ctx, jobID, ref, offset); err != nil {
			return nil, fmt.Errorf("merge %s: record merged artifact: %w", jobID, err)
		}
		if err := e.store.MarkChunksSuperseded(ctx, jobID); err != nil {
			e.log.Warn("failed to mark chunk artifacts superseded",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}

	e.log.Info("merge complete",
		slog.String("job_id", jobID),
		slog.Int("chunks", len(chunks)),
		slog.Float64("total_duration", offset))

	return &Artifact{AudioRef: ref, TotalDuration: offset, SegmentRanges: ranges}, nil
}

// fetchWithRetry retries transient artifact fetch failures independently from
// synthesis retries.
func (e *Engine) fetchWithRetry(ctx context.Context, ref string) (fetched, error) {
	return backoff.Retry(ctx, func() (fetched, error) {
		pcm, rate, ch, err := e.artifacts.Fetch(ref)
		if err != nil {
			return fetched{}, err
		}
		return fetched{pcm: pcm, sampleRate: rate, channels: ch}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(e.fetchDelay)), backoff.WithMaxTries(e.fetchTries))
}
