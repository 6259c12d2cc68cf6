package narration

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/slidecast-labs/narrate-core/internal/bus"
	"github.com/slidecast-labs/narrate-core/internal/pipeline"
	"github.com/slidecast-labs/narrate-core/internal/protocol"
	"github.com/slidecast-labs/narrate-core/internal/segment"
)

// Service is the bus-facing edge of the pipeline: it accepts narration job
// requests, runs the orchestrator, and publishes the result.
type Service struct {
	bus    *bus.Client
	orch   *pipeline.Orchestrator
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, orch *pipeline.Orchestrator, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		orch:   orch,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "narration-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectJobRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.NarrationJobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode job request", slogError(err))
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		jobReq := pipeline.JobRequest{
			JobID:           req.JobID,
			Segments:        toSegments(req.Segments),
			Voice:           req.Voice,
			ForceRegenerate: req.ForceRegenerate,
		}

		result := protocol.NarrationJobResult{
			JobID:     req.JobID,
			TraceID:   req.TraceID,
			Timestamp: time.Now().UTC(),
		}

		res, err := s.orch.Run(s.ctx, jobReq)
		if err != nil {
			s.logger.Error("job run failed",
				slog.String("job_id", req.JobID), slogError(err))
			result.State = "error"
			result.Error = err.Error()
			s.publishResult(result)
			return
		}

		result.State = res.State
		if res.Artifact != nil {
			result.AudioRef = res.Artifact.AudioRef
			result.TotalDuration = res.Artifact.TotalDuration
			for _, r := range res.Artifact.SegmentRanges {
				result.SegmentRanges = append(result.SegmentRanges, protocol.SegmentRange{
					SlideIndex: r.SlideIndex,
					Start:      r.Start,
					End:        r.End,
				})
			}
		}
		for _, f := range res.Failed {
			result.FailedChunks = append(result.FailedChunks, protocol.FailedChunk{
				ChunkIndex:   f.ChunkIndex,
				SlideIndexes: f.SlideIndexes,
				LastError:    f.LastError,
				Attempts:     f.Attempts,
			})
		}
		s.publishResult(result)
	}()
}

func (s *Service) publishResult(result protocol.NarrationJobResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to marshal job result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectJobResult, data); err != nil {
		s.logger.Warn("failed to publish job result", slogError(err))
	}
}

func toSegments(inputs []protocol.SegmentInput) []segment.Segment {
	out := make([]segment.Segment, len(inputs))
	for i, in := range inputs {
		out[i] = segment.Segment{SlideIndex: in.SlideIndex, Text: in.Text, WordCount: in.WordCount}
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
