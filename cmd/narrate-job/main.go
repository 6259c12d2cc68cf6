// narrate-job runs a single narration job from a segments file, without the
// bus. Useful for local runs and for retrying a partially failed job by ID.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/slidecast-labs/narrate-core/internal/artifact"
	"github.com/slidecast-labs/narrate-core/internal/config"
	"github.com/slidecast-labs/narrate-core/internal/jobstore"
	"github.com/slidecast-labs/narrate-core/internal/pipeline"
	"github.com/slidecast-labs/narrate-core/internal/segment"
	"github.com/slidecast-labs/narrate-core/internal/synth"
)

func main() {
	var (
		configPath string
		inputPath  string
		jobID      string
		voice      string
		force      bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.StringVar(&inputPath, "input", "", "Path to a JSON file with the segment list")
	flag.StringVar(&jobID, "job", "", "Job ID (defaults to a new UUID; reuse to resume)")
	flag.StringVar(&voice, "voice", "", "Voice override")
	flag.BoolVar(&force, "force", false, "Regenerate all chunks, ignoring ready ones")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if inputPath == "" {
		logger.Error("missing required -input flag")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		logger.Error("failed to read input", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var segments []segment.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		logger.Error("failed to parse segment list", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if jobID == "" {
		jobID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := jobstore.Open(ctx, cfg.JobStore, logger)
	if err != nil {
		logger.Error("failed to open job store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	artifacts, err := artifact.NewStore(cfg.Artifacts, logger)
	if err != nil {
		logger.Error("failed to open artifact store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var synthesizer synth.Synthesizer
	if cfg.Synthesis.Mode == "exec" {
		synthesizer, err = synth.NewExecSynth(cfg.Synthesis.Command)
		if err != nil {
			logger.Error("failed to build synthesizer", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		synthesizer = synth.NewMockSynth(cfg.Synthesis.SpeakingRateWPM)
	}

	orch := pipeline.New(cfg, store, artifacts, synthesizer, logger)
	res, err := orch.Run(ctx, pipeline.JobRequest{
		JobID:           jobID,
		Segments:        segments,
		Voice:           voice,
		ForceRegenerate: force,
	})
	if err != nil {
		logger.Error("job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		os.Exit(1)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		logger.Error("failed to encode result", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fmt.Println(string(out))

	if res.State == jobstore.JobStatePartialFailure {
		logger.Warn("job finished with failed chunks, rerun with the same -job to resume",
			slog.String("job_id", jobID), slog.Int("failed", len(res.Failed)))
		os.Exit(3)
	}
}
