package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.Mode != "mock" {
		t.Fatalf("expected default synthesis mode mock, got %s", cfg.Synthesis.Mode)
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Quality.MinDurationMS != 500 {
		t.Fatalf("expected default min duration 500ms, got %d", cfg.Quality.MinDurationMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATE_SYNTHESIS_MODE", "exec")
	t.Setenv("NARRATE_SYNTHESIS_COMMAND", "piper --output-raw")
	t.Setenv("NARRATE_SYNTHESIS_MAX_CHUNK_BYTES", "2048")
	t.Setenv("NARRATE_SYNTHESIS_SPEAKING_RATE_WPM", "180")
	t.Setenv("NARRATE_PIPELINE_MAX_ATTEMPTS", "3")
	t.Setenv("NARRATE_PIPELINE_RETRY_DELAY_MS", "100")
	t.Setenv("NARRATE_PIPELINE_MAX_CONCURRENCY", "2")
	t.Setenv("NARRATE_QUALITY_MIN_RMS", "0.02")
	t.Setenv("NARRATE_JOB_STORE_PATH", "./tmp.db")
	t.Setenv("NARRATE_ARTIFACTS_DIRECTORY", "./tmp-artifacts")
	t.Setenv("NARRATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Synthesis.Mode != "exec" || cfg.Synthesis.Command != "piper --output-raw" {
		t.Fatalf("expected synthesis overrides, got %+v", cfg.Synthesis)
	}
	if cfg.Synthesis.MaxChunkBytes != 2048 {
		t.Fatalf("expected max chunk bytes 2048, got %d", cfg.Synthesis.MaxChunkBytes)
	}
	if cfg.Synthesis.SpeakingRateWPM != 180 {
		t.Fatalf("expected speaking rate 180, got %d", cfg.Synthesis.SpeakingRateWPM)
	}
	if cfg.Pipeline.MaxAttempts != 3 || cfg.Pipeline.RetryDelayMS != 100 || cfg.Pipeline.Concurrency != 2 {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if cfg.Quality.MinRMS != 0.02 {
		t.Fatalf("expected min rms override, got %f", cfg.Quality.MinRMS)
	}
	if cfg.JobStore.Path != "./tmp.db" {
		t.Fatalf("expected job store path override")
	}
	if cfg.Artifacts.Directory != "./tmp-artifacts" {
		t.Fatalf("expected artifacts directory override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("NARRATE_SYNTHESIS_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec mode without command")
	}
}
