package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	JobStore    JobStoreConfig  `yaml:"job_store"`
	Artifacts   ArtifactConfig  `yaml:"artifacts"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Quality     QualityConfig   `yaml:"quality"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type JobStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ArtifactConfig struct {
	Directory string `yaml:"directory"`
}

type SynthesisConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	MaxChunkBytes   int    `yaml:"max_chunk_bytes"`
	SpeakingRateWPM int    `yaml:"speaking_rate_wpm"`
}

type QualityConfig struct {
	MinDurationMS int     `yaml:"min_duration_ms"`
	MinRMS        float64 `yaml:"min_rms"`
}

type PipelineConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	RetryDelayMS     int `yaml:"retry_delay_ms"`
	AttemptTimeoutMS int `yaml:"attempt_timeout_ms"`
	Concurrency      int `yaml:"max_concurrency"`
}

func Default() Config {
	return Config{
		RuntimeName: "narrate-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		JobStore: JobStoreConfig{
			Path:          "./data/narrate-jobs.db",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Artifacts: ArtifactConfig{
			Directory: "./data/artifacts",
		},
		Synthesis: SynthesisConfig{
			Mode:            "mock",
			Voice:           "en-US",
			SampleRate:      22050,
			Channels:        1,
			MaxChunkBytes:   4096,
			SpeakingRateWPM: 150,
		},
		Quality: QualityConfig{
			MinDurationMS: 500,
			MinRMS:        0.005,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:      5,
			RetryDelayMS:     30000,
			AttemptTimeoutMS: 120000,
			Concurrency:      3,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRATE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARRATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "NARRATE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.JobStore.Path, "NARRATE_JOB_STORE_PATH")
	overrideInt(&cfg.JobStore.RetentionDays, "NARRATE_JOB_STORE_RETENTION_DAYS")
	overrideInt(&cfg.JobStore.MaxJobs, "NARRATE_JOB_STORE_MAX_JOBS")
	overrideBool(&cfg.JobStore.VacuumOnStart, "NARRATE_JOB_STORE_VACUUM_ON_START")
	overrideString(&cfg.Artifacts.Directory, "NARRATE_ARTIFACTS_DIRECTORY")
	overrideString(&cfg.Synthesis.Mode, "NARRATE_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "NARRATE_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Voice, "NARRATE_SYNTHESIS_VOICE")
	overrideInt(&cfg.Synthesis.SampleRate, "NARRATE_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "NARRATE_SYNTHESIS_CHANNELS")
	overrideInt(&cfg.Synthesis.MaxChunkBytes, "NARRATE_SYNTHESIS_MAX_CHUNK_BYTES")
	overrideInt(&cfg.Synthesis.SpeakingRateWPM, "NARRATE_SYNTHESIS_SPEAKING_RATE_WPM")
	overrideInt(&cfg.Quality.MinDurationMS, "NARRATE_QUALITY_MIN_DURATION_MS")
	overrideFloat(&cfg.Quality.MinRMS, "NARRATE_QUALITY_MIN_RMS")
	overrideInt(&cfg.Pipeline.MaxAttempts, "NARRATE_PIPELINE_MAX_ATTEMPTS")
	overrideInt(&cfg.Pipeline.RetryDelayMS, "NARRATE_PIPELINE_RETRY_DELAY_MS")
	overrideInt(&cfg.Pipeline.AttemptTimeoutMS, "NARRATE_PIPELINE_ATTEMPT_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.Concurrency, "NARRATE_PIPELINE_MAX_CONCURRENCY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.JobStore.Path == "" {
		return errors.New("job_store.path must not be empty")
	}
	if cfg.JobStore.RetentionDays < 0 {
		return errors.New("job_store.retention_days must be >= 0")
	}
	if cfg.Artifacts.Directory == "" {
		return errors.New("artifacts.directory must not be empty")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|exec")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	if cfg.Synthesis.MaxChunkBytes <= 0 {
		return errors.New("synthesis.max_chunk_bytes must be positive")
	}
	if cfg.Synthesis.SpeakingRateWPM <= 0 {
		return errors.New("synthesis.speaking_rate_wpm must be positive")
	}
	if cfg.Quality.MinDurationMS < 0 {
		return errors.New("quality.min_duration_ms must be >= 0")
	}
	if cfg.Quality.MinRMS < 0 || cfg.Quality.MinRMS >= 1 {
		return errors.New("quality.min_rms must be in [0, 1)")
	}
	if cfg.Pipeline.MaxAttempts < 1 {
		return errors.New("pipeline.max_attempts must be >= 1")
	}
	if cfg.Pipeline.RetryDelayMS < 0 {
		return errors.New("pipeline.retry_delay_ms must be >= 0")
	}
	if cfg.Pipeline.AttemptTimeoutMS <= 0 {
		return errors.New("pipeline.attempt_timeout_ms must be positive")
	}
	if cfg.Pipeline.Concurrency < 1 {
		return errors.New("pipeline.max_concurrency must be >= 1")
	}
	return nil
}
