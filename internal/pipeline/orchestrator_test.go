package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/slidecast-labs/narrate-core/internal/config"
	"github.com/slidecast-labs/narrate-core/internal/jobstore"
	"github.com/slidecast-labs/narrate-core/internal/segment"
	"github.com/slidecast-labs/narrate-core/internal/synth"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Synthesis.SampleRate = 8000
	cfg.Synthesis.MaxChunkBytes = 20
	cfg.Pipeline.MaxAttempts = 3
	cfg.Pipeline.RetryDelayMS = 0
	cfg.Pipeline.AttemptTimeoutMS = 5000
	cfg.Pipeline.Concurrency = 2
	return cfg
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	cfg := config.JobStoreConfig{Path: filepath.Join(t.TempDir(), "jobs.db")}
	s, err := jobstore.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type memArtifacts struct {
	mu   sync.Mutex
	data map[string][]byte
	rate map[string]int
	ch   map[string]int
	n    int
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: map[string][]byte{}, rate: map[string]int{}, ch: map[string]int{}}
}

func (m *memArtifacts) Put(pcm []byte, sampleRate, channels int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := fmt.Sprintf("a-%d.wav", m.n)
	m.n++
	m.data[ref] = pcm
	m.rate[ref] = sampleRate
	m.ch[ref] = channels
	return ref, nil
}

func (m *memArtifacts) Fetch(ref string) ([]byte, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pcm, ok := m.data[ref]
	if !ok {
		return nil, 0, 0, fmt.Errorf("artifact %s not found", ref)
	}
	return pcm, m.rate[ref], m.ch[ref], nil
}

// countingSynth wraps the mock synthesizer and records calls per request text.
type countingSynth struct {
	mu    sync.Mutex
	calls map[string]int
	inner synth.Synthesizer
	// failFor makes requests containing the substring fail with the given error.
	failFor map[string]error
}

func newCountingSynth() *countingSynth {
	return &countingSynth{
		calls:   map[string]int{},
		inner:   synth.NewMockSynth(150),
		failFor: map[string]error{},
	}
}

func (c *countingSynth) Synthesize(ctx context.Context, req synth.Request) (synth.Result, error) {
	c.mu.Lock()
	c.calls[req.Text]++
	c.mu.Unlock()
	for substr, err := range c.failFor {
		if strings.Contains(req.Text, substr) {
			return synth.Result{}, err
		}
	}
	return c.inner.Synthesize(ctx, req)
}

func (c *countingSynth) count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for text, n := range c.calls {
		if strings.Contains(text, substr) {
			total += n
		}
	}
	return total
}

func segs() []segment.Segment {
	return []segment.Segment{
		{SlideIndex: 1, Text: "alpha " + strings.Repeat("one ", 20), WordCount: 21},
		{SlideIndex: 2, Text: "beta " + strings.Repeat("two ", 20), WordCount: 21},
		{SlideIndex: 3, Text: "gamma " + strings.Repeat("three ", 20), WordCount: 21},
	}
}

func TestRunCompleteJob(t *testing.T) {
	store := newStore(t)
	arts := newMemArtifacts()
	syn := newCountingSynth()
	o := New(testConfig(), store, arts, syn, newLogger())

	res, err := o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != jobstore.JobStateComplete {
		t.Fatalf("expected complete, got %s (failed: %+v)", res.State, res.Failed)
	}
	if res.Artifact == nil {
		t.Fatal("expected merged artifact")
	}
	if len(res.Artifact.SegmentRanges) != 3 {
		t.Fatalf("expected 3 global ranges, got %d", len(res.Artifact.SegmentRanges))
	}
	if res.Artifact.SegmentRanges[0].Start != 0 {
		t.Fatalf("global timeline must start at 0, got %f", res.Artifact.SegmentRanges[0].Start)
	}
	for i := 1; i < 3; i++ {
		prev, cur := res.Artifact.SegmentRanges[i-1], res.Artifact.SegmentRanges[i]
		if cur.Start < prev.End-1e-9 {
			t.Fatalf("overlapping global ranges at %d: %+v then %+v", i, prev, cur)
		}
	}
}

func TestRunEmptyInput(t *testing.T) {
	store := newStore(t)
	o := New(testConfig(), store, newMemArtifacts(), newCountingSynth(), newLogger())
	res, err := o.Run(context.Background(), JobRequest{JobID: "job-empty"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != jobstore.JobStateComplete || res.Artifact != nil {
		t.Fatalf("expected no-op success, got %+v", res)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	store := newStore(t)
	syn := newCountingSynth()
	syn.failFor["beta"] = synth.Transient("upstream", errors.New("rate limited"))
	o := New(testConfig(), store, newMemArtifacts(), syn, newLogger())

	res, err := o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != jobstore.JobStatePartialFailure {
		t.Fatalf("expected partial failure, got %s", res.State)
	}
	if got := syn.count("beta"); got != 3 {
		t.Fatalf("transient chunk must be attempted exactly 3 times, got %d", got)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("expected 1 failed chunk, got %+v", res.Failed)
	}
	f := res.Failed[0]
	if len(f.SlideIndexes) != 1 || f.SlideIndexes[0] != 2 {
		t.Fatalf("expected failed chunk to name slide 2, got %+v", f)
	}
	if f.Attempts != 3 || f.LastError == "" {
		t.Fatalf("expected 3 recorded attempts with last error, got %+v", f)
	}
	if res.Artifact != nil {
		t.Fatal("no merged artifact must be produced on partial failure")
	}
}

func TestFatalErrorSingleAttempt(t *testing.T) {
	store := newStore(t)
	syn := newCountingSynth()
	syn.failFor["beta"] = synth.Fatal("invalid_input", errors.New("bad characters"))
	o := New(testConfig(), store, newMemArtifacts(), syn, newLogger())

	res, err := o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != jobstore.JobStatePartialFailure {
		t.Fatalf("expected partial failure, got %s", res.State)
	}
	if got := syn.count("beta"); got != 1 {
		t.Fatalf("fatal chunk must be attempted exactly once, got %d", got)
	}
}

type silenceSynth struct {
	calls int
	mu    sync.Mutex
}

func (s *silenceSynth) Synthesize(ctx context.Context, req synth.Request) (synth.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return synth.Result{
		PCM:        make([]byte, req.SampleRate*2*2), // 2s of silence
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Duration:   2.0,
	}, nil
}

func TestQualityRejectionIsRetryable(t *testing.T) {
	store := newStore(t)
	cfg := testConfig()
	cfg.Synthesis.MaxChunkBytes = 10000 // single chunk
	syn := &silenceSynth{}
	o := New(cfg, store, newMemArtifacts(), syn, newLogger())

	res, err := o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != jobstore.JobStatePartialFailure {
		t.Fatalf("silent audio must not become ready, got %s", res.State)
	}
	if syn.calls != cfg.Pipeline.MaxAttempts {
		t.Fatalf("quality rejection must count against the retry budget: %d calls, want %d",
			syn.calls, cfg.Pipeline.MaxAttempts)
	}
	if !strings.Contains(res.Failed[0].LastError, "rejected") {
		t.Fatalf("expected rejection reason in last error, got %q", res.Failed[0].LastError)
	}
}

func TestIdempotentResume(t *testing.T) {
	store := newStore(t)
	arts := newMemArtifacts()
	syn := newCountingSynth()
	syn.failFor["beta"] = synth.Transient("upstream", errors.New("rate limited"))
	cfg := testConfig()
	o := New(cfg, store, arts, syn, newLogger())

	res, err := o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs()})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.State != jobstore.JobStatePartialFailure {
		t.Fatalf("expected partial failure, got %s", res.State)
	}
	alphaCalls := syn.count("alpha")
	gammaCalls := syn.count("gamma")

	// The engine recovered; the resumed run must only re-attempt the failed chunk.
	delete(syn.failFor, "beta")
	res, err = o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs()})
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if res.State != jobstore.JobStateComplete {
		t.Fatalf("expected complete after resume, got %s (failed: %+v)", res.State, res.Failed)
	}
	if syn.count("alpha") != alphaCalls || syn.count("gamma") != gammaCalls {
		t.Fatal("ready chunks must not be re-synthesized on resume")
	}
	if syn.count("beta") != 4 { // 3 failed attempts + 1 successful retry
		t.Fatalf("expected 4 total beta attempts, got %d", syn.count("beta"))
	}
}

func TestForceRegenerate(t *testing.T) {
	store := newStore(t)
	syn := newCountingSynth()
	o := New(testConfig(), store, newMemArtifacts(), syn, newLogger())

	if _, err := o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs()}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := syn.count("alpha")

	if _, err := o.Run(context.Background(), JobRequest{JobID: "job-1", Segments: segs(), ForceRegenerate: true}); err != nil {
		t.Fatalf("force run: %v", err)
	}
	if syn.count("alpha") != before+1 {
		t.Fatal("force_regenerate must bypass the idempotent skip")
	}
}

func TestJobLeaseRejectsConcurrentRun(t *testing.T) {
	store := newStore(t)
	o := New(testConfig(), store, newMemArtifacts(), newCountingSynth(), newLogger())

	ctx := context.Background()
	if err := store.EnsureJob(ctx, "job-1"); err != nil {
		t.Fatalf("ensure job: %v", err)
	}
	ok, err := store.AcquireLease(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("acquire lease: ok=%v err=%v", ok, err)
	}

	_, err = o.Run(ctx, JobRequest{JobID: "job-1", Segments: segs()})
	if !errors.Is(err, ErrJobLocked) {
		t.Fatalf("expected ErrJobLocked, got %v", err)
	}
}
