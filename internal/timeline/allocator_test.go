package timeline

import (
	"math"
	"strings"
	"testing"

	"github.com/slidecast-labs/narrate-core/internal/planner"
	"github.com/slidecast-labs/narrate-core/internal/segment"
)

func chunkWithWordCounts(counts ...int) planner.Chunk {
	segs := make([]segment.Segment, len(counts))
	for i, c := range counts {
		segs[i] = segment.Segment{
			SlideIndex: i + 1,
			Text:       strings.TrimSpace(strings.Repeat("word ", c)),
			WordCount:  c,
		}
	}
	return planner.Chunk{Index: 0, Segments: segs}
}

func TestProvisionalContiguousFromZero(t *testing.T) {
	a := NewAllocator(150)
	ranges := a.Provisional(chunkWithWordCounts(10, 30, 10))
	if len(ranges) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(ranges))
	}
	if ranges[0].Start != 0 {
		t.Fatalf("expected first range to start at 0, got %f", ranges[0].Start)
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start != ranges[i-1].End {
			t.Fatalf("gap between range %d and %d: %f != %f", i-1, i, ranges[i-1].End, ranges[i].Start)
		}
	}
	predicted := a.PredictedDuration(50)
	if math.Abs(ranges[2].End-predicted) > 1e-9 {
		t.Fatalf("expected total span %f, got %f", predicted, ranges[2].End)
	}
}

func TestCorrectPreservesProportions(t *testing.T) {
	// Corrected durations depend only on word ratios and the actual duration,
	// not on the speaking rate used for the provisional pass.
	for _, wpm := range []int{60, 150, 300} {
		a := NewAllocator(wpm)
		ranges := Correct(a.Provisional(chunkWithWordCounts(10, 30, 10)), 100.0)
		want := []float64{20, 60, 20}
		for i, w := range want {
			got := ranges[i].End - ranges[i].Start
			if math.Abs(got-w) > 1e-6 {
				t.Fatalf("wpm=%d: segment %d duration %f, want %f", wpm, i, got, w)
			}
		}
		if ranges[2].End != 100.0 {
			t.Fatalf("wpm=%d: expected corrected span to end at 100.0, got %f", wpm, ranges[2].End)
		}
	}
}

func TestCorrectEmptyInput(t *testing.T) {
	if got := Correct(nil, 10); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestOffsetShiftsRanges(t *testing.T) {
	ranges := []Range{
		{SlideIndex: 3, Start: 0, End: 4},
		{SlideIndex: 4, Start: 4, End: 8.5},
	}
	shifted := Offset(ranges, 12.0)
	if shifted[0].Start != 12.0 || shifted[0].End != 16.0 {
		t.Fatalf("unexpected first range: %+v", shifted[0])
	}
	if shifted[1].Start != 16.0 || shifted[1].End != 20.5 {
		t.Fatalf("unexpected second range: %+v", shifted[1])
	}
}

func TestScaleFactor(t *testing.T) {
	if got := ScaleFactor(20.0, 25.0); math.Abs(got-1.25) > 1e-9 {
		t.Fatalf("expected 1.25, got %f", got)
	}
	if got := ScaleFactor(0, 25.0); got != 0 {
		t.Fatalf("expected 0 for undefined scale, got %f", got)
	}
}
