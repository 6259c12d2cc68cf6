package planner

import (
	"strings"
	"testing"

	"github.com/slidecast-labs/narrate-core/internal/segment"
)

func seg(slide int, text string) segment.Segment {
	return segment.Segment{SlideIndex: slide, Text: text, WordCount: segment.CountWords(text)}
}

func TestPlanEmptyInput(t *testing.T) {
	chunks, err := Plan(nil, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected empty plan, got %d chunks", len(chunks))
	}
}

func TestPlanPartitionInvariant(t *testing.T) {
	segments := []segment.Segment{
		seg(1, "alpha beta"),
		seg(2, "gamma delta epsilon"),
		seg(3, "zeta"),
		seg(4, "eta theta iota kappa"),
		seg(5, "lambda"),
	}
	for _, maxBytes := range []int{1, 5, 10, 16, 100} {
		chunks, err := Plan(segments, maxBytes)
		if err != nil {
			t.Fatalf("maxBytes=%d: unexpected error: %v", maxBytes, err)
		}
		var flat []segment.Segment
		for i, c := range chunks {
			if c.Index != i {
				t.Fatalf("maxBytes=%d: chunk %d has index %d", maxBytes, i, c.Index)
			}
			flat = append(flat, c.Segments...)
		}
		if len(flat) != len(segments) {
			t.Fatalf("maxBytes=%d: expected %d segments, got %d", maxBytes, len(segments), len(flat))
		}
		for i := range segments {
			if flat[i].SlideIndex != segments[i].SlideIndex || flat[i].Text != segments[i].Text {
				t.Fatalf("maxBytes=%d: segment %d does not match input", maxBytes, i)
			}
		}
	}
}

func TestPlanSizeBound(t *testing.T) {
	segments := []segment.Segment{
		seg(1, "one two"),
		seg(2, "three four"),
		seg(3, strings.Repeat("long ", 30)),
		seg(4, "five"),
	}
	maxBytes := 20
	chunks, err := Plan(segments, maxBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range chunks {
		if c.Oversized {
			if len(c.Segments) != 1 {
				t.Fatalf("oversized chunk %d has %d segments, want 1", c.Index, len(c.Segments))
			}
			if EncodedSize(c.Segments[0].Text) <= maxBytes {
				t.Fatalf("chunk %d marked oversized but segment fits", c.Index)
			}
			continue
		}
		if c.EncodedSize > maxBytes {
			t.Fatalf("chunk %d exceeds size bound: %d > %d", c.Index, c.EncodedSize, maxBytes)
		}
	}
}

func TestPlanOversizedSingleSegment(t *testing.T) {
	segments := []segment.Segment{seg(1, strings.Repeat("word ", 50))}
	chunks, err := Plan(segments, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || !chunks[0].Oversized {
		t.Fatalf("expected one oversized chunk, got %+v", chunks)
	}
}

func TestPlanEncodedSizeMatchesText(t *testing.T) {
	segments := []segment.Segment{
		seg(1, "alpha"),
		seg(2, "beta"),
		seg(3, "gamma"),
	}
	chunks, err := Plan(segments, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk, got %d", len(chunks))
	}
	if got := EncodedSize(chunks[0].Text()); got != chunks[0].EncodedSize {
		t.Fatalf("encoded size %d does not match text size %d", chunks[0].EncodedSize, got)
	}
}

func TestPlanRejectsUnorderedSlides(t *testing.T) {
	segments := []segment.Segment{seg(2, "first"), seg(1, "second")}
	if _, err := Plan(segments, 100); err == nil {
		t.Fatal("expected planning error for non-monotonic slide indices")
	}
}
