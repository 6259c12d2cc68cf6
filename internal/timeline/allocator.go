package timeline

import (
	"github.com/slidecast-labs/narrate-core/internal/planner"
)

// Range is the time span a slide's narration occupies, in seconds. Start is
// inclusive, End exclusive. Ranges within a chunk start at 0; the merge step
// shifts them onto the global track timeline.
type Range struct {
	SlideIndex int     `json:"slide_index"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

// Allocator computes per-segment time ranges in two passes: a provisional
// word-ratio layout before generation, then a proportional correction once the
// actual audio duration is known. Segments are laid out back-to-back with no
// inter-segment gap.
type Allocator struct {
	wpm int
}

func NewAllocator(speakingRateWPM int) *Allocator {
	if speakingRateWPM <= 0 {
		speakingRateWPM = 150
	}
	return &Allocator{wpm: speakingRateWPM}
}

// PredictedDuration estimates how long words of narration take to speak at the
// configured rate.
func (a *Allocator) PredictedDuration(words int) float64 {
	return float64(words) / float64(a.wpm) * 60.0
}

// Provisional lays out the chunk's segments from word-count ratios. Each
// segment receives a share of the predicted chunk duration proportional to its
// word count; the last range ends exactly at the predicted duration.
func (a *Allocator) Provisional(c planner.Chunk) []Range {
	total := c.WordCount()
	if total <= 0 || len(c.Segments) == 0 {
		return nil
	}
	predicted := a.PredictedDuration(total)

	ranges := make([]Range, len(c.Segments))
	cursor := 0.0
	for i, s := range c.Segments {
		d := predicted * float64(s.WordCount) / float64(total)
		end := cursor + d
		if i == len(c.Segments)-1 {
			end = predicted
		}
		ranges[i] = Range{SlideIndex: s.SlideIndex, Start: cursor, End: end}
		cursor = end
	}
	return ranges
}

// Correct rescales provisional ranges so their total span equals the actual
// audio duration while preserving each segment's proportional share. The
// predicted duration is the span of the provisional layout.
func Correct(provisional []Range, actual float64) []Range {
	if len(provisional) == 0 {
		return nil
	}
	predicted := provisional[len(provisional)-1].End
	if predicted <= 0 {
		return nil
	}
	scale := actual / predicted

	corrected := make([]Range, len(provisional))
	for i, r := range provisional {
		corrected[i] = Range{
			SlideIndex: r.SlideIndex,
			Start:      r.Start * scale,
			End:        r.End * scale,
		}
	}
	corrected[len(corrected)-1].End = actual
	return corrected
}

// Offset shifts chunk-local ranges onto the global timeline by base seconds.
func Offset(ranges []Range, base float64) []Range {
	out := make([]Range, len(ranges))
	for i, r := range ranges {
		out[i] = Range{SlideIndex: r.SlideIndex, Start: r.Start + base, End: r.End + base}
	}
	return out
}

// ScaleFactor is the ratio of measured duration to the word-count prediction.
func ScaleFactor(predicted, actual float64) float64 {
	if predicted <= 0 {
		return 0
	}
	return actual / predicted
}
