package planner

import (
	"fmt"
	"strings"

	"github.com/slidecast-labs/narrate-core/internal/segment"
)

// separator joins segment texts inside one synthesis request.
const separator = "\n"

// Chunk is a maximal run of consecutive segments whose combined encoded size
// fits the synthesizer's request-size limit, or a single oversized segment.
type Chunk struct {
	Index       int
	Segments    []segment.Segment
	EncodedSize int
	Oversized   bool
}

// Text returns the request payload for the chunk.
func (c Chunk) Text() string {
	parts := make([]string, len(c.Segments))
	for i, s := range c.Segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, separator)
}

// WordCount is the total word count across the chunk's segments.
func (c Chunk) WordCount() int {
	total := 0
	for _, s := range c.Segments {
		total += s.WordCount
	}
	return total
}

// SlideIndexes lists the slide indices covered by the chunk, in order.
func (c Chunk) SlideIndexes() []int {
	out := make([]int, len(c.Segments))
	for i, s := range c.Segments {
		out[i] = s.SlideIndex
	}
	return out
}

// EncodedSize reports the UTF-8 byte size of text as sent to the synthesizer.
func EncodedSize(text string) int {
	return len(text)
}

// Plan packs ordered segments into chunks bounded by maxBytes using greedy
// order-preserving first-fit. A segment whose own encoded size exceeds the
// limit still becomes its own chunk: segment atomicity takes priority over the
// size bound, so one slide's narration is never split across two requests.
// Segments are never reordered. An empty input yields an empty plan.
func Plan(segments []segment.Segment, maxBytes int) ([]Chunk, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max chunk bytes must be positive, got %d", maxBytes)
	}
	segments = segment.Normalize(segments)
	if err := segment.ValidateOrder(segments); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	var chunks []Chunk
	var buf []segment.Segment
	size := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Segments:    buf,
			EncodedSize: size,
			Oversized:   size > maxBytes,
		})
		buf = nil
		size = 0
	}

	for _, s := range segments {
		segSize := EncodedSize(s.Text)
		next := segSize
		if len(buf) > 0 {
			next = size + len(separator) + segSize
		}
		if len(buf) > 0 && next > maxBytes {
			flush()
			next = segSize
		}
		buf = append(buf, s)
		size = next
	}
	flush()

	return chunks, nil
}
