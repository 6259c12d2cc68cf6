package segment

import (
	"fmt"
	"strings"
)

// Segment is one slide's narration text plus its word count. Segments are the
// atomic unit of planning: a segment is never split across synthesis requests.
type Segment struct {
	SlideIndex int    `json:"slide_index"`
	Text       string `json:"text"`
	WordCount  int    `json:"word_count"`
}

// CountWords reports the whitespace-delimited word count of text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Normalize fills in a missing word count from the text itself.
func Normalize(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		if s.WordCount <= 0 {
			s.WordCount = CountWords(s.Text)
		}
		out[i] = s
	}
	return out
}

// ValidateOrder checks that the list is well formed: slide indices strictly
// increasing, non-empty text, positive word counts. A violation is a planning
// error and aborts before any external call is made.
func ValidateOrder(segments []Segment) error {
	for i, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			return fmt.Errorf("segment %d (slide %d) has empty text", i, s.SlideIndex)
		}
		if s.WordCount <= 0 {
			return fmt.Errorf("segment %d (slide %d) has non-positive word count %d", i, s.SlideIndex, s.WordCount)
		}
		if i > 0 && segments[i-1].SlideIndex >= s.SlideIndex {
			return fmt.Errorf("slide indices not strictly increasing at position %d (%d after %d)",
				i, s.SlideIndex, segments[i-1].SlideIndex)
		}
	}
	return nil
}
