package synth

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/slidecast-labs/narrate-core/internal/segment"
)

type mockSynth struct {
	wpm int
}

// NewMockSynth returns a synthesizer that produces a steady tone whose
// duration tracks the word count of the request at wpm words per minute.
// Used for development and tests; the output passes the quality gate.
func NewMockSynth(wpm int) Synthesizer {
	if wpm <= 0 {
		wpm = 150
	}
	return &mockSynth{wpm: wpm}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, Transient("mock", ctx.Err())
	default:
	}

	words := segment.CountWords(req.Text)
	duration := float64(words) / float64(m.wpm) * 60.0
	if duration < 1.0 {
		duration = 1.0
	}

	frames := int(duration * float64(req.SampleRate))
	pcm := make([]byte, frames*req.Channels*2)
	for i := 0; i < frames; i++ {
		sample := int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*440*float64(i)/float64(req.SampleRate)))
		for ch := 0; ch < req.Channels; ch++ {
			binary.LittleEndian.PutUint16(pcm[(i*req.Channels+ch)*2:], uint16(sample))
		}
	}

	return Result{
		PCM:        pcm,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Duration:   duration,
	}, nil
}
