package quality

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/slidecast-labs/narrate-core/internal/config"
)

func tonePCM(durationSec float64, sampleRate int, amplitude float64) []byte {
	frames := int(durationSec * float64(sampleRate))
	pcm := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sample := int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return pcm
}

func newGate() *Gate {
	return NewGate(config.QualityConfig{MinDurationMS: 500, MinRMS: 0.005})
}

func TestInspectAcceptsTone(t *testing.T) {
	g := newGate()
	pcm := tonePCM(2.0, 16000, 0.3)
	duration, err := g.Inspect(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if math.Abs(duration-2.0) > 0.001 {
		t.Fatalf("expected duration 2.0s, got %f", duration)
	}
}

func TestInspectRejectsShortAudio(t *testing.T) {
	g := newGate()
	pcm := tonePCM(0.2, 16000, 0.3)
	if _, err := g.Inspect(pcm, 16000, 1); !IsRejection(err) {
		t.Fatalf("expected rejection for short audio, got %v", err)
	}
}

func TestInspectRejectsSilence(t *testing.T) {
	g := newGate()
	pcm := make([]byte, 16000*2*2) // 2s of zeros
	if _, err := g.Inspect(pcm, 16000, 1); !IsRejection(err) {
		t.Fatalf("expected rejection for silence, got %v", err)
	}
}

func TestInspectRejectsEmptyPayload(t *testing.T) {
	g := newGate()
	if _, err := g.Inspect(nil, 16000, 1); !IsRejection(err) {
		t.Fatal("expected rejection for empty payload")
	}
	if _, err := g.Inspect([]byte{0x01}, 16000, 1); !IsRejection(err) {
		t.Fatal("expected rejection for odd byte count")
	}
}

func TestRMSOfFullScaleSquareWave(t *testing.T) {
	pcm := make([]byte, 1000*2)
	for i := 0; i < 1000; i++ {
		v := int16(32767)
		if i%2 == 1 {
			v = -32767
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	if rms := RMS(pcm); math.Abs(rms-1.0) > 0.001 {
		t.Fatalf("expected rms near 1.0, got %f", rms)
	}
}
