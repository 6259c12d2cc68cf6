package quality

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/slidecast-labs/narrate-core/internal/config"
)

// Rejection reports audio that decoded but failed a quality check. Rejections
// count against the chunk's retry budget, same as a transient synthesis error.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("audio rejected: %s", r.Reason)
}

// IsRejection reports whether err is a quality rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// Gate inspects generated audio before it is accepted as ready. It rejects
// truncated output (below the duration floor) and silent or corrupt output
// (below the loudness floor).
type Gate struct {
	minDuration float64
	minRMS      float64
}

func NewGate(cfg config.QualityConfig) *Gate {
	return &Gate{
		minDuration: float64(cfg.MinDurationMS) / 1000.0,
		minRMS:      cfg.MinRMS,
	}
}

// Inspect measures the PCM stream and returns its duration in seconds, or a
// Rejection when the audio fails a check. Checks run in order: decode,
// duration floor, loudness floor.
func (g *Gate) Inspect(pcm []byte, sampleRate, channels int) (float64, error) {
	if sampleRate <= 0 || channels <= 0 {
		return 0, fmt.Errorf("invalid audio format: rate=%d channels=%d", sampleRate, channels)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return 0, &Rejection{Reason: fmt.Sprintf("undecodable pcm payload of %d bytes", len(pcm))}
	}

	frames := len(pcm) / 2 / channels
	duration := float64(frames) / float64(sampleRate)
	if duration < g.minDuration {
		return 0, &Rejection{Reason: fmt.Sprintf("duration %.3fs below floor %.3fs", duration, g.minDuration)}
	}

	if rms := RMS(pcm); rms < g.minRMS {
		return 0, &Rejection{Reason: fmt.Sprintf("rms %.5f below floor %.5f", rms, g.minRMS)}
	}

	return duration, nil
}

// RMS computes the root-mean-square amplitude of little-endian 16-bit PCM,
// normalized to [0, 1] of full scale.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
