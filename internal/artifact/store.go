package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/slidecast-labs/narrate-core/internal/config"
)

// Store persists audio artifacts as WAV files under a configured directory
// and hands out opaque refs. Downstream consumers only ever see refs.
type Store struct {
	dir string
	log *slog.Logger
}

func NewStore(cfg config.ArtifactConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: cfg.Directory, log: log.With(slog.String("component", "artifact-store"))}, nil
}

// Put encodes little-endian 16-bit PCM as a WAV file and returns its ref.
func (s *Store) Put(pcm []byte, sampleRate, channels int) (string, error) {
	if len(pcm)%2 != 0 {
		return "", fmt.Errorf("pcm payload has odd byte count %d", len(pcm))
	}
	ref := uuid.NewString() + ".wav"

	f, err := os.Create(filepath.Join(s.dir, ref))
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           bytesToSamples(pcm),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("finalize wav: %w", err)
	}

	s.log.Debug("artifact stored", slog.String("ref", ref), slog.Int("bytes", len(pcm)))
	return ref, nil
}

// Fetch decodes a stored WAV artifact back into PCM.
func (s *Store) Fetch(ref string) ([]byte, int, int, error) {
	f, err := os.Open(filepath.Join(s.dir, ref))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open artifact %s: %w", ref, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("artifact %s is not a valid wav file", ref)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode artifact %s: %w", ref, err)
	}
	return samplesToBytes(buf.Data), buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// Path resolves a ref to its location on disk.
func (s *Store) Path(ref string) string {
	return filepath.Join(s.dir, ref)
}

func bytesToSamples(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	return samples
}

func samplesToBytes(samples []int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := uint16(int16(s))
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}
