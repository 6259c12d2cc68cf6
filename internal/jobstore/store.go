package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/slidecast-labs/narrate-core/internal/config"
	"github.com/slidecast-labs/narrate-core/internal/timeline"
	_ "modernc.org/sqlite"
)

// Status is the lifecycle stage of a chunk record.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Job states persisted for observability and resume decisions.
const (
	JobStatePlanning       = "planning"
	JobStateProcessing     = "chunk_processing"
	JobStateMerging        = "merging"
	JobStateComplete       = "complete"
	JobStatePartialFailure = "partial_failure"
)

// ChunkRecord is the persisted state of one chunk within a job.
type ChunkRecord struct {
	JobID             string
	Index             int
	Status            Status
	EncodedSize       int
	Oversized         bool
	SlideIndexes      []int
	PredictedDuration float64
	ActualDuration    float64
	ScaleFactor       float64
	AudioRef          string
	Superseded        bool
	Ranges            []timeline.Range
	LastError         string
	Attempts          int
}

// Store wraps a SQLite-backed job and chunk store. Chunk writes are atomic
// per record; a job lease keeps a single orchestrator owner per job.
type Store struct {
	db    *sql.DB
	cfg   config.JobStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the job store according to config.
func Open(ctx context.Context, cfg config.JobStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("job store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("job store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    locked INTEGER NOT NULL DEFAULT 0,
    merged_artifact TEXT,
    total_duration REAL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    job_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    status TEXT NOT NULL,
    encoded_size INTEGER NOT NULL DEFAULT 0,
    oversized INTEGER NOT NULL DEFAULT 0,
    slide_indexes TEXT,
    predicted_duration REAL NOT NULL DEFAULT 0,
    actual_duration REAL NOT NULL DEFAULT 0,
    scale_factor REAL NOT NULL DEFAULT 0,
    audio_ref TEXT NOT NULL DEFAULT '',
    superseded INTEGER NOT NULL DEFAULT 0,
    segment_ranges TEXT,
    last_error TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY(job_id, chunk_index),
    FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunks_job_status ON chunks(job_id, status);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureJob creates the job row if it does not exist yet.
func (s *Store) EnsureJob(ctx context.Context, jobID string) error {
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, state, created_at, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		jobID, JobStatePlanning, now, now)
	return err
}

// AcquireLease takes exclusive ownership of a job. It returns false when
// another orchestrator run already holds the lease.
func (s *Store) AcquireLease(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET locked = 1, updated_at = ? WHERE job_id = ? AND locked = 0`,
		s.clock().UTC(), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease returns the job to an unowned state.
func (s *Store) ReleaseLease(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET locked = 0, updated_at = ? WHERE job_id = ?`,
		s.clock().UTC(), jobID)
	return err
}

// SetJobState records a job state transition.
func (s *Store) SetJobState(ctx context.Context, jobID, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE job_id = ?`,
		state, s.clock().UTC(), jobID)
	return err
}

// SetMergedArtifact attaches the final merged track to the job.
func (s *Store) SetMergedArtifact(ctx context.Context, jobID, audioRef string, totalDuration float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET merged_artifact = ?, total_duration = ?, updated_at = ? WHERE job_id = ?`,
		audioRef, totalDuration, s.clock().UTC(), jobID)
	return err
}

// UpsertChunk writes one chunk record atomically.
func (s *Store) UpsertChunk(ctx context.Context, rec ChunkRecord) error {
	slides, err := json.Marshal(rec.SlideIndexes)
	if err != nil {
		return fmt.Errorf("marshal slide indexes: %w", err)
	}
	ranges, err := json.Marshal(rec.Ranges)
	if err != nil {
		return fmt.Errorf("marshal segment ranges: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chunks(job_id, chunk_index, status, encoded_size, oversized, slide_indexes,
		                    predicted_duration, actual_duration, scale_factor, audio_ref,
		                    superseded, segment_ranges, last_error, attempts, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, chunk_index) DO UPDATE SET
		     status = excluded.status,
		     encoded_size = excluded.encoded_size,
		     oversized = excluded.oversized,
		     slide_indexes = excluded.slide_indexes,
		     predicted_duration = excluded.predicted_duration,
		     actual_duration = excluded.actual_duration,
		     scale_factor = excluded.scale_factor,
		     audio_ref = excluded.audio_ref,
		     superseded = excluded.superseded,
		     segment_ranges = excluded.segment_ranges,
		     last_error = excluded.last_error,
		     attempts = excluded.attempts,
		     updated_at = excluded.updated_at`,
		rec.JobID, rec.Index, string(rec.Status), rec.EncodedSize, boolToInt(rec.Oversized), string(slides),
		rec.PredictedDuration, rec.ActualDuration, rec.ScaleFactor, rec.AudioRef,
		boolToInt(rec.Superseded), string(ranges), rec.LastError, rec.Attempts, s.clock().UTC())
	return err
}

// GetChunks retrieves all chunk records for a job ordered by chunk index.
func (s *Store) GetChunks(ctx context.Context, jobID string) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, chunk_index, status, encoded_size, oversized, slide_indexes,
		        predicted_duration, actual_duration, scale_factor, audio_ref,
		        superseded, segment_ranges, last_error, attempts
		 FROM chunks WHERE job_id = ? ORDER BY chunk_index ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		var status, slides, ranges string
		var oversized, superseded int
		if err := rows.Scan(&rec.JobID, &rec.Index, &status, &rec.EncodedSize, &oversized, &slides,
			&rec.PredictedDuration, &rec.ActualDuration, &rec.ScaleFactor, &rec.AudioRef,
			&superseded, &ranges, &rec.LastError, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		rec.Oversized = oversized != 0
		rec.Superseded = superseded != 0
		if slides != "" {
			if err := json.Unmarshal([]byte(slides), &rec.SlideIndexes); err != nil {
				return nil, fmt.Errorf("unmarshal slide indexes: %w", err)
			}
		}
		if ranges != "" {
			if err := json.Unmarshal([]byte(ranges), &rec.Ranges); err != nil {
				return nil, fmt.Errorf("unmarshal segment ranges: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkChunksSuperseded flags all ready chunk artifacts of a job as superseded
// by the merged artifact. The artifacts themselves are retained for audit.
func (s *Store) MarkChunksSuperseded(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET superseded = 1, updated_at = ? WHERE job_id = ? AND status = ?`,
		s.clock().UTC(), jobID, string(StatusReady))
	return err
}

// Prune applies configured retention to old jobs.
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM jobs WHERE updated_at < ? AND state IN (?, ?)`,
			cutoff, JobStateComplete, JobStatePartialFailure); err != nil {
			return err
		}
	}
	if s.cfg.MaxJobs > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id IN (
			SELECT job_id FROM jobs ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxJobs); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
