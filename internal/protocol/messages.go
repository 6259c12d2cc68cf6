package protocol

import "time"

// SegmentInput is one slide's narration as submitted by the caller.
type SegmentInput struct {
	SlideIndex int    `json:"slide_index"`
	Text       string `json:"text"`
	WordCount  int    `json:"word_count"`
}

// NarrationJobRequest asks the pipeline to produce one merged narration track.
type NarrationJobRequest struct {
	JobID           string         `json:"job_id"`
	Segments        []SegmentInput `json:"segments"`
	Voice           string         `json:"voice,omitempty"`
	ForceRegenerate bool           `json:"force_regenerate,omitempty"`
	TraceID         string         `json:"trace_id,omitempty"`
}

// SegmentRange maps a slide to its time span in the merged track, in seconds.
type SegmentRange struct {
	SlideIndex int     `json:"slide_index"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

// FailedChunk names a chunk to retry and the slides it contains.
type FailedChunk struct {
	ChunkIndex   int    `json:"chunk_index"`
	SlideIndexes []int  `json:"slide_indexes"`
	LastError    string `json:"last_error"`
	Attempts     int    `json:"attempts"`
}

// NarrationJobResult reports the outcome of a job run.
type NarrationJobResult struct {
	JobID         string         `json:"job_id"`
	State         string         `json:"state"`
	AudioRef      string         `json:"audio_ref,omitempty"`
	TotalDuration float64        `json:"total_duration,omitempty"`
	SegmentRanges []SegmentRange `json:"segment_ranges,omitempty"`
	FailedChunks  []FailedChunk  `json:"failed_chunks,omitempty"`
	Error         string         `json:"error,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

const (
	SubjectJobRequest = "narration.job.request"
	SubjectJobResult  = "narration.job.result"
)
