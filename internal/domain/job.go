package domain

import "time"

// JobStatus enumerates the sprite-generation job lifecycle states.
//
// The legal transitions are:
//
//	PENDING -> PROCESSING -> {COMPLETED | FAILED | RETRYING}
//	RETRYING -> PROCESSING (loops while retry budget remains)
//
// COMPLETED and FAILED are terminal. A COMPLETED job may carry
// Result.CacheHit=true when the cache short-circuited the external call.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusRetrying   JobStatus = "RETRYING"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// QueueJob is one submitted unit of generation work. It is owned by the
// queue until terminal; only the worker mutates it during execution, all
// other readers treat it as read-only.
type QueueJob struct {
	ID               string
	UserID           string
	StructuredPrompt StructuredPrompt
	CacheKey         string
	Status           JobStatus
	Progress         int
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	RetryCount       int
	Result           *GenerationResult
	ErrorMessage     string
}

// GenerationResult is the structured output of a finished job.
type GenerationResult struct {
	Frames           [][]byte `json:"frames"`
	FrameCount       int      `json:"frame_count"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	GenerationTimeMs int64    `json:"generation_time_ms"`
	CacheHit         bool     `json:"cache_hit"`
	ExternalID       string   `json:"external_id"`
}
