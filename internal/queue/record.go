package queue

import "time"

// Record is the native queue row for one job. Attempts counts failed
// attempts made so far (not claims), matching the retry-budget arithmetic:
// a job is dead once Attempts reaches MaxRetries+1.
type Record struct {
	ID           string
	UserID       string
	PromptJSON   []byte
	CacheKey     string
	Status       string
	Progress     int
	Attempts     int
	MaxRetries   int
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ResultJSON   []byte
	ErrorMessage string
	Dead         bool
}

// Finished reports whether the record reached a terminal state.
func (r *Record) Finished() bool { return r.FinishedAt != nil }

// Counts is a snapshot of native job counts per state.
type Counts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Dead       int
}
