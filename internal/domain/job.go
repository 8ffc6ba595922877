package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one request to turn a source photo into a nine-emotion pack.
//
// Progress counts emotions that have been processed in order, either with a
// finished sticker or skipped after exhausting attempts. LockToken is set while
// an invocation owns the next unit of work; UpdatedAt doubles as its heartbeat.
type Job struct {
	ID             string
	Status         JobStatus
	Progress       int
	SourceImageURL string
	StyleKey       string
	LockToken      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NextEmotion returns the emotion at the job's progress index.
func (j *Job) NextEmotion() (Emotion, bool) {
	return EmotionAt(j.Progress)
}
