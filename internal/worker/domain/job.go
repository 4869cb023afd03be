package domain

// Job is the worker's transient copy of a job leased from the remote queue.
// The queue owns the job; the worker only holds it for the duration of its
// lease and must never act on a job it did not itself lease.
type Job struct {
	ID         string `json:"id"`
	EntityID   string `json:"entityId"`
	Leaser     string `json:"leaser"`
	TaskType   string `json:"taskType"`
	RetryCount int    `json:"retryCount"`
}

// EntityUpdateSentinel marks a job whose ingestion should replace prior
// chunks for the same entity instead of inserting fresh ones.
//
// This is a provisional convention inherited from the queue's observed job
// payloads, not a documented field on the job entity. Keep the rule behind
// IsUpdate so it lives in exactly one place.
const EntityUpdateSentinel = "update"

// IsUpdate reports whether this job represents an update rather than a
// fresh insert.
func (j *Job) IsUpdate() bool {
	return j.EntityID == EntityUpdateSentinel
}
