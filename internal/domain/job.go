package domain

import (
	"strconv"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states reported by the generation backend.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ParseJobStatus normalizes a wire status. The backend emits upper case
// values while older frontends compared lower case ones, so matching is
// case-insensitive. ok is false for anything outside the known set.
func ParseJobStatus(raw string) (JobStatus, bool) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case JobStatusWaiting, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return status, true
	default:
		return status, false
	}
}

// Terminal reports whether no further transitions can happen for the job.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// WordResult is the outcome for a single input character.
// ImageID is non-empty iff Success is true.
type WordResult struct {
	Word    string `json:"word"`
	Success bool   `json:"success"`
	ImageID string `json:"image_id,omitempty"`
}

// Resolved reports whether the result points at a fetchable image.
func (w WordResult) Resolved() bool {
	return w.Success && strings.TrimSpace(w.ImageID) != ""
}

// Job is a snapshot of one remote generation request. Only the payload
// matching Status is meaningful.
type Job struct {
	ID     string
	Status JobStatus

	PlaceInQueue int
	Message      string
	StateName    string
	Result       []WordResult
	ErrorMessage string
}

// StatusUpdate is pushed to the display callback on every poll tick.
type StatusUpdate struct {
	JobID        string
	Status       JobStatus
	PlaceInQueue int
	Message      string
	SeenAt       time.Time
}

// Text renders the update the way the loader line shows it.
func (u StatusUpdate) Text() string {
	switch u.Status {
	case JobStatusWaiting:
		return "Waiting in queue at position " + strconv.Itoa(u.PlaceInQueue)
	case JobStatusRunning:
		if u.Message != "" {
			return u.Message
		}
		return "Generating"
	default:
		return u.Message
	}
}
