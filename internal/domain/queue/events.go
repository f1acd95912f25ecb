package queue

import (
	"time"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
)

// Job lifecycle event types.
const (
	EventTypeJobSubmitted  events.EventType = "JobSubmitted"
	EventTypeJobCancelled  events.EventType = "JobCancelled"
	EventTypeJobDispatched events.EventType = "JobDispatched"
	EventTypeJobCompleted  events.EventType = "JobCompleted"
	EventTypeJobFailed     events.EventType = "JobFailed"
)

// JobSubmittedEvent is emitted when a job is appended to the queue.
type JobSubmittedEvent struct {
	Timestamp time.Time
	Job       Job
	Row       int
}

// NewJobSubmittedEvent creates a new JobSubmittedEvent.
func NewJobSubmittedEvent(job Job, row int) JobSubmittedEvent {
	return JobSubmittedEvent{Timestamp: time.Now(), Job: job, Row: row}
}

func (e JobSubmittedEvent) EventType() events.EventType { return EventTypeJobSubmitted }
func (e JobSubmittedEvent) OccurredAt() time.Time       { return e.Timestamp }

// JobCancelledEvent is emitted when a queued model is removed before dispatch.
type JobCancelledEvent struct {
	Timestamp time.Time
	ModelID   string
	Rows      []int
}

// NewJobCancelledEvent creates a new JobCancelledEvent.
func NewJobCancelledEvent(modelID string, rows []int) JobCancelledEvent {
	return JobCancelledEvent{Timestamp: time.Now(), ModelID: modelID, Rows: rows}
}

func (e JobCancelledEvent) EventType() events.EventType { return EventTypeJobCancelled }
func (e JobCancelledEvent) OccurredAt() time.Time       { return e.Timestamp }

// JobDispatchedEvent is emitted when a drained job is handed to the handler.
type JobDispatchedEvent struct {
	Timestamp time.Time
	JobID     string
	Job       Job
}

// NewJobDispatchedEvent creates a new JobDispatchedEvent.
func NewJobDispatchedEvent(jobID string, job Job) JobDispatchedEvent {
	return JobDispatchedEvent{Timestamp: time.Now(), JobID: jobID, Job: job}
}

func (e JobDispatchedEvent) EventType() events.EventType { return EventTypeJobDispatched }
func (e JobDispatchedEvent) OccurredAt() time.Time       { return e.Timestamp }

// JobCompletedEvent is emitted when the handler returns without error.
type JobCompletedEvent struct {
	Timestamp time.Time
	JobID     string
	Job       Job
	Duration  time.Duration
}

// NewJobCompletedEvent creates a new JobCompletedEvent.
func NewJobCompletedEvent(jobID string, job Job, d time.Duration) JobCompletedEvent {
	return JobCompletedEvent{Timestamp: time.Now(), JobID: jobID, Job: job, Duration: d}
}

func (e JobCompletedEvent) EventType() events.EventType { return EventTypeJobCompleted }
func (e JobCompletedEvent) OccurredAt() time.Time       { return e.Timestamp }

// JobFailedEvent is emitted when the handler fails or panics.
type JobFailedEvent struct {
	Timestamp time.Time
	JobID     string
	Job       Job
	Reason    string
}

// NewJobFailedEvent creates a new JobFailedEvent.
func NewJobFailedEvent(jobID string, job Job, reason string) JobFailedEvent {
	return JobFailedEvent{Timestamp: time.Now(), JobID: jobID, Job: job, Reason: reason}
}

func (e JobFailedEvent) EventType() events.EventType { return EventTypeJobFailed }
func (e JobFailedEvent) OccurredAt() time.Time       { return e.Timestamp }
