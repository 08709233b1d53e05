package model

import (
	"encoding/json"
	"time"
)

// Queue names.
const (
	QueueSync    = "sync"
	QueueWebhook = "webhook"
	QueueExport  = "export"
)

// JobState is the lifecycle position of a queued job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Live reports whether a job with this state still absorbs duplicates of its key.
func (s JobState) Live() bool {
	return s == JobWaiting || s == JobDelayed || s == JobActive
}

// Job is a durable queue entry. Higher Priority values are claimed first.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt"`
	LockedUntil *time.Time      `json:"lockedUntil,omitempty"`
	Progress    int             `json:"progress"`
	LastError   string          `json:"lastError,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// QueueCounts are per-state totals for one queue.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
