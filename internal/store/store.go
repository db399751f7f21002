// Package store is the durable job store: jobs, their ordered targets, the
// append-only event timeline, and the contacts address book, all in SQLite.
package store

import (
	"errors"
	"time"
)

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobPaused   JobStatus = "paused"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

type TargetStatus string

const (
	TargetPending  TargetStatus = "pending"
	TargetRunning  TargetStatus = "running"
	TargetSent     TargetStatus = "sent"
	TargetFailed   TargetStatus = "failed"
	TargetCanceled TargetStatus = "canceled"
)

// Terminal reports whether a target status can no longer change during a run.
func (s TargetStatus) Terminal() bool {
	return s == TargetSent || s == TargetFailed || s == TargetCanceled
}

type TargetType string

const (
	TargetSingle TargetType = "single_phone"
	TargetMulti  TargetType = "multi_phone"
	TargetGroup  TargetType = "group"
)

// Job-level error reason codes. A capability-reported code may also appear
// on individual targets.
const (
	ErrorPartialFailure = "partial_failure"
	ErrorAllFailed      = "all_failed"
)

// Event kinds appended to a job's timeline.
const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobPaused    = "job_paused"
	EventJobResumed   = "job_resumed"
	EventJobCanceled  = "job_canceled"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobRetried   = "job_retried"
	EventJobRecovered = "job_recovered"
	EventRecovered    = "recovered_queued"
	EventTargetSent   = "target_sent"
	EventTargetFailed = "target_failed"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrGroupNotFound = errors.New("group not found")

	// ErrRetryExhausted wraps the last transient error after the commit retry
	// budget is spent.
	ErrRetryExhausted = errors.New("commit retries exhausted")
)

type Job struct {
	ID         string
	TargetType TargetType
	RawTarget  string
	RawMessage string
	Status     JobStatus

	// Executor is the id of the executor the job is assigned to ("" if none).
	Executor string

	Paused   bool
	Canceled bool

	// Error is the job-level reason code ("" if none).
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Target struct {
	ID          int64
	JobID       string
	Destination string
	Message     string
	Ordinal     int
	Status      TargetStatus
	Error       string
	UpdatedAt   time.Time
}

type Event struct {
	ID     int64
	JobID  string
	TS     time.Time
	Kind   string
	Detail string
}

type Contact struct {
	ID          int64
	Name        string
	Destination string
	Group       string
	CreatedAt   time.Time
}

// Snapshot is a full read of one job: the job row, its targets in ordinal
// order, and its timeline ordered by (ts, id).
type Snapshot struct {
	Job      Job
	Targets  []Target
	Timeline []Event
}

// Counts is the aggregate queue view used by the capacity controller and the
// metrics surface.
type Counts struct {
	QueuedJobs     int
	RunningJobs    int
	PendingTargets int
}
