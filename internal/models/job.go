package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkType identifies one of the four pipeline stages. The set is closed;
// jobs of any other type are rejected at submission.
type WorkType string

const (
	WorkTypeDiscover   WorkType = "discover"
	WorkTypeScan       WorkType = "scan"
	WorkTypeAnalyze    WorkType = "analyze"
	WorkTypeSynthesize WorkType = "synthesize"
)

// AllWorkTypes lists the pipeline stages in execution order
var AllWorkTypes = []WorkType{WorkTypeDiscover, WorkTypeScan, WorkTypeAnalyze, WorkTypeSynthesize}

// Valid reports whether the work type belongs to the closed pipeline set
func (w WorkType) Valid() bool {
	switch w {
	case WorkTypeDiscover, WorkTypeScan, WorkTypeAnalyze, WorkTypeSynthesize:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job. Transitions are
// monotonic except the Running -> Pending retry transition.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether no further status transition can occur
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// JobPayload carries the data a handler needs. The queue and pool treat it
// as opaque except for ProjectID and Site, which are read for bookkeeping.
// Handlers receive a copy and must communicate results only through their
// return value or error.
type JobPayload struct {
	ProjectID string         `json:"project_id"`
	Site      string         `json:"site,omitempty"`     // site URL, set on discover/scan/analyze jobs
	Page      *Page          `json:"page,omitempty"`     // page descriptor, set on scan/analyze jobs
	Capture   *CaptureResult `json:"capture,omitempty"`  // scan output, set on analyze jobs
	Sites     []string       `json:"sites,omitempty"`    // site URLs, set on synthesize jobs
	Analyses  []*PageReport  `json:"analyses,omitempty"` // completed analyze results, set on synthesize jobs
	Config    ProjectConfig  `json:"config"`             // project config snapshot
}

// Job describes one unit of work and its lifecycle state. Fields other than
// Status, Result, Error, Retries and the timestamps are immutable after
// submission. A job is owned by exactly one JobQueue and is in exactly one
// of pending, running or terminal at any instant.
type Job struct {
	ID       string     `json:"id"`
	WorkType WorkType   `json:"work_type"`
	Status   JobStatus  `json:"status"`
	Priority int        `json:"priority"` // lower dequeues first, FIFO within equal priority
	Payload  JobPayload `json:"payload"`

	Result interface{} `json:"result,omitempty"` // set exactly once, on Complete
	Error  string      `json:"error,omitempty"`  // set exactly once, on Fail

	Retries    int `json:"retries"`
	MaxRetries int `json:"max_retries"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job for submission to the worker pool
func NewJob(workType WorkType, payload JobPayload, priority int) *Job {
	return &Job{
		ID:        "job_" + uuid.New().String(),
		WorkType:  workType,
		Status:    JobStatusPending,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// QueueStats is a point-in-time partition of one queue's jobs by status.
// Pending + Running + Complete + Failed always equals Total.
type QueueStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Running  int `json:"running"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}

// TypeStatus combines queue stats with pool dispatch state for one work type
type TypeStatus struct {
	QueueStats
	ActiveCount int `json:"active_count"`
	Concurrency int `json:"concurrency"`
}

// ProjectProgress aggregates job state for one project across all queues
type ProjectProgress struct {
	Total    int                     `json:"total"`
	Pending  int                     `json:"pending"`
	Running  int                     `json:"running"`
	Complete int                     `json:"complete"`
	Failed   int                     `json:"failed"`
	Percent  float64                 `json:"percent"` // terminal jobs as a share of total
	ByType   map[WorkType]QueueStats `json:"by_type"`
}
