package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/sitelens/internal/models"
)

var (
	// ErrJobNotFound is returned when a job ID is unknown to the queue
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRunning is returned when a terminal transition is requested
	// for a job that is not in the running set. A second Complete or Fail
	// call on the same ID returns this error and changes nothing.
	ErrJobNotRunning = errors.New("job is not running")
)

// JobQueue owns all jobs of one work type. Pending jobs are ordered by
// (priority, insertion order); running jobs are tracked by ID; terminal jobs
// remain queryable until cleaned up. All mutation is serialized by an
// internal mutex since concurrent handler completions race to update queue
// state.
type JobQueue struct {
	workType models.WorkType

	mu      sync.Mutex
	jobs    map[string]*models.Job
	pending []*models.Job
	running map[string]*models.Job
}

// NewJobQueue creates an empty queue for one work type
func NewJobQueue(workType models.WorkType) *JobQueue {
	return &JobQueue{
		workType: workType,
		jobs:     make(map[string]*models.Job),
		running:  make(map[string]*models.Job),
	}
}

// WorkType returns the work type this queue owns
func (q *JobQueue) WorkType() models.WorkType {
	return q.workType
}

// Add inserts a job into pending, keeping (priority, insertion order). It
// has no side effects beyond queue state.
func (q *JobQueue) Add(job *models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[job.ID] = job
	q.pending = append(q.pending, job)
	q.sortPending()
}

// sortPending orders pending by priority; the stable sort preserves
// insertion order within equal priority. Callers must hold q.mu.
func (q *JobQueue) sortPending() {
	sort.SliceStable(q.pending, func(i, j int) bool {
		return q.pending[i].Priority < q.pending[j].Priority
	})
}

// GetNext pops the front of pending, transitions it to running and stamps
// StartedAt. Returns nil when pending is empty; callers treat that as "no
// work available now", not an error.
func (q *JobQueue) GetNext() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}

	job := q.pending[0]
	q.pending = q.pending[1:]

	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()
	q.running[job.ID] = job

	return job
}

// Complete transitions a running job to Complete and stores its result.
// The transition happens at most once per job.
func (q *JobQueue) Complete(id string, result interface{}) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.running[id]
	if !ok {
		return nil, ErrJobNotRunning
	}

	job.Status = models.JobStatusComplete
	job.Result = result
	job.CompletedAt = time.Now()
	delete(q.running, id)

	return job, nil
}

// Fail transitions a running job to Failed and stores the error description
func (q *JobQueue) Fail(id string, errMsg string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.running[id]
	if !ok {
		return nil, ErrJobNotRunning
	}

	job.Status = models.JobStatusFailed
	job.Error = errMsg
	job.CompletedAt = time.Now()
	delete(q.running, id)

	return job, nil
}

// Retry moves a running job back to the front of pending, incrementing its
// retry count. The front insertion biases the pool toward finishing started
// work before picking up newer jobs of the same type.
func (q *JobQueue) Retry(id string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.running[id]
	if !ok {
		return nil, ErrJobNotRunning
	}

	job.Retries++
	job.Status = models.JobStatusPending
	job.StartedAt = time.Time{}
	delete(q.running, id)

	q.pending = append([]*models.Job{job}, q.pending...)

	return job, nil
}

// Get returns a job by ID; terminal jobs stay queryable until cleanup
func (q *JobQueue) Get(id string) (*models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	return job, ok
}

// Stats recomputes status counts on demand so they cannot drift; the counts
// always partition the job set.
func (q *JobQueue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := models.QueueStats{Total: len(q.jobs)}
	for _, job := range q.jobs {
		switch job.Status {
		case models.JobStatusPending:
			stats.Pending++
		case models.JobStatusRunning:
			stats.Running++
		case models.JobStatusComplete:
			stats.Complete++
		case models.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// GetByProject returns all jobs whose payload carries the given project ID.
// Linear scan; fine at in-memory single-process scale.
func (q *JobQueue) GetByProject(projectID string) []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []*models.Job
	for _, job := range q.jobs {
		if job.Payload.ProjectID == projectID {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// CleanupTerminal evicts terminal jobs completed before the cutoff and
// returns how many were removed
func (q *JobQueue) CleanupTerminal(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.Status.Terminal() && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}
