package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
)

// ErrUnknownWorkType is returned when a job is submitted for a work type
// outside the closed pipeline set
var ErrUnknownWorkType = errors.New("unknown work type")

// TypeConfig holds the execution policy for one work type
type TypeConfig struct {
	Concurrency int           // max concurrently executing handlers
	Timeout     time.Duration // per-attempt handler timeout
	MaxRetries  int           // retries after the first failed attempt
	RetryDelay  time.Duration // delay before a failed attempt re-enters pending (0 = immediate)
}

// DefaultTypeConfig returns a conservative policy used when a work type has
// no explicit configuration
func DefaultTypeConfig() TypeConfig {
	return TypeConfig{
		Concurrency: 2,
		Timeout:     60 * time.Second,
		MaxRetries:  2,
	}
}

// JobOptions are caller-supplied submission options
type JobOptions struct {
	Priority int // lower dequeues first
}

// Pool executes jobs across independent per-type queues with bounded
// concurrency, applies timeout and retry policy, and publishes lifecycle
// events. Scheduling reacts immediately to freed capacity: every completion
// triggers another dispatch pass for its type.
type Pool struct {
	mu       sync.Mutex
	queues   map[models.WorkType]*JobQueue
	configs  map[models.WorkType]TypeConfig
	handlers map[models.WorkType]interfaces.JobHandler
	active   map[models.WorkType]int
	warned   map[models.WorkType]bool // missing-handler warning emitted

	events interfaces.EventService
	logger arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool with one queue per pipeline work type.
// Types missing from configs get DefaultTypeConfig.
func NewPool(configs map[models.WorkType]TypeConfig, events interfaces.EventService, logger arbor.ILogger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		queues:   make(map[models.WorkType]*JobQueue),
		configs:  make(map[models.WorkType]TypeConfig),
		handlers: make(map[models.WorkType]interfaces.JobHandler),
		active:   make(map[models.WorkType]int),
		warned:   make(map[models.WorkType]bool),
		events:   events,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, workType := range models.AllWorkTypes {
		p.queues[workType] = NewJobQueue(workType)
		cfg, ok := configs[workType]
		if !ok {
			cfg = DefaultTypeConfig()
		}
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = 1
		}
		p.configs[workType] = cfg
	}

	return p
}

// RegisterHandler binds the function that performs the work for a type.
// Exactly one handler per type; a repeated registration replaces the
// previous one.
func (p *Pool) RegisterHandler(workType models.WorkType, handler interfaces.JobHandler) error {
	if !workType.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownWorkType, workType)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for work type %s", workType)
	}

	p.mu.Lock()
	if _, exists := p.handlers[workType]; exists {
		p.logger.Warn().
			Str("work_type", string(workType)).
			Msg("Replacing previously registered handler")
	}
	p.handlers[workType] = handler
	delete(p.warned, workType)
	p.mu.Unlock()

	p.logger.Info().
		Str("work_type", string(workType)).
		Msg("Handler registered")

	// Jobs may have queued up before the handler arrived
	p.dispatch(workType)

	return nil
}

// AddJob constructs a pending job, inserts it into the matching queue,
// publishes job:added and triggers a scheduling pass. Unrecognized work
// types fail loudly.
func (p *Pool) AddJob(workType models.WorkType, payload models.JobPayload, opts JobOptions) (*models.Job, error) {
	queue, ok := p.queues[workType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkType, workType)
	}

	job := models.NewJob(workType, payload, opts.Priority)
	job.MaxRetries = p.configs[workType].MaxRetries

	queue.Add(job)
	p.publish(interfaces.EventJobAdded, job)

	p.logger.Debug().
		Str("job_id", job.ID).
		Str("work_type", string(workType)).
		Str("project_id", payload.ProjectID).
		Int("priority", opts.Priority).
		Msg("Job added")

	p.dispatch(workType)

	return job, nil
}

// dispatch launches pending jobs for one type until its concurrency ceiling
// is reached or pending drains. It is safe to call concurrently: the check
// and the dequeue happen under the pool mutex, so racing completions can
// never double-dispatch a job or exceed the ceiling.
func (p *Pool) dispatch(workType models.WorkType) {
	p.mu.Lock()

	handler, ok := p.handlers[workType]
	if !ok {
		// Configuration error: jobs of this type stay pending. Log once.
		queue := p.queues[workType]
		if queue.Stats().Pending > 0 && !p.warned[workType] {
			p.warned[workType] = true
			p.logger.Warn().
				Str("work_type", string(workType)).
				Msg("No handler registered; jobs will not run")
		}
		p.mu.Unlock()
		return
	}

	cfg := p.configs[workType]
	queue := p.queues[workType]

	var launched []*models.Job
	for p.active[workType] < cfg.Concurrency {
		job := queue.GetNext()
		if job == nil {
			break
		}
		p.active[workType]++
		launched = append(launched, job)
	}
	p.mu.Unlock()

	for _, job := range launched {
		p.wg.Add(1)
		go p.execute(workType, job, handler, cfg)
	}
}

// execute runs one job attempt and applies the retry/fail policy
func (p *Pool) execute(workType models.WorkType, job *models.Job, handler interfaces.JobHandler, cfg TypeConfig) {
	defer p.wg.Done()

	p.publish(interfaces.EventJobStarted, job)

	start := time.Now()
	result, err := p.runHandler(handler, job.Payload, cfg.Timeout)
	queue := p.queues[workType]

	if err == nil {
		if _, cerr := queue.Complete(job.ID, result); cerr != nil {
			p.logger.Error().Err(cerr).Str("job_id", job.ID).Msg("Complete transition rejected")
		} else {
			p.logger.Info().
				Str("job_id", job.ID).
				Str("work_type", string(workType)).
				Str("duration", time.Since(start).String()).
				Msg("Job completed")
			p.publish(interfaces.EventJobComplete, job)
		}
	} else if job.Retries < job.MaxRetries {
		// The attempt's slot is held through the retry delay so a
		// permanently failing job cannot monopolize dispatch.
		if cfg.RetryDelay > 0 {
			timer := time.NewTimer(cfg.RetryDelay)
			select {
			case <-timer.C:
			case <-p.ctx.Done():
				timer.Stop()
			}
		}
		if _, rerr := queue.Retry(job.ID); rerr != nil {
			p.logger.Error().Err(rerr).Str("job_id", job.ID).Msg("Retry transition rejected")
		} else {
			p.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("work_type", string(workType)).
				Int("retries", job.Retries).
				Int("max_retries", job.MaxRetries).
				Msg("Job attempt failed, requeued at front")
			p.publish(interfaces.EventJobRetry, job)
		}
	} else {
		if _, ferr := queue.Fail(job.ID, err.Error()); ferr != nil {
			p.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("Fail transition rejected")
		} else {
			p.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Str("work_type", string(workType)).
				Int("retries", job.Retries).
				Msg("Job failed, retries exhausted")
			p.publish(interfaces.EventJobFailed, job)
		}
	}

	p.mu.Lock()
	p.active[workType]--
	p.mu.Unlock()

	// React immediately to the freed slot
	p.dispatch(workType)
}

// runHandler invokes the handler under the type's timeout. A timed-out
// attempt is indistinguishable from a returned error for retry purposes.
// A panicking handler is converted to an error so one bad job cannot take
// down the pool.
func (p *Pool) runHandler(handler interfaces.JobHandler, payload models.JobPayload, timeout time.Duration) (result interface{}, err error) {
	ctx := p.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type attempt struct {
		result interface{}
		err    error
	}
	done := make(chan attempt, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attempt{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, herr := handler(ctx, payload)
		done <- attempt{result: res, err: herr}
	}()

	select {
	case a := <-done:
		return a.result, a.err
	case <-ctx.Done():
		return nil, fmt.Errorf("handler timed out after %s: %w", timeout, ctx.Err())
	}
}

func (p *Pool) publish(eventType interfaces.EventType, job *models.Job) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(p.ctx, interfaces.Event{Type: eventType, Payload: job}); err != nil {
		p.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish job event")
	}
}

// GetJob looks a job up by ID across all queues
func (p *Pool) GetJob(id string) (*models.Job, bool) {
	for _, queue := range p.queues {
		if job, ok := queue.Get(id); ok {
			return job, true
		}
	}
	return nil, false
}

// JobsForProject returns all jobs of one type belonging to a project
func (p *Pool) JobsForProject(projectID string, workType models.WorkType) []*models.Job {
	queue, ok := p.queues[workType]
	if !ok {
		return nil
	}
	return queue.GetByProject(projectID)
}

// GetStatus reports queue stats plus dispatch state per work type
func (p *Pool) GetStatus() map[models.WorkType]models.TypeStatus {
	status := make(map[models.WorkType]models.TypeStatus, len(p.queues))

	p.mu.Lock()
	activeCounts := make(map[models.WorkType]int, len(p.active))
	for workType, count := range p.active {
		activeCounts[workType] = count
	}
	p.mu.Unlock()

	for workType, queue := range p.queues {
		status[workType] = models.TypeStatus{
			QueueStats:  queue.Stats(),
			ActiveCount: activeCounts[workType],
			Concurrency: p.configs[workType].Concurrency,
		}
	}
	return status
}

// GetProjectProgress aggregates job state for one project across all queues
func (p *Pool) GetProjectProgress(projectID string) models.ProjectProgress {
	progress := models.ProjectProgress{
		ByType: make(map[models.WorkType]models.QueueStats),
	}

	for workType, queue := range p.queues {
		stats := models.QueueStats{}
		for _, job := range queue.GetByProject(projectID) {
			stats.Total++
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
		if stats.Total > 0 {
			progress.ByType[workType] = stats
		}
		progress.Total += stats.Total
		progress.Pending += stats.Pending
		progress.Running += stats.Running
		progress.Complete += stats.Complete
		progress.Failed += stats.Failed
	}

	if progress.Total > 0 {
		progress.Percent = float64(progress.Complete+progress.Failed) / float64(progress.Total) * 100
	}

	return progress
}

// WaitForType blocks until every job of the given type for the project is
// terminal, or the context is done. Zero matching jobs satisfies the wait.
func (p *Pool) WaitForType(ctx context.Context, projectID string, workType models.WorkType) error {
	queue, ok := p.queues[workType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkType, workType)
	}

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		allTerminal := true
		for _, job := range queue.GetByProject(projectID) {
			if !job.Status.Terminal() {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-ticker.C:
		}
	}
}

// CleanupTerminal evicts terminal jobs older than maxAge from every queue
func (p *Pool) CleanupTerminal(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, queue := range p.queues {
		removed += queue.CleanupTerminal(cutoff)
	}
	if removed > 0 {
		p.logger.Debug().Int("removed", removed).Msg("Terminal jobs cleaned up")
	}
	return removed
}

// Stop cancels in-flight handler contexts and waits for executions to settle
func (p *Pool) Stop() {
	p.logger.Info().Msg("Stopping worker pool...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}
