package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/common"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
	"github.com/ternarybob/sitelens/internal/queue"
)

// ErrProjectNotFound is returned for operations on unknown project IDs
var ErrProjectNotFound = errors.New("project not found")

// Job priorities per phase: earlier phases dequeue first so a project's
// in-flight work drains ahead of newly fanned-out stages.
const (
	priorityDiscover   = 1
	priorityScan       = 2
	priorityAnalyze    = 3
	prioritySynthesize = 4
)

// Handlers bundles the four collaborator functions that perform the real
// pipeline work. The coordinator never inspects their behavior.
type Handlers struct {
	Discover   interfaces.JobHandler
	Scan       interfaces.JobHandler
	Analyze    interfaces.JobHandler
	Synthesize interfaces.JobHandler
}

// ProjectStatusReport is the full externally visible state of one project
type ProjectStatusReport struct {
	Project     *models.Project                       `json:"project"`
	JobProgress models.ProjectProgress                `json:"job_progress"`
	QueueStatus map[models.WorkType]models.TypeStatus `json:"queue_status"`
}

// Coordinator owns the project registry and advances each project through
// its phases by reacting to worker pool job events. It performs a liveness
// check after every job:complete/job:failed and persists the manifest on
// every transition.
type Coordinator struct {
	pool   *queue.Pool
	store  interfaces.ProjectStore
	events interfaces.EventService
	logger arbor.ILogger

	// mu serializes phase checks; it is never held across the pool's
	// blocking operations, only its queries and AddJob.
	mu       sync.Mutex
	projects map[string]*models.Project
}

// NewCoordinator creates a coordinator and subscribes it to job lifecycle
// events on the shared event service.
func NewCoordinator(pool *queue.Pool, store interfaces.ProjectStore, events interfaces.EventService, logger arbor.ILogger) (*Coordinator, error) {
	c := &Coordinator{
		pool:     pool,
		store:    store,
		events:   events,
		logger:   logger,
		projects: make(map[string]*models.Project),
	}

	for _, eventType := range []interfaces.EventType{interfaces.EventJobComplete, interfaces.EventJobFailed} {
		if err := events.Subscribe(eventType, c.onJobEvent); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}

	return c, nil
}

// RegisterHandlers binds the four pipeline collaborators to the pool
func (c *Coordinator) RegisterHandlers(handlers Handlers) error {
	bindings := map[models.WorkType]interfaces.JobHandler{
		models.WorkTypeDiscover:   handlers.Discover,
		models.WorkTypeScan:       handlers.Scan,
		models.WorkTypeAnalyze:    handlers.Analyze,
		models.WorkTypeSynthesize: handlers.Synthesize,
	}
	for workType, handler := range bindings {
		if handler == nil {
			return fmt.Errorf("missing handler for work type %s", workType)
		}
		if err := c.pool.RegisterHandler(workType, handler); err != nil {
			return err
		}
	}
	return nil
}

// LoadProjects restores the project registry from the store. In-flight jobs
// are not restored; a project that was mid-pipeline stays in its last
// persisted status.
func (c *Coordinator) LoadProjects(ctx context.Context) error {
	projects, err := c.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}

	c.mu.Lock()
	for _, project := range projects {
		c.projects[project.ID] = project
	}
	c.mu.Unlock()

	c.logger.Info().Int("count", len(projects)).Msg("Projects loaded from store")
	return nil
}

// CreateProject builds a project in Created status, persists it and returns
// it synchronously.
func (c *Coordinator) CreateProject(ctx context.Context, sites []models.SiteInput, config models.ProjectConfig) (*models.Project, error) {
	if len(sites) == 0 {
		return nil, fmt.Errorf("at least one site is required")
	}

	now := time.Now()
	project := &models.Project{
		ID:        common.NewProjectID(),
		Status:    models.ProjectStatusCreated,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, input := range sites {
		role := input.Role
		if role == "" {
			role = models.SiteRoleCompetitor
		}
		project.Sites = append(project.Sites, &models.Site{URL: input.URL, Role: role})
	}

	if err := c.store.Save(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to persist project: %w", err)
	}

	c.mu.Lock()
	c.projects[project.ID] = project
	c.mu.Unlock()

	c.logger.Info().
		Str("project_id", project.ID).
		Int("sites", len(project.Sites)).
		Msg("Project created")

	return project.Clone(), nil
}

// StartDiscovery moves a project to Discovering and submits one discover
// job per site at the discovery priority.
func (c *Coordinator) StartDiscovery(ctx context.Context, projectID string) (*models.Project, error) {
	c.mu.Lock()
	project, ok := c.projects[projectID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}

	project.Status = models.ProjectStatusDiscovering
	project.UpdatedAt = time.Now()

	// Fan out while holding the lock so the first site's completion event
	// cannot run a phase check against a partially submitted discover set.
	var submitErr error
	for _, site := range project.SiteURLs() {
		payload := models.JobPayload{
			ProjectID: projectID,
			Site:      site,
			Config:    project.Config,
		}
		if _, err := c.pool.AddJob(models.WorkTypeDiscover, payload, queue.JobOptions{Priority: priorityDiscover}); err != nil {
			submitErr = fmt.Errorf("failed to submit discover job for %s: %w", site, err)
			c.failLocked(project, submitErr.Error())
			break
		}
	}
	snapshot := project.Clone()
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	if submitErr != nil {
		return nil, submitErr
	}

	c.logger.Info().
		Str("project_id", projectID).
		Int("sites", len(snapshot.Sites)).
		Msg("Discovery started")

	return snapshot, nil
}

// GetProjectStatus returns a snapshot of the project, its aggregated job
// progress and the pool's per-type queue status. The returned project is a
// copy; callers may read it without synchronizing against the coordinator.
// The second return is false for unknown IDs.
func (c *Coordinator) GetProjectStatus(projectID string) (*ProjectStatusReport, bool) {
	c.mu.Lock()
	project, ok := c.projects[projectID]
	var snapshot *models.Project
	if ok {
		snapshot = project.Clone()
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	return &ProjectStatusReport{
		Project:     snapshot,
		JobProgress: c.pool.GetProjectProgress(projectID),
		QueueStatus: c.pool.GetStatus(),
	}, true
}

// GetPoolStatus exposes the pool's per-type stats
func (c *Coordinator) GetPoolStatus() map[models.WorkType]models.TypeStatus {
	return c.pool.GetStatus()
}

// onJobEvent is the liveness check run after every job:complete/job:failed.
// It tolerates project IDs that no longer exist.
func (c *Coordinator) onJobEvent(ctx context.Context, event interfaces.Event) error {
	job, ok := event.Payload.(*models.Job)
	if !ok || job.Payload.ProjectID == "" {
		return nil
	}

	c.mu.Lock()
	project, known := c.projects[job.Payload.ProjectID]
	if !known {
		c.mu.Unlock()
		return nil
	}

	c.recordCompletion(project, job)

	// Direct causal edge: each completed scan spawns exactly one analyze
	// job carrying its extracted content, not gated on other scans.
	if job.WorkType == models.WorkTypeScan && job.Status == models.JobStatusComplete {
		c.submitAnalyzeLocked(project, job)
	}

	c.checkPhaseLocked(project)

	project.Progress = c.pool.GetProjectProgress(project.ID)
	project.UpdatedAt = time.Now()
	snapshot := project.Clone()
	c.mu.Unlock()

	// Persist the snapshot: the live project keeps mutating under c.mu and
	// must never be read by the store outside it.
	c.persist(ctx, snapshot)
	return nil
}

// recordCompletion updates per-site rolling counters. Callers hold c.mu.
func (c *Coordinator) recordCompletion(project *models.Project, job *models.Job) {
	if job.Status != models.JobStatusComplete {
		return
	}
	site := project.SiteByURL(job.Payload.Site)
	if site == nil {
		return
	}
	switch job.WorkType {
	case models.WorkTypeDiscover:
		if result, ok := job.Result.(*models.DiscoverResult); ok {
			site.PagesFound = len(result.Pages)
		}
	case models.WorkTypeScan:
		site.PagesScanned++
	case models.WorkTypeAnalyze:
		site.PagesAnalyzed++
	}
}

// checkPhaseLocked advances the project while its current phase's work is
// fully terminal. It loops because one event can satisfy several phase
// gates at once (e.g. every scan failed, so the analyze set is empty).
// Callers hold c.mu.
func (c *Coordinator) checkPhaseLocked(project *models.Project) {
	for {
		switch project.Status {
		case models.ProjectStatusDiscovering:
			jobs := c.pool.JobsForProject(project.ID, models.WorkTypeDiscover)
			if len(jobs) == 0 || !allTerminal(jobs) {
				return
			}
			pages := collectPages(jobs)
			if len(pages) == 0 {
				c.failLocked(project, "no pages discovered across any site")
				return
			}
			c.startScanningLocked(project, pages)

		case models.ProjectStatusScanning:
			jobs := c.pool.JobsForProject(project.ID, models.WorkTypeScan)
			if len(jobs) == 0 || !allTerminal(jobs) {
				return
			}
			project.Status = models.ProjectStatusAnalyzing
			c.logger.Info().Str("project_id", project.ID).Msg("All scans terminal, project analyzing")

		case models.ProjectStatusAnalyzing:
			analyzeJobs := c.pool.JobsForProject(project.ID, models.WorkTypeAnalyze)
			// Each completed scan owes one analyze job, but the scan's own
			// job:complete event (which submits it) may still be in flight
			// when the last existing analyze finishes. Gate on the owed
			// count so synthesis never starts with analyses outstanding.
			if len(analyzeJobs) < c.analyzesOwedLocked(project) || !allTerminal(analyzeJobs) {
				return
			}
			c.startSynthesisLocked(project)

		case models.ProjectStatusSynthesizing:
			jobs := c.pool.JobsForProject(project.ID, models.WorkTypeSynthesize)
			if len(jobs) == 0 || !allTerminal(jobs) {
				return
			}
			project.Status = models.ProjectStatusComplete
			c.logger.Info().Str("project_id", project.ID).Msg("Project complete")
			return

		default:
			return
		}
	}
}

// startScanningLocked fans the aggregated page set out as scan jobs.
// Callers hold c.mu.
func (c *Coordinator) startScanningLocked(project *models.Project, pages []models.Page) {
	project.Status = models.ProjectStatusScanning

	for _, page := range pages {
		payload := models.JobPayload{
			ProjectID: project.ID,
			Site:      page.Site,
			Page:      &page,
			Config:    project.Config,
		}
		if _, err := c.pool.AddJob(models.WorkTypeScan, payload, queue.JobOptions{Priority: priorityScan}); err != nil {
			c.logger.Error().Err(err).Str("project_id", project.ID).Str("page", page.Slug).Msg("Failed to submit scan job")
		}
	}

	c.logger.Info().
		Str("project_id", project.ID).
		Int("pages", len(pages)).
		Msg("Scanning started")
}

// analyzesOwedLocked counts completed scans that produced a capture; each
// owes exactly one analyze job. Callers hold c.mu.
func (c *Coordinator) analyzesOwedLocked(project *models.Project) int {
	owed := 0
	for _, job := range c.pool.JobsForProject(project.ID, models.WorkTypeScan) {
		if job.Status != models.JobStatusComplete {
			continue
		}
		if _, ok := job.Result.(*models.CaptureResult); ok {
			owed++
		}
	}
	return owed
}

// submitAnalyzeLocked creates the analyze job for one completed scan.
// Callers hold c.mu.
func (c *Coordinator) submitAnalyzeLocked(project *models.Project, scanJob *models.Job) {
	if project.Status != models.ProjectStatusScanning && project.Status != models.ProjectStatusAnalyzing {
		c.logger.Warn().
			Str("job_id", scanJob.ID).
			Str("project_id", project.ID).
			Str("status", string(project.Status)).
			Msg("Scan completed after its project left the scan phase; dropping analysis")
		return
	}

	capture, ok := scanJob.Result.(*models.CaptureResult)
	if !ok {
		c.logger.Warn().
			Str("job_id", scanJob.ID).
			Msg("Scan job completed without a capture result; skipping analysis")
		return
	}

	payload := models.JobPayload{
		ProjectID: project.ID,
		Site:      scanJob.Payload.Site,
		Page:      scanJob.Payload.Page,
		Capture:   capture,
		Config:    project.Config,
	}
	if _, err := c.pool.AddJob(models.WorkTypeAnalyze, payload, queue.JobOptions{Priority: priorityAnalyze}); err != nil {
		c.logger.Error().Err(err).Str("project_id", project.ID).Msg("Failed to submit analyze job")
	}
}

// startSynthesisLocked submits the single synthesize job carrying the site
// list and whatever page reports the analyze phase produced. Callers hold
// c.mu.
func (c *Coordinator) startSynthesisLocked(project *models.Project) {
	project.Status = models.ProjectStatusSynthesizing

	var analyses []*models.PageReport
	for _, job := range c.pool.JobsForProject(project.ID, models.WorkTypeAnalyze) {
		if report, ok := job.Result.(*models.PageReport); ok {
			analyses = append(analyses, report)
		}
	}

	payload := models.JobPayload{
		ProjectID: project.ID,
		Sites:     project.SiteURLs(),
		Analyses:  analyses,
		Config:    project.Config,
	}
	if _, err := c.pool.AddJob(models.WorkTypeSynthesize, payload, queue.JobOptions{Priority: prioritySynthesize}); err != nil {
		c.logger.Error().Err(err).Str("project_id", project.ID).Msg("Failed to submit synthesize job")
		c.failLocked(project, fmt.Sprintf("failed to submit synthesize job: %v", err))
		return
	}

	c.logger.Info().
		Str("project_id", project.ID).
		Int("analyses", len(analyses)).
		Msg("Synthesis started")
}

// failLocked moves the project to Failed with a human-readable reason.
// Already-completed jobs are not rolled back. Callers hold c.mu.
func (c *Coordinator) failLocked(project *models.Project, reason string) {
	project.Status = models.ProjectStatusFailed
	project.Error = reason
	c.logger.Error().
		Str("project_id", project.ID).
		Str("reason", reason).
		Msg("Project failed")
}

// persist saves the manifest, logging rather than propagating store errors:
// a persistence hiccup must not stall the pipeline.
func (c *Coordinator) persist(ctx context.Context, project *models.Project) {
	if err := c.store.Save(ctx, project); err != nil {
		c.logger.Error().Err(err).Str("project_id", project.ID).Msg("Failed to persist project")
	}
}

func allTerminal(jobs []*models.Job) bool {
	for _, job := range jobs {
		if !job.Status.Terminal() {
			return false
		}
	}
	return true
}

func collectPages(discoverJobs []*models.Job) []models.Page {
	var pages []models.Page
	for _, job := range discoverJobs {
		if job.Status != models.JobStatusComplete {
			continue
		}
		if result, ok := job.Result.(*models.DiscoverResult); ok {
			pages = append(pages, result.Pages...)
		}
	}
	return pages
}
