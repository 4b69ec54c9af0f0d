package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/sitelens/internal/common"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
	"github.com/ternarybob/sitelens/internal/queue"
	"github.com/ternarybob/sitelens/internal/services/events"
)

// memStore is an in-memory ProjectStore for coordinator tests
type memStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
}

func newMemStore() *memStore {
	return &memStore{projects: make(map[string]*models.Project)}
}

func (s *memStore) Save(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[project.ID] = project
	return nil
}

func (s *memStore) LoadAll(ctx context.Context) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var projects []*models.Project
	for _, p := range s.projects {
		projects = append(projects, p)
	}
	return projects, nil
}

func (s *memStore) Close() error { return nil }

// synthCapture records the payload the synthesize handler received
type synthCapture struct {
	mu      sync.Mutex
	payload *models.JobPayload
}

func (c *synthCapture) get() *models.JobPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload
}

type testEnv struct {
	coordinator *Coordinator
	pool        *queue.Pool
	store       *memStore
	events      interfaces.EventService
	synth       *synthCapture
}

// newTestEnv wires deterministic pipeline handlers: discovery yields
// pagesPerSite pages, scans fail for paths containing failPath
func newTestEnv(t *testing.T, pagesPerSite int, failPath string) *testEnv {
	t.Helper()
	return newTestEnvWithEvents(t, pagesPerSite, failPath, events.NewService(common.GetLogger()))
}

func newTestEnvWithEvents(t *testing.T, pagesPerSite int, failPath string, eventService interfaces.EventService) *testEnv {
	t.Helper()

	logger := common.GetLogger()
	t.Cleanup(func() { eventService.Close() })

	configs := make(map[models.WorkType]queue.TypeConfig)
	for _, workType := range models.AllWorkTypes {
		configs[workType] = queue.TypeConfig{Concurrency: 2, Timeout: 2 * time.Second}
	}
	pool := queue.NewPool(configs, eventService, logger)
	t.Cleanup(pool.Stop)

	store := newMemStore()
	coordinator, err := NewCoordinator(pool, store, eventService, logger)
	require.NoError(t, err)

	synth := &synthCapture{}
	err = coordinator.RegisterHandlers(Handlers{
		Discover: func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
			result := &models.DiscoverResult{Site: payload.Site}
			paths := []string{"/", "/about", "/pricing", "/contact"}
			for i := 0; i < pagesPerSite && i < len(paths); i++ {
				result.Pages = append(result.Pages, models.Page{
					Slug: models.SlugFromPath(paths[i]),
					Path: paths[i],
					Site: payload.Site,
				})
			}
			return result, nil
		},
		Scan: func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
			if payload.Page == nil {
				return nil, errors.New("scan payload missing page")
			}
			if failPath != "" && strings.Contains(payload.Page.Path, failPath) {
				return nil, errors.New("render crashed")
			}
			return &models.CaptureResult{
				Site:     payload.Site,
				Page:     *payload.Page,
				Title:    "Stub " + payload.Page.Path,
				Markdown: "# Heading\n\nSome body text for scoring.",
			}, nil
		},
		Analyze: func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
			if payload.Capture == nil {
				return nil, errors.New("analyze payload missing capture")
			}
			return &models.PageReport{
				Site:      payload.Capture.Site,
				Page:      payload.Capture.Page,
				Scores:    models.ContentScores{Clarity: 70, Structure: 70, Readability: 70, CallToAction: 70, Overall: 70},
				Summary:   "stub summary",
				WordCount: 6,
			}, nil
		},
		Synthesize: func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
			synth.mu.Lock()
			snapshot := payload
			synth.payload = &snapshot
			synth.mu.Unlock()
			return &models.SynthesisReport{
				ProjectID:    payload.ProjectID,
				Sites:        payload.Sites,
				PagesCovered: len(payload.Analyses),
			}, nil
		},
	})
	require.NoError(t, err)

	return &testEnv{coordinator: coordinator, pool: pool, store: store, events: eventService, synth: synth}
}

func startProject(t *testing.T, env *testEnv, sites ...models.SiteInput) *models.Project {
	t.Helper()
	ctx := context.Background()

	project, err := env.coordinator.CreateProject(ctx, sites, models.ProjectConfig{MaxDepth: 2, MaxPages: 10})
	require.NoError(t, err)
	require.Equal(t, models.ProjectStatusCreated, project.Status)

	_, err = env.coordinator.StartDiscovery(ctx, project.ID)
	require.NoError(t, err)
	return project
}

func waitForTerminal(t *testing.T, env *testEnv, projectID string) *models.Project {
	t.Helper()
	require.Eventually(t, func() bool {
		report, ok := env.coordinator.GetProjectStatus(projectID)
		return ok && report.Project.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond, "project never reached a terminal status")

	report, _ := env.coordinator.GetProjectStatus(projectID)
	return report.Project
}

func TestCoordinator_FullPipelineCompletes(t *testing.T) {
	env := newTestEnv(t, 2, "")

	project := startProject(t, env,
		models.SiteInput{URL: "https://primary.example.com", Role: models.SiteRolePrimary},
		models.SiteInput{URL: "https://rival.example.com", Role: models.SiteRoleCompetitor},
	)

	final := waitForTerminal(t, env, project.ID)
	require.Equal(t, models.ProjectStatusComplete, final.Status)
	require.Empty(t, final.Error)

	// Per-site counters reflect the 2 pages each site produced
	for _, site := range final.Sites {
		require.Equal(t, 2, site.PagesFound, "site %s", site.URL)
		require.Equal(t, 2, site.PagesScanned, "site %s", site.URL)
		require.Equal(t, 2, site.PagesAnalyzed, "site %s", site.URL)
	}

	// Exactly one analyze job per completed scan
	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeScan), 4)
	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeAnalyze), 4)
	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeSynthesize), 1)

	payload := env.synth.get()
	require.NotNil(t, payload)
	require.Len(t, payload.Analyses, 4)
	require.ElementsMatch(t, []string{"https://primary.example.com", "https://rival.example.com"}, payload.Sites)

	report, ok := env.coordinator.GetProjectStatus(project.ID)
	require.True(t, ok)
	require.InDelta(t, 100.0, report.JobProgress.Percent, 0.01)

	// The terminal manifest must be persisted
	env.store.mu.Lock()
	persisted := env.store.projects[project.ID]
	env.store.mu.Unlock()
	require.NotNil(t, persisted)
	require.Equal(t, models.ProjectStatusComplete, persisted.Status)
}

func TestCoordinator_EmptyDiscoveryFailsProject(t *testing.T) {
	env := newTestEnv(t, 0, "")

	project := startProject(t, env, models.SiteInput{URL: "https://empty.example.com", Role: models.SiteRolePrimary})

	final := waitForTerminal(t, env, project.ID)
	require.Equal(t, models.ProjectStatusFailed, final.Status)
	require.Contains(t, final.Error, "no pages discovered")

	// Failing at discovery must not fan out any downstream work
	require.Empty(t, env.pool.JobsForProject(project.ID, models.WorkTypeScan))
	require.Empty(t, env.pool.JobsForProject(project.ID, models.WorkTypeSynthesize))
}

func TestCoordinator_ScanFailureSkipsThatPageOnly(t *testing.T) {
	env := newTestEnv(t, 2, "/about")

	project := startProject(t, env, models.SiteInput{URL: "https://flaky.example.com", Role: models.SiteRolePrimary})

	final := waitForTerminal(t, env, project.ID)
	require.Equal(t, models.ProjectStatusComplete, final.Status)

	// 2 scans ran, 1 failed, so exactly 1 analyze job exists
	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeScan), 2)
	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeAnalyze), 1)

	payload := env.synth.get()
	require.NotNil(t, payload)
	require.Len(t, payload.Analyses, 1)

	require.Equal(t, 2, final.Sites[0].PagesFound)
	require.Equal(t, 1, final.Sites[0].PagesScanned)
	require.Equal(t, 1, final.Sites[0].PagesAnalyzed)
}

func TestCoordinator_AllScansFailedStillSynthesizes(t *testing.T) {
	env := newTestEnv(t, 2, "/")

	project := startProject(t, env, models.SiteInput{URL: "https://broken.example.com", Role: models.SiteRolePrimary})

	final := waitForTerminal(t, env, project.ID)
	require.Equal(t, models.ProjectStatusComplete, final.Status)

	payload := env.synth.get()
	require.NotNil(t, payload)
	require.Empty(t, payload.Analyses, "synthesis runs over whatever analyses completed")
	require.Empty(t, env.pool.JobsForProject(project.ID, models.WorkTypeAnalyze))
}

func TestCoordinator_CreateProjectValidation(t *testing.T) {
	env := newTestEnv(t, 1, "")
	ctx := context.Background()

	_, err := env.coordinator.CreateProject(ctx, nil, models.ProjectConfig{})
	require.Error(t, err)

	// A missing role defaults to competitor
	project, err := env.coordinator.CreateProject(ctx, []models.SiteInput{{URL: "https://x.example.com"}}, models.ProjectConfig{})
	require.NoError(t, err)
	require.Equal(t, models.SiteRoleCompetitor, project.Sites[0].Role)
	require.True(t, strings.HasPrefix(project.ID, "proj_"))
}

func TestCoordinator_StartDiscoveryUnknownProject(t *testing.T) {
	env := newTestEnv(t, 1, "")

	_, err := env.coordinator.StartDiscovery(context.Background(), "proj_missing")
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCoordinator_LoadProjectsRestoresRegistry(t *testing.T) {
	env := newTestEnv(t, 1, "")
	ctx := context.Background()

	seeded := &models.Project{
		ID:     "proj_seeded",
		Status: models.ProjectStatusComplete,
	}
	require.NoError(t, env.store.Save(ctx, seeded))

	require.NoError(t, env.coordinator.LoadProjects(ctx))

	report, ok := env.coordinator.GetProjectStatus("proj_seeded")
	require.True(t, ok)
	require.Equal(t, models.ProjectStatusComplete, report.Project.Status)
}

func TestCoordinator_GetProjectStatusUnknownID(t *testing.T) {
	env := newTestEnv(t, 1, "")

	_, ok := env.coordinator.GetProjectStatus("proj_nope")
	require.False(t, ok)
}

// heldScanEvents delays delivery of the scan job:complete event for one page
// path until released, standing in for a slow event delivery goroutine.
type heldScanEvents struct {
	interfaces.EventService
	holdPath string
	release  chan struct{}
}

func (h *heldScanEvents) Publish(ctx context.Context, event interfaces.Event) error {
	if job, ok := event.Payload.(*models.Job); ok &&
		event.Type == interfaces.EventJobComplete &&
		job.WorkType == models.WorkTypeScan &&
		job.Payload.Page != nil && job.Payload.Page.Path == h.holdPath {
		go func() {
			<-h.release
			_ = h.EventService.Publish(ctx, event)
		}()
		return nil
	}
	return h.EventService.Publish(ctx, event)
}

func TestCoordinator_SynthesisWaitsForInFlightScanEvents(t *testing.T) {
	held := &heldScanEvents{
		EventService: events.NewService(common.GetLogger()),
		holdPath:     "/about",
		release:      make(chan struct{}),
	}
	env := newTestEnvWithEvents(t, 2, "", held)

	project := startProject(t, env, models.SiteInput{URL: "https://primary.example.com", Role: models.SiteRolePrimary})

	// One scan is complete in the queue but its completion event has not
	// been delivered, so its analyze job does not exist yet. Synthesis
	// must not start over that partial analyze set.
	require.Never(t, func() bool {
		report, ok := env.coordinator.GetProjectStatus(project.ID)
		if !ok {
			return false
		}
		return report.Project.Status.Terminal() ||
			report.Project.Status == models.ProjectStatusSynthesizing ||
			len(env.pool.JobsForProject(project.ID, models.WorkTypeSynthesize)) > 0
	}, 500*time.Millisecond, 25*time.Millisecond, "synthesis started while a scan completion event was in flight")

	close(held.release)

	final := waitForTerminal(t, env, project.ID)
	require.Equal(t, models.ProjectStatusComplete, final.Status)

	// The late scan's analysis made it into the synthesis input
	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeAnalyze), 2)
	payload := env.synth.get()
	require.NotNil(t, payload)
	require.Len(t, payload.Analyses, 2)
}

func TestCoordinator_LateScanEventAfterProjectFailedIsDropped(t *testing.T) {
	env := newTestEnv(t, 0, "")

	project := startProject(t, env, models.SiteInput{URL: "https://empty.example.com", Role: models.SiteRolePrimary})
	final := waitForTerminal(t, env, project.ID)
	require.Equal(t, models.ProjectStatusFailed, final.Status)

	// A scan completion arriving after the project is terminal must not
	// fan out analysis work or move the project out of Failed.
	page := models.Page{Slug: "home", Path: "/", Site: "https://empty.example.com"}
	stale := models.NewJob(models.WorkTypeScan, models.JobPayload{ProjectID: project.ID, Site: page.Site, Page: &page}, priorityScan)
	stale.Status = models.JobStatusComplete
	stale.Result = &models.CaptureResult{Site: page.Site, Page: page, Markdown: "# Home"}

	err := env.events.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobComplete, Payload: stale})
	require.NoError(t, err)

	require.Empty(t, env.pool.JobsForProject(project.ID, models.WorkTypeAnalyze))
	report, ok := env.coordinator.GetProjectStatus(project.ID)
	require.True(t, ok)
	require.Equal(t, models.ProjectStatusFailed, report.Project.Status)
}

func TestCoordinator_StatusReportsAreSnapshots(t *testing.T) {
	env := newTestEnv(t, 1, "")

	project := startProject(t, env, models.SiteInput{URL: "https://primary.example.com", Role: models.SiteRolePrimary})

	first, ok := env.coordinator.GetProjectStatus(project.ID)
	require.True(t, ok)
	second, ok := env.coordinator.GetProjectStatus(project.ID)
	require.True(t, ok)
	require.NotSame(t, first.Project, second.Project)
	require.NotSame(t, first.Project.Sites[0], second.Project.Sites[0])

	// Mutating a returned report must not leak into coordinator state
	first.Project.Sites[0].PagesFound = 999
	fresh, ok := env.coordinator.GetProjectStatus(project.ID)
	require.True(t, ok)
	require.NotEqual(t, 999, fresh.Project.Sites[0].PagesFound)

	waitForTerminal(t, env, project.ID)
}

// Exercises concurrent status reads against coordinator mutation; run with
// the race detector to verify reports never alias live project state.
func TestCoordinator_ConcurrentStatusPollsDuringRun(t *testing.T) {
	env := newTestEnv(t, 2, "")

	project := startProject(t, env,
		models.SiteInput{URL: "https://primary.example.com", Role: models.SiteRolePrimary},
		models.SiteInput{URL: "https://rival.example.com", Role: models.SiteRoleCompetitor},
	)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				report, ok := env.coordinator.GetProjectStatus(project.ID)
				if !ok {
					continue
				}
				total := 0
				for _, site := range report.Project.Sites {
					total += site.PagesFound + site.PagesScanned + site.PagesAnalyzed
				}
				_ = total
			}
		}()
	}

	final := waitForTerminal(t, env, project.ID)
	close(done)
	wg.Wait()
	require.Equal(t, models.ProjectStatusComplete, final.Status)
}

func TestCoordinator_DiscoveryFanOutCoversAllSites(t *testing.T) {
	env := newTestEnv(t, 2, "")

	// Discover handlers return immediately, so the first site's completion
	// event can fire while later sites are still being submitted. Scanning
	// must still cover every site's pages.
	project := startProject(t, env,
		models.SiteInput{URL: "https://one.example.com", Role: models.SiteRolePrimary},
		models.SiteInput{URL: "https://two.example.com"},
		models.SiteInput{URL: "https://three.example.com"},
	)

	final := waitForTerminal(t, env, project.ID)
	require.Equal(t, models.ProjectStatusComplete, final.Status)

	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeDiscover), 3)
	require.Len(t, env.pool.JobsForProject(project.ID, models.WorkTypeScan), 6)
	for _, site := range final.Sites {
		require.Equal(t, 2, site.PagesFound, "site %s", site.URL)
		require.Equal(t, 2, site.PagesScanned, "site %s", site.URL)
	}
}
