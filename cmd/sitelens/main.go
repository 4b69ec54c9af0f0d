package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/common"
	"github.com/ternarybob/sitelens/internal/models"
	"github.com/ternarybob/sitelens/internal/pipeline"
	"github.com/ternarybob/sitelens/internal/queue"
	"github.com/ternarybob/sitelens/internal/services/events"
	"github.com/ternarybob/sitelens/internal/services/llm"
	"github.com/ternarybob/sitelens/internal/storage/badger"
	"github.com/ternarybob/sitelens/internal/workers"
)

// stringList is a custom flag type that allows a flag to repeat
type stringList []string

func (s *stringList) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var (
	configFiles  stringList
	competitors  stringList
	primaryURL   = flag.String("url", "", "Primary site URL to analyze")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	flag.Var(&competitors, "competitor", "Competitor site URL (can be specified multiple times)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Sitelens version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("sitelens.toml"); err == nil {
			configFiles = append(configFiles, "sitelens.toml")
		} else if _, err := os.Stat("deployments/local/sitelens.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/sitelens.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Debug().
		Str("badger_path", config.Storage.Badger.Path).
		Str("captures_dir", config.Storage.Filesystem.Captures).
		Str("log_level", config.Logging.Level).
		Str("llm_provider", config.LLM.Provider).
		Msg("Configuration loaded")

	if err := run(); err != nil {
		logger.Fatal().Err(err).Msg("Sitelens exited with error")
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	store := badger.NewProjectStorage(db, logger)
	defer store.Close()

	eventService := events.NewService(logger)
	defer eventService.Close()

	pool := queue.NewPool(typeConfigs(config.Pool), eventService, logger)
	defer pool.Stop()

	coordinator, err := pipeline.NewCoordinator(pool, store, eventService, logger)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	provider, err := llm.NewProvider(&config.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to create llm provider: %w", err)
	}
	if provider == nil {
		logger.Info().Msg("No LLM provider configured, analysis uses heuristic scoring")
	} else {
		defer provider.Close()
	}

	capturesDir := config.Storage.Filesystem.Captures
	err = coordinator.RegisterHandlers(pipeline.Handlers{
		Discover:   workers.NewDiscoverWorker(config.Crawler, logger).Handler(),
		Scan:       workers.NewCaptureWorker(config.Capture, config.Crawler, capturesDir, logger).Handler(),
		Analyze:    workers.NewAnalyzeWorker(provider, logger).Handler(),
		Synthesize: workers.NewSynthesizeWorker(capturesDir, provider, logger).Handler(),
	})
	if err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	if err := coordinator.LoadProjects(ctx); err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}

	if config.Pool.CleanupSchedule != "" {
		scheduler, err := startCleanupScheduler(pool)
		if err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	if *primaryURL == "" {
		return fmt.Errorf("no site to analyze: pass -url (and optionally -competitor)")
	}

	sites := []models.SiteInput{{URL: *primaryURL, Role: models.SiteRolePrimary}}
	for _, competitor := range competitors {
		sites = append(sites, models.SiteInput{URL: competitor, Role: models.SiteRoleCompetitor})
	}

	project, err := coordinator.CreateProject(ctx, sites, models.ProjectConfig{
		MaxDepth:    config.Crawler.MaxDepth,
		MaxPages:    config.Crawler.MaxPages,
		Screenshots: config.Capture.Screenshots,
		Provider:    config.LLM.Provider,
	})
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	if _, err := coordinator.StartDiscovery(ctx, project.ID); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	logger.Info().
		Str("project_id", project.ID).
		Int("sites", len(sites)).
		Msg("Pipeline started")

	return waitForProject(coordinator, project.ID, capturesDir)
}

// waitForProject polls project status until a terminal phase or a shutdown
// signal arrives
func waitForProject(coordinator *pipeline.Coordinator, projectID, capturesDir string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastPercent := -1.0

	for {
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("Shutdown signal received, stopping pipeline")
			return nil

		case <-ticker.C:
			report, ok := coordinator.GetProjectStatus(projectID)
			if !ok {
				return fmt.Errorf("project %s disappeared from registry", projectID)
			}

			if report.JobProgress.Percent != lastPercent {
				lastPercent = report.JobProgress.Percent
				logger.Info().
					Str("status", string(report.Project.Status)).
					Float64("percent", report.JobProgress.Percent).
					Int("complete", report.JobProgress.Complete).
					Int("failed", report.JobProgress.Failed).
					Msg("Pipeline progress")
			}

			if !report.Project.Status.Terminal() {
				continue
			}

			if report.Project.Status == models.ProjectStatusFailed {
				return fmt.Errorf("project failed: %s", report.Project.Error)
			}

			logger.Info().
				Str("project_id", projectID).
				Str("report_dir", fmt.Sprintf("%s/%s", capturesDir, projectID)).
				Msg("Pipeline complete")
			return nil
		}
	}
}

// startCleanupScheduler evicts old terminal jobs on the configured cron schedule
func startCleanupScheduler(pool *queue.Pool) (*cron.Cron, error) {
	maxAge := common.ParseDurationOr(config.Pool.CleanupMaxAge, time.Hour)

	scheduler := cron.New()
	_, err := scheduler.AddFunc(config.Pool.CleanupSchedule, func() {
		removed := pool.CleanupTerminal(maxAge)
		if removed > 0 {
			logger.Info().Int("removed", removed).Msg("Evicted old terminal jobs")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", config.Pool.CleanupSchedule, err)
	}

	scheduler.Start()
	logger.Info().Str("schedule", config.Pool.CleanupSchedule).Msg("Terminal job cleanup scheduled")
	return scheduler, nil
}

func typeConfigs(pool common.PoolConfig) map[models.WorkType]queue.TypeConfig {
	return map[models.WorkType]queue.TypeConfig{
		models.WorkTypeDiscover:   typeConfig(pool.Discover),
		models.WorkTypeScan:       typeConfig(pool.Scan),
		models.WorkTypeAnalyze:    typeConfig(pool.Analyze),
		models.WorkTypeSynthesize: typeConfig(pool.Synthesize),
	}
}

func typeConfig(worker common.WorkerConfig) queue.TypeConfig {
	return queue.TypeConfig{
		Concurrency: worker.Concurrency,
		Timeout:     common.ParseDurationOr(worker.Timeout, 60*time.Second),
		MaxRetries:  worker.MaxRetries,
		RetryDelay:  common.ParseDurationOr(worker.RetryDelay, 0),
	}
}
