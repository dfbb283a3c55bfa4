package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/housecall/housecall/config"
	"github.com/housecall/housecall/internal/adapters/jobrunner"
	"github.com/housecall/housecall/internal/adapters/schedrunner"
	"github.com/housecall/housecall/internal/adapters/smtpmail"
	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"
	"github.com/housecall/housecall/internal/domain/model"
	"github.com/housecall/housecall/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Lifecycle *service.LifecycleService
	Jobs      *service.JobService
	Catalog   *service.CatalogService
	Export    *service.ExportService
	Reminder  *service.ReminderService
	Report    *service.ReportService
	Scheduler *service.SchedulerService
	Reaper    *service.ReaperService
	// JobsRepo is the queue port the worker adapter drains. Exposed so
	// orchestration can build the runner against the same repository the
	// services submit through.
	JobsRepo core.JobRepository
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB          *sql.DB
	Redis       redis.UniversalClient
	RequestRepo *data.RequestRepo
	JobRepo     *data.JobRepo
	UserRepo    *data.UserRepo
	ServiceRepo *data.ServiceRepo
	TaskRepo    *data.ScheduledTaskRepo
	CacheRepo   *data.RedisCacheRepo
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	repoCfg := data.RepoConfig{Logger: logger}
	repos := &serviceRepositories{
		DB:          db,
		Redis:       redisClient,
		RequestRepo: data.NewRequestRepo(db, repoCfg),
		JobRepo:     data.NewJobRepo(db, repoCfg),
		UserRepo:    data.NewUserRepo(db),
		ServiceRepo: data.NewServiceRepo(db, repoCfg),
		TaskRepo:    data.NewScheduledTaskRepo(db, repoCfg),
	}
	if redisClient != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(redisClient)
	}
	return repos
}

// NewServices wires the full service graph from shared connections.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
		appCfg.Sanitize()
	}

	repos := buildRepositories(deps.DB, deps.RedisClient, logger)

	mailer, err := smtpmail.NewMailer(smtpmail.MailerOptions{
		Config: appCfg.Mail,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build mailer: %w", err)
	}

	lifecycle := service.NewLifecycleService(service.LifecycleServiceOptions{
		Requests: repos.RequestRepo,
		Users:    repos.UserRepo,
		Logger:   logger,
	})

	jobs := service.NewJobService(service.JobServiceOptions{
		Jobs:   repos.JobRepo,
		Logger: logger,
	})

	catalogOpts := service.CatalogServiceOptions{
		Repo:   repos.ServiceRepo,
		TTL:    appCfg.Cache.CatalogTTL,
		Logger: logger,
	}
	if repos.CacheRepo != nil {
		catalogOpts.Cache = repos.CacheRepo
	}
	catalog := service.NewCatalogService(catalogOpts)

	export := service.NewExportService(service.ExportServiceOptions{
		Requests: repos.RequestRepo,
		Users:    repos.UserRepo,
		Dir:      appCfg.Export.Dir,
		Logger:   logger,
	})

	reminder := service.NewReminderService(service.ReminderServiceOptions{
		Requests: repos.RequestRepo,
		Users:    repos.UserRepo,
		Mailer:   mailer,
		Logger:   logger,
	})

	report := service.NewReportService(service.ReportServiceOptions{
		Requests: repos.RequestRepo,
		Users:    repos.UserRepo,
		Mailer:   mailer,
		Logger:   logger,
	})

	scheduler := service.NewSchedulerService(service.SchedulerServiceOptions{
		Tasks:     repos.TaskRepo,
		Jobs:      repos.JobRepo,
		BatchSize: appCfg.Scheduler.BatchSize,
		Logger:    logger,
	})

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Jobs:   repos.JobRepo,
		Config: appCfg.Reaper,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper: %w", err)
	}

	return ServiceContainer{
		Lifecycle: lifecycle,
		Jobs:      jobs,
		Catalog:   catalog,
		Export:    export,
		Reminder:  reminder,
		Report:    report,
		Scheduler: scheduler,
		Reaper:    reaper,
		JobsRepo:  repos.JobRepo,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// buildWorkerRunner assembles the queue worker with its job handlers.
func buildWorkerRunner(cfg *ServiceOrchestrationConfig, logger *slog.Logger) (*jobrunner.Runner, error) {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Jobs:         cfg.Services.JobsRepo,
		Concurrency:  cfg.Config.Worker.Concurrency,
		PollInterval: cfg.Config.Worker.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build job runner: %w", err)
	}

	runner.Register(model.JobKindExportCSV, func(ctx context.Context, _ *model.Job) (string, error) {
		return cfg.Services.Export.Run(ctx)
	})
	runner.Register(model.JobKindSendReminder, func(ctx context.Context, _ *model.Job) (string, error) {
		return cfg.Services.Reminder.Run(ctx)
	})
	runner.Register(model.JobKindSendReport, func(ctx context.Context, _ *model.Job) (string, error) {
		return cfg.Services.Report.Run(ctx)
	})

	return runner, nil
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service
// fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeWorker] {
		runner, buildErr := buildWorkerRunner(cfg, logger)
		if buildErr != nil {
			return buildErr
		}
		g.Go(func() error {
			return runWrapped(ctx, "worker", runner.Run)
		})
		logger.InfoContext(ctx, "background service started", "service", "worker")
	}

	if enabled[config.ServiceModeScheduler] {
		runner, buildErr := schedrunner.NewRunner(schedrunner.RunnerOptions{
			Scheduler:    cfg.Services.Scheduler,
			TickInterval: cfg.Config.Scheduler.Interval,
			Logger:       logger,
		})
		if buildErr != nil {
			return fmt.Errorf("build scheduler runner: %w", buildErr)
		}
		g.Go(func() error {
			return runWrapped(ctx, "scheduler", runner.Run)
		})
		logger.InfoContext(ctx, "background service started", "service", "scheduler")
	}

	if enabled[config.ServiceModeReaper] {
		g.Go(func() error {
			return runWrapped(ctx, "reaper", cfg.Services.Reaper.Run)
		})
		logger.InfoContext(ctx, "background service started", "service", "reaper")
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service error", "error", err)
		return err
	}

	logger.Info("all services stopped")
	return nil
}

func runWrapped(ctx context.Context, name string, run func(context.Context) error) error {
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
