// Package serve implements the serve command: the dispatcher, the cron
// scheduler and the HTTP API in one process.
package serve

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rrandiak/altoEditorAPI-sub000/cmd/common"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/api"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/coordination"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/dispatcher"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/job"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/kramerius"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/metrics"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/process"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/search"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/server"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/storage"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/version"
)

const (
	serviceName   = "alto-editor"
	schedulerUser = "scheduler"
)

// Command starts the backend.
func Command() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job dispatcher and the HTTP API",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, log, err := common.Setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	return cmd
}

// components holds everything that has to be closed on shutdown.
type components struct {
	db          *sqlx.DB
	closeLocker func() error
	dispatcher  *dispatcher.Dispatcher
	scheduler   *job.Scheduler
	http        *server.Server
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, migrate bool) error {
	comps, err := build(ctx, cfg, log, migrate)
	if err != nil {
		return err
	}

	errCh := comps.http.StartAsync()
	log.Info("Service started",
		logger.String("address", cfg.Server.Address()),
		logger.Int("workers", cfg.App.MaxProcesses),
		logger.Int("engines", len(cfg.Engines)),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case serveErr = <-errCh:
		log.Error("HTTP server failed", logger.Error(serveErr))
	}

	return errors.Join(serveErr, comps.shutdown(cfg, log))
}

func build(ctx context.Context, cfg *config.Config, log logger.Logger, migrate bool) (*components, error) {
	db, err := common.OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	comps := &components{db: db, closeLocker: func() error { return nil }}
	fail := func(err error) (*components, error) {
		_ = comps.release()
		return nil, err
	}

	if migrate {
		if err = database.RunMigrations(cfg.Database, log); err != nil {
			return fail(err)
		}
	}

	store, err := storage.New(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	locker, closeLocker, err := coordination.NewLocker(ctx, cfg.Redis, log)
	if err != nil {
		return fail(err)
	}
	comps.closeLocker = closeLocker

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	jobRepo := database.NewJobRepository(db)
	versionRepo := database.NewVersionRepository(db)
	objectRepo := database.NewObjectRepository(db)
	remote := kramerius.NewService(cfg.Kramerius, log)

	versions, err := version.NewService(version.Config{
		Repository:  versionRepo,
		Locker:      locker,
		Store:       store,
		Remote:      remote,
		RemoteOwner: cfg.App.KrameriusUser,
		Metrics:     m,
		Logger:      log.With(logger.String("component", "version")),
	})
	if err != nil {
		return fail(err)
	}

	deps := &job.Deps{
		Objects:    objectRepo,
		Versions:   versions,
		Remote:     remote,
		Supervisor: process.New(log.With(logger.String("component", "process"))),
		Engines:    cfg.Engines,
		Metrics:    m,
	}
	checks := map[string]server.HealthChecker{
		"database": server.PingChecker("database", server.HealthStatusUnhealthy, db.PingContext),
	}

	esClient, err := search.NewClient(ctx, cfg.Elasticsearch, log)
	if err != nil {
		// Reindex jobs fail until the service is restarted with a reachable cluster.
		log.Warn("Elasticsearch unavailable, reindexing disabled", logger.Error(err))
	} else {
		deps.Indexer = search.NewIndexer(esClient, cfg.Elasticsearch.IndexPrefix, objectRepo, versionRepo, log)
		checks["elasticsearch"] = server.PingChecker("elasticsearch", server.HealthStatusDegraded, esPing(esClient))
	}

	runner := job.NewRunner(jobRepo, deps.Factory(), cfg.App.WorkDir, m, log.With(logger.String("component", "runner")))

	dispCfg := dispatcher.DefaultConfig().
		WithWorkers(cfg.App.MaxProcesses).
		WithDrainTimeout(cfg.App.DrainTimeout)
	comps.dispatcher, err = dispatcher.New(dispCfg, log.With(logger.String("component", "dispatcher")), m)
	if err != nil {
		return fail(err)
	}

	svc := api.NewService(api.Config{
		Jobs:      jobRepo,
		Submitter: comps.dispatcher,
		Runner:    runner,
		Versions:  versions,
		Engines:   cfg.Engines,
		Instances: remote.Instances(),
		Logger:    log,
	})

	comps.scheduler = job.NewScheduler(log.With(logger.String("component", "scheduler")))
	if cfg.Reindex.Schedule != "" {
		err = comps.scheduler.Add(cfg.Reindex.Schedule, domain.JobKindReindex, func(ctx context.Context) (*domain.Job, error) {
			return svc.SubmitReindex(ctx, domain.PriorityLow, schedulerUser)
		})
		if err != nil {
			return fail(err)
		}
	}

	// Interrupted jobs are failed and PLANNED ones queued before any worker runs.
	if _, _, err = job.Recover(ctx, jobRepo, svc.Enqueue, log); err != nil {
		return fail(err)
	}
	if err = comps.dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		return fail(err)
	}

	comps.scheduler.Start()

	comps.http = server.New(cfg.Server, log, server.Options{
		ServiceName:    serviceName,
		ServiceVersion: common.Version,
		Gatherer:       reg,
		Checks:         checks,
	}, func(router *gin.Engine) {
		api.SetupRoutes(router, api.NewHandler(svc, log.With(logger.String("component", "api"))))
	})
	return comps, nil
}

func esPing(client *es.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		res, err := client.Ping(client.Ping.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("ping: %s", res.Status())
		}
		return nil
	}
}

// shutdown stops intake first, then drains running jobs.
func (c *components) shutdown(cfg *config.Config, log logger.Logger) error {
	var errs []error

	if err := c.http.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}
	<-c.scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.DrainTimeout+time.Second)
	defer cancel()
	left, err := c.dispatcher.Stop(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if left > 0 {
		log.Info("Queued jobs left for the next start", logger.Int("jobs", left))
	}

	errs = append(errs, c.release())
	return errors.Join(errs...)
}

func (c *components) release() error {
	var errs []error
	if c.closeLocker != nil {
		errs = append(errs, c.closeLocker())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}
