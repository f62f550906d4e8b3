package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/gustausantin/La-ia-app-sub001/internal/handlers"
	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
	"github.com/gustausantin/La-ia-app-sub001/pkg/health"
	"github.com/gustausantin/La-ia-app-sub001/pkg/kafka"
	"github.com/gustausantin/La-ia-app-sub001/pkg/middleware"
	"github.com/gustausantin/La-ia-app-sub001/pkg/redis"
	"github.com/gustausantin/La-ia-app-sub001/pkg/scheduler"
	"github.com/gustausantin/La-ia-app-sub001/pkg/startup"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing/exporters"
)

func newServeCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receivers and the dispatch scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := a.cfg
	logger := a.logger

	shutdownTracing, err := a.setupTracing(ctx)
	if err != nil {
		return err
	}

	var (
		store  dataStore
		db     database.DB
		rc     *redis.Client
		events kafka.Publisher = kafka.NoopPublisher{}
		eng    *engine
		driver *scheduler.Scheduler
	)

	checker := health.NewChecker(cfg.Version)
	e := a.newEcho()
	checker.RegisterRoutes(e)

	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	s.AddDependency(startup.Dependency{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			store, db, err = a.openStore(ctx)
			if err != nil {
				return err
			}
			if db == nil {
				return nil
			}
			checker.AddCheck("database", db.PingContext, true)
			if migrate {
				return a.migrate(db)
			}
			return nil
		},
		StopFn: func(context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	}).AddDependency(startup.Dependency{
		Name: "redis",
		StartFn: func(ctx context.Context) error {
			if rc, err = a.openRedis(); err != nil {
				return err
			}
			if rc != nil {
				checker.AddCheck("redis", rc.Ping, false)
			}
			return nil
		},
		StopFn: func(context.Context) error {
			if rc == nil {
				return nil
			}
			return rc.Close()
		},
	}).AddDependency(startup.Dependency{
		Name: "kafka",
		StartFn: func(context.Context) error {
			events = a.openEvents()
			return nil
		},
		StopFn: func(context.Context) error {
			return events.Close()
		},
	}).AddDependency(startup.Dependency{
		Name:     "engine",
		Requires: []string{"database", "redis", "kafka"},
		StartFn: func(ctx context.Context) error {
			eng = a.wire(store, rc, events)
			checker.SetProviders(eng.monitor)
			return eng.monitor.Start(ctx)
		},
		StopFn: func(ctx context.Context) error {
			eng.forwarder.Wait()
			return eng.monitor.Stop(ctx)
		},
	}).AddDependency(startup.Dependency{
		Name:     "scheduler",
		Requires: []string{"engine"},
		StartFn: func(ctx context.Context) error {
			if !cfg.SchedulerEnabled {
				logger.Info("Scheduler disabled, messages will only be planned")
				return nil
			}
			driver = scheduler.NewScheduler(eng.messages, scheduler.DriverConfig{
				PollInterval: cfg.SchedulerPollInterval,
				Workers:      cfg.SchedulerWorkers,
			}, logger)
			return driver.Start(ctx)
		},
		StopFn: func(ctx context.Context) error {
			if driver == nil {
				return nil
			}
			return driver.Stop(ctx)
		},
	}).AddDependency(startup.Dependency{
		Name:     "http",
		Requires: []string{"engine"},
		StartFn: func(context.Context) error {
			handlers.RegisterRoutes(e, eng.lifecycle, eng.reconciler, logger)
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("HTTP server stopped unexpectedly")
					cancel()
				}
			}()
			checker.SetReady(true)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			checker.SetReady(false)
			return e.Shutdown(ctx)
		},
	})

	// Dependencies run until the signal context ends, not the startup attempt.
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		logger.WithError(err).Error("Failed to start")
		_ = s.Stop(context.Background())
		return err
	}
	logger.Infof("%s %s listening on :%d", cfg.AppName, cfg.Version, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()

	stopErr := s.Stop(stopCtx)
	if err := shutdownTracing(stopCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return stopErr
}

func (a *app) newEcho() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// setupTracing installs the tracer provider. Without OTLP spans stay in
// process, which still gives log lines their trace ids.
func (a *app) setupTracing(ctx context.Context) (func(context.Context) error, error) {
	if !a.cfg.OTLPEnabled {
		return tracing.Setup(a.cfg.AppName, nil), nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: a.cfg.OTLPEndpoint,
		Protocol: a.cfg.OTLPProtocol,
		Insecure: a.cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	a.logger.Infof("Exporting traces to %s over %s", a.cfg.OTLPEndpoint, a.cfg.OTLPProtocol)
	return tracing.Setup(a.cfg.AppName, exporter), nil
}
