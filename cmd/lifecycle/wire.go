package main

import (
	"context"
	"time"

	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
	"github.com/gustausantin/La-ia-app-sub001/pkg/httpclient"
	"github.com/gustausantin/La-ia-app-sub001/pkg/kafka"
	"github.com/gustausantin/La-ia-app-sub001/pkg/lifecycle"
	"github.com/gustausantin/La-ia-app-sub001/pkg/monitoring"
	"github.com/gustausantin/La-ia-app-sub001/pkg/playbook"
	"github.com/gustausantin/La-ia-app-sub001/pkg/providers"
	"github.com/gustausantin/La-ia-app-sub001/pkg/redis"
	"github.com/gustausantin/La-ia-app-sub001/pkg/repositories"
	"github.com/gustausantin/La-ia-app-sub001/pkg/rules"
	"github.com/gustausantin/La-ia-app-sub001/pkg/scheduler"
	"github.com/gustausantin/La-ia-app-sub001/pkg/store/memory"
	"github.com/gustausantin/La-ia-app-sub001/pkg/templates"
	"github.com/gustausantin/La-ia-app-sub001/pkg/webhooks"
)

const credentialCacheSize = 1024

// dataStore is everything the engine reads and writes. Both the Postgres and
// the in-memory store implement it.
type dataStore interface {
	lifecycle.Store
	scheduler.Store
	rules.Store
	webhooks.Store
	playbook.Store
	providers.CredentialStore
}

var (
	_ dataStore = (*repositories.Store)(nil)
	_ dataStore = (*memory.Store)(nil)
)

// openStore connects to Postgres, or falls back to the in-memory store when
// DB_HOST is empty. db is nil for the in-memory store.
func (a *app) openStore(ctx context.Context) (dataStore, database.DB, error) {
	if !a.cfg.DatabaseEnabled() {
		a.logger.Warn("DB_HOST is not set, using the in-memory store; nothing will persist")
		return memory.NewStore(), nil, nil
	}

	db, err := database.Open(ctx, database.Config{
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		User:            a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewStore(db, a.logger), db, nil
}

func (a *app) openRedis() (*redis.Client, error) {
	cfg := redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	return redis.NewClient(cfg, a.logger)
}

func (a *app) openEvents() kafka.Publisher {
	cfg := kafka.ParseConfig(a.cfg.KafkaBrokers, a.cfg.KafkaEventsTopic)
	if !cfg.Enabled() {
		return kafka.NoopPublisher{}
	}
	a.logger.Infof("Publishing lifecycle events to %s", cfg.EventsTopic)
	return kafka.NewProducer(cfg, a.logger)
}

// engine is the wired service graph.
type engine struct {
	monitor    *monitoring.Monitor
	messages   *scheduler.Service
	rules      *rules.Engine
	lifecycle  *lifecycle.Service
	forwarder  *webhooks.Forwarder
	reconciler *webhooks.Reconciler
}

// wire builds the service graph. rc may be nil, in which case refresh locking
// stays in-process and sends are not throttled.
func (a *app) wire(store dataStore, rc *redis.Client, events kafka.Publisher) *engine {
	cfg := a.cfg
	logger := a.logger

	monitor := monitoring.NewMonitor(monitoring.Config{
		Size:           cfg.MonitorSize,
		TTL:            cfg.MonitorTTL,
		BurstWindow:    cfg.MonitorBurstWindow,
		BurstThreshold: cfg.MonitorBurstThreshold,
		SweepInterval:  cfg.MonitorSweepInterval,
	}, logger)

	providerClient := httpclient.NewClient(httpclient.Config{
		Timeout:         cfg.ProviderTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}, logger)
	adapter := providers.NewAdapter(providers.Config{
		WhatsAppBaseURL:    cfg.WhatsAppBaseURL,
		EmailBaseURL:       cfg.EmailBaseURL,
		DefaultPhoneRegion: cfg.DefaultPhoneRegion,
		Timeout:            cfg.ProviderTimeout,
	}, providerClient, logger)
	creds := providers.NewCredentialResolver(store, credentialCacheSize, cfg.CredentialCacheTTL)

	schedulerOpts := []scheduler.Option{
		scheduler.WithHealthTracker(monitor),
		scheduler.WithEvents(events),
	}
	var lifecycleOpts []lifecycle.Option
	if rc != nil {
		limiter := redis.NewRateLimiter(rc, cfg.RedisKeyPrefix)
		schedulerOpts = append(schedulerOpts,
			scheduler.WithThrottle(redis.NewSendThrottle(limiter, int64(cfg.SendRateLimit), cfg.SendRateWindow)))
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithLocker(redis.NewLocker(rc, cfg.RedisKeyPrefix)))
	}

	messages := scheduler.NewService(
		store,
		templates.NewRenderer(templates.NewEvaluator()),
		adapter,
		creds,
		scheduler.Config{
			ClaimBatchSize: cfg.SchedulerBatchSize,
			ClaimTimeout:   cfg.SchedulerClaimTimeout,
			WorkerID:       cfg.SchedulerWorkerID,
		},
		logger,
		schedulerOpts...,
	)

	ruleEngine := rules.NewEngine(store, messages, rules.Config{
		CapWindow:   rules.DefaultCapWindow,
		RiskHorizon: cfg.RiskHorizon,
	}, logger)

	service := lifecycle.NewService(store, ruleEngine, messages, lifecycle.Config{
		RiskHorizon: cfg.RiskHorizon,
	}, logger, lifecycleOpts...)

	forwarder := webhooks.NewForwarder(
		httpclient.NewClient(httpclient.Config{Timeout: cfg.WebhookForwardTimeout}, logger),
		webhooks.ForwarderConfig{
			URLs:    webhooks.ParseForwardURLs(cfg.WebhookForwardURLs),
			Secret:  cfg.WebhookForwardSecret,
			Timeout: cfg.WebhookForwardTimeout,
		},
		logger,
	)
	reconcilerOpts := []webhooks.Option{webhooks.WithEvents(events)}
	if forwarder.Enabled() {
		reconcilerOpts = append(reconcilerOpts, webhooks.WithFanout(forwarder))
	}

	return &engine{
		monitor:    monitor,
		messages:   messages,
		rules:      ruleEngine,
		lifecycle:  service,
		forwarder:  forwarder,
		reconciler: webhooks.NewReconciler(store, logger, reconcilerOpts...),
	}
}
