// Package scheduler owns the lifecycle of scheduled messages: planning,
// claiming due messages, dispatching them through a provider and the manual
// operator overrides.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/gustausantin/La-ia-app-sub001/pkg/context"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between dispatch cycles
	DefaultPollInterval = 30 * time.Second

	// DefaultWorkers is the number of concurrent sends per cycle
	DefaultWorkers = 8
)

// DriverConfig holds configuration for the poll loop
type DriverConfig struct {
	// PollInterval is how often to claim due messages
	PollInterval time.Duration

	// Workers bounds concurrent provider calls within a cycle
	Workers int
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		PollInterval: DefaultPollInterval,
		Workers:      DefaultWorkers,
	}
}

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	ClaimStats
	Recovered int
	Sent      int
	Failed    int
	Errors    int
}

// Scheduler periodically recovers stale claims, claims due messages and
// dispatches them. Several instances may run at once; the claim step keeps
// each message with a single instance.
type Scheduler struct {
	service *Service
	config  DriverConfig
	logger  ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

func NewScheduler(service *Service, config DriverConfig, logger ectologger.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}

	return &Scheduler{
		service:  service,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx = appctx.SetWorkerID(ctx, s.service.config.WorkerID)
	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s workers=%d batch_size=%d",
		s.config.PollInterval, s.config.Workers, s.service.config.ClaimBatchSize)

	go s.pollLoop(ctx)

	s.logger.WithContext(ctx).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler gracefully, waiting for the current cycle.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.RunCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler poll loop stopping")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle runs a single recover, claim and dispatch pass.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunCycle")
	defer span.End()

	start := time.Now()
	defer func() { metrics.SchedulerCycleDuration.Observe(time.Since(start).Seconds()) }()

	var result CycleResult

	recovered, err := s.service.RecoverStale(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to recover stale messages")
	}
	result.Recovered = recovered

	claimed, stats, err := s.service.ClaimDueMessages(ctx)
	result.ClaimStats = stats
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to claim due messages")
		return result
	}

	if len(claimed) == 0 {
		s.logger.WithContext(ctx).Debug("No messages to dispatch")
		return result
	}

	var sent, failed, errs atomic.Int64
	jobs := make(chan models.ScheduledMessage)
	var wg sync.WaitGroup

	workers := min(s.config.Workers, len(claimed))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				msgCtx := appctx.SetRestaurantID(ctx, msg.RestaurantID.String())
				updated, err := s.service.Dispatch(msgCtx, msg)
				switch {
				case err != nil:
					errs.Add(1)
				case updated.Status == models.MessageStatusSent:
					sent.Add(1)
				default:
					failed.Add(1)
				}
			}
		}()
	}

	for _, msg := range claimed {
		jobs <- msg
	}
	close(jobs)
	wg.Wait()

	result.Sent = int(sent.Load())
	result.Failed = int(failed.Load())
	result.Errors = int(errs.Load())

	s.logger.WithContext(ctx).Infof("Dispatch cycle completed: claimed=%d sent=%d failed=%d lost=%d throttled=%d recovered=%d duration=%s",
		result.Claimed, result.Sent, result.Failed, result.RaceLost, result.Throttled, result.Recovered, time.Since(start))

	return result
}
