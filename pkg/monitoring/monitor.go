// Package monitoring tracks provider health per (restaurant, channel) and
// detects bursts of send failures.
package monitoring

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

var ErrMonitorAlreadyRunning = errors.New("monitor already running")

const (
	DefaultSize           = 4096
	DefaultTTL            = 24 * time.Hour
	DefaultBurstWindow    = 5 * time.Minute
	DefaultBurstThreshold = 5
	DefaultSweepInterval  = 30 * time.Second
)

// Config holds monitor limits. Entries untouched for TTL are forgotten.
type Config struct {
	Size           int
	TTL            time.Duration
	BurstWindow    time.Duration
	BurstThreshold int
	SweepInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Size:           DefaultSize,
		TTL:            DefaultTTL,
		BurstWindow:    DefaultBurstWindow,
		BurstThreshold: DefaultBurstThreshold,
		SweepInterval:  DefaultSweepInterval,
	}
}

// Key identifies one monitored provider channel.
type Key struct {
	RestaurantID uuid.UUID
	Channel      models.Channel
}

// ChannelHealth is the reported state of one provider channel.
type ChannelHealth struct {
	RestaurantID        uuid.UUID      `json:"restaurant_id"`
	Channel             models.Channel `json:"channel"`
	Healthy             bool           `json:"healthy"`
	Burst               bool           `json:"error_burst"`
	Successes           int64          `json:"successes"`
	Failures            int64          `json:"failures"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	RecentFailures      int            `json:"recent_failures"`
	LastError           string         `json:"last_error,omitempty"`
	LastSuccessAt       *time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time     `json:"last_failure_at,omitempty"`
}

type entry struct {
	successes   int64
	failures    int64
	consecutive int
	recent      []time.Time
	lastError   string
	lastSuccess *time.Time
	lastFailure *time.Time
	burst       bool
}

// Monitor is safe for concurrent use. Tests inject a clock with WithClock.
type Monitor struct {
	config  Config
	logger  ectologger.Logger
	now     func() time.Time
	entries *expirable.LRU[Key, *entry]
	mu      sync.Mutex

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	runMu    sync.RWMutex
}

type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(config Config, logger ectologger.Logger, opts ...Option) *Monitor {
	if config.Size <= 0 {
		config.Size = DefaultSize
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = DefaultBurstWindow
	}
	if config.BurstThreshold <= 0 {
		config.BurstThreshold = DefaultBurstThreshold
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}

	m := &Monitor{
		config:   config,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.entries = expirable.NewLRU[Key, *entry](config.Size, func(key Key, _ *entry) {
		metrics.ProviderHealthy.DeleteLabelValues(key.RestaurantID.String(), string(key.Channel))
	}, config.TTL)
	return m
}

func (m *Monitor) get(key Key) *entry {
	e, ok := m.entries.Get(key)
	if !ok {
		e = &entry{}
		m.entries.Add(key, e)
	}
	return e
}

// RecordSuccess registers an accepted send.
func (m *Monitor) RecordSuccess(ctx context.Context, restaurantID uuid.UUID, channel models.Channel) {
	key := Key{RestaurantID: restaurantID, Channel: channel}
	now := m.now()

	m.mu.Lock()
	e := m.get(key)
	e.successes++
	e.consecutive = 0
	e.lastSuccess = &now
	recovered := e.burst
	e.burst = false
	e.recent = nil
	m.mu.Unlock()

	metrics.ProviderHealthy.WithLabelValues(restaurantID.String(), string(channel)).Set(1)
	if recovered {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"restaurant_id": restaurantID,
			"channel":       channel,
		}).Info("provider channel recovered")
	}
}

// RecordFailure registers a rejected or failed send and reports whether the
// channel is now in an error burst.
func (m *Monitor) RecordFailure(ctx context.Context, restaurantID uuid.UUID, channel models.Channel, reason string) bool {
	key := Key{RestaurantID: restaurantID, Channel: channel}
	now := m.now()

	m.mu.Lock()
	e := m.get(key)
	e.failures++
	e.consecutive++
	e.lastError = reason
	e.lastFailure = &now
	e.recent = append(prune(e.recent, now.Add(-m.config.BurstWindow)), now)
	started := !e.burst && len(e.recent) >= m.config.BurstThreshold
	if started {
		e.burst = true
	}
	burst := e.burst
	recent := len(e.recent)
	m.mu.Unlock()

	if burst {
		metrics.ProviderHealthy.WithLabelValues(restaurantID.String(), string(channel)).Set(0)
	}
	if started {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"restaurant_id":   restaurantID,
			"channel":         channel,
			"recent_failures": recent,
			"window":          m.config.BurstWindow.String(),
		}).Warnf("provider error burst detected: %s", reason)
	}
	return burst
}

// Healthy reports whether the channel is outside an error burst. Unknown
// channels are healthy.
func (m *Monitor) Healthy(restaurantID uuid.UUID, channel models.Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries.Peek(Key{RestaurantID: restaurantID, Channel: channel})
	return !ok || !e.burst
}

// Snapshot returns every tracked channel, ordered by restaurant then channel.
func (m *Monitor) Snapshot() []ChannelHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.entries.Keys()
	out := make([]ChannelHealth, 0, len(keys))
	for _, key := range keys {
		e, ok := m.entries.Peek(key)
		if !ok {
			continue
		}
		out = append(out, ChannelHealth{
			RestaurantID:        key.RestaurantID,
			Channel:             key.Channel,
			Healthy:             !e.burst,
			Burst:               e.burst,
			Successes:           e.successes,
			Failures:            e.failures,
			ConsecutiveFailures: e.consecutive,
			RecentFailures:      len(e.recent),
			LastError:           e.lastError,
			LastSuccessAt:       e.lastSuccess,
			LastFailureAt:       e.lastFailure,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RestaurantID != out[j].RestaurantID {
			return out[i].RestaurantID.String() < out[j].RestaurantID.String()
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// Sweep drops failures older than the burst window and clears bursts whose
// failures have all aged out.
func (m *Monitor) Sweep(ctx context.Context) int {
	now := m.now()
	cutoff := now.Add(-m.config.BurstWindow)
	cleared := 0

	m.mu.Lock()
	var recovered []Key
	for _, key := range m.entries.Keys() {
		e, ok := m.entries.Peek(key)
		if !ok {
			continue
		}
		e.recent = prune(e.recent, cutoff)
		if e.burst && len(e.recent) < m.config.BurstThreshold {
			e.burst = false
			recovered = append(recovered, key)
		}
	}
	m.mu.Unlock()

	for _, key := range recovered {
		metrics.ProviderHealthy.WithLabelValues(key.RestaurantID.String(), string(key.Channel)).Set(1)
		m.logger.WithContext(ctx).Debugf("provider burst window elapsed: restaurant=%s channel=%s", key.RestaurantID, key.Channel)
		cleared++
	}
	return cleared
}

// Purge forgets all tracked channels.
func (m *Monitor) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Purge()
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Start runs the sweep loop until Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return ErrMonitorAlreadyRunning
	}
	m.running = true
	m.runMu.Unlock()

	m.logger.WithContext(ctx).Infof("Starting provider monitor: sweep_interval=%s burst_window=%s burst_threshold=%d",
		m.config.SweepInterval, m.config.BurstWindow, m.config.BurstThreshold)

	go m.sweepLoop(ctx)
	return nil
}

// Stop stops the sweep loop and waits for it to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	m.runMu.Unlock()

	close(m.stopCh)

	select {
	case <-m.stoppedC:
		m.logger.WithContext(ctx).Info("Provider monitor stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Monitor) IsRunning() bool {
	m.runMu.RLock()
	defer m.runMu.RUnlock()
	return m.running
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	defer close(m.stoppedC)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
