// Package health provides health check endpoints for the lifecycle engine.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gustausantin/La-ia-app-sub001/pkg/monitoring"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const checkTimeout = 5 * time.Second

// CheckResult represents the result of a health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Response represents a health check response
type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// ProvidersResponse lists the state of every monitored provider channel.
type ProvidersResponse struct {
	Status     Status                     `json:"status"`
	Channels   []monitoring.ChannelHealth `json:"channels"`
	ReportedAt time.Time                  `json:"reported_at"`
}

// CheckFunc probes one dependency. A nil error is healthy.
type CheckFunc func(ctx context.Context) error

// ProviderReporter exposes the in-memory provider health.
type ProviderReporter interface {
	Snapshot() []monitoring.ChannelHealth
}

type namedCheck struct {
	name     string
	fn       CheckFunc
	critical bool
}

// Checker provides health check functionality
type Checker struct {
	checks    []namedCheck
	providers ProviderReporter
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		startTime: time.Now(),
		version:   version,
	}
}

// AddCheck registers a dependency probe. A failing critical check makes the
// service unhealthy, a failing optional one only degraded.
func (c *Checker) AddCheck(name string, fn CheckFunc, critical bool) *Checker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, fn: fn, critical: critical})
	return c
}

// SetProviders attaches the provider health monitor.
func (c *Checker) SetProviders(p ProviderReporter) *Checker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = p
	return c
}

// SetReady marks the service as ready to receive traffic
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns whether the service is ready
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LivenessHandler returns the liveness probe handler
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler returns the readiness probe handler
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.HealthHandler(ctx)
}

// HealthHandler returns a detailed health check handler
func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.RunChecks(ctx.Request().Context())
	overallStatus := calculateOverallStatus(checks)

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return ctx.JSON(statusCode, Response{
		Status:     overallStatus,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now(),
	})
}

// ProvidersHandler reports every monitored (restaurant, channel) pair.
func (c *Checker) ProvidersHandler(ctx echo.Context) error {
	channels := c.providerSnapshot()
	return ctx.JSON(http.StatusOK, ProvidersResponse{
		Status:     providerStatus(channels),
		Channels:   channels,
		ReportedAt: time.Now(),
	})
}

// RunChecks runs every registered probe plus the provider summary.
func (c *Checker) RunChecks(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	registered := append([]namedCheck(nil), c.checks...)
	hasProviders := c.providers != nil
	c.mu.RUnlock()

	checks := make(map[string]CheckResult, len(registered)+1)
	for _, check := range registered {
		checks[check.name] = runCheck(ctx, check)
	}

	if hasProviders {
		channels := c.providerSnapshot()
		result := CheckResult{Status: providerStatus(channels)}
		if result.Status != StatusHealthy {
			result.Message = fmt.Sprintf("%d of %d provider channels in an error burst", countBursts(channels), len(channels))
		}
		checks["providers"] = result
	}
	return checks
}

func runCheck(ctx context.Context, check namedCheck) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := check.fn(ctx); err != nil {
		status := StatusDegraded
		if check.critical {
			status = StatusUnhealthy
		}
		return CheckResult{
			Status:  status,
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Latency: time.Since(start).String(),
	}
}

func (c *Checker) providerSnapshot() []monitoring.ChannelHealth {
	c.mu.RLock()
	providers := c.providers
	c.mu.RUnlock()
	if providers == nil {
		return []monitoring.ChannelHealth{}
	}

	return providers.Snapshot()
}

func countBursts(channels []monitoring.ChannelHealth) int {
	n := 0
	for _, ch := range channels {
		if !ch.Healthy {
			n++
		}
	}
	return n
}

// providerStatus is degraded while any channel is in an error burst. A
// provider outage never makes the service itself unhealthy.
func providerStatus(channels []monitoring.ChannelHealth) Status {
	if countBursts(channels) > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// calculateOverallStatus determines the overall health status
func calculateOverallStatus(checks map[string]CheckResult) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// RegisterRoutes registers health check routes under /api/v1
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")

	health.GET("", c.HealthHandler)
	health.GET("/providers", c.ProvidersHandler)

	// Kubernetes-style probes
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
