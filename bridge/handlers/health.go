package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vautr-io/vautr/vault"
)

const (
	healthCheckPeriod  = 10 * time.Second
	healthCheckTimeout = 5 * time.Second
)

// HealthStatus is the liveness probe body.
type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    string            `json:"timestamp"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
}

// HealthChecker probes the NEAR RPC in the background and caches the
// verdict so probes never block on the network.
type HealthChecker struct {
	startTime time.Time
	chain     vault.ChainProvider

	mu         sync.RWMutex
	rpcHealthy bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewHealthChecker starts the background probe loop. A nil chain means
// a lock-only deployment; the service reports ready without it.
func NewHealthChecker(chain vault.ChainProvider) *HealthChecker {
	hc := &HealthChecker{
		startTime: time.Now(),
		chain:     chain,
		stop:      make(chan struct{}),
	}
	go hc.loop()
	return hc
}

// Stop ends the probe loop.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stop) })
}

func (hc *HealthChecker) loop() {
	hc.check()
	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-hc.stop:
			return
		case <-ticker.C:
			hc.check()
		}
	}
}

func (hc *HealthChecker) check() {
	if hc.chain == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	_, _, err := hc.chain.LatestBlock(ctx)

	hc.mu.Lock()
	hc.rpcHealthy = err == nil
	hc.mu.Unlock()
}

// IsReady reports whether signing flows can be served.
func (hc *HealthChecker) IsReady() bool {
	if hc.chain == nil {
		return true
	}
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.rpcHealthy
}

// Status snapshots the current health.
func (hc *HealthChecker) Status() HealthStatus {
	deps := make(map[string]string)
	switch {
	case hc.chain == nil:
		deps["rpc"] = "not_configured"
	case hc.IsReady():
		deps["rpc"] = "healthy"
	default:
		deps["rpc"] = "unhealthy"
	}

	status := "healthy"
	if !hc.IsReady() {
		status = "unhealthy"
	}

	return HealthStatus{
		Status:       status,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Uptime:       time.Since(hc.startTime).String(),
		Dependencies: deps,
	}
}

// HealthCheckHandler is the liveness probe.
func (hc *HealthChecker) HealthCheckHandler(c echo.Context) error {
	status := hc.Status()
	if status.Status == "healthy" {
		return c.JSON(http.StatusOK, status)
	}
	return c.JSON(http.StatusServiceUnavailable, status)
}

// ReadinessHandler is the readiness probe.
func (hc *HealthChecker) ReadinessHandler(c echo.Context) error {
	if !hc.IsReady() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "NEAR RPC unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"ready": "true"})
}
