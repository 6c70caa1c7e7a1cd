package api

import (
	"context"
	"time"
)

// ComponentStatus represents the health status of a component
type ComponentStatus string

const (
	StatusOK          ComponentStatus = "ok"
	StatusError       ComponentStatus = "error"
	StatusUnavailable ComponentStatus = "unavailable"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status ComponentStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

type HealthCheckResult struct {
	Status     HealthStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Pinger is satisfied by the storage layer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyReporter is satisfied by the collector.
type ReadyReporter interface {
	Ready() bool
}

// HealthChecker reports liveness and readiness of the monitor.
type HealthChecker struct {
	db        Pinger
	hub       *Hub
	collector ReadyReporter
}

func NewHealthChecker(db Pinger, hub *Hub, collector ReadyReporter) *HealthChecker {
	return &HealthChecker{db: db, hub: hub, collector: collector}
}

// CheckLiveness always reports healthy while the process serves requests.
func (hc *HealthChecker) CheckLiveness(ctx context.Context) HealthCheckResult {
	return HealthCheckResult{
		Status:     HealthHealthy,
		Components: map[string]ComponentHealth{},
		Timestamp:  time.Now().UTC(),
	}
}

// CheckReadiness checks the database, the event hub and whether the first
// directory update has run.
func (hc *HealthChecker) CheckReadiness(ctx context.Context) HealthCheckResult {
	components := map[string]ComponentHealth{
		"database":  hc.checkDatabase(ctx),
		"event_hub": hc.checkHub(),
		"collector": hc.checkCollector(),
	}

	overall := HealthHealthy
	for _, comp := range components {
		if comp.Status == StatusError {
			overall = HealthUnhealthy
			break
		}
		if comp.Status == StatusUnavailable {
			overall = HealthDegraded
		}
	}

	return HealthCheckResult{
		Status:     overall,
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentHealth {
	if hc.db == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "database not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := hc.db.Ping(ctx); err != nil {
		return ComponentHealth{Status: StatusError, Error: err.Error()}
	}
	return ComponentHealth{Status: StatusOK}
}

func (hc *HealthChecker) checkHub() ComponentHealth {
	if hc.hub == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "event hub not configured"}
	}
	return ComponentHealth{Status: StatusOK}
}

func (hc *HealthChecker) checkCollector() ComponentHealth {
	if hc.collector == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "collector not configured"}
	}
	if !hc.collector.Ready() {
		return ComponentHealth{Status: StatusUnavailable, Error: "first node list update pending"}
	}
	return ComponentHealth{Status: StatusOK}
}
