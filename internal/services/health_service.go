package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"keywarden/internal/store"
	"keywarden/pkg/contracts"
)

// storePingTimeout caps how long a readiness probe waits for the backend.
const storePingTimeout = 2 * time.Second

// ClientCounter reports how many subscribers the event stream has.
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	store     store.Store
	hub       ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	LicenseCount  int     `json:"license_count"`
	EventClients  int     `json:"event_clients"`
	Goroutines    int     `json:"goroutines"`
	GoVersion     string  `json:"go_version"`
	OS            string  `json:"os"`
	Arch          string  `json:"arch"`
}

// NewHealthService creates a new health service with injected dependencies
func NewHealthService(st store.Store, hub ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:     st,
		hub:       hub,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   contracts.Version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Services:  make(map[string]interface{}),
	}

	status.Services["store"] = hs.checkStoreHealth(ctx)
	status.Services["events"] = hs.checkEventStreamHealth()

	for _, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			break
		}
	}

	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns build and runtime version information
func (hs *HealthService) Version() map[string]interface{} {
	info := contracts.GetVersionInfo()
	return map[string]interface{}{
		"version":      info.Version,
		"api_version":  info.APIVersion,
		"build_time":   info.BuildTime,
		"git_commit":   info.GitCommit,
		"go_version":   info.GoVersion,
		"os":           info.OS,
		"arch":         info.Architecture,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
}

// SystemStats returns system statistics
func (hs *HealthService) SystemStats(ctx context.Context) (SystemStats, error) {
	count, err := hs.store.Count(ctx)
	if err != nil {
		return SystemStats{}, fmt.Errorf("count licenses: %w", err)
	}

	clients := 0
	if hs.hub != nil {
		clients = hs.hub.ClientCount()
	}

	return SystemStats{
		UptimeSeconds: time.Since(hs.startTime).Seconds(),
		LicenseCount:  count,
		EventClients:  clients,
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}, nil
}

// checkStoreHealth checks license store health
func (hs *HealthService) checkStoreHealth(ctx context.Context) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()

	if err := hs.store.Ping(ctx); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("store error: %v", err),
		}
	}

	return ServiceHealth{
		Status:  "ready",
		Message: "license store is healthy",
	}
}

// checkEventStreamHealth checks event stream health
func (hs *HealthService) checkEventStreamHealth() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: "event hub not initialized",
		}
	}

	return ServiceHealth{
		Status:  "ready",
		Message: "event stream is healthy",
		Uptime:  time.Since(hs.startTime).String(),
	}
}
