package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NodeStatus is the overall verdict of the last round of checks
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// Check outcomes. Only critical results take the node out of readiness.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckFunc probes one dependency and returns one of the Status values
// with a human readable message
type CheckFunc func() (status string, message string)

// HealthStatus is a snapshot served on the probe endpoints
type HealthStatus struct {
	NodeID    string        `json:"node_id"`
	Status    NodeStatus    `json:"status"`
	Timestamp int64         `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

// HealthChecker runs the registered checks periodically and keeps the
// latest verdict for the liveness and readiness probes
type HealthChecker struct {
	nodeID      string
	dataDir     string
	interval    time.Duration
	logger      *zap.Logger
	mu          sync.RWMutex
	lastCheck   time.Time
	status      NodeStatus
	probes      map[string]CheckFunc
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID   string
	DataDir  string
	Interval time.Duration
}

// NewHealthChecker creates a checker with the disk space and data
// directory probes registered
func NewHealthChecker(cfg *HealthCheckConfig, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &HealthChecker{
		nodeID:      cfg.NodeID,
		dataDir:     cfg.DataDir,
		interval:    interval,
		logger:      logger,
		probes:      make(map[string]CheckFunc),
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: false,
		status:      NodeStatusHealthy,
	}
	h.Register("disk_space", h.checkDiskSpace)
	h.Register("data_dir_accessible", h.checkDataDirAccessible)
	return h
}

// Register adds or replaces a named probe
func (h *HealthChecker) Register(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = fn
}

// Start runs the checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks()
	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every probe once and updates the verdict
func (h *HealthChecker) RunChecks() {
	h.mu.RLock()
	probes := make(map[string]CheckFunc, len(h.probes))
	for name, fn := range h.probes {
		probes[name] = fn
	}
	h.mu.RUnlock()

	// probes may touch the database, so they run without the lock
	results := make(map[string]CheckResult, len(probes))
	allHealthy, allReady := true, true
	for name, fn := range probes {
		status, msg := fn()
		results[name] = CheckResult{Name: name, Status: status, Message: msg, Timestamp: time.Now()}
		if status != StatusHealthy {
			allHealthy = false
			if status == StatusCritical {
				allReady = false
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCheck = time.Now()
	h.checks = results
	switch {
	case allHealthy:
		h.status = NodeStatusHealthy
	case allReady:
		h.status = NodeStatusDegraded
	default:
		h.status = NodeStatusUnhealthy
	}
	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

func (h *HealthChecker) checkDiskSpace() (string, string) {
	used, available, err := DiskStats(h.dataDir)
	if err != nil {
		return StatusCritical, fmt.Sprintf("Failed to stat filesystem: %v", err)
	}
	usagePercent := float64(used) / float64(used+available) * 100
	switch {
	case usagePercent > 95:
		return StatusCritical, fmt.Sprintf("Disk usage critical: %.2f%%", usagePercent)
	case usagePercent > 90:
		return StatusWarning, fmt.Sprintf("Disk usage high: %.2f%%", usagePercent)
	}
	return StatusHealthy, fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB", usagePercent, float64(available)/1024/1024/1024)
}

func (h *HealthChecker) checkDataDirAccessible() (string, string) {
	info, err := os.Stat(h.dataDir)
	if err != nil {
		return StatusCritical, fmt.Sprintf("Data directory not accessible: %v", err)
	}
	if !info.IsDir() {
		return StatusCritical, "Data path is not a directory"
	}
	f, err := os.CreateTemp(h.dataDir, ".health_check_*")
	if err != nil {
		return StatusCritical, fmt.Sprintf("Cannot write to data directory: %v", err)
	}
	f.Close()
	os.Remove(filepath.Clean(f.Name()))
	return StatusHealthy, "Data directory is accessible and writable"
}

func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current verdict with the checks sorted by name
func (h *HealthChecker) GetStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checks := make([]CheckResult, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Checks:    checks,
	}
}

// SetReadiness overrides readiness, e.g. while draining on shutdown
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeProbe(w, "healthy", h.IsLive())
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeProbe(w, "ready", h.IsReady())
}

func (h *HealthChecker) writeProbe(w http.ResponseWriter, field string, ok bool) {
	status := h.GetStatus()
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		field:    ok,
		"status": status.Status,
		"checks": status.Checks,
	}); err != nil {
		h.logger.Warn("Failed to write probe response", zap.Error(err))
	}
}
