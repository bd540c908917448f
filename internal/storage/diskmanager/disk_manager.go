package diskmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/health"
	"go.uber.org/zap"
)

// StatFunc reports used and available bytes of the filesystem holding dir
type StatFunc func(dir string) (used, available int64, err error)

// DiskManager watches the data directory's filesystem and refuses writes
// that would fill it. Usage is sampled at most once per check interval.
type DiskManager struct {
	dataDir string
	cfg     config.DiskConfig
	stat    StatFunc
	logger  *zap.Logger

	mu             sync.Mutex
	lastCheck      time.Time
	usagePercent   float64
	availableBytes int64
	throttled      bool
	circuitBroken  bool
}

// NewDiskManager samples the filesystem once; a failed first sample is
// logged and retried on the next write
func NewDiskManager(dataDir string, cfg config.DiskConfig, logger *zap.Logger) (*DiskManager, error) {
	return newDiskManager(dataDir, cfg, health.DiskStats, logger)
}

func newDiskManager(dataDir string, cfg config.DiskConfig, stat StatFunc, logger *zap.Logger) (*DiskManager, error) {
	if dataDir == "" {
		return nil, errors.InvalidArgument("disk manager needs a data directory", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dm := &DiskManager{dataDir: dataDir, cfg: cfg, stat: stat, logger: logger}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.sample(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}
	return dm, nil
}

// CheckBeforeWrite fails with Unavailable when a write of estimatedBytes
// should not proceed. While throttled only writes below a tenth of the
// free space are let through.
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes int64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.cfg.CheckInterval {
		if err := dm.sample(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	switch {
	case dm.circuitBroken:
		return dm.refuse(fmt.Sprintf("disk usage at %.2f%%, circuit breaker engaged", dm.usagePercent))
	case dm.throttled && estimatedBytes > dm.availableBytes/10:
		return dm.refuse(fmt.Sprintf("disk usage at %.2f%%, write of %d bytes throttled", dm.usagePercent, estimatedBytes))
	case estimatedBytes > dm.availableBytes:
		return dm.refuse(fmt.Sprintf("insufficient space: need %d bytes, have %d bytes", estimatedBytes, dm.availableBytes))
	}
	return nil
}

func (dm *DiskManager) refuse(msg string) error {
	return errors.Unavailable(msg, nil).
		WithDetail("usage_percent", dm.usagePercent).
		WithDetail("available_bytes", dm.availableBytes).
		WithDetail("circuit_broken", dm.circuitBroken)
}

// sample refreshes the cached usage; callers hold mu
func (dm *DiskManager) sample() error {
	used, available, err := dm.stat(dm.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}
	usage := 0.0
	if total := used + available; total > 0 {
		usage = float64(used) / float64(total) * 100
	}
	dm.usagePercent = usage
	dm.availableBytes = available
	dm.lastCheck = time.Now()

	wasBroken, wasThrottled := dm.circuitBroken, dm.throttled
	dm.circuitBroken = usage >= dm.cfg.CircuitPercent
	dm.throttled = usage >= dm.cfg.ThrottlePercent && !dm.circuitBroken

	fields := []zap.Field{
		zap.String("data_dir", dm.dataDir),
		zap.Float64("usage_percent", usage),
		zap.Int64("available_bytes", available),
	}
	switch {
	case dm.circuitBroken && !wasBroken:
		dm.logger.Error("Disk circuit breaker engaged", fields...)
	case !dm.circuitBroken && wasBroken:
		dm.logger.Info("Disk circuit breaker disengaged", fields...)
	}
	switch {
	case dm.throttled && !wasThrottled:
		dm.logger.Warn("Disk write throttling enabled", fields...)
	case !dm.throttled && wasThrottled:
		dm.logger.Info("Disk write throttling disabled", fields...)
	}
	if usage >= dm.cfg.WarningPercent && !dm.throttled && !dm.circuitBroken {
		dm.logger.Warn("Disk usage warning", fields...)
	}
	return nil
}

// DiskUsageStats contains disk usage statistics
type DiskUsageStats struct {
	UsagePercent    float64
	AvailableBytes  int64
	IsThrottled     bool
	IsCircuitBroken bool
	LastCheck       time.Time
}

// GetDiskUsage returns the cached statistics
func (dm *DiskManager) GetDiskUsage() DiskUsageStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return DiskUsageStats{
		UsagePercent:    dm.usagePercent,
		AvailableBytes:  dm.availableBytes,
		IsThrottled:     dm.throttled,
		IsCircuitBroken: dm.circuitBroken,
		LastCheck:       dm.lastCheck,
	}
}

// ForceCheck samples the filesystem now
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.sample()
}
