// Package local is the filesystem storage backend: it hosts both the disk
// admission controller (below) and the fragment writer (writer.go).
package local

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// AdmissionCode classifies why CheckBeforeWrite refused a fragment.
type AdmissionCode int

const (
	// CodeInsufficientSpace means the estimated write would not fit in the
	// remaining free space on the fragment root's filesystem.
	CodeInsufficientSpace AdmissionCode = iota + 1
	// CodeThrottled means usage has crossed ThrottleThreshold; writes are
	// rejected so in-flight fragments can finish before usage climbs
	// further, but the volume is not yet considered full.
	CodeThrottled
	// CodeCircuitBroken means usage has crossed CircuitBreakerThreshold;
	// every write is refused until a refresh observes usage back below it.
	CodeCircuitBroken
)

// DiskSpaceError reports why a fragment write was refused admission, with
// enough of the observed filesystem state attached for the caller to decide
// whether to retry, shed load elsewhere, or page someone.
type DiskSpaceError struct {
	Code           AdmissionCode
	Path           string
	UsagePercent   float64
	AvailableBytes uint64
	Throttled      bool
	CircuitBroken  bool
}

func (e *DiskSpaceError) Error() string {
	switch e.Code {
	case CodeCircuitBroken:
		return fmt.Sprintf("disk admission: circuit broken on %s: %.2f%% used", e.Path, e.UsagePercent)
	case CodeThrottled:
		return fmt.Sprintf("disk admission: throttled on %s: %.2f%% used", e.Path, e.UsagePercent)
	default:
		return fmt.Sprintf("disk admission: insufficient space on %s: %d bytes available", e.Path, e.AvailableBytes)
	}
}

// IsDiskSpaceError reports whether err is, or wraps, a *DiskSpaceError.
func IsDiskSpaceError(err error) bool {
	_, ok := asDiskSpaceError(err)
	return ok
}

// IsCircuitBroken reports whether err is, or wraps, a *DiskSpaceError whose
// Code is CodeCircuitBroken.
func IsCircuitBroken(err error) bool {
	dse, ok := asDiskSpaceError(err)
	return ok && dse.Code == CodeCircuitBroken
}

// asDiskSpaceError unwraps err looking for a *DiskSpaceError. Callers such
// as Backend.CheckAdmission wrap it in an internal/errors.WriterError
// before returning it, so this walks Unwrap() rather than asserting
// directly.
func asDiskSpaceError(err error) (*DiskSpaceError, bool) {
	for err != nil {
		if dse, ok := err.(*DiskSpaceError); ok {
			return dse, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// DiskManagerConfig configures admission checks for one fragment root.
// WarningThreshold only affects logging; ThrottleThreshold and
// CircuitBreakerThreshold are the two levels CheckBeforeWrite enforces.
type DiskManagerConfig struct {
	DataDir                 string
	CheckInterval           time.Duration
	WarningThreshold        float64
	ThrottleThreshold       float64
	CircuitBreakerThreshold float64
}

func DefaultConfig(dataDir string) *DiskManagerConfig {
	return &DiskManagerConfig{
		DataDir:                 dataDir,
		CheckInterval:           5 * time.Second,
		WarningThreshold:        75.0,
		ThrottleThreshold:       90.0,
		CircuitBreakerThreshold: 97.0,
	}
}

// usageSample is one point-in-time reading of the fragment root's
// filesystem, cached between refreshes so CheckBeforeWrite's hot path never
// blocks on a syscall.
type usageSample struct {
	at             time.Time
	usagePercent   float64
	availableBytes uint64
	throttled      bool
	circuitBroken  bool
}

// DiskManager gates fragment writes on the free space of the filesystem
// backing one storage root, so a volume filling up degrades as rejected
// writes rather than as silent ENOSPC failures mid-commit.
type DiskManager struct {
	cfg    DiskManagerConfig
	logger *zap.Logger

	mu     sync.RWMutex
	sample usageSample
}

// NewDiskManager takes an initial reading of cfg.DataDir's filesystem before
// returning, so the first CheckBeforeWrite call never sees a zero-value
// sample.
func NewDiskManager(cfg *DiskManagerConfig, logger *zap.Logger) (*DiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	dm := &DiskManager{cfg: *cfg, logger: logger}
	if err := dm.refresh(); err != nil {
		return nil, fmt.Errorf("disk admission: initial statfs on %s failed: %w", cfg.DataDir, err)
	}
	return dm, nil
}

// refresh takes a fresh statfs(2) reading and updates the cached sample,
// logging any threshold crossing.
func (dm *DiskManager) refresh() error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dm.cfg.DataDir, &st); err != nil {
		return err
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	var usagePercent float64
	if total > 0 {
		usagePercent = (float64(total-free) / float64(total)) * 100.0
	}

	next := usageSample{
		at:             time.Now(),
		usagePercent:   usagePercent,
		availableBytes: free,
		throttled:      usagePercent >= dm.cfg.ThrottleThreshold,
		circuitBroken:  usagePercent >= dm.cfg.CircuitBreakerThreshold,
	}

	dm.mu.Lock()
	prev := dm.sample
	dm.sample = next
	dm.mu.Unlock()

	dm.logTransition(prev, next)
	return nil
}

func (dm *DiskManager) logTransition(prev, next usageSample) {
	if next.circuitBroken && !prev.circuitBroken {
		dm.logger.Error("disk admission circuit broken",
			zap.String("path", dm.cfg.DataDir),
			zap.Float64("usage_percent", next.usagePercent))
		return
	}
	if next.throttled && !prev.throttled {
		dm.logger.Warn("disk admission throttled",
			zap.String("path", dm.cfg.DataDir),
			zap.Float64("usage_percent", next.usagePercent))
		return
	}
	if !next.throttled && !next.circuitBroken && next.usagePercent >= dm.cfg.WarningThreshold {
		dm.logger.Info("disk usage above warning threshold",
			zap.String("path", dm.cfg.DataDir),
			zap.Float64("usage_percent", next.usagePercent))
	}
}

// current returns the cached sample, refreshing it first if it is older
// than CheckInterval.
func (dm *DiskManager) current() usageSample {
	dm.mu.RLock()
	sample := dm.sample
	stale := time.Since(sample.at) >= dm.cfg.CheckInterval
	dm.mu.RUnlock()

	if stale {
		if err := dm.refresh(); err == nil {
			dm.mu.RLock()
			sample = dm.sample
			dm.mu.RUnlock()
		}
	}
	return sample
}

// CheckBeforeWrite admits or refuses a write estimated to need
// estimatedBytes of fragment storage. A circuit-broken or throttled volume
// refuses every write regardless of size; otherwise the write is refused
// only if it would not fit in the sampled available space.
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	sample := dm.current()

	switch {
	case sample.circuitBroken:
		return &DiskSpaceError{
			Code:           CodeCircuitBroken,
			Path:           dm.cfg.DataDir,
			UsagePercent:   sample.usagePercent,
			AvailableBytes: sample.availableBytes,
			Throttled:      sample.throttled,
			CircuitBroken:  true,
		}
	case sample.throttled:
		return &DiskSpaceError{
			Code:           CodeThrottled,
			Path:           dm.cfg.DataDir,
			UsagePercent:   sample.usagePercent,
			AvailableBytes: sample.availableBytes,
			Throttled:      true,
		}
	case estimatedBytes > sample.availableBytes:
		return &DiskSpaceError{
			Code:           CodeInsufficientSpace,
			Path:           dm.cfg.DataDir,
			UsagePercent:   sample.usagePercent,
			AvailableBytes: sample.availableBytes,
		}
	default:
		return nil
	}
}

// Usage reports the most recently sampled filesystem state.
func (dm *DiskManager) Usage() (usagePercent float64, availableBytes uint64, throttled, circuitBroken bool) {
	sample := dm.current()
	return sample.usagePercent, sample.availableBytes, sample.throttled, sample.circuitBroken
}

// Refresh forces an immediate re-sample of the fragment root's filesystem,
// bypassing CheckInterval.
func (dm *DiskManager) Refresh() error {
	return dm.refresh()
}
