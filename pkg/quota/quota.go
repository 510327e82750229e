// Package quota tracks how full the archive bucket is against a configured
// byte budget.
//
// Object storage has no cheap "bucket size" call, so the calculator walks the
// listing, caches the result, and falls back to the last good measurement when
// a refresh fails.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/metrics"
)

// ErrUnknown means no measurement has ever succeeded.
var ErrUnknown = errors.New("bucket usage unknown")

// Sizer reports total stored bytes under a prefix. *blob.Client satisfies it.
type Sizer interface {
	TotalSize(ctx context.Context, prefix string) (int64, error)
}

// Config tunes the calculator.
type Config struct {
	// MaxBytes is the bucket budget. Zero disables quota enforcement;
	// UsedRatio then always reports 0.
	MaxBytes int64

	// Prefix limits the measurement to one key prefix.
	Prefix string

	// CacheTTL is how long a measurement stays fresh. Default 5 minutes.
	CacheTTL time.Duration

	// AlertThreshold is the ratio at which Check starts reporting alerts.
	// Default 0.8.
	AlertThreshold float64

	// AlertCooldown is the minimum spacing between alerts. Default 1 hour.
	AlertCooldown time.Duration
}

// Calculator measures and caches bucket usage.
type Calculator struct {
	sizer   Sizer
	cfg     Config
	metrics *metrics.IngestMetrics

	mu           sync.Mutex
	lastRatio    float64
	lastUsed     int64
	measuredAt   time.Time
	everMeasured bool
	lastAlertAt  time.Time
}

// New creates a Calculator. metrics may be nil.
func New(sizer Sizer, cfg Config, m *metrics.IngestMetrics) *Calculator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 0.8
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = time.Hour
	}
	return &Calculator{sizer: sizer, cfg: cfg, metrics: m}
}

// Usage is one quota measurement.
type Usage struct {
	UsedBytes int64
	MaxBytes  int64
	Ratio     float64
	Stale     bool // true when a refresh failed and this is the last good value
}

// UsedRatio returns the current usage. Fresh cached values are returned
// without touching storage. When a refresh fails, the previous measurement is
// reused and marked stale; if nothing was ever measured, ErrUnknown.
func (c *Calculator) UsedRatio(ctx context.Context) (Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.MaxBytes <= 0 {
		return Usage{MaxBytes: 0, Ratio: 0}, nil
	}

	if c.everMeasured && time.Since(c.measuredAt) < c.cfg.CacheTTL {
		return c.usageLocked(false), nil
	}

	used, err := c.sizer.TotalSize(ctx, c.cfg.Prefix)
	if err != nil {
		logger.Warn("Quota refresh failed", "error", err)
		if !c.everMeasured {
			return Usage{}, ErrUnknown
		}
		return c.usageLocked(true), nil
	}

	c.lastUsed = used
	c.lastRatio = float64(used) / float64(c.cfg.MaxBytes)
	c.measuredAt = time.Now()
	c.everMeasured = true
	c.metrics.SetBucketUsedRatio(c.lastRatio)

	return c.usageLocked(false), nil
}

func (c *Calculator) usageLocked(stale bool) Usage {
	return Usage{
		UsedBytes: c.lastUsed,
		MaxBytes:  c.cfg.MaxBytes,
		Ratio:     c.lastRatio,
		Stale:     stale,
	}
}

// Full reports whether ingestion must pause. Unknown usage never pauses.
func (c *Calculator) Full(ctx context.Context) bool {
	u, err := c.UsedRatio(ctx)
	if err != nil {
		return false
	}
	return u.MaxBytes > 0 && u.Ratio >= 1.0
}

// CheckAlert returns a non-zero ratio when usage crossed the alert threshold
// and the cooldown has elapsed since the previous alert.
func (c *Calculator) CheckAlert(ctx context.Context) (float64, bool) {
	u, err := c.UsedRatio(ctx)
	if err != nil || u.MaxBytes <= 0 || u.Ratio < c.cfg.AlertThreshold {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastAlertAt) < c.cfg.AlertCooldown {
		return 0, false
	}
	c.lastAlertAt = time.Now()
	return u.Ratio, true
}

// Invalidate drops the cache freshness so the next UsedRatio refreshes. The
// last measurement stays available as a failure fallback.
func (c *Calculator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.measuredAt = time.Time{}
}
