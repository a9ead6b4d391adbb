package recorder

import (
	"context"
	"log/slog"
	"time"

	audit "procflow/pkg/platform/audit"
	"procflow/pkg/requestcontext"
)

// Retention periodically purges entries older than a fixed number of days.
type Retention struct {
	recorder *Recorder
	days     int
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewRetention(r *Recorder, days int, interval time.Duration, logger *slog.Logger) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{recorder: r, days: days, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once immediately, then every interval until ctx is done.
// A non-positive retention disables sweeping.
func (t *Retention) Run(ctx context.Context) error {
	if t.days <= 0 || t.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		t.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs a single purge pass.
func (t *Retention) Sweep(ctx context.Context) {
	cutoff := audit.DateOf(t.now()).AddDate(0, 0, -t.days)
	ac := audit.System(ctx, "audit-retention", requestcontext.RoleAdmin)
	if _, err := t.recorder.Purge(ctx, ac, cutoff); err != nil {
		t.logger.ErrorContext(ctx, "audit retention sweep failed", "error", err, "cutoff", cutoff)
	}
}
