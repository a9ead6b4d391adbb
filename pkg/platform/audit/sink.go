package audit

import (
	"context"
	"time"
)

// Sink is durable storage for audit entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter, page Page) (PageResult, error)
	// Aggregate counts entries with OperationDate in [start, end] grouped by one dimension.
	Aggregate(ctx context.Context, by GroupBy, start, end time.Time) ([]Count, error)
	// DeleteBefore removes entries whose OperationDate is strictly before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AnalyticsSink is implemented by sinks that can answer the abnormal-activity
// and per-actor questions natively.
type AnalyticsSink interface {
	Abnormal(ctx context.Context, since time.Time, slowMs int64, limit int) ([]Entry, error)
	ActorStats(ctx context.Context, start, end time.Time, limit int) ([]ActorStat, error)
}

// IsAbnormal reports whether an entry failed, was high risk, or ran slower than slowMs.
func IsAbnormal(e Entry, slowMs int64) bool {
	if e.Status == StatusFailed {
		return true
	}
	if e.RiskLevel == RiskHigh || e.RiskLevel == RiskCritical {
		return true
	}
	return slowMs > 0 && e.DurationMs > slowMs
}
