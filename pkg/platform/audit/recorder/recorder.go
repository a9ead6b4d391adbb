// Package recorder persists audit entries without ever failing the operation
// that produced them.
//
// RecordSync writes on the calling goroutine. RecordAsync hands the entry to
// a fixed pool of workers through a bounded queue; when the queue is full the
// caller writes the entry itself, so a burst slows callers down instead of
// losing entries. Close stops intake and drains the queue.
package recorder

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	dErrors "procflow/pkg/domain-errors"
	audit "procflow/pkg/platform/audit"
	"procflow/pkg/requestcontext"
)

const (
	defaultWorkers   = 4
	maxWorkers       = 16
	defaultQueueSize = 100
	// writeTimeout bounds one sink write; it is detached from the caller's
	// cancellation so a finished request still gets its entry.
	writeTimeout = 5 * time.Second
	// maxStatsRange bounds Stats to roughly a year of daily buckets.
	maxStatsRange = 366 * 24 * time.Hour
	// fallbackScanLimit bounds in-memory analytics over sinks without native support.
	fallbackScanLimit = 10000
)

type job struct {
	ctx   context.Context
	entry audit.Entry
}

type Recorder struct {
	sink       audit.Sink
	logger     *slog.Logger
	metrics    *Metrics
	serverName string
	workers    int
	queueSize  int
	now        func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job
	group  *errgroup.Group
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithWorkers sets the async pool size, clamped to [1, 16].
func WithWorkers(n int) Option {
	return func(r *Recorder) {
		r.workers = min(max(n, 1), maxWorkers)
	}
}

func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithServerName stamps entries that do not name a server.
func WithServerName(name string) Option {
	return func(r *Recorder) {
		r.serverName = name
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// New starts the worker pool.
func New(sink audit.Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:      sink,
		logger:    slog.Default(),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = make(chan job, r.queueSize)
	r.group = &errgroup.Group{}
	for range r.workers {
		r.group.Go(r.work)
	}
	return r
}

func (r *Recorder) work() error {
	for j := range r.queue {
		if r.metrics != nil {
			r.metrics.QueueDepth.Set(float64(len(r.queue)))
		}
		r.write(j.ctx, j.entry, "async")
	}
	return nil
}

// RecordSync persists entry before returning. Failures are logged, never returned.
func (r *Recorder) RecordSync(ctx context.Context, entry audit.Entry) {
	r.write(ctx, r.stamp(entry), "sync")
}

// RecordAsync queues entry for the worker pool.
func (r *Recorder) RecordAsync(ctx context.Context, entry audit.Entry) {
	entry = r.stamp(entry)
	detached := context.WithoutCancel(ctx)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.write(detached, entry, "sync")
		return
	}
	select {
	case r.queue <- job{ctx: detached, entry: entry}:
		r.mu.RUnlock()
		if r.metrics != nil {
			r.metrics.QueueDepth.Set(float64(len(r.queue)))
		}
	default:
		r.mu.RUnlock()
		if r.metrics != nil {
			r.metrics.CallerRuns.Inc()
		}
		r.logger.DebugContext(ctx, "audit queue full, writing on caller", "operation", entry.OperationName)
		r.write(detached, entry, "caller")
	}
}

func (r *Recorder) stamp(entry audit.Entry) audit.Entry {
	if entry.StartTime.IsZero() {
		entry.StartTime = r.now()
	}
	if entry.ServerName == "" {
		entry.ServerName = r.serverName
	}
	if entry.ClientDevice == "" {
		entry.ClientDevice = audit.DescribeDevice(entry.UserAgent)
	}
	entry.Normalize()
	return entry
}

func (r *Recorder) write(ctx context.Context, entry audit.Entry, mode string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	start := time.Now()
	err := r.sink.Append(ctx, entry)
	if r.metrics != nil {
		r.metrics.observeWrite(mode, time.Since(start).Seconds(), err != nil)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to persist audit entry",
			"error", err,
			"audit_id", entry.ID.String(),
			"operation", entry.OperationName,
			"actor_id", entry.ActorID,
			"mode", mode,
		)
	}
}

// Close stops accepting queued work and waits for the queue to drain.
// Entries recorded after Close are written synchronously.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "audit queue did not drain")
	}
}

// Query returns entries matching filter, newest first.
func (r *Recorder) Query(ctx context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		return audit.PageResult{}, dErrors.New(dErrors.CodeValidation, "end time must not be before start time")
	}
	res, err := r.sink.Query(ctx, filter, page.Normalize())
	if err != nil {
		return audit.PageResult{}, dErrors.Wrap(err, dErrors.CodePersistence, "failed to query audit log")
	}
	return res, nil
}

// Stats aggregates entries by operation type, risk level and day over the
// inclusive date range.
func (r *Recorder) Stats(ctx context.Context, startDate, endDate time.Time) (audit.Stats, error) {
	startDate, endDate = audit.DateOf(startDate), audit.DateOf(endDate)
	if endDate.Before(startDate) {
		return audit.Stats{}, dErrors.New(dErrors.CodeValidation, "end date must not be before start date")
	}
	if endDate.Sub(startDate) > maxStatsRange {
		return audit.Stats{}, dErrors.New(dErrors.CodeValidation, "stats range must not exceed 366 days")
	}

	stats := audit.Stats{StartDate: startDate, EndDate: endDate}
	dims := []struct {
		by  audit.GroupBy
		dst *[]audit.Count
	}{
		{audit.GroupByOperationType, &stats.ByOperationType},
		{audit.GroupByRiskLevel, &stats.ByRiskLevel},
		{audit.GroupByDate, &stats.ByDate},
	}
	for _, d := range dims {
		counts, err := r.sink.Aggregate(ctx, d.by, startDate, endDate)
		if err != nil {
			return audit.Stats{}, dErrors.Wrap(err, dErrors.CodePersistence, "failed to aggregate audit log")
		}
		*d.dst = counts
	}
	return stats, nil
}

// Purge deletes entries whose operation date is before the cutoff. The
// caller must hold the admin role. The purge itself is recorded.
func (r *Recorder) Purge(ctx context.Context, ac audit.Context, before time.Time) (int64, error) {
	if !ac.HasRole(requestcontext.RoleAdmin) {
		return 0, dErrors.New(dErrors.CodeForbidden, "audit purge requires the admin role")
	}
	if before.IsZero() {
		return 0, dErrors.New(dErrors.CodeValidation, "purge cutoff is required")
	}
	cutoff := audit.DateOf(before)

	start := r.now()
	n, err := r.sink.DeleteBefore(ctx, cutoff)

	entry := audit.Entry{
		OperationType: audit.OpPurge,
		OperationName: "Purge audit log",
		OperationDesc: "delete entries with operation date before " + cutoff.Format(time.DateOnly),
		Module:        audit.ModuleAudit,
		TargetType:    "AUDIT_LOG",
		ActorID:       ac.ActorID,
		ActorName:     ac.ActorName,
		IPAddress:     ac.IPAddress,
		UserAgent:     ac.UserAgent,
		TraceID:       ac.TraceID,
		StartTime:     start,
		EndTime:       r.now(),
		Status:        audit.StatusSuccess,
		RiskLevel:     audit.RiskCritical,
	}
	if err != nil {
		entry.Status = audit.StatusFailed
		entry.ErrorMessage = err.Error()
	}
	r.RecordSync(ctx, entry)

	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "failed to purge audit log")
	}
	if r.metrics != nil {
		r.metrics.Purged.Add(float64(n))
	}
	r.logger.InfoContext(ctx, "audit log purged", "cutoff", cutoff.Format(time.DateOnly), "deleted", n, "actor_id", ac.ActorID)
	return n, nil
}

func (r *Recorder) analytics() (audit.AnalyticsSink, bool) {
	if a, ok := r.sink.(audit.AnalyticsSink); ok {
		return a, true
	}
	if p, ok := r.sink.(interface {
		Analytics() (audit.AnalyticsSink, bool)
	}); ok {
		return p.Analytics()
	}
	return nil, false
}

// Abnormal lists recent failed, high-risk or slow entries, newest first.
func (r *Recorder) Abnormal(ctx context.Context, since time.Time, slow time.Duration, limit int) ([]audit.Entry, error) {
	limit = audit.Page{Size: limit}.Normalize().Size
	if a, ok := r.analytics(); ok {
		entries, err := a.Abnormal(ctx, since, slow.Milliseconds(), limit)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to query abnormal audit entries")
		}
		return entries, nil
	}

	var out []audit.Entry
	err := r.scan(ctx, audit.Filter{StartTime: since}, func(e audit.Entry) bool {
		if audit.IsAbnormal(e, slow.Milliseconds()) {
			out = append(out, e)
		}
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActorStats ranks actors by activity over the inclusive date range.
func (r *Recorder) ActorStats(ctx context.Context, startDate, endDate time.Time, limit int) ([]audit.ActorStat, error) {
	limit = audit.Page{Size: limit}.Normalize().Size
	if a, ok := r.analytics(); ok {
		stats, err := a.ActorStats(ctx, startDate, endDate, limit)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to query actor stats")
		}
		return stats, nil
	}

	byActor := make(map[string]*audit.ActorStat)
	var order []string
	filter := audit.Filter{StartTime: audit.DateOf(startDate), EndTime: audit.DateOf(endDate).Add(24*time.Hour - time.Nanosecond)}
	err := r.scan(ctx, filter, func(e audit.Entry) bool {
		if e.ActorID == "" {
			return true
		}
		st, ok := byActor[e.ActorID]
		if !ok {
			st = &audit.ActorStat{ActorID: e.ActorID, ActorName: e.ActorName, LastSeenAt: e.StartTime}
			byActor[e.ActorID] = st
			order = append(order, e.ActorID)
		}
		st.Total++
		if e.Status == audit.StatusFailed {
			st.Failed++
		}
		if e.RiskLevel == audit.RiskHigh || e.RiskLevel == audit.RiskCritical {
			st.HighRisk++
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]audit.ActorStat, 0, len(order))
	for _, actorID := range order {
		out = append(out, *byActor[actorID])
	}
	slices.SortStableFunc(out, func(a, b audit.ActorStat) int { return cmp.Compare(b.Total, a.Total) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scan walks matching entries page by page until visit returns false.
func (r *Recorder) scan(ctx context.Context, filter audit.Filter, visit func(audit.Entry) bool) error {
	page := audit.Page{Number: 1, Size: audit.MaxPageSize}
	seen := 0
	for seen < fallbackScanLimit {
		res, err := r.sink.Query(ctx, filter, page)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to scan audit log")
		}
		for _, e := range res.Entries {
			if !visit(e) {
				return nil
			}
		}
		seen += len(res.Entries)
		if len(res.Entries) < page.Size {
			return nil
		}
		page.Number++
	}
	return nil
}

// RecordLogin records an authentication attempt.
func (r *Recorder) RecordLogin(ctx context.Context, ac audit.Context, loginErr error) {
	entry := r.identityEntry(ac, audit.OpLogin, "User login")
	if loginErr != nil {
		entry.Status = audit.StatusFailed
		entry.ErrorMessage = loginErr.Error()
		entry.RiskLevel = audit.RiskMedium
	}
	r.RecordAsync(ctx, entry)
}

func (r *Recorder) identityEntry(ac audit.Context, op audit.OperationType, name string) audit.Entry {
	now := r.now()
	e := audit.Entry{
		OperationType: op,
		OperationName: name,
		Module:        audit.ModuleAuth,
		TargetType:    "USER",
		TargetID:      ac.ActorID,
		TargetName:    ac.ActorName,
		ActorID:       ac.ActorID,
		ActorName:     ac.ActorName,
		IPAddress:     ac.IPAddress,
		UserAgent:     ac.UserAgent,
		TraceID:       ac.TraceID,
		StartTime:     now,
		EndTime:       now,
		Status:        audit.StatusSuccess,
		RiskLevel:     audit.RiskLow,
	}
	if ac.Request != nil {
		e.RequestMethod = ac.Request.Method
		e.RequestPath = ac.Request.Path
	}
	return e
}
