// Package admin serves the audit log to administrators.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "procflow/pkg/domain-errors"
	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/httputil"
	"procflow/pkg/requestcontext"
)

const (
	defaultAbnormalWindow = 24 * time.Hour
	defaultSlowThreshold  = 3 * time.Second
	defaultListLimit      = 50
	maxListLimit          = audit.MaxPageSize
)

// AuditLog is the query surface of the audit recorder.
type AuditLog interface {
	Query(ctx context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error)
	Stats(ctx context.Context, startDate, endDate time.Time) (audit.Stats, error)
	Purge(ctx context.Context, ac audit.Context, before time.Time) (int64, error)
	Abnormal(ctx context.Context, since time.Time, slow time.Duration, limit int) ([]audit.Entry, error)
	ActorStats(ctx context.Context, startDate, endDate time.Time, limit int) ([]audit.ActorStat, error)
}

type Handler struct {
	log    AuditLog
	logger *slog.Logger
	now    func() time.Time
}

func New(log AuditLog, logger *slog.Logger) *Handler {
	return &Handler{log: log, logger: logger, now: time.Now}
}

// Register mounts the audit endpoints. The caller guards r with the admin
// role.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/logs", h.HandleQuery)
	r.Delete("/audit/logs", h.HandlePurge)
	r.Get("/audit/logs/stats", h.HandleStats)
	r.Get("/audit/logs/abnormal", h.HandleAbnormal)
	r.Get("/audit/logs/actors", h.HandleActorStats)
}

// HandleQuery handles GET /admin/audit/logs.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter, err := parseFilter(q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page := audit.Page{}
	if page.Number, err = boundedIntParam(q, "page", 1, audit.MaxPageNumber); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if page.Size, err = intParam(q, "size", 20); err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.log.Query(ctx, filter, page)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EntriesResponse{
		Entries: toEntriesResponse(res.Entries),
		Total:   res.Total,
		Page:    res.Page.Number,
		Size:    res.Page.Size,
	})
}

// HandleStats handles GET /admin/audit/logs/stats. The range defaults to
// the last 30 days.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := h.dateRange(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stats, err := h.log.Stats(ctx, start, end)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatsResponse{
		StartDate:       stats.StartDate.Format(time.DateOnly),
		EndDate:         stats.EndDate.Format(time.DateOnly),
		ByOperationType: toCounts(stats.ByOperationType),
		ByRiskLevel:     toCounts(stats.ByRiskLevel),
		ByDate:          toCounts(stats.ByDate),
	})
}

// HandleAbnormal handles GET /admin/audit/logs/abnormal: failed, high-risk
// and slow operations.
func (h *Handler) HandleAbnormal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	since := h.now().Add(-defaultAbnormalWindow)
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "since must be an RFC 3339 timestamp"))
			return
		}
		since = t
	}
	slowMs, err := intParam(q, "slow_ms", int(defaultSlowThreshold.Milliseconds()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := limitParam(q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.log.Abnormal(ctx, since, time.Duration(slowMs)*time.Millisecond, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EntriesResponse{
		Entries: toEntriesResponse(entries),
		Total:   int64(len(entries)),
		Page:    1,
		Size:    limit,
	})
}

// HandleActorStats handles GET /admin/audit/logs/actors.
func (h *Handler) HandleActorStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	start, end, err := h.dateRange(q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := limitParam(q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stats, err := h.log.ActorStats(ctx, start, end, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := ActorStatsResponse{Actors: make([]ActorStatResponse, 0, len(stats))}
	for _, s := range stats {
		out.Actors = append(out.Actors, ActorStatResponse{
			ActorID:    s.ActorID,
			ActorName:  s.ActorName,
			Total:      s.Total,
			Failed:     s.Failed,
			HighRisk:   s.HighRisk,
			LastSeenAt: s.LastSeenAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandlePurge handles DELETE /admin/audit/logs?before=YYYY-MM-DD.
func (h *Handler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	before, err := dateParam(r.URL.Query(), "before")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if before.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "before is required"))
		return
	}

	n, err := h.log.Purge(ctx, audit.FromHTTPRequest(r), before)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit purge failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PurgeResponse{Before: before.Format(time.DateOnly), Deleted: n})
}

func (h *Handler) dateRange(q url.Values) (time.Time, time.Time, error) {
	start, err := dateParam(q, "start_date")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := dateParam(q, "end_date")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.IsZero() {
		end = audit.DateOf(h.now())
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -29)
	}
	return start, end, nil
}

func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		ActorID:   q.Get("actor_id"),
		ActorName: q.Get("actor_name"),
		IPAddress: q.Get("ip_address"),
		Keyword:   q.Get("keyword"),
	}
	var err error
	if v := q.Get("operation_type"); v != "" {
		if f.OperationType, err = audit.ParseOperationType(v); err != nil {
			return f, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
	}
	if v := q.Get("module"); v != "" {
		if f.Module, err = audit.ParseModule(v); err != nil {
			return f, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
	}
	if v := q.Get("status"); v != "" {
		if f.Status, err = audit.ParseStatus(v); err != nil {
			return f, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
	}
	if v := q.Get("risk_level"); v != "" {
		if f.RiskLevel, err = audit.ParseRiskLevel(v); err != nil {
			return f, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start_time", &f.StartTime}, {"end_time", &f.EndTime}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeValidation, p.name+" must be an RFC 3339 timestamp")
		}
		*p.dst = t
	}
	return f, nil
}

func dateParam(q url.Values, name string) (time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, name+" must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

func intParam(q url.Values, name string, fallback int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be a non-negative integer")
	}
	return n, nil
}

func boundedIntParam(q url.Values, name string, fallback, maxValue int) (int, error) {
	n, err := intParam(q, name, fallback)
	if err != nil {
		return 0, err
	}
	if n > maxValue {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must not exceed "+strconv.Itoa(maxValue))
	}
	return n, nil
}

func limitParam(q url.Values) (int, error) {
	n, err := intParam(q, "limit", defaultListLimit)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
