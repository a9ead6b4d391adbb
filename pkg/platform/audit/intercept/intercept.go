// Package intercept audits a unit of work without the work knowing about it.
//
// Run wraps a closure: it times the call, runs it, and hands an audit entry
// describing the outcome to the recorder. The closure's result and error are
// returned exactly as produced.
package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "procflow/pkg/platform/audit"
)

// Recorder is the part of recorder.Recorder the interceptor needs.
type Recorder interface {
	RecordSync(ctx context.Context, entry audit.Entry)
	RecordAsync(ctx context.Context, entry audit.Entry)
}

type Interceptor struct {
	recorder  Recorder
	logger    *slog.Logger
	sensitive []string
	now       func() time.Time
}

type Option func(*Interceptor)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// WithSensitiveFields sets the mask list for operations that do not name their own.
func WithSensitiveFields(fields ...string) Option {
	return func(i *Interceptor) {
		i.sensitive = fields
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) {
		i.now = now
	}
}

func New(recorder Recorder, opts ...Option) *Interceptor {
	i := &Interceptor{
		recorder:  recorder,
		logger:    slog.Default(),
		sensitive: audit.DefaultSensitiveFields,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run executes fn and records an audit entry for it. A panic in fn is
// recorded as a failure and then re-raised.
func Run[T any](ctx context.Context, i *Interceptor, ac audit.Context, op Operation, args Args, fn func(context.Context) (T, error)) (T, error) {
	start := i.now()
	completed := false
	defer func() {
		if completed {
			return
		}
		if p := recover(); p != nil {
			i.finish(ctx, ac, op, args, nil, fmt.Errorf("panic: %v", p), start)
			panic(p)
		}
	}()

	result, err := fn(ctx)
	completed = true
	i.finish(ctx, ac, op, args, result, err, start)
	return result, err
}

// Do is Run for calls without a result.
func Do(ctx context.Context, i *Interceptor, ac audit.Context, op Operation, args Args, fn func(context.Context) error) error {
	_, err := Run(ctx, i, ac, op, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// finish builds and dispatches the entry. Nothing here may escape to the caller.
func (i *Interceptor) finish(ctx context.Context, ac audit.Context, op Operation, args Args, result any, callErr error, start time.Time) {
	defer func() {
		if p := recover(); p != nil {
			i.logger.ErrorContext(ctx, "audit interception failed", "operation", op.Name, "panic", p)
		}
	}()

	entry := i.buildEntry(ctx, ac, op, args, result, callErr, start)
	if op.Sync {
		i.recorder.RecordSync(ctx, entry)
		return
	}
	i.recorder.RecordAsync(ctx, entry)
}

func (i *Interceptor) buildEntry(ctx context.Context, ac audit.Context, op Operation, args Args, result any, callErr error, start time.Time) audit.Entry {
	fields := op.SensitiveFields
	if len(fields) == 0 {
		fields = i.sensitive
	}
	masker := audit.NewMasker(fields)

	entry := audit.Entry{
		OperationType: op.Type,
		OperationName: op.Name,
		OperationDesc: op.Description,
		Module:        op.Module,
		TargetType:    op.TargetType,
		ActorID:       ac.ActorID,
		ActorName:     ac.ActorName,
		IPAddress:     ac.IPAddress,
		UserAgent:     ac.UserAgent,
		TraceID:       ac.TraceID,
		StartTime:     start,
		EndTime:       i.now(),
		Status:        audit.StatusSuccess,
		RiskLevel:     op.Risk,
	}
	entry.DurationMs = entry.EndTime.Sub(start).Milliseconds()

	if req := ac.Request; req != nil {
		entry.RequestMethod = req.Method
		entry.RequestPath = req.Path
		if entry.OperationType == "" {
			entry.OperationType = audit.OperationTypeFromMethod(req.Method)
		}
		if !op.SkipBody {
			entry.RequestBody = masker.JSON(req.Body)
		}
		if op.IncludeHeaders {
			entry.RequestHeaders = masker.Headers(req.Headers)
		}
	}
	if !op.SkipParams {
		if ac.Request != nil && len(ac.Request.Params) > 0 {
			entry.RequestParams = masker.Params(ac.Request.Params)
		} else if len(args) > 0 {
			entry.RequestParams = masker.Any(args)
		}
	}

	if callErr != nil {
		entry.Status = audit.StatusFailed
		entry.ErrorMessage = callErr.Error()
	} else if op.IncludeResponse {
		entry.ResponseBody = masker.Any(result)
	}

	entry.TargetID = i.extract(ctx, op, "target_id", op.TargetID, args, result, "")
	entry.TargetName = i.extract(ctx, op, "target_name", op.TargetName, args, result, "")
	entry.OperationDesc = i.extract(ctx, op, "description", op.Describe, args, result, op.Description)
	return entry
}

// extract evaluates fn, falling back to def when it is unset, errors or panics.
func (i *Interceptor) extract(ctx context.Context, op Operation, what string, fn Extractor, args Args, result any, def string) (out string) {
	if fn == nil {
		return def
	}
	defer func() {
		if p := recover(); p != nil {
			i.logger.DebugContext(ctx, "audit extractor panicked", "operation", op.Name, "field", what, "panic", p)
			out = def
		}
	}()
	v, err := fn(args, result)
	if err != nil {
		i.logger.DebugContext(ctx, "audit extractor failed", "operation", op.Name, "field", what, "error", err)
		return def
	}
	return v
}
