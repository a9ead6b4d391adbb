// Package service implements the approval workflow engine. The engine owns a
// request's business status; the workflow backend only decides which task
// comes next.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"procflow/internal/approval/metrics"
	"procflow/internal/approval/models"
	"procflow/internal/approval/ports"
	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
	"procflow/pkg/platform/sentinel"
)

const (
	defaultBackendTimeout = 5 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	// systemActor is recorded on transitions the engine makes on its own.
	systemActor id.UserID = "system"
)

// Engine coordinates requests, their history and the workflow backend.
type Engine struct {
	store          Store
	tx             StoreTx
	backend        ports.WorkflowBackend
	idempotency    ports.IdempotencyStore
	idempotencyTTL time.Duration
	backendTimeout time.Duration
	locks          requestLocks
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIdempotencyStore shares submission keys across engine instances.
// Without it keys are resolved through the request store only.
func WithIdempotencyStore(s ports.IdempotencyStore, ttl time.Duration) Option {
	return func(e *Engine) {
		e.idempotency = s
		if ttl > 0 {
			e.idempotencyTTL = ttl
		}
	}
}

// WithBackendTimeout bounds every workflow backend call.
func WithBackendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backendTimeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithClock sets the time source used for timestamps and date checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine.
func New(store Store, tx StoreTx, backend ports.WorkflowBackend, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		tx:             tx,
		backend:        backend,
		idempotencyTTL: defaultIdempotencyTTL,
		backendTimeout: defaultBackendTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer("procflow/approval"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit validates and persists a new request, then starts its process.
//
// When the backend cannot start the process the request stays PENDING and a
// CodeWorkflowStart error is returned. Submitting again with the same
// idempotency key, or calling Resume, retries the start.
func (e *Engine) Submit(ctx context.Context, req models.SubmitRequest) (*models.Request, error) {
	ctx, span := e.tracer.Start(ctx, "approval.Submit",
		trace.WithAttributes(attribute.String("kind", string(req.Kind))))
	defer span.End()

	result, err := e.submit(ctx, req)
	return result, endSpan(span, err)
}

func (e *Engine) submit(ctx context.Context, req models.SubmitRequest) (*models.Request, error) {
	now := e.now()
	req.Normalize()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	requestID := id.NewRequestID()
	if req.IdempotencyKey != "" {
		owner, found, err := e.claimKey(ctx, req.IdempotencyKey, requestID)
		if err != nil {
			return nil, err
		}
		if found {
			return e.replay(ctx, owner, req)
		}
	}

	r := &models.Request{
		ID:             requestID,
		RequesterID:    req.RequesterID,
		RequesterName:  req.RequesterName,
		Kind:           req.Kind,
		Payload:        req.Payload(),
		Status:         models.StatusPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, replayID, err := e.create(ctx, r)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return e.replay(ctx, replayID, req)
	}
	return created, nil
}

// create persists r and starts its process. A nil request with a request id
// means another submission won the idempotency key and should be replayed.
func (e *Engine) create(ctx context.Context, r *models.Request) (*models.Request, id.RequestID, error) {
	unlock, err := e.locks.acquire(ctx, r.ID)
	if err != nil {
		return nil, id.RequestID{}, err
	}
	defer unlock()

	if err := e.store.SaveRequest(ctx, r); err != nil {
		e.releaseKey(ctx, r.IdempotencyKey)
		if errors.Is(err, sentinel.ErrConflict) && r.IdempotencyKey != "" {
			if existing, findErr := e.store.FindByIdempotencyKey(ctx, r.IdempotencyKey); findErr == nil {
				return nil, existing.ID, nil
			}
		}
		return nil, id.RequestID{}, translateStoreErr(err, "failed to save request")
	}
	if e.metrics != nil {
		e.metrics.IncrementSubmitted(string(r.Kind))
	}
	e.logger.InfoContext(ctx, "approval request submitted",
		"request_id", r.ID,
		"requester_id", r.RequesterID,
		"kind", r.Kind,
	)

	started, err := e.start(ctx, r)
	if err != nil {
		return nil, id.RequestID{}, err
	}
	return started, id.RequestID{}, nil
}

// claimKey reports the request already owning key, if any.
func (e *Engine) claimKey(ctx context.Context, key string, requestID id.RequestID) (id.RequestID, bool, error) {
	if e.idempotency != nil {
		owner, reserved, err := e.idempotency.Reserve(ctx, key, requestID, e.idempotencyTTL)
		if err != nil {
			return id.RequestID{}, false, dErrors.Wrap(err, dErrors.CodePersistence, "failed to reserve idempotency key")
		}
		return owner, !reserved, nil
	}
	existing, err := e.store.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return id.RequestID{}, false, nil
	}
	if err != nil {
		return id.RequestID{}, false, translateStoreErr(err, "failed to look up idempotency key")
	}
	return existing.ID, true, nil
}

func (e *Engine) releaseKey(ctx context.Context, key string) {
	if key == "" || e.idempotency == nil {
		return
	}
	if err := e.idempotency.Release(ctx, key); err != nil {
		e.logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
	}
}

// replay answers a repeated submission with the request it already created,
// retrying the process start if that never succeeded.
func (e *Engine) replay(ctx context.Context, requestID id.RequestID, req models.SubmitRequest) (*models.Request, error) {
	existing, err := e.store.LoadRequest(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeConflict, "a submission with this idempotency key is still in progress")
	}
	if err != nil {
		return nil, translateStoreErr(err, "failed to load request")
	}
	if existing.RequesterID != req.RequesterID {
		return nil, dErrors.New(dErrors.CodeConflict, "idempotency key already used")
	}
	e.logger.InfoContext(ctx, "duplicate submission replayed", "request_id", existing.ID)
	return e.Resume(ctx, existing.ID)
}

// Resume retries the process start of a request left PENDING by a failed
// submit. Requests that already have a process are returned unchanged.
func (e *Engine) Resume(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	ctx, span := e.tracer.Start(ctx, "approval.Resume",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	unlock, err := e.locks.acquire(ctx, requestID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	defer unlock()

	r, err := e.load(ctx, requestID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	if r.Status != models.StatusPending || r.ProcessInstanceID != "" {
		return r, nil
	}
	result, err := e.start(ctx, r)
	return result, endSpan(span, err)
}

// start runs the backend process for a PENDING request. Callers hold the
// request lock.
func (e *Engine) start(ctx context.Context, r *models.Request) (*models.Request, error) {
	bctx, cancel := context.WithTimeout(ctx, e.backendTimeout)
	began := e.now()
	res, err := e.backend.StartProcess(bctx, r.Kind, r.Variables())
	cancel()
	e.observeBackend("start", began, err)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to start approval process",
			"request_id", r.ID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeWorkflowStart,
			"failed to start approval process; request "+r.ID.String()+" remains pending")
	}

	now := e.now()
	next := r.Clone()
	next.ProcessInstanceID = res.ProcessInstanceID
	var history *models.HistoryEntry

	if res.Task != nil {
		if err := next.AssignTask(res.Task.ID, res.Task.AssigneeID, now); err != nil {
			return nil, err
		}
	} else {
		final := outcomeStatus(res.Outcome, models.StatusApproved)
		if err := next.Resolve(final, systemActor, "resolved without approver", now); err != nil {
			return nil, err
		}
		history = &models.HistoryEntry{
			ActorID:      systemActor,
			ActorName:    "system",
			BeforeStatus: r.Status,
			AfterStatus:  final,
			Action:       models.ActionSystemAdvance,
			Comment:      next.Comment,
			Timestamp:    now,
		}
	}

	if err := e.persist(ctx, next, history); err != nil {
		// the process is running but the request does not know about it
		e.terminate(ctx, res.ProcessInstanceID, "request could not be persisted", r.ID)
		return nil, err
	}
	e.recordTransition(r.Status, next.Status, models.ActionSystemAdvance)
	e.logger.InfoContext(ctx, "approval process started",
		"request_id", next.ID,
		"process_instance_id", res.ProcessInstanceID,
		"status", next.Status,
		"approver_id", next.CurrentApproverID,
	)
	return next, nil
}

// Decide completes the outstanding task with an approve or reject decision.
func (e *Engine) Decide(ctx context.Context, req models.DecideRequest) (*models.Request, error) {
	ctx, span := e.tracer.Start(ctx, "approval.Decide", trace.WithAttributes(
		attribute.String("request_id", req.RequestID.String()),
		attribute.String("action", string(req.Action)),
	))
	defer span.End()

	result, err := e.decide(ctx, req)
	return result, endSpan(span, err)
}

func (e *Engine) decide(ctx context.Context, req models.DecideRequest) (*models.Request, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock, err := e.locks.acquire(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := e.load(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if !r.Status.IsOpen() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request is already "+string(r.Status))
	}
	if r.CurrentTaskID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request has no outstanding task")
	}
	if r.CurrentTaskID != req.TaskID {
		return nil, dErrors.New(dErrors.CodeInvalidState, "task is not the outstanding task of this request")
	}
	if r.CurrentApproverID != req.ActorID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the current approver may decide this request")
	}

	approved := req.Action == models.ActionApprove
	bctx, cancel := context.WithTimeout(ctx, e.backendTimeout)
	began := e.now()
	res, err := e.backend.CompleteTask(bctx, req.TaskID, map[string]any{
		"approved":   approved,
		"approverId": req.ActorID.String(),
		"comment":    req.Comment,
	})
	cancel()
	e.observeBackend("complete", began, err)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "workflow task not found")
		}
		e.logger.ErrorContext(ctx, "failed to complete workflow task",
			"request_id", r.ID,
			"task_id", req.TaskID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeWorkflowCompletion, "failed to complete workflow task")
	}

	now := e.now()
	next := r.Clone()
	switch {
	case !approved:
		err = next.Resolve(models.StatusRejected, req.ActorID, req.Comment, now)
	case res.NextTask != nil:
		err = next.AssignTask(res.NextTask.ID, res.NextTask.AssigneeID, now)
		next.Comment = req.Comment
	default:
		err = next.Resolve(outcomeStatus(res.Outcome, models.StatusApproved), req.ActorID, req.Comment, now)
	}
	if err != nil {
		return nil, err
	}

	history := &models.HistoryEntry{
		ActorID:      req.ActorID,
		ActorName:    req.ActorName,
		BeforeStatus: r.Status,
		AfterStatus:  next.Status,
		Action:       req.Action,
		Comment:      req.Comment,
		TaskID:       req.TaskID,
		Timestamp:    now,
	}
	if err := e.persist(ctx, next, history); err != nil {
		e.logger.ErrorContext(ctx, "workflow task completed but request was not updated",
			"request_id", r.ID,
			"task_id", req.TaskID,
			"error", err,
		)
		return nil, err
	}
	e.recordTransition(r.Status, next.Status, req.Action)
	e.logger.InfoContext(ctx, "approval decision recorded",
		"request_id", next.ID,
		"actor_id", req.ActorID,
		"action", req.Action,
		"status", next.Status,
	)
	return next, nil
}

// Cancel withdraws an open request on behalf of its requester. Terminating
// the backend process is best effort.
func (e *Engine) Cancel(ctx context.Context, requestID id.RequestID, actorID id.UserID) (*models.Request, error) {
	ctx, span := e.tracer.Start(ctx, "approval.Cancel",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	result, err := e.cancel(ctx, requestID, actorID)
	return result, endSpan(span, err)
}

func (e *Engine) cancel(ctx context.Context, requestID id.RequestID, actorID id.UserID) (*models.Request, error) {
	unlock, err := e.locks.acquire(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.RequesterID != actorID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the requester may cancel this request")
	}
	if !r.Status.IsOpen() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request is already "+string(r.Status))
	}

	now := e.now()
	processID := r.ProcessInstanceID
	next := r.Clone()
	if err := next.Resolve(models.StatusCancelled, actorID, "cancelled by requester", now); err != nil {
		return nil, err
	}
	history := &models.HistoryEntry{
		ActorID:      actorID,
		ActorName:    r.RequesterName,
		BeforeStatus: r.Status,
		AfterStatus:  models.StatusCancelled,
		Action:       models.ActionCancel,
		Comment:      next.Comment,
		TaskID:       r.CurrentTaskID,
		Timestamp:    now,
	}
	if err := e.persist(ctx, next, history); err != nil {
		return nil, err
	}
	if processID != "" {
		e.terminate(ctx, processID, "cancelled by requester", r.ID)
	}
	e.recordTransition(r.Status, models.StatusCancelled, models.ActionCancel)
	e.logger.InfoContext(ctx, "approval request cancelled", "request_id", r.ID, "actor_id", actorID)
	return next, nil
}

// Get returns one request.
func (e *Engine) Get(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return e.load(ctx, requestID)
}

// GetHistory returns the transitions of a request, oldest first.
func (e *Engine) GetHistory(ctx context.Context, requestID id.RequestID) ([]*models.HistoryEntry, error) {
	if _, err := e.load(ctx, requestID); err != nil {
		return nil, err
	}
	history, err := e.store.ListHistory(ctx, requestID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to load history")
	}
	return history, nil
}

// ListPendingFor returns requests waiting on approverID, newest first.
func (e *Engine) ListPendingFor(ctx context.Context, approverID id.UserID) ([]*models.Request, error) {
	requests, err := e.store.ListByApprover(ctx, approverID, models.StatusInProgress)
	if err != nil {
		return nil, translateStoreErr(err, "failed to list pending requests")
	}
	return requests, nil
}

// ListByRequester returns a requester's own requests, optionally filtered by status.
func (e *Engine) ListByRequester(ctx context.Context, requesterID id.UserID, statuses ...models.Status) ([]*models.Request, error) {
	requests, err := e.store.ListByRequester(ctx, requesterID, statuses...)
	if err != nil {
		return nil, translateStoreErr(err, "failed to list requests")
	}
	return requests, nil
}

// Reconciliation reports whether the store and the backend agree on a request.
type Reconciliation struct {
	RequestID  id.RequestID `json:"request_id"`
	Consistent bool         `json:"consistent"`
	Detail     string       `json:"detail,omitempty"`
}

// Reconcile compares the stored request with the backend's view of its
// outstanding task. Divergence is logged and reported, never repaired.
func (e *Engine) Reconcile(ctx context.Context, requestID id.RequestID) (*Reconciliation, error) {
	ctx, span := e.tracer.Start(ctx, "approval.Reconcile",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	r, err := e.load(ctx, requestID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	report := &Reconciliation{RequestID: r.ID, Consistent: true}
	if r.CurrentTaskID == "" {
		if r.Status == models.StatusPending {
			report.Consistent = false
			report.Detail = "request has no running process"
		}
		return e.reportDivergence(ctx, report), nil
	}

	bctx, cancel := context.WithTimeout(ctx, e.backendTimeout)
	began := e.now()
	task, err := e.backend.GetTask(bctx, r.CurrentTaskID)
	cancel()
	e.observeBackend("get_task", began, err)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		report.Consistent = false
		report.Detail = "backend has no task " + r.CurrentTaskID
	case err != nil:
		return nil, endSpan(span, dErrors.Wrap(err, dErrors.CodeWorkflowCompletion, "failed to read workflow task"))
	case task.AssigneeID != r.CurrentApproverID:
		report.Consistent = false
		report.Detail = "backend assigns task to " + task.AssigneeID.String()
	}
	return e.reportDivergence(ctx, report), nil
}

func (e *Engine) reportDivergence(ctx context.Context, report *Reconciliation) *Reconciliation {
	if report.Consistent {
		return report
	}
	if e.metrics != nil {
		e.metrics.IncrementDiscrepancy()
	}
	e.logger.WarnContext(ctx, "request diverges from workflow backend",
		"request_id", report.RequestID,
		"detail", report.Detail,
	)
	return report
}

// persist writes the request and its optional history entry atomically.
func (e *Engine) persist(ctx context.Context, r *models.Request, h *models.HistoryEntry) error {
	err := e.tx.RunInTx(ctx, func(ctx context.Context) error {
		if h != nil {
			existing, err := e.store.ListHistory(ctx, r.ID)
			if err != nil {
				return err
			}
			h.ID = id.NewHistoryID()
			h.RequestID = r.ID
			h.Sequence = len(existing) + 1
			if err := e.store.SaveHistoryEntry(ctx, h); err != nil {
				return err
			}
		}
		return e.store.SaveRequest(ctx, r)
	})
	if err != nil {
		return translateStoreErr(err, "failed to save request")
	}
	return nil
}

func (e *Engine) load(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	r, err := e.store.LoadRequest(ctx, requestID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to load request")
	}
	return r, nil
}

func (e *Engine) terminate(ctx context.Context, processID, reason string, requestID id.RequestID) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.backendTimeout)
	defer cancel()
	began := e.now()
	err := e.backend.TerminateProcess(bctx, processID, reason)
	e.observeBackend("terminate", began, err)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to terminate workflow process",
			"request_id", requestID,
			"process_instance_id", processID,
			"error", err,
		)
	}
}

func (e *Engine) observeBackend(op string, began time.Time, err error) {
	if e.metrics != nil {
		e.metrics.ObserveBackend(op, e.now().Sub(began), err)
	}
}

func (e *Engine) recordTransition(from, to models.Status, action models.Action) {
	if e.metrics != nil && from != to {
		e.metrics.IncrementTransition(string(from), string(to), string(action))
	}
}

// outcomeStatus maps a finished process to a terminal status.
func outcomeStatus(o ports.Outcome, fallback models.Status) models.Status {
	switch o {
	case ports.OutcomeApproved:
		return models.StatusApproved
	case ports.OutcomeRejected:
		return models.StatusRejected
	case ports.OutcomeTerminated:
		return models.StatusCancelled
	default:
		return fallback
	}
}

func translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "request not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "request was modified concurrently")
	case dErrors.HasCode(err, dErrors.CodeTimeout):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodePersistence, msg)
	}
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
	}
	return err
}
