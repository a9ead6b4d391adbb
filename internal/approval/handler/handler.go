package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"procflow/internal/approval/models"
	"procflow/internal/approval/service"
	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/httputil"
	"procflow/pkg/requestcontext"
)

// HeaderIdempotencyKey may carry the submission key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

// Service defines the interface for approval operations.
type Service interface {
	Submit(ctx context.Context, ac audit.Context, req models.SubmitRequest) (*models.Request, error)
	Decide(ctx context.Context, ac audit.Context, req models.DecideRequest) (*models.Request, error)
	Cancel(ctx context.Context, ac audit.Context, requestID id.RequestID, actorID id.UserID) (*models.Request, error)
	Resume(ctx context.Context, ac audit.Context, requestID id.RequestID) (*models.Request, error)
	Reconcile(ctx context.Context, ac audit.Context, requestID id.RequestID) (*service.Reconciliation, error)
	Get(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	GetHistory(ctx context.Context, requestID id.RequestID) ([]*models.HistoryEntry, error)
	ListPendingFor(ctx context.Context, approverID id.UserID) ([]*models.Request, error)
	ListByRequester(ctx context.Context, requesterID id.UserID, statuses ...models.Status) ([]*models.Request, error)
}

// Handler wires approval endpoints to the engine.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the endpoints for authenticated callers.
func (h *Handler) Register(r chi.Router) {
	r.Post("/requests", h.HandleSubmit)
	r.Get("/requests", h.HandleListMine)
	r.Get("/requests/{id}", h.HandleGet)
	r.Get("/requests/{id}/history", h.HandleHistory)
	r.Post("/requests/{id}/decision", h.HandleDecide)
	r.Post("/requests/{id}/cancel", h.HandleCancel)
	r.Post("/requests/{id}/resume", h.HandleResume)
	r.Get("/tasks", h.HandlePendingTasks)
}

// RegisterAdmin mounts the endpoints reserved for administrators.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/requests/{id}/reconcile", h.HandleReconcile)
}

// HandleSubmit handles POST /requests.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	ac := audit.FromHTTPRequest(r)
	body, ok := httputil.DecodeAndPrepare[SubmitBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	req := body.ToModel(userID, requestcontext.UserName(ctx), r.Header.Get(HeaderIdempotencyKey))
	result, err := h.service.Submit(ctx, ac, req)
	if err != nil {
		h.logFailure(ctx, "submit failed", err, "user_id", userID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

// HandleListMine handles GET /requests?status=...
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var statuses []models.Status
	for _, raw := range r.URL.Query()["status"] {
		s, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		statuses = append(statuses, s)
	}

	requests, err := h.service.ListByRequester(ctx, userID, statuses...)
	if err != nil {
		h.logFailure(ctx, "list requests failed", err, "user_id", userID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newListResponse(requests))
}

// HandlePendingTasks handles GET /tasks: requests waiting on the caller.
func (h *Handler) HandlePendingTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	requests, err := h.service.ListPendingFor(ctx, userID)
	if err != nil {
		h.logFailure(ctx, "list pending failed", err, "user_id", userID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newListResponse(requests))
}

// HandleGet handles GET /requests/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

// HandleHistory handles GET /requests/{id}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	history, err := h.service.GetHistory(ctx, req.ID)
	if err != nil {
		h.logFailure(ctx, "load history failed", err, "target_id", req.ID)
		httputil.WriteError(w, err)
		return
	}
	if history == nil {
		history = []*models.HistoryEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{RequestID: req.ID, History: history})
}

// HandleDecide handles POST /requests/{id}/decision.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	target, ok := parseRequestID(w, r)
	if !ok {
		return
	}

	ac := audit.FromHTTPRequest(r)
	body, ok := httputil.DecodeAndPrepare[DecisionBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	result, err := h.service.Decide(ctx, ac, models.DecideRequest{
		RequestID: target,
		ActorID:   userID,
		ActorName: requestcontext.UserName(ctx),
		Action:    models.Action(body.Action),
		Comment:   body.Comment,
		TaskID:    body.TaskID,
	})
	if err != nil {
		h.logFailure(ctx, "decision failed", err, "user_id", userID, "target_id", target)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleCancel handles POST /requests/{id}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	target, ok := parseRequestID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Cancel(ctx, audit.FromHTTPRequest(r), target, userID)
	if err != nil {
		h.logFailure(ctx, "cancel failed", err, "user_id", userID, "target_id", target)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleResume handles POST /requests/{id}/resume.
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	if req.RequesterID != requestcontext.UserID(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only the requester may resume this request"))
		return
	}

	result, err := h.service.Resume(ctx, audit.FromHTTPRequest(r), req.ID)
	if err != nil {
		h.logFailure(ctx, "resume failed", err, "target_id", req.ID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleReconcile handles POST /admin/requests/{id}/reconcile.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, ok := parseRequestID(w, r)
	if !ok {
		return
	}
	report, err := h.service.Reconcile(ctx, audit.FromHTTPRequest(r), target)
	if err != nil {
		h.logFailure(ctx, "reconcile failed", err, "target_id", target)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// loadVisible returns the addressed request if the caller may see it: its
// requester, an approver involved in it, or an administrator.
func (h *Handler) loadVisible(w http.ResponseWriter, r *http.Request) (*models.Request, bool) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return nil, false
	}
	target, ok := parseRequestID(w, r)
	if !ok {
		return nil, false
	}
	req, err := h.service.Get(ctx, target)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	visible := req.RequesterID == userID ||
		req.CurrentApproverID == userID ||
		req.FinalApproverID == userID ||
		requestcontext.HasRole(ctx, requestcontext.RoleAdmin)
	if !visible {
		// do not reveal that the request exists
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "request not found"))
		return nil, false
	}
	return req, true
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return userID, true
}

func parseRequestID(w http.ResponseWriter, r *http.Request) (id.RequestID, bool) {
	target, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.RequestID{}, false
	}
	return target, true
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error, args ...any) {
	args = append(args, "request_id", requestcontext.RequestID(ctx), "error", err)
	if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.Retryable(err) {
		h.logger.ErrorContext(ctx, msg, args...)
		return
	}
	h.logger.WarnContext(ctx, msg, args...)
}
