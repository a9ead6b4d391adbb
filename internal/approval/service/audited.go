package service

import (
	"context"
	"errors"
	"fmt"

	"procflow/internal/approval/models"
	id "procflow/pkg/domain"
	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/audit/intercept"
)

const targetTypeRequest = "approval_request"

// AuditedEngine records an audit entry for every state-changing engine call.
// Reads pass straight through.
type AuditedEngine struct {
	engine      *Engine
	interceptor *intercept.Interceptor
}

func NewAudited(engine *Engine, interceptor *intercept.Interceptor) *AuditedEngine {
	return &AuditedEngine{engine: engine, interceptor: interceptor}
}

func (a *AuditedEngine) Submit(ctx context.Context, ac audit.Context, req models.SubmitRequest) (*models.Request, error) {
	req.Normalize()
	op := intercept.Operation{
		Type:        audit.OpSubmit,
		Name:        "submit_request",
		Description: "Submit approval request",
		Module:      moduleFor(req.Kind),
		TargetType:  targetTypeRequest,
		Risk:        audit.RiskLow,
		TargetID:    intercept.ResultField("id"),
		TargetName:  requestTitle,
		Describe: func(_ intercept.Args, result any) (string, error) {
			r, err := asRequest(result)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Submitted %s request, now %s", r.Kind, r.Status), nil
		},
	}
	return intercept.Run(ctx, a.interceptor, ac, op, intercept.Args{"request": req},
		func(ctx context.Context) (*models.Request, error) {
			return a.engine.Submit(ctx, req)
		})
}

// Decide is recorded synchronously: the audit entry exists before the caller
// sees the decision.
func (a *AuditedEngine) Decide(ctx context.Context, ac audit.Context, req models.DecideRequest) (*models.Request, error) {
	req.Normalize()
	opType, name := audit.OpApprove, "approve_request"
	if req.Action == models.ActionReject {
		opType, name = audit.OpReject, "reject_request"
	}
	op := intercept.Operation{
		Type:        opType,
		Name:        name,
		Description: "Decide approval task",
		Module:      audit.ModuleWorkflow,
		TargetType:  targetTypeRequest,
		Risk:        audit.RiskMedium,
		Sync:        true,
		TargetID:    intercept.ArgString("request_id"),
		TargetName:  requestTitle,
		Describe: func(args intercept.Args, result any) (string, error) {
			r, err := asRequest(result)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s task %v, request now %s", req.Action, args["task_id"], r.Status), nil
		},
	}
	args := intercept.Args{
		"request_id": req.RequestID.String(),
		"action":     string(req.Action),
		"task_id":    req.TaskID,
		"comment":    req.Comment,
	}
	return intercept.Run(ctx, a.interceptor, ac, op, args,
		func(ctx context.Context) (*models.Request, error) {
			return a.engine.Decide(ctx, req)
		})
}

func (a *AuditedEngine) Cancel(ctx context.Context, ac audit.Context, requestID id.RequestID, actorID id.UserID) (*models.Request, error) {
	op := intercept.Operation{
		Type:        audit.OpCancel,
		Name:        "cancel_request",
		Description: "Cancel approval request",
		Module:      audit.ModuleWorkflow,
		TargetType:  targetTypeRequest,
		Risk:        audit.RiskMedium,
		TargetID:    intercept.ArgString("request_id"),
		TargetName:  requestTitle,
	}
	return intercept.Run(ctx, a.interceptor, ac, op, intercept.Args{"request_id": requestID.String()},
		func(ctx context.Context) (*models.Request, error) {
			return a.engine.Cancel(ctx, requestID, actorID)
		})
}

func (a *AuditedEngine) Resume(ctx context.Context, ac audit.Context, requestID id.RequestID) (*models.Request, error) {
	op := intercept.Operation{
		Type:        audit.OpUpdate,
		Name:        "resume_request",
		Description: "Retry approval process start",
		Module:      audit.ModuleWorkflow,
		TargetType:  targetTypeRequest,
		Risk:        audit.RiskLow,
		TargetID:    intercept.ArgString("request_id"),
	}
	return intercept.Run(ctx, a.interceptor, ac, op, intercept.Args{"request_id": requestID.String()},
		func(ctx context.Context) (*models.Request, error) {
			return a.engine.Resume(ctx, requestID)
		})
}

func (a *AuditedEngine) Reconcile(ctx context.Context, ac audit.Context, requestID id.RequestID) (*Reconciliation, error) {
	op := intercept.Operation{
		Type:            audit.OpQuery,
		Name:            "reconcile_request",
		Description:     "Compare request with workflow backend",
		Module:          audit.ModuleWorkflow,
		TargetType:      targetTypeRequest,
		Risk:            audit.RiskLow,
		IncludeResponse: true,
		TargetID:        intercept.ArgString("request_id"),
	}
	return intercept.Run(ctx, a.interceptor, ac, op, intercept.Args{"request_id": requestID.String()},
		func(ctx context.Context) (*Reconciliation, error) {
			return a.engine.Reconcile(ctx, requestID)
		})
}

func (a *AuditedEngine) Get(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return a.engine.Get(ctx, requestID)
}

func (a *AuditedEngine) GetHistory(ctx context.Context, requestID id.RequestID) ([]*models.HistoryEntry, error) {
	return a.engine.GetHistory(ctx, requestID)
}

func (a *AuditedEngine) ListPendingFor(ctx context.Context, approverID id.UserID) ([]*models.Request, error) {
	return a.engine.ListPendingFor(ctx, approverID)
}

func (a *AuditedEngine) ListByRequester(ctx context.Context, requesterID id.UserID, statuses ...models.Status) ([]*models.Request, error) {
	return a.engine.ListByRequester(ctx, requesterID, statuses...)
}

func moduleFor(kind models.Kind) audit.Module {
	if kind == models.KindLeave {
		return audit.ModuleLeave
	}
	return audit.ModuleWorkflow
}

// requestTitle names the request by its business title or leave type.
func requestTitle(_ intercept.Args, result any) (string, error) {
	r, err := asRequest(result)
	if err != nil {
		return "", err
	}
	if r.Payload.Title != "" {
		return r.Payload.Title, nil
	}
	return string(r.Payload.LeaveType) + " leave", nil
}

func asRequest(result any) (*models.Request, error) {
	r, ok := result.(*models.Request)
	if !ok || r == nil {
		return nil, errors.New("no request in result")
	}
	return r, nil
}
