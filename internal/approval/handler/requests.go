package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"procflow/internal/approval/models"
	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
)

// SubmitBody is the HTTP request body for POST /requests. Dates are
// YYYY-MM-DD.
type SubmitBody struct {
	Kind           string           `json:"kind"`
	IdempotencyKey string           `json:"idempotency_key"`
	LeaveType      string           `json:"leave_type"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	Days           *decimal.Decimal `json:"days"`
	Reason         string           `json:"reason"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Amount         *decimal.Decimal `json:"amount"`
	AttachmentRef  string           `json:"attachment_ref"`
	ManagerID      string           `json:"manager_id"`
	DepartmentID   string           `json:"department_id"`

	startDate time.Time
	endDate   time.Time
}

// Validate parses the dates. Business rules are checked by the engine.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (b *SubmitBody) Validate() error {
	if b == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var err error
	if b.startDate, err = parseDate("start_date", b.StartDate); err != nil {
		return err
	}
	if b.endDate, err = parseDate("end_date", b.EndDate); err != nil {
		return err
	}
	return nil
}

// ToModel builds the engine input for requester.
func (b *SubmitBody) ToModel(requester id.UserID, requesterName, idempotencyHeader string) models.SubmitRequest {
	key := b.IdempotencyKey
	if key == "" {
		key = idempotencyHeader
	}
	req := models.SubmitRequest{
		RequesterID:    requester,
		RequesterName:  requesterName,
		Kind:           models.Kind(b.Kind),
		IdempotencyKey: key,
		LeaveType:      models.LeaveType(b.LeaveType),
		StartDate:      b.startDate,
		EndDate:        b.endDate,
		Reason:         b.Reason,
		Title:          b.Title,
		Description:    b.Description,
		AttachmentRef:  b.AttachmentRef,
		ManagerID:      id.UserID(strings.TrimSpace(b.ManagerID)),
		DepartmentID:   b.DepartmentID,
	}
	if b.Days != nil {
		req.Days = *b.Days
	}
	if b.Amount != nil {
		req.Amount = *b.Amount
	}
	return req
}

// DecisionBody is the HTTP request body for POST /requests/{id}/decision.
type DecisionBody struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
	TaskID  string `json:"task_id"`
}

func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

// ListResponse wraps request lists.
type ListResponse struct {
	Requests []*models.Request `json:"requests"`
	Count    int               `json:"count"`
}

// HistoryResponse wraps a request's transitions.
type HistoryResponse struct {
	RequestID id.RequestID           `json:"request_id"`
	History   []*models.HistoryEntry `json:"history"`
}

func newListResponse(requests []*models.Request) ListResponse {
	if requests == nil {
		requests = []*models.Request{}
	}
	return ListResponse{Requests: requests, Count: len(requests)}
}
