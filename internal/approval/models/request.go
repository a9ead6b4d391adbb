package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
)

// Payload carries the kind-specific fields of a request. Leave requests use
// the leave fields, business requests the title/amount fields.
type Payload struct {
	LeaveType     LeaveType       `json:"leave_type,omitempty"`
	StartDate     time.Time       `json:"start_date,omitzero"`
	EndDate       time.Time       `json:"end_date,omitzero"`
	Days          decimal.Decimal `json:"days,omitzero"`
	Reason        string          `json:"reason,omitempty"`
	Title         string          `json:"title,omitempty"`
	Description   string          `json:"description,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitzero"`
	AttachmentRef string          `json:"attachment_ref,omitempty"`
	ManagerID     id.UserID       `json:"manager_id,omitempty"`
	DepartmentID  string          `json:"department_id,omitempty"`
}

// Request is the aggregate root of an approval.
//
// Invariants:
//   - Status changes only along Status.CanTransitionTo
//   - ProcessInstanceID is empty once Status is terminal
//   - CurrentTaskID and CurrentApproverID are set only while an approver action is outstanding
//   - Version increases by one on every persisted change
type Request struct {
	ID                id.RequestID `json:"id"`
	RequesterID       id.UserID    `json:"requester_id"`
	RequesterName     string       `json:"requester_name"`
	Kind              Kind         `json:"kind"`
	Payload           Payload      `json:"payload"`
	Status            Status       `json:"status"`
	CurrentApproverID id.UserID    `json:"current_approver_id,omitempty"`
	CurrentTaskID     string       `json:"current_task_id,omitempty"`
	ProcessInstanceID string       `json:"process_instance_id,omitempty"`
	IdempotencyKey    string       `json:"-"`
	Comment           string       `json:"comment,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	FinalDecisionAt   *time.Time   `json:"final_decision_at,omitempty"`
	FinalApproverID   id.UserID    `json:"final_approver_id,omitempty"`
	Version           int64        `json:"version"`
}

// Clone returns a copy safe to mutate.
func (r *Request) Clone() *Request {
	c := *r
	if r.FinalDecisionAt != nil {
		t := *r.FinalDecisionAt
		c.FinalDecisionAt = &t
	}
	return &c
}

// AssignTask records the outstanding task and moves the request into IN_PROGRESS.
func (r *Request) AssignTask(taskID string, approverID id.UserID, now time.Time) error {
	if err := r.ensureTransition(StatusInProgress); err != nil {
		return err
	}
	r.Status = StatusInProgress
	r.CurrentTaskID = taskID
	r.CurrentApproverID = approverID
	r.UpdatedAt = now
	return nil
}

// Resolve moves the request into a terminal status and clears workflow links.
func (r *Request) Resolve(next Status, approverID id.UserID, comment string, now time.Time) error {
	if !next.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "resolve requires a terminal status")
	}
	if err := r.ensureTransition(next); err != nil {
		return err
	}
	r.Status = next
	r.CurrentTaskID = ""
	r.CurrentApproverID = ""
	r.ProcessInstanceID = ""
	r.Comment = comment
	r.UpdatedAt = now
	if next != StatusCancelled {
		decided := now
		r.FinalDecisionAt = &decided
		r.FinalApproverID = approverID
	}
	return nil
}

func (r *Request) ensureTransition(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvalidState, "cannot move request from "+string(r.Status)+" to "+string(next))
	}
	return nil
}

// Variables returns the process variables handed to the workflow backend.
func (r *Request) Variables() map[string]any {
	vars := map[string]any{
		"requestId":     r.ID.String(),
		"requesterId":   r.RequesterID.String(),
		"requesterName": r.RequesterName,
		"kind":          string(r.Kind),
	}
	p := r.Payload
	if p.ManagerID != "" {
		vars["managerId"] = p.ManagerID.String()
	}
	if p.DepartmentID != "" {
		vars["departmentId"] = p.DepartmentID
	}
	switch r.Kind {
	case KindLeave:
		vars["leaveType"] = string(p.LeaveType)
		vars["startDate"] = p.StartDate.Format(time.DateOnly)
		vars["endDate"] = p.EndDate.Format(time.DateOnly)
		vars["days"] = p.Days.String()
		vars["reason"] = p.Reason
	case KindBusiness:
		vars["title"] = p.Title
		vars["amount"] = p.Amount.String()
	}
	return vars
}

// HistoryEntry is one immutable transition record.
type HistoryEntry struct {
	ID           id.HistoryID `json:"id"`
	RequestID    id.RequestID `json:"request_id"`
	Sequence     int          `json:"sequence"`
	ActorID      id.UserID    `json:"actor_id"`
	ActorName    string       `json:"actor_name,omitempty"`
	BeforeStatus Status       `json:"before_status"`
	AfterStatus  Status       `json:"after_status"`
	Action       Action       `json:"action"`
	Comment      string       `json:"comment,omitempty"`
	TaskID       string       `json:"task_id,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}
