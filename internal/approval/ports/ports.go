// Package ports defines the collaborators the approval engine consumes.
package ports

import (
	"context"
	"time"

	"procflow/internal/approval/models"
	id "procflow/pkg/domain"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks WorkflowBackend,IdempotencyStore

// Task is an outstanding approver action in a running process.
type Task struct {
	ID                string
	ProcessInstanceID string
	Name              string
	AssigneeID        id.UserID
	CreatedAt         time.Time
}

// Outcome is how a process ended when it has no further task.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeApproved   Outcome = "approved"
	OutcomeRejected   Outcome = "rejected"
	OutcomeTerminated Outcome = "terminated"
)

// StartResult describes a freshly started process. Task is nil when the
// process finished without needing an approver; Outcome then says how.
type StartResult struct {
	ProcessInstanceID string
	Task              *Task
	Outcome           Outcome
}

// CompleteResult describes the process after a task was completed.
type CompleteResult struct {
	NextTask *Task
	Outcome  Outcome
}

// WorkflowBackend runs approval processes. It decides which task comes next;
// it never owns a request's business status. Unknown tasks and processes are
// reported with sentinel.ErrNotFound.
type WorkflowBackend interface {
	StartProcess(ctx context.Context, kind models.Kind, variables map[string]any) (StartResult, error)
	CompleteTask(ctx context.Context, taskID string, variables map[string]any) (CompleteResult, error)
	TerminateProcess(ctx context.Context, processInstanceID, reason string) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
}

// IdempotencyStore maps caller-supplied submission keys to requests.
type IdempotencyStore interface {
	// Reserve claims key for requestID. When the key is already held it
	// returns the owning request id and false.
	Reserve(ctx context.Context, key string, requestID id.RequestID, ttl time.Duration) (id.RequestID, bool, error)
	// Release drops a reservation whose request was never persisted.
	Release(ctx context.Context, key string) error
}
