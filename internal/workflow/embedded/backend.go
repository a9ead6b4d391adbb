// Package embedded is an in-process workflow backend. Process definitions
// are sequences of approval steps derived from the request kind and
// variables; state is held in memory.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"procflow/internal/approval/models"
	"procflow/internal/approval/ports"
	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
	"procflow/pkg/platform/sentinel"
)

type process struct {
	id          string
	kind        models.Kind
	businessKey string
	vars        map[string]any
	steps       []plannedStep
	current     int
	task        *ports.Task
	outcome     ports.Outcome
}

type plannedStep struct {
	Step
	approver id.UserID
}

func (p *process) done() bool { return p.outcome != ports.OutcomeNone }

// Backend implements ports.WorkflowBackend.
type Backend struct {
	mu        sync.Mutex
	processes map[string]*process
	tasks     map[string]*process
	// byKey finds the process started for a request, making StartProcess
	// safe to retry.
	byKey map[string]*process

	rules     Rules
	directory *Directory
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Backend)

func WithRules(r Rules) Option {
	return func(b *Backend) {
		b.rules = r
	}
}

func WithNotifier(n Notifier) Option {
	return func(b *Backend) {
		b.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

func New(directory *Directory, opts ...Option) *Backend {
	if directory == nil {
		directory = &Directory{}
	}
	b := &Backend{
		processes: make(map[string]*process),
		tasks:     make(map[string]*process),
		byKey:     make(map[string]*process),
		rules:     DefaultRules(),
		directory: directory,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.notifier == nil {
		b.notifier = NewLogNotifier(b.logger)
	}
	return b
}

// StartProcess plans the steps for kind and opens the first task. Steps
// nobody can approve are skipped; a process left without steps ends
// approved. Starting twice for the same requestId returns the first process
// unless it was terminated.
func (b *Backend) StartProcess(ctx context.Context, kind models.Kind, vars map[string]any) (ports.StartResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.StartResult{}, err
	}
	key := stringVar(vars, "requestId")
	if key == "" {
		return ports.StartResult{}, dErrors.New(dErrors.CodeInvalidInput, "requestId variable is required")
	}

	b.mu.Lock()
	if p, ok := b.byKey[key]; ok && p.outcome != ports.OutcomeTerminated {
		res := ports.StartResult{ProcessInstanceID: p.id, Task: copyTask(p.task), Outcome: p.outcome}
		b.mu.Unlock()
		return res, nil
	}

	p := &process{
		id:          uuid.NewString(),
		kind:        kind,
		businessKey: key,
		vars:        maps.Clone(vars),
	}
	var last id.UserID
	for _, step := range b.rules.plan(kind, vars) {
		approver := b.directory.approverFor(step.Role, vars)
		if approver == "" {
			b.logger.WarnContext(ctx, "no approver for step, skipping",
				"request_id", key,
				"step", step.Name,
			)
			continue
		}
		if approver == last {
			continue
		}
		p.steps = append(p.steps, plannedStep{Step: step, approver: approver})
		last = approver
	}

	b.processes[p.id] = p
	b.byKey[key] = p
	var note *Notification
	if len(p.steps) == 0 {
		p.outcome = ports.OutcomeApproved
		n := b.notification(p, "", "approved automatically")
		note = &n
	} else {
		b.openTask(p)
	}
	res := ports.StartResult{ProcessInstanceID: p.id, Task: copyTask(p.task), Outcome: p.outcome}
	b.mu.Unlock()

	if note != nil {
		b.notifier.Notify(ctx, *note)
	}
	return res, nil
}

// CompleteTask applies the decision in the "approved" variable.
func (b *Backend) CompleteTask(ctx context.Context, taskID string, vars map[string]any) (ports.CompleteResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.CompleteResult{}, err
	}
	approved, ok := vars["approved"].(bool)
	if !ok {
		return ports.CompleteResult{}, dErrors.New(dErrors.CodeInvalidInput, "approved variable is required")
	}

	b.mu.Lock()
	p, ok := b.tasks[taskID]
	if !ok {
		b.mu.Unlock()
		return ports.CompleteResult{}, fmt.Errorf("task %s: %w", taskID, sentinel.ErrNotFound)
	}
	delete(b.tasks, taskID)
	maps.Copy(p.vars, vars)
	approver := p.task.AssigneeID
	p.task = nil

	var note *Notification
	switch {
	case !approved:
		p.outcome = ports.OutcomeRejected
	case p.current+1 < len(p.steps):
		p.current++
		b.openTask(p)
	default:
		p.outcome = ports.OutcomeApproved
	}
	if p.done() {
		n := b.notification(p, approver, stringVar(vars, "comment"))
		note = &n
	}
	res := ports.CompleteResult{NextTask: copyTask(p.task), Outcome: p.outcome}
	b.mu.Unlock()

	if note != nil {
		b.notifier.Notify(ctx, *note)
	}
	return res, nil
}

// TerminateProcess ends a running process without a decision.
func (b *Backend) TerminateProcess(ctx context.Context, processInstanceID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.processes[processInstanceID]
	if !ok {
		return fmt.Errorf("process %s: %w", processInstanceID, sentinel.ErrNotFound)
	}
	if p.done() {
		return fmt.Errorf("process %s already ended: %w", processInstanceID, sentinel.ErrInvalidState)
	}
	if p.task != nil {
		delete(b.tasks, p.task.ID)
		p.task = nil
	}
	p.outcome = ports.OutcomeTerminated
	b.logger.InfoContext(ctx, "workflow process terminated",
		"process_instance_id", processInstanceID,
		"reason", reason,
	)
	return nil
}

func (b *Backend) GetTask(ctx context.Context, taskID string) (*ports.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, sentinel.ErrNotFound)
	}
	return copyTask(p.task), nil
}

// openTask creates the task for p's current step. Callers hold b.mu.
func (b *Backend) openTask(p *process) {
	step := p.steps[p.current]
	p.task = &ports.Task{
		ID:                uuid.NewString(),
		ProcessInstanceID: p.id,
		Name:              step.Name,
		AssigneeID:        step.approver,
		CreatedAt:         b.now(),
	}
	b.tasks[p.task.ID] = p
}

func (b *Backend) notification(p *process, approver id.UserID, comment string) Notification {
	return Notification{
		ProcessInstanceID: p.id,
		RequestID:         p.businessKey,
		RequesterID:       id.UserID(stringVar(p.vars, "requesterId")),
		RequesterName:     stringVar(p.vars, "requesterName"),
		Kind:              string(p.kind),
		Title:             stringVar(p.vars, "title"),
		Outcome:           p.outcome,
		ApproverID:        approver,
		Comment:           comment,
	}
}

func copyTask(t *ports.Task) *ports.Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
