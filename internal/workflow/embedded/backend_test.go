package embedded

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procflow/internal/approval/models"
	"procflow/internal/approval/ports"
	"procflow/internal/approval/service"
	"procflow/internal/approval/store/memory"
	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
	"procflow/pkg/platform/sentinel"
)

type capturingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (c *capturingNotifier) Notify(_ context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

func (c *capturingNotifier) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.notes...)
}

func directory() *Directory {
	return &Directory{
		Managers:        map[string]string{"E1": "M1"},
		DepartmentHeads: map[string]string{"ENG": "H1"},
		Finance:         "F1",
	}
}

func leaveVars(requestID, days string) map[string]any {
	return map[string]any{
		"requestId":    requestID,
		"requesterId":  "E1",
		"kind":         "leave",
		"days":         days,
		"departmentId": "ENG",
	}
}

func TestStartProcess_LeaveSteps(t *testing.T) {
	ctx := context.Background()
	b := New(directory(), WithNotifier(&capturingNotifier{}))

	short, err := b.StartProcess(ctx, models.KindLeave, leaveVars("r-1", "3"))
	require.NoError(t, err)
	require.NotNil(t, short.Task)
	assert.Equal(t, id.UserID("M1"), short.Task.AssigneeID)

	done, err := b.CompleteTask(ctx, short.Task.ID, map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Nil(t, done.NextTask)
	assert.Equal(t, ports.OutcomeApproved, done.Outcome)

	long, err := b.StartProcess(ctx, models.KindLeave, leaveVars("r-2", "5"))
	require.NoError(t, err)
	next, err := b.CompleteTask(ctx, long.Task.ID, map[string]any{"approved": true})
	require.NoError(t, err)
	require.NotNil(t, next.NextTask)
	assert.Equal(t, id.UserID("H1"), next.NextTask.AssigneeID)
	assert.Equal(t, ports.OutcomeNone, next.Outcome)
}

func TestStartProcess_BusinessFinanceStep(t *testing.T) {
	ctx := context.Background()
	b := New(directory(), WithRules(Rules{LeaveEscalationDays: 3, FinanceApprovalLimit: decimal.NewFromInt(500)}))

	res, err := b.StartProcess(ctx, models.KindBusiness, map[string]any{
		"requestId": "r-1", "requesterId": "E1", "amount": "750.00",
	})
	require.NoError(t, err)
	next, err := b.CompleteTask(ctx, res.Task.ID, map[string]any{"approved": true})
	require.NoError(t, err)
	require.NotNil(t, next.NextTask)
	assert.Equal(t, id.UserID("F1"), next.NextTask.AssigneeID)
	assert.Equal(t, "Finance approval", next.NextTask.Name)
}

func TestStartProcess_NoApproverAutoApproves(t *testing.T) {
	notes := &capturingNotifier{}
	b := New(&Directory{}, WithNotifier(notes))

	res, err := b.StartProcess(context.Background(), models.KindBusiness, map[string]any{"requestId": "r-1", "requesterId": "E9"})
	require.NoError(t, err)
	assert.Nil(t, res.Task)
	assert.Equal(t, ports.OutcomeApproved, res.Outcome)
	require.Len(t, notes.all(), 1)
	assert.Equal(t, ports.OutcomeApproved, notes.all()[0].Outcome)
}

func TestStartProcess_SameApproverTwiceIsOneStep(t *testing.T) {
	dir := directory()
	dir.DepartmentHeads["ENG"] = "M1"
	b := New(dir)

	res, err := b.StartProcess(context.Background(), models.KindLeave, leaveVars("r-1", "10"))
	require.NoError(t, err)
	done, err := b.CompleteTask(context.Background(), res.Task.ID, map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApproved, done.Outcome)
}

func TestStartProcess_IsRetrySafe(t *testing.T) {
	ctx := context.Background()
	b := New(directory())

	first, err := b.StartProcess(ctx, models.KindLeave, leaveVars("r-1", "1"))
	require.NoError(t, err)
	again, err := b.StartProcess(ctx, models.KindLeave, leaveVars("r-1", "1"))
	require.NoError(t, err)
	assert.Equal(t, first.ProcessInstanceID, again.ProcessInstanceID)
	assert.Equal(t, first.Task.ID, again.Task.ID)

	require.NoError(t, b.TerminateProcess(ctx, first.ProcessInstanceID, "test"))
	fresh, err := b.StartProcess(ctx, models.KindLeave, leaveVars("r-1", "1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ProcessInstanceID, fresh.ProcessInstanceID)

	_, err = b.StartProcess(ctx, models.KindLeave, map[string]any{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestCompleteTask_RejectNotifies(t *testing.T) {
	ctx := context.Background()
	notes := &capturingNotifier{}
	b := New(directory(), WithNotifier(notes))

	res, err := b.StartProcess(ctx, models.KindLeave, leaveVars("r-1", "5"))
	require.NoError(t, err)
	done, err := b.CompleteTask(ctx, res.Task.ID, map[string]any{"approved": false, "comment": "busy week"})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeRejected, done.Outcome)
	assert.Nil(t, done.NextTask)

	require.Len(t, notes.all(), 1)
	note := notes.all()[0]
	assert.Equal(t, "r-1", note.RequestID)
	assert.Equal(t, id.UserID("M1"), note.ApproverID)
	assert.Equal(t, "busy week", note.Comment)

	_, err = b.CompleteTask(ctx, res.Task.ID, map[string]any{"approved": true})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = b.GetTask(ctx, res.Task.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestTerminateProcess(t *testing.T) {
	ctx := context.Background()
	b := New(directory())

	res, err := b.StartProcess(ctx, models.KindLeave, leaveVars("r-1", "1"))
	require.NoError(t, err)
	task, err := b.GetTask(ctx, res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, id.UserID("M1"), task.AssigneeID)

	require.NoError(t, b.TerminateProcess(ctx, res.ProcessInstanceID, "cancelled"))
	_, err = b.GetTask(ctx, res.Task.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.ErrorIs(t, b.TerminateProcess(ctx, res.ProcessInstanceID, "again"), sentinel.ErrInvalidState)
	assert.ErrorIs(t, b.TerminateProcess(ctx, "nope", "x"), sentinel.ErrNotFound)
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
managers:
  E1: M1
department_heads:
  ENG: H1
finance: F1
`), 0o600))

	dir, err := LoadDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, "M1", dir.Managers["E1"])
	assert.Equal(t, "H1", dir.DepartmentHeads["ENG"])
	assert.Equal(t, "F1", dir.Finance)

	t.Setenv("WORKFLOW_DEFAULT_APPROVER", "ADMIN")
	fromEnv, err := LoadDirectory("")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", fromEnv.DefaultApprover)
}

// Runs a leave request through the engine against this backend.
func TestEngineWithEmbeddedBackend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 2, 28, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	notes := &capturingNotifier{}
	engine := service.New(store, store, New(directory(), WithNotifier(notes)),
		service.WithClock(func() time.Time { return now }))

	r, err := engine.Submit(ctx, models.SubmitRequest{
		RequesterID:  "E1",
		Kind:         models.KindLeave,
		LeaveType:    models.LeaveAnnual,
		StartDate:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		DepartmentID: "ENG",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, r.Status)
	assert.Equal(t, id.UserID("M1"), r.CurrentApproverID)

	approved, err := engine.Decide(ctx, models.DecideRequest{
		RequestID: r.ID, ActorID: "M1", Action: models.ActionApprove, TaskID: r.CurrentTaskID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Empty(t, approved.ProcessInstanceID)

	require.Len(t, notes.all(), 1)
	assert.Equal(t, r.ID.String(), notes.all()[0].RequestID)
}
