package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "procflow/pkg/domain-errors"
)

func TestStatusTransitions(t *testing.T) {
	reachable := map[Status][]Status{
		StatusPending:    {StatusInProgress, StatusApproved, StatusRejected, StatusCancelled},
		StatusInProgress: {StatusInProgress, StatusApproved, StatusRejected, StatusCancelled},
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := false
			for _, r := range reachable[from] {
				if r == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
}

func TestParseEnums(t *testing.T) {
	st, err := ParseStatus(" in_progress ")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("DONE")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	k, err := ParseKind("Leave")
	require.NoError(t, err)
	assert.Equal(t, KindLeave, k)

	_, err = ParseDecision("cancel")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestRequestResolveClearsWorkflowLinks(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &Request{Status: StatusPending, ProcessInstanceID: "proc-1"}
	require.NoError(t, r.AssignTask("task-1", "M1", now))
	assert.Equal(t, StatusInProgress, r.Status)

	require.NoError(t, r.Resolve(StatusApproved, "M1", "ok", now))
	assert.Empty(t, r.ProcessInstanceID)
	assert.Empty(t, r.CurrentTaskID)
	assert.Empty(t, r.CurrentApproverID)
	require.NotNil(t, r.FinalDecisionAt)
	assert.Equal(t, "M1", r.FinalApproverID.String())

	err := r.Resolve(StatusCancelled, "E1", "", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	assert.Equal(t, StatusApproved, r.Status)
}

func TestSubmitRequestValidation(t *testing.T) {
	today := time.Date(2024, 2, 28, 15, 0, 0, 0, time.UTC)
	valid := func() SubmitRequest {
		return SubmitRequest{
			RequesterID: "E1",
			Kind:        "Leave",
			LeaveType:   "annual",
			StartDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
			Reason:      " trip ",
		}
	}

	r := valid()
	r.Normalize()
	require.NoError(t, r.Validate(today))
	assert.True(t, decimal.NewFromInt(3).Equal(r.Days))
	assert.Equal(t, "trip", r.Reason)
	assert.Equal(t, LeaveAnnual, r.LeaveType)

	cases := map[string]func(*SubmitRequest){
		"missing requester":  func(r *SubmitRequest) { r.RequesterID = "" },
		"unknown kind":       func(r *SubmitRequest) { r.Kind = "travel" },
		"missing leave type": func(r *SubmitRequest) { r.LeaveType = "" },
		"end before start": func(r *SubmitRequest) {
			r.EndDate = time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
		},
		"start in past": func(r *SubmitRequest) {
			r.StartDate = time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)
		},
		"negative days": func(r *SubmitRequest) { r.Days = decimal.NewFromInt(-1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := valid()
			mutate(&r)
			r.Normalize()
			err := r.Validate(today)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestSubmitRequestValidationMessages(t *testing.T) {
	r := SubmitRequest{RequesterID: "E1", Kind: KindBusiness}
	r.Normalize()
	err := r.Validate(time.Now())
	require.Error(t, err)
	assert.Equal(t, "title is required", dErrors.MessageOf(err))

	r = SubmitRequest{Kind: KindBusiness, Title: "Laptop"}
	err = r.Validate(time.Now())
	assert.Equal(t, "requester_id is required", dErrors.MessageOf(err))
}

func TestDecideRequestValidation(t *testing.T) {
	r := DecideRequest{ActorID: "M1", Action: " APPROVE ", TaskID: "t1"}
	r.Normalize()
	err := r.Validate()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "request id missing")

	r.RequestID[0] = 1
	require.NoError(t, r.Validate())

	r.Action = ActionCancel
	assert.Error(t, r.Validate())
}

func TestRequestVariables(t *testing.T) {
	r := &Request{
		RequesterID: "E1",
		Kind:        KindBusiness,
		Payload:     Payload{Title: "Laptop", Amount: decimal.RequireFromString("12000.50"), ManagerID: "M1"},
	}
	vars := r.Variables()
	assert.Equal(t, "12000.5", vars["amount"])
	assert.Equal(t, "M1", vars["managerId"])
	assert.Equal(t, "business", vars["kind"])
	assert.NotContains(t, vars, "leaveType")
}
