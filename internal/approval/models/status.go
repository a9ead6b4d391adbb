package models

import (
	"fmt"
	"slices"
	"strings"

	dErrors "procflow/pkg/domain-errors"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusCancelled  Status = "CANCELLED"
)

var statuses = []Status{StatusPending, StatusInProgress, StatusApproved, StatusRejected, StatusCancelled}

// transitions lists every reachable edge. IN_PROGRESS -> IN_PROGRESS is a
// hand-off between steps of a multi-step process.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusApproved, StatusRejected, StatusCancelled},
	StatusInProgress: {StatusInProgress, StatusApproved, StatusRejected, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(statuses, st) {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// IsOpen reports whether the request can still be decided or cancelled.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusInProgress
}

func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

func (s Status) String() string { return string(s) }

// Kind discriminates the payload of a request.
type Kind string

const (
	KindLeave    Kind = "leave"
	KindBusiness Kind = "business"
)

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k != KindLeave && k != KindBusiness {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown request kind %q", s))
	}
	return k, nil
}

// Action is what a history entry records.
type Action string

const (
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionCancel        Action = "cancel"
	ActionSystemAdvance Action = "system-advance"
)

// ParseDecision accepts only the actions an approver may take.
func ParseDecision(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if a != ActionApprove && a != ActionReject {
		return "", dErrors.New(dErrors.CodeValidation, "action must be approve or reject")
	}
	return a, nil
}

// LeaveType classifies leave requests.
type LeaveType string

const (
	LeaveAnnual       LeaveType = "ANNUAL"
	LeaveSick         LeaveType = "SICK"
	LeavePersonal     LeaveType = "PERSONAL"
	LeaveMaternity    LeaveType = "MATERNITY"
	LeavePaternity    LeaveType = "PATERNITY"
	LeaveMarriage     LeaveType = "MARRIAGE"
	LeaveBereavement  LeaveType = "BEREAVEMENT"
	LeaveCompensatory LeaveType = "COMPENSATORY"
	LeaveOther        LeaveType = "OTHER"
)
