package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SubmitRequest is the input of Engine.Submit.
type SubmitRequest struct {
	RequesterID    id.UserID `json:"-" validate:"required"`
	RequesterName  string    `json:"-" validate:"max=128"`
	Kind           Kind      `json:"kind" validate:"required,oneof=leave business"`
	IdempotencyKey string    `json:"idempotency_key" validate:"omitempty,max=128"`

	LeaveType LeaveType       `json:"leave_type" validate:"required_if=Kind leave,omitempty,oneof=ANNUAL SICK PERSONAL MATERNITY PATERNITY MARRIAGE BEREAVEMENT COMPENSATORY OTHER"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	Days      decimal.Decimal `json:"days"`
	Reason    string          `json:"reason" validate:"max=1000"`

	Title         string          `json:"title" validate:"required_if=Kind business,max=200"`
	Description   string          `json:"description" validate:"max=4000"`
	Amount        decimal.Decimal `json:"amount"`
	AttachmentRef string          `json:"attachment_ref" validate:"omitempty,max=512"`

	ManagerID    id.UserID `json:"manager_id" validate:"max=128"`
	DepartmentID string    `json:"department_id" validate:"max=64"`
}

// Normalize trims and canonicalizes user input before validation.
func (r *SubmitRequest) Normalize() {
	r.RequesterName = strings.TrimSpace(r.RequesterName)
	r.Kind = Kind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.LeaveType = LeaveType(strings.ToUpper(strings.TrimSpace(string(r.LeaveType))))
	r.Reason = strings.TrimSpace(r.Reason)
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.DepartmentID = strings.TrimSpace(r.DepartmentID)
	if r.Kind == KindLeave {
		r.StartDate = dateOnly(r.StartDate)
		r.EndDate = dateOnly(r.EndDate)
		if r.Days.IsZero() && !r.StartDate.IsZero() && !r.EndDate.IsZero() && !r.EndDate.Before(r.StartDate) {
			r.Days = decimal.NewFromInt(int64(r.EndDate.Sub(r.StartDate).Hours()/24) + 1)
		}
	}
}

// Validate checks the request against today's date.
func (r *SubmitRequest) Validate(today time.Time) error {
	if err := validate.Struct(r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, validationMessage(err))
	}
	switch r.Kind {
	case KindLeave:
		if r.StartDate.IsZero() || r.EndDate.IsZero() {
			return dErrors.New(dErrors.CodeValidation, "start_date and end_date are required")
		}
		if r.EndDate.Before(r.StartDate) {
			return dErrors.New(dErrors.CodeValidation, "start_date must not be after end_date")
		}
		if r.StartDate.Before(dateOnly(today)) {
			return dErrors.New(dErrors.CodeValidation, "start_date must not be in the past")
		}
		if !r.Days.IsPositive() {
			return dErrors.New(dErrors.CodeValidation, "days must be positive")
		}
	case KindBusiness:
		if r.Amount.IsNegative() {
			return dErrors.New(dErrors.CodeValidation, "amount must not be negative")
		}
	}
	return nil
}

// Payload extracts the stored payload.
func (r *SubmitRequest) Payload() Payload {
	p := Payload{
		AttachmentRef: r.AttachmentRef,
		ManagerID:     r.ManagerID,
		DepartmentID:  r.DepartmentID,
	}
	switch r.Kind {
	case KindLeave:
		p.LeaveType = r.LeaveType
		p.StartDate = r.StartDate
		p.EndDate = r.EndDate
		p.Days = r.Days
		p.Reason = r.Reason
	case KindBusiness:
		p.Title = r.Title
		p.Description = r.Description
		p.Amount = r.Amount
	}
	return p
}

// DecideRequest is the input of Engine.Decide.
type DecideRequest struct {
	RequestID id.RequestID `json:"-"`
	ActorID   id.UserID    `json:"-" validate:"required"`
	ActorName string       `json:"-"`
	Action    Action       `json:"action" validate:"required,oneof=approve reject"`
	Comment   string       `json:"comment" validate:"max=1000"`
	TaskID    string       `json:"task_id" validate:"required,max=128"`
}

func (r *DecideRequest) Normalize() {
	r.Action = Action(strings.ToLower(strings.TrimSpace(string(r.Action))))
	r.Comment = strings.TrimSpace(r.Comment)
	r.TaskID = strings.TrimSpace(r.TaskID)
}

func (r *DecideRequest) Validate() error {
	if r.RequestID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "request id is required")
	}
	if err := validate.Struct(r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", jsonName(fe.Field()))
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", jsonName(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", jsonName(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", jsonName(fe.Field()))
	}
}

// jsonName converts a Go field name to the snake_case wire name.
func jsonName(field string) string {
	var b strings.Builder
	var prev rune
	for _, r := range field {
		if unicode.IsUpper(r) && unicode.IsLower(prev) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
		prev = r
	}
	return b.String()
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
