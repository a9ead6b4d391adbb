package embedded

import (
	"github.com/shopspring/decimal"

	"procflow/internal/approval/models"
)

// Role is the organisational role that approves a step.
type Role string

const (
	RoleManager        Role = "manager"
	RoleDepartmentHead Role = "department_head"
	RoleFinance        Role = "finance"
)

// Step is one approval stage of a process definition.
type Step struct {
	Name string
	Role Role
}

// Rules are the thresholds that add escalation steps.
type Rules struct {
	// LeaveEscalationDays: leave longer than this also needs the department head.
	LeaveEscalationDays int
	// FinanceApprovalLimit: business amounts above this also need finance.
	FinanceApprovalLimit decimal.Decimal
}

// DefaultRules mirror the server configuration defaults.
func DefaultRules() Rules {
	return Rules{
		LeaveEscalationDays:  3,
		FinanceApprovalLimit: decimal.NewFromInt(10000),
	}
}

// plan returns the steps a process of kind must pass, in order.
func (r Rules) plan(kind models.Kind, vars map[string]any) []Step {
	steps := []Step{{Name: "Manager approval", Role: RoleManager}}
	switch kind {
	case models.KindLeave:
		if days, ok := decimalVar(vars, "days"); ok && days.GreaterThan(decimal.NewFromInt(int64(r.LeaveEscalationDays))) {
			steps = append(steps, Step{Name: "Department head approval", Role: RoleDepartmentHead})
		}
	case models.KindBusiness:
		if amount, ok := decimalVar(vars, "amount"); ok && amount.GreaterThan(r.FinanceApprovalLimit) {
			steps = append(steps, Step{Name: "Finance approval", Role: RoleFinance})
		}
	}
	return steps
}

func decimalVar(vars map[string]any, key string) (decimal.Decimal, bool) {
	switch v := vars[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case decimal.Decimal:
		return v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case float64:
		return decimal.NewFromFloat(v), true
	default:
		return decimal.Zero, false
	}
}
