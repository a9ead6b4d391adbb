package embedded

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"

	id "procflow/pkg/domain"
)

// Directory resolves who approves which step. It is read from a YAML or
// JSON file; the finance and fallback approvers may also come from the
// environment.
type Directory struct {
	// Managers maps a requester to their line manager.
	Managers map[string]string `yaml:"managers" json:"managers"`
	// DepartmentHeads maps a department id to its head.
	DepartmentHeads map[string]string `yaml:"department_heads" json:"department_heads"`
	Finance         string            `yaml:"finance" json:"finance" env:"WORKFLOW_FINANCE_APPROVER"`
	DefaultApprover string            `yaml:"default_approver" json:"default_approver" env:"WORKFLOW_DEFAULT_APPROVER"`
}

// LoadDirectory reads the directory at path, or only the environment when
// path is empty.
func LoadDirectory(path string) (*Directory, error) {
	d := &Directory{}
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(d)
	} else {
		err = cleanenv.ReadConfig(path, d)
	}
	if err != nil {
		return nil, fmt.Errorf("read approver directory: %w", err)
	}
	return d, nil
}

// approverFor returns the assignee of role for a process, or "" when nobody
// holds it.
func (d *Directory) approverFor(role Role, vars map[string]any) id.UserID {
	var approver string
	switch role {
	case RoleManager:
		approver = stringVar(vars, "managerId")
		if approver == "" {
			approver = d.Managers[stringVar(vars, "requesterId")]
		}
	case RoleDepartmentHead:
		approver = d.DepartmentHeads[stringVar(vars, "departmentId")]
	case RoleFinance:
		approver = d.Finance
	}
	if approver == "" && role == RoleManager {
		approver = d.DefaultApprover
	}
	return id.UserID(approver)
}

func stringVar(vars map[string]any, key string) string {
	s, _ := vars[key].(string)
	return s
}
