package engine

import (
	"context"
	"fmt"

	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/scope"
	"github.com/google/uuid"
)

// NewEmployee is the input to AddEmployee. ManagerIDs only applies to
// staff; provisioning links the new row to those managers in the same
// action.
type NewEmployee struct {
	Name       string
	Email      string
	Mobile     string
	Role       model.Role
	ManagerIDs []string
}

// EmployeeOutcome reports how far an employee write got, mirroring
// Outcome for tasks.
type EmployeeOutcome struct {
	Employee    model.Employee
	RemoteSaved bool
	Warning     string
}

// AddEmployee provisions an employee in the active tenant. Managers may
// only add staff, and staff they add are linked to them so the new hire
// lands in their visible roster immediately.
func (e *Engine) AddEmployee(ctx context.Context, in NewEmployee) (EmployeeOutcome, error) {
	if err := e.requireRole("add employees", model.RoleManager, model.RoleOwner, model.RoleSuperAdmin); err != nil {
		return EmployeeOutcome{}, err
	}

	role := in.Role
	if role == "" {
		role = model.RoleStaff
	}
	if e.current.Role == model.RoleManager && role != model.RoleStaff {
		return EmployeeOutcome{}, &PolicyError{Action: fmt.Sprintf("add a %s", role), Role: e.current.Role}
	}

	_, employees, err := e.loadState(ctx)
	if err != nil {
		return EmployeeOutcome{}, err
	}

	var links []string
	if role == model.RoleStaff {
		links = append(links, in.ManagerIDs...)
		if e.current.Role == model.RoleManager && !containsID(links, e.current.ID) {
			links = append(links, e.current.ID)
		}
		for _, id := range links {
			mgr, ok := employeeByID(employees, id)
			if !ok {
				return EmployeeOutcome{}, &model.ValidationError{Field: "managerIds", Reason: fmt.Sprintf("no such employee %s", id)}
			}
			if mgr.Role != model.RoleManager {
				return EmployeeOutcome{}, &model.ValidationError{Field: "managerIds", Reason: fmt.Sprintf("%s is not a manager", id)}
			}
		}
	}

	emp := model.Employee{
		ID:         uuid.NewString(),
		CompanyID:  e.TenantID(),
		Name:       in.Name,
		Email:      in.Email,
		Mobile:     in.Mobile,
		Role:       role,
		ManagerIDs: links,
	}
	if err := emp.Validate(); err != nil {
		return EmployeeOutcome{}, err
	}

	if err := e.snaps.PutEmployees(ctx, e.TenantID(), append(employees, emp)); err != nil {
		return EmployeeOutcome{}, err
	}

	out := EmployeeOutcome{Employee: emp}
	res, werr := e.writer.InsertEmployee(ctx, emp)
	if werr != nil {
		e.logger.Printf("employee %s saved locally only, backend write failed: %v", emp.ID, werr)
	} else {
		out.RemoteSaved = true
		if res.Degraded() {
			out.Warning = res.Warning()
			e.logger.Printf("employee %s: %s", emp.ID, out.Warning)
		}
	}
	return out, nil
}

// RemoveEmployee deprovisions an employee. Their tasks are left as they
// are; assignment history keeps pointing at the removed id.
func (e *Engine) RemoveEmployee(ctx context.Context, id string) error {
	if err := e.requireRole("remove employees", model.RoleManager, model.RoleOwner, model.RoleSuperAdmin); err != nil {
		return err
	}
	if id == e.current.ID {
		return &model.ValidationError{Field: "id", Reason: "cannot remove the signed-in user"}
	}

	tasks, employees, err := e.loadState(ctx)
	if err != nil {
		return err
	}
	target, ok := employeeByID(employees, id)
	if !ok {
		return fmt.Errorf("employee %s: %w", id, ErrNotFound)
	}
	if e.current.Role == model.RoleManager {
		if target.Role != model.RoleStaff || !e.seesEmployee(target, tasks, employees) {
			return &PolicyError{Action: "remove this employee", Role: e.current.Role}
		}
	}

	kept := make([]model.Employee, 0, len(employees)-1)
	for _, emp := range employees {
		if emp.ID != id {
			kept = append(kept, emp)
		}
	}
	if err := e.snaps.PutEmployees(ctx, e.TenantID(), kept); err != nil {
		return err
	}

	if err := e.client.DeleteEmployee(ctx, e.TenantID(), id); err != nil {
		e.logger.Printf("employee %s removed locally only, backend delete failed: %v", id, err)
	}
	return nil
}

// Links exposes the tenant's staff-manager edges, legacy pointers
// included.
func (e *Engine) Links(ctx context.Context) ([]model.StaffManagerLink, error) {
	_, employees, err := e.loadState(ctx)
	if err != nil {
		return nil, err
	}
	return model.Links(employees), nil
}

// seesEmployee reports whether the current user's visibility scope
// includes the target.
func (e *Engine) seesEmployee(target model.Employee, tasks []model.Task, employees []model.Employee) bool {
	for _, emp := range scope.Visible(employees, tasks, e.current) {
		if emp.ID == target.ID {
			return true
		}
	}
	return false
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
