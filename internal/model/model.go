// Package model defines the task and employee entities shared by the
// cache, engine, and remote layers.
//
// All entities are tenant-scoped: every Task and Employee carries the
// CompanyID of exactly one tenant, and no layer may move a row across that
// boundary. The structs here are the canonical in-process shape; the wire
// (snake_case) shape exists only inside the remote codec.
package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Role is an employee's role within a company.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleManager    Role = "manager"
	RoleStaff      Role = "staff"
	RoleSuperAdmin Role = "super_admin"
)

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleStaff, RoleSuperAdmin:
		return true
	}
	return false
}

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// TaskType distinguishes one-shot tasks from recurring ones.
type TaskType string

const (
	TypeOneTime   TaskType = "one_time"
	TypeRecurring TaskType = "recurring"
)

// IsValid reports whether the task type is one of the known values.
func (t TaskType) IsValid() bool {
	return t == TypeOneTime || t == TypeRecurring
}

// Frequency is a recurring task's repeat interval. The zero value means
// "no recurrence" and is only legal on one-time tasks.
type Frequency string

const (
	FreqNone    Frequency = ""
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// IsValid reports whether the frequency is one of the known non-empty values.
func (f Frequency) IsValid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly:
		return true
	}
	return false
}

// Proof records the completion evidence attached to a completed task.
// ImageURL is the opaque reference returned by the object-storage
// collaborator and is used verbatim.
type Proof struct {
	ImageURL  string
	Timestamp time.Time
}

// Remark is an append-only progress note on a task. EmployeeName is a
// denormalized snapshot taken when the remark was written; it is never
// re-resolved against the employee row afterwards.
type Remark struct {
	ID           string
	TaskID       string
	EmployeeID   string
	EmployeeName string
	Remark       string
	Timestamp    time.Time
}

// Task is the canonical task entity.
type Task struct {
	ID          string
	CompanyID   string
	Description string
	Status      Status
	Type        TaskType

	// Frequency is non-empty iff Type == TypeRecurring.
	Frequency Frequency

	// NextRecurrenceAt is the next reminder instant for recurring tasks.
	NextRecurrenceAt *time.Time

	CreatedAt time.Time

	// UpdatedAt is the backend's row-update timestamp. Older backends do
	// not report it for pure status transitions, so it may be zero; the
	// activity ordering compensates with a local bump marker.
	UpdatedAt time.Time

	Deadline     *time.Time
	CompletedAt  *time.Time
	Proof        *Proof
	RequirePhoto bool

	// AssignedTo is the assignee's employee id, empty when unassigned.
	AssignedTo string
	// AssignedBy is the creating employee's id.
	AssignedBy string

	// ParentTaskID links a sub-task to its parent, one level deep.
	ParentTaskID string

	// Remarks is append-only and ordered ascending by timestamp.
	Remarks []Remark
}

// ValidationError reports input rejected before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the task's field values and cross-field invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if t.CompanyID == "" {
		return &ValidationError{Field: "companyId", Reason: "required"}
	}
	if t.Description == "" {
		return &ValidationError{Field: "description", Reason: "required"}
	}
	if !t.Status.IsValid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", t.Status)}
	}
	if !t.Type.IsValid() {
		return &ValidationError{Field: "taskType", Reason: fmt.Sprintf("unknown type %q", t.Type)}
	}
	if t.Type == TypeRecurring && !t.Frequency.IsValid() {
		return &ValidationError{Field: "recurrenceFrequency", Reason: "required for recurring tasks"}
	}
	if t.Type == TypeOneTime && t.Frequency != FreqNone {
		return &ValidationError{Field: "recurrenceFrequency", Reason: "must be empty for one-time tasks"}
	}
	if t.Status != StatusCompleted && (t.CompletedAt != nil || t.Proof != nil) {
		return &ValidationError{Field: "status", Reason: "completedAt/proof set on a non-completed task"}
	}
	if t.CreatedAt.IsZero() {
		return &ValidationError{Field: "createdAt", Reason: "required"}
	}
	return nil
}

// Validate checks the remark's field values.
func (r *Remark) Validate() error {
	if r.TaskID == "" {
		return &ValidationError{Field: "taskId", Reason: "required"}
	}
	if r.Remark == "" {
		return &ValidationError{Field: "remark", Reason: "required"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}
	return nil
}

// SortRemarks orders remarks ascending by timestamp, the only order the
// remark list is ever stored or displayed in.
func SortRemarks(remarks []Remark) {
	sort.SliceStable(remarks, func(i, j int) bool {
		return remarks[i].Timestamp.Before(remarks[j].Timestamp)
	})
}

// Employee is the canonical employee entity.
type Employee struct {
	ID        string
	CompanyID string
	Name      string
	Email     string
	Mobile    string
	Role      Role

	// Points is the running completion-award balance, never negative.
	Points int

	// AuthUserID references the external identity provider's user record,
	// empty until the employee has logged in at least once.
	AuthUserID string

	// ManagerID is the legacy single-manager pointer. Rows created before
	// multi-manager links existed carry only this.
	ManagerID string

	// ManagerIDs holds the many-to-many manager links that supersede
	// ManagerID. Staff provisioned through the current pipeline always
	// have their links here.
	ManagerIDs []string
}

// Validate checks the employee's field values.
func (e *Employee) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if e.CompanyID == "" {
		return &ValidationError{Field: "companyId", Reason: "required"}
	}
	if e.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if !e.Role.IsValid() {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", e.Role)}
	}
	if e.Points < 0 {
		return &ValidationError{Field: "points", Reason: "must not be negative"}
	}
	return nil
}

// HasManagerLink reports whether the employee has any manager link at all,
// explicit or legacy. Rows without one predate manager linking and fall
// back to assignment-history inference in the visibility scope.
func (e *Employee) HasManagerLink() bool {
	return e.ManagerID != "" || len(e.ManagerIDs) > 0
}

// LinkedTo reports whether managerID is one of the employee's managers,
// checking both the link list and the legacy pointer.
func (e *Employee) LinkedTo(managerID string) bool {
	if e.ManagerID == managerID && managerID != "" {
		return true
	}
	for _, id := range e.ManagerIDs {
		if id == managerID {
			return true
		}
	}
	return false
}

// StaffManagerLink is one staff-to-manager edge. The edges are carried on
// the employee row over the wire but treated as a first-class relation by
// provisioning and the visibility scope.
type StaffManagerLink struct {
	CompanyID string
	StaffID   string
	ManagerID string
}

// Links expands the manager links of every employee in the slice into
// explicit edges. Legacy ManagerID pointers are included so callers see a
// uniform relation.
func Links(employees []Employee) []StaffManagerLink {
	var links []StaffManagerLink
	for _, e := range employees {
		seen := make(map[string]bool)
		for _, m := range e.ManagerIDs {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			links = append(links, StaffManagerLink{CompanyID: e.CompanyID, StaffID: e.ID, ManagerID: m})
		}
		if e.ManagerID != "" && !seen[e.ManagerID] {
			links = append(links, StaffManagerLink{CompanyID: e.CompanyID, StaffID: e.ID, ManagerID: e.ManagerID})
		}
	}
	return links
}

// Clone returns a deep copy of the task. The engine hands copies to the
// cache so later mutation of the returned value cannot alias cached state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.NextRecurrenceAt != nil {
		v := *t.NextRecurrenceAt
		cp.NextRecurrenceAt = &v
	}
	if t.Deadline != nil {
		v := *t.Deadline
		cp.Deadline = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.Proof != nil {
		v := *t.Proof
		cp.Proof = &v
	}
	if t.Remarks != nil {
		cp.Remarks = make([]Remark, len(t.Remarks))
		copy(cp.Remarks, t.Remarks)
	}
	return &cp
}

// Clone returns a deep copy of the employee.
func (e *Employee) Clone() *Employee {
	cp := *e
	if e.ManagerIDs != nil {
		cp.ManagerIDs = make([]string, len(e.ManagerIDs))
		copy(cp.ManagerIDs, e.ManagerIDs)
	}
	return &cp
}
