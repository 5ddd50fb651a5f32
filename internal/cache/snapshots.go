package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewsync/crewsync/internal/model"
)

// Key namespaces. Tenant and user ids are embedded in the key so two
// accounts sharing a machine never read each other's snapshots.
const (
	keyProfile = "profile"
)

func keyEmployees(tenantID string) string { return "employees/" + tenantID }
func keyTasks(tenantID string) string     { return "tasks/" + tenantID }
func keyLastSeen(userID string) string    { return "lastSeen/" + userID }
func keyDraft(userID string) string       { return "draft/" + userID }

// TaskDraft is unsent task-form state, persisted so an interrupted
// `task add` can resume. It deliberately carries picker state only;
// free-text description does not survive a restart.
type TaskDraft struct {
	AssignedTo   string          `json:"assignedTo,omitempty"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
	TaskType     model.TaskType  `json:"taskType,omitempty"`
	Frequency    model.Frequency `json:"frequency,omitempty"`
	RequirePhoto bool            `json:"requirePhoto,omitempty"`
	SavedAt      time.Time       `json:"savedAt"`
}

// Snapshots is the typed snapshot API over a Store. All methods replace
// or return whole snapshots; there is no partial merge at this layer.
type Snapshots struct {
	store Store
}

// NewSnapshots wraps a Store with the typed snapshot API.
func NewSnapshots(store Store) *Snapshots {
	return &Snapshots{store: store}
}

// Store returns the underlying byte store.
func (s *Snapshots) Store() Store {
	return s.store
}

// Profile returns the cached signed-in employee, or nil if none is cached.
func (s *Snapshots) Profile(ctx context.Context) (*model.Employee, error) {
	raw, ok, err := s.store.Get(ctx, keyProfile)
	if err != nil || !ok {
		return nil, err
	}
	var e model.Employee
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return &e, nil
}

// PutProfile caches the signed-in employee.
func (s *Snapshots) PutProfile(ctx context.Context, e model.Employee) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return s.store.Put(ctx, keyProfile, raw)
}

// Employees returns the cached employee snapshot for tenantID. Rows whose
// company does not match tenantID are dropped on read; a tenant mismatch
// in the cache must never surface.
func (s *Snapshots) Employees(ctx context.Context, tenantID string) ([]model.Employee, error) {
	raw, ok, err := s.store.Get(ctx, keyEmployees(tenantID))
	if err != nil || !ok {
		return nil, err
	}
	var all []model.Employee
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("failed to decode employee snapshot: %w", err)
	}
	out := all[:0]
	for _, e := range all {
		if e.CompanyID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

// PutEmployees replaces the employee snapshot for tenantID.
func (s *Snapshots) PutEmployees(ctx context.Context, tenantID string, employees []model.Employee) error {
	raw, err := json.Marshal(employees)
	if err != nil {
		return fmt.Errorf("failed to encode employee snapshot: %w", err)
	}
	return s.store.Put(ctx, keyEmployees(tenantID), raw)
}

// Tasks returns the cached task snapshot for tenantID, with the same
// tenant re-filter as Employees.
func (s *Snapshots) Tasks(ctx context.Context, tenantID string) ([]model.Task, error) {
	raw, ok, err := s.store.Get(ctx, keyTasks(tenantID))
	if err != nil || !ok {
		return nil, err
	}
	var all []model.Task
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("failed to decode task snapshot: %w", err)
	}
	out := all[:0]
	for _, t := range all {
		if t.CompanyID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

// PutTasks replaces the task snapshot for tenantID.
func (s *Snapshots) PutTasks(ctx context.Context, tenantID string, tasks []model.Task) error {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to encode task snapshot: %w", err)
	}
	return s.store.Put(ctx, keyTasks(tenantID), raw)
}

// LastSeen returns when userID last viewed the task list, or the zero
// time if never recorded.
func (s *Snapshots) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	raw, ok, err := s.store.Get(ctx, keyLastSeen(userID))
	if err != nil || !ok {
		return time.Time{}, err
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode lastSeen: %w", err)
	}
	return t, nil
}

// PutLastSeen records when userID last viewed the task list.
func (s *Snapshots) PutLastSeen(ctx context.Context, userID string, t time.Time) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode lastSeen: %w", err)
	}
	return s.store.Put(ctx, keyLastSeen(userID), raw)
}

// Draft returns userID's unsent task draft, or nil if none exists.
func (s *Snapshots) Draft(ctx context.Context, userID string) (*TaskDraft, error) {
	raw, ok, err := s.store.Get(ctx, keyDraft(userID))
	if err != nil || !ok {
		return nil, err
	}
	var d TaskDraft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode task draft: %w", err)
	}
	return &d, nil
}

// PutDraft saves userID's task draft.
func (s *Snapshots) PutDraft(ctx context.Context, userID string, d TaskDraft) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode task draft: %w", err)
	}
	return s.store.Put(ctx, keyDraft(userID), raw)
}

// DeleteDraft discards userID's task draft. Called after a successful
// submit.
func (s *Snapshots) DeleteDraft(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, keyDraft(userID))
}

// ClearAll wipes every snapshot. Called when the signed-in identity
// changes, before the first fetch as the new user.
func (s *Snapshots) ClearAll(ctx context.Context) error {
	return s.store.Clear(ctx)
}
