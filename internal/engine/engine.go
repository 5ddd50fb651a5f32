// Package engine applies mutations the way the app promises them: local
// first, backend second, never rolled back.
//
// Every write lands in the snapshot cache before the backend hears about
// it, so the UI reflects the change immediately and offline periods cost
// nothing but staleness. A failed backend write is logged and the
// optimistic state kept; reconciliation trues things up when the change
// stream or the next refresh brings canonical rows. There is no conflict
// detection: last write wins, and the cache never argues with the
// backend once canonical data arrives.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/crewsync/crewsync/internal/cache"
	"github.com/crewsync/crewsync/internal/drift"
	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/notify"
	"github.com/crewsync/crewsync/internal/proof"
	"github.com/crewsync/crewsync/internal/remote"
	"github.com/crewsync/crewsync/internal/scope"
)

// ErrNotFound is returned when a mutation addresses a task or employee
// the cache does not hold.
var ErrNotFound = errors.New("not found")

// PolicyError means the signed-in role may not perform the action. The
// backend would also reject it; failing locally keeps the cache honest.
type PolicyError struct {
	Action string
	Role   model.Role
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// IsPolicy reports whether err is a PolicyError.
func IsPolicy(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// Config configures an Engine.
type Config struct {
	// DedupWindow is how long a repeated identical submission is
	// treated as a double-tap rather than a new task.
	DedupWindow time.Duration

	// PointsPerCompletion is awarded to the assignee when a task
	// completes.
	PointsPerCompletion int

	// Uploader stores completion photos. nil disables photo upload,
	// which fails completion of photo-required tasks.
	Uploader proof.Uploader

	// Notifier delivers push nudges. nil means no notifications.
	Notifier notify.Notifier

	Logger *log.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DedupWindow:         1500 * time.Millisecond,
		PointsPerCompletion: 10,
		Notifier:            notify.Noop{},
		Logger:              log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Outcome reports how a task mutation landed.
type Outcome struct {
	// Task is the task as the cache now holds it.
	Task model.Task

	// RemoteSaved is false when the backend write failed and the change
	// exists only locally until reconciliation.
	RemoteSaved bool

	// Deduplicated is true when the call was recognized as a double
	// submission and the prior task returned instead of a new one.
	Deduplicated bool

	// Warning is a user-facing notice (degraded save, stale
	// credentials), empty when the write landed whole.
	Warning string
}

// submission remembers one recent AddTask for double-submit detection,
// including how the backend write landed so an absorbed duplicate
// reports the same outcome as the submission it repeats.
type submission struct {
	taskID      string
	at          time.Time
	remoteSaved bool
	warning     string
}

// Engine is the mutation pipeline for one signed-in user. Safe for
// concurrent use.
type Engine struct {
	current  model.Employee
	snaps    *cache.Snapshots
	client   remote.Client
	writer   *drift.Writer
	uploader proof.Uploader
	notifier notify.Notifier
	logger   *log.Logger

	dedupWindow time.Duration
	points      int

	mu           sync.Mutex
	recent       map[string]submission
	bumps        map[string]time.Time
	policyWarned bool
}

// New builds an Engine acting as current against the given cache and
// backend.
func New(current model.Employee, snaps *cache.Snapshots, client remote.Client, writer *drift.Writer, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = 1500 * time.Millisecond
	}
	points := cfg.PointsPerCompletion
	if points < 0 {
		points = 0
	}
	return &Engine{
		current:     current,
		snaps:       snaps,
		client:      client,
		writer:      writer,
		uploader:    cfg.Uploader,
		notifier:    notifier,
		logger:      logger,
		dedupWindow: window,
		points:      points,
		recent:      make(map[string]submission),
		bumps:       make(map[string]time.Time),
	}
}

// Current returns the signed-in employee the engine acts as.
func (e *Engine) Current() model.Employee {
	return e.current
}

// TenantID returns the tenant every operation is scoped to.
func (e *Engine) TenantID() string {
	return e.current.CompanyID
}

// ActivityTime is when a task last visibly moved: the latest of its
// creation, its completion, the backend's update stamp, and any local
// status bump not yet reflected in canonical data.
func ActivityTime(t model.Task, bump time.Time) time.Time {
	at := t.CreatedAt
	if t.CompletedAt != nil && t.CompletedAt.After(at) {
		at = *t.CompletedAt
	}
	if t.UpdatedAt.After(at) {
		at = t.UpdatedAt
	}
	if bump.After(at) {
		at = bump
	}
	return at
}

// Tasks returns the tasks the current user may see, most recently
// active first.
func (e *Engine) Tasks(ctx context.Context) ([]model.Task, error) {
	all, err := e.snaps.Tasks(ctx, e.TenantID())
	if err != nil {
		return nil, err
	}
	employees, err := e.snaps.Employees(ctx, e.TenantID())
	if err != nil {
		return nil, err
	}

	visible := e.visibleTasks(all, employees)

	e.mu.Lock()
	bumps := make(map[string]time.Time, len(e.bumps))
	for id, at := range e.bumps {
		bumps[id] = at
	}
	e.mu.Unlock()

	sort.SliceStable(visible, func(i, j int) bool {
		return ActivityTime(visible[i], bumps[visible[i].ID]).After(ActivityTime(visible[j], bumps[visible[j].ID]))
	})
	return visible, nil
}

// Task returns one task by id. Tasks outside the current user's scope
// read as absent, same as the mutation paths.
func (e *Engine) Task(ctx context.Context, id string) (model.Task, error) {
	task, _, _, err := e.findVisible(ctx, id)
	return task, err
}

// Employees returns the employees visible to the current user, per the
// role scoping rules.
func (e *Engine) Employees(ctx context.Context) ([]model.Employee, error) {
	employees, err := e.snaps.Employees(ctx, e.TenantID())
	if err != nil {
		return nil, err
	}
	tasks, err := e.snaps.Tasks(ctx, e.TenantID())
	if err != nil {
		return nil, err
	}
	return scope.Visible(employees, tasks, e.current), nil
}

// visibleTasks filters the tenant's tasks down to the current role's
// view: your own work, work you handed out, and (for managers and up)
// work floating unassigned.
func (e *Engine) visibleTasks(all []model.Task, employees []model.Employee) []model.Task {
	if e.current.Role == model.RoleOwner || e.current.Role == model.RoleSuperAdmin {
		out := make([]model.Task, len(all))
		copy(out, all)
		return out
	}

	visibleEmp := scope.Visible(employees, all, e.current)
	ids := make(map[string]bool, len(visibleEmp))
	for _, emp := range visibleEmp {
		ids[emp.ID] = true
	}

	var out []model.Task
	for _, t := range all {
		switch {
		case t.AssignedTo == e.current.ID || t.AssignedBy == e.current.ID:
			out = append(out, t)
		case t.AssignedTo != "" && ids[t.AssignedTo] && e.current.Role == model.RoleManager:
			out = append(out, t)
		case t.AssignedTo == "" && e.current.Role == model.RoleManager:
			out = append(out, t)
		}
	}
	return out
}

// Refresh replaces both snapshots with canonical backend state. Local
// bumps that canonical data has caught up to are dropped.
func (e *Engine) Refresh(ctx context.Context) error {
	tenant := e.TenantID()

	tasks, err := e.client.ListTasks(ctx, tenant)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	employees, err := e.client.ListEmployees(ctx, tenant)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	if err := e.snaps.PutTasks(ctx, tenant, tasks); err != nil {
		return err
	}
	if err := e.snaps.PutEmployees(ctx, tenant, employees); err != nil {
		return err
	}

	e.mu.Lock()
	for _, t := range tasks {
		if bump, ok := e.bumps[t.ID]; ok && !t.UpdatedAt.Before(bump) {
			delete(e.bumps, t.ID)
		}
	}
	e.mu.Unlock()

	e.logger.Printf("refreshed %d tasks, %d employees for %s", len(tasks), len(employees), tenant)
	return nil
}

// UnseenCount reports how many visible tasks moved since the user last
// looked, and when that was.
func (e *Engine) UnseenCount(ctx context.Context) (int, time.Time, error) {
	lastSeen, err := e.snaps.LastSeen(ctx, e.current.ID)
	if err != nil {
		return 0, time.Time{}, err
	}
	tasks, err := e.Tasks(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}

	e.mu.Lock()
	bumps := make(map[string]time.Time, len(e.bumps))
	for id, at := range e.bumps {
		bumps[id] = at
	}
	e.mu.Unlock()

	count := 0
	for _, t := range tasks {
		if ActivityTime(t, bumps[t.ID]).After(lastSeen) {
			count++
		}
	}
	return count, lastSeen, nil
}

// MarkSeen records that the user has looked at the task list now.
func (e *Engine) MarkSeen(ctx context.Context) error {
	return e.snaps.PutLastSeen(ctx, e.current.ID, time.Now().UTC())
}

// requireRole fails with a PolicyError unless the current role is one of
// the allowed ones. The first denial per process logs the full
// explanation; later ones stay quiet to avoid nagging.
func (e *Engine) requireRole(action string, allowed ...model.Role) error {
	for _, r := range allowed {
		if e.current.Role == r {
			return nil
		}
	}
	e.mu.Lock()
	warned := e.policyWarned
	e.policyWarned = true
	e.mu.Unlock()
	if !warned {
		e.logger.Printf("policy: role %s attempted to %s; the backend enforces the same rule, so the action is refused locally", e.current.Role, action)
	}
	return &PolicyError{Action: action, Role: e.current.Role}
}

// bump records a local status change so ordering reflects it before
// canonical data catches up.
func (e *Engine) bump(taskID string, at time.Time) {
	e.mu.Lock()
	e.bumps[taskID] = at
	e.mu.Unlock()
}

// sendNotification delivers best-effort; failures are logged, never
// returned.
func (e *Engine) sendNotification(ctx context.Context, employeeID string, n notify.Notification) {
	if employeeID == "" || employeeID == e.current.ID {
		return
	}
	if err := e.notifier.Notify(ctx, e.TenantID(), employeeID, n); err != nil {
		e.logger.Printf("notification to %s dropped: %v", employeeID, err)
	}
}

// remoteOutcome folds a drift write result into an Outcome, logging
// failures. Backend failures never unwind the optimistic change.
func (e *Engine) remoteOutcome(out *Outcome, res drift.Result, err error, op, id string) {
	if err != nil {
		out.RemoteSaved = false
		if remote.KindOf(err) == remote.KindUnauthorized {
			out.Warning = "backend rejected credentials; run `crewsync login` again"
		}
		e.logger.Printf("%s %s saved locally only, backend write failed: %v", op, id, err)
		return
	}
	out.RemoteSaved = true
	if res.Degraded() {
		out.Warning = res.Warning()
		e.logger.Printf("%s %s degraded: %s", op, id, res.Warning())
	}
}
