package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/notify"
	"github.com/crewsync/crewsync/internal/recurrence"
	"github.com/crewsync/crewsync/internal/scope"
	"github.com/google/uuid"
)

// NewTask is the input to AddTask.
type NewTask struct {
	Description  string
	AssignedTo   string
	Deadline     *time.Time
	Type         model.TaskType
	Frequency    model.Frequency
	RequirePhoto bool
	ParentTaskID string
}

// signature is the duplicate-submission key. Two AddTask calls count as
// the same submission only when every user-chosen field matches.
func (in NewTask) signature() string {
	deadline := ""
	if in.Deadline != nil {
		deadline = in.Deadline.UTC().Format(time.RFC3339Nano)
	}
	return strings.Join([]string{
		in.Description,
		in.AssignedTo,
		deadline,
		strconv.FormatBool(in.RequirePhoto),
		string(in.Type),
		string(in.Frequency),
	}, "\x00")
}

// AddTask creates a task, assigns it, and notifies the assignee.
//
// Submitting the same description to the same assignee twice inside the
// dedup window is treated as a double-tap: the prior task is returned
// and nothing new is written.
func (e *Engine) AddTask(ctx context.Context, in NewTask) (Outcome, error) {
	if err := e.requireRole("create tasks", model.RoleManager, model.RoleOwner, model.RoleSuperAdmin); err != nil {
		return Outcome{}, err
	}

	tasks, employees, err := e.loadState(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if in.AssignedTo != "" {
		if _, ok := employeeByID(employees, in.AssignedTo); !ok {
			return Outcome{}, &model.ValidationError{Field: "assignedTo", Reason: "no such employee"}
		}
	}
	if in.ParentTaskID != "" {
		if _, ok := taskByID(tasks, in.ParentTaskID); !ok {
			return Outcome{}, &model.ValidationError{Field: "parentTaskId", Reason: "no such parent task"}
		}
	}

	now := time.Now().UTC()
	sig := in.signature()

	e.mu.Lock()
	for s, sub := range e.recent {
		if now.Sub(sub.at) > e.dedupWindow {
			delete(e.recent, s)
		}
	}
	priorSub, havePrior := e.recent[sig]
	e.mu.Unlock()

	if havePrior {
		// Double tap. If the prior task was deleted in the meantime,
		// fall through and create a fresh one. The echoed outcome
		// repeats how the prior write actually landed; a local-only
		// save must not read back as a clean one.
		if prior, found := taskByID(tasks, priorSub.taskID); found {
			e.logger.Printf("duplicate submission of %q within %v, returning task %s", in.Description, e.dedupWindow, prior.ID)
			return Outcome{Task: prior, RemoteSaved: priorSub.remoteSaved, Warning: priorSub.warning, Deduplicated: true}, nil
		}
	}

	taskType := in.Type
	if taskType == "" {
		if in.Frequency != "" {
			taskType = model.TypeRecurring
		} else {
			taskType = model.TypeOneTime
		}
	}

	task := model.Task{
		ID:           uuid.NewString(),
		CompanyID:    e.TenantID(),
		Description:  in.Description,
		Status:       model.StatusPending,
		Type:         taskType,
		Frequency:    in.Frequency,
		CreatedAt:    now,
		Deadline:     in.Deadline,
		RequirePhoto: in.RequirePhoto,
		AssignedTo:   in.AssignedTo,
		AssignedBy:   e.current.ID,
		ParentTaskID: in.ParentTaskID,
	}
	if task.Type == model.TypeRecurring {
		task.NextRecurrenceAt = recurrence.ComputeNext(now, task.Frequency)
	}
	if err := task.Validate(); err != nil {
		return Outcome{}, err
	}

	// Local first: the new task exists the moment this returns.
	if err := e.snaps.PutTasks(ctx, e.TenantID(), append([]model.Task{task}, tasks...)); err != nil {
		return Outcome{}, err
	}
	e.mu.Lock()
	e.recent[sig] = submission{taskID: task.ID, at: now}
	e.mu.Unlock()

	out := Outcome{Task: task}
	res, err := e.writer.InsertTask(ctx, task)
	e.remoteOutcome(&out, res, err, "task", task.ID)

	e.mu.Lock()
	if sub, ok := e.recent[sig]; ok && sub.taskID == task.ID {
		sub.remoteSaved = out.RemoteSaved
		sub.warning = out.Warning
		e.recent[sig] = sub
	}
	e.mu.Unlock()

	e.sendNotification(ctx, task.AssignedTo, notify.Assigned(task, e.current.Name))

	if err := e.snaps.DeleteDraft(ctx, e.current.ID); err != nil {
		e.logger.Printf("failed to discard draft: %v", err)
	}
	return out, nil
}

// StartTask moves a pending task to in-progress.
func (e *Engine) StartTask(ctx context.Context, id string) (Outcome, error) {
	task, tasks, employees, err := e.findVisible(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !e.canModify(task, tasks, employees) {
		return Outcome{}, &PolicyError{Action: "update this task", Role: e.current.Role}
	}

	switch task.Status {
	case model.StatusInProgress:
		return Outcome{}, &model.ValidationError{Field: "status", Reason: "already in progress"}
	case model.StatusCompleted:
		return Outcome{}, &model.ValidationError{Field: "status", Reason: "already completed"}
	}

	now := time.Now().UTC()
	task.Status = model.StatusInProgress
	e.bump(task.ID, now)

	if err := e.saveTask(ctx, tasks, task); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Task: task}
	res, werr := e.writer.UpdateTask(ctx, task)
	e.remoteOutcome(&out, res, werr, "task", task.ID)
	return out, nil
}

// CompleteTask finishes a task, uploading photo proof when the task
// demands it and awarding completion points to the assignee.
//
// The recurrence schedule is untouched here: completing an occurrence
// never moves NextRecurrenceAt.
func (e *Engine) CompleteTask(ctx context.Context, id, photoPath string) (Outcome, error) {
	task, tasks, employees, err := e.findVisible(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !e.canModify(task, tasks, employees) {
		return Outcome{}, &PolicyError{Action: "complete this task", Role: e.current.Role}
	}
	if task.Status == model.StatusCompleted {
		return Outcome{}, &model.ValidationError{Field: "status", Reason: "already completed"}
	}
	if task.RequirePhoto && photoPath == "" {
		return Outcome{}, &model.ValidationError{Field: "proof", Reason: "this task requires photo proof"}
	}

	now := time.Now().UTC()
	if photoPath != "" {
		if e.uploader == nil {
			return Outcome{}, fmt.Errorf("photo proof given but no uploader configured")
		}
		url, err := e.uploader.Upload(ctx, photoPath)
		if err != nil {
			// Proof must land before the completion does.
			return Outcome{}, fmt.Errorf("failed to upload proof: %w", err)
		}
		task.Proof = &model.Proof{ImageURL: url, Timestamp: now}
	}

	task.Status = model.StatusCompleted
	task.CompletedAt = &now
	e.bump(task.ID, now)

	if err := e.saveTask(ctx, tasks, task); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Task: task}
	res, werr := e.writer.UpdateTask(ctx, task)
	e.remoteOutcome(&out, res, werr, "task", task.ID)

	e.awardPoints(ctx, employees, task.AssignedTo)
	return out, nil
}

// ReopenTask puts a completed task back to pending, discarding its
// completion timestamp and proof. Points already awarded for the
// completion stay awarded.
func (e *Engine) ReopenTask(ctx context.Context, id string) (Outcome, error) {
	task, tasks, employees, err := e.findVisible(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !e.canModify(task, tasks, employees) {
		return Outcome{}, &PolicyError{Action: "reopen this task", Role: e.current.Role}
	}
	if task.Status != model.StatusCompleted {
		return Outcome{}, &model.ValidationError{Field: "status", Reason: "not completed"}
	}

	task.Status = model.StatusPending
	task.CompletedAt = nil
	task.Proof = nil
	e.bump(task.ID, time.Now().UTC())

	if err := e.saveTask(ctx, tasks, task); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Task: task}
	res, werr := e.writer.UpdateTask(ctx, task)
	e.remoteOutcome(&out, res, werr, "task", task.ID)
	return out, nil
}

// ReassignTask hands a task to a different employee and notifies them.
// Reassigning to the current assignee is a no-op.
func (e *Engine) ReassignTask(ctx context.Context, id, assigneeID string) (Outcome, error) {
	if err := e.requireRole("reassign tasks", model.RoleManager, model.RoleOwner, model.RoleSuperAdmin); err != nil {
		return Outcome{}, err
	}

	task, tasks, employees, err := e.findVisible(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if _, ok := employeeByID(employees, assigneeID); !ok {
		return Outcome{}, &model.ValidationError{Field: "assignedTo", Reason: "no such employee"}
	}
	if task.AssignedTo == assigneeID {
		return Outcome{Task: task, RemoteSaved: true}, nil
	}

	task.AssignedTo = assigneeID
	e.bump(task.ID, time.Now().UTC())

	if err := e.saveTask(ctx, tasks, task); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Task: task}
	res, werr := e.writer.UpdateTask(ctx, task)
	e.remoteOutcome(&out, res, werr, "task", task.ID)

	e.sendNotification(ctx, assigneeID, notify.Reassigned(task, e.current.Name))
	return out, nil
}

// AddRemark appends a comment to a task. The author's display name is
// denormalized into the remark at write time, preferring the backend's
// current spelling of it over the possibly stale cached one.
func (e *Engine) AddRemark(ctx context.Context, taskID, text string) (Outcome, error) {
	task, tasks, _, err := e.findVisible(ctx, taskID)
	if err != nil {
		return Outcome{}, err
	}

	name := e.current.Name
	if emp, err := e.client.GetEmployee(ctx, e.TenantID(), e.current.ID); err == nil && emp != nil {
		name = emp.Name
	}

	remark := model.Remark{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		EmployeeID:   e.current.ID,
		EmployeeName: name,
		Remark:       text,
		Timestamp:    time.Now().UTC(),
	}
	if err := remark.Validate(); err != nil {
		return Outcome{}, err
	}

	task.Remarks = append(task.Remarks, remark)
	model.SortRemarks(task.Remarks)

	if err := e.saveTask(ctx, tasks, task); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Task: task}
	res, werr := e.writer.UpdateTask(ctx, task)
	e.remoteOutcome(&out, res, werr, "task", task.ID)
	return out, nil
}

// DeleteTask removes a task and its direct subtasks, returning every
// deleted id with the parent last. Subtask ids are gathered from both
// the cache and the backend so a child created on another device since
// the last refresh still goes down with its parent.
func (e *Engine) DeleteTask(ctx context.Context, id string) ([]string, error) {
	if err := e.requireRole("delete tasks", model.RoleManager, model.RoleOwner, model.RoleSuperAdmin); err != nil {
		return nil, err
	}
	task, tasks, employees, err := e.findVisible(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.canModify(task, tasks, employees) {
		return nil, &PolicyError{Action: "delete this task", Role: e.current.Role}
	}

	doomed := map[string]bool{id: true}
	for _, t := range tasks {
		if t.ParentTaskID == id {
			doomed[t.ID] = true
		}
	}
	if remoteTasks, err := e.client.ListTasks(ctx, e.TenantID()); err == nil {
		for _, t := range remoteTasks {
			if t.ParentTaskID == id {
				doomed[t.ID] = true
			}
		}
	} else {
		e.logger.Printf("could not list backend subtasks of %s, deleting known ones: %v", id, err)
	}

	// Children first so a half-applied delete never orphans them.
	var ids []string
	for did := range doomed {
		if did != id {
			ids = append(ids, did)
		}
	}
	ids = append(ids, id)

	var kept []model.Task
	for _, t := range tasks {
		if !doomed[t.ID] {
			kept = append(kept, t)
		}
	}
	if err := e.snaps.PutTasks(ctx, e.TenantID(), kept); err != nil {
		return nil, err
	}

	e.mu.Lock()
	for did := range doomed {
		delete(e.bumps, did)
	}
	e.mu.Unlock()

	for _, did := range ids {
		if err := e.client.DeleteTask(ctx, e.TenantID(), did); err != nil {
			e.logger.Printf("task %s deleted locally only, backend delete failed: %v", did, err)
		}
	}
	return ids, nil
}

// loadState reads both tenant snapshots.
func (e *Engine) loadState(ctx context.Context) ([]model.Task, []model.Employee, error) {
	tasks, err := e.snaps.Tasks(ctx, e.TenantID())
	if err != nil {
		return nil, nil, err
	}
	employees, err := e.snaps.Employees(ctx, e.TenantID())
	if err != nil {
		return nil, nil, err
	}
	return tasks, employees, nil
}

// findVisible locates a task the current user can see. Tasks outside
// the user's scope read as absent rather than forbidden.
func (e *Engine) findVisible(ctx context.Context, id string) (model.Task, []model.Task, []model.Employee, error) {
	tasks, employees, err := e.loadState(ctx)
	if err != nil {
		return model.Task{}, nil, nil, err
	}
	for _, t := range e.visibleTasks(tasks, employees) {
		if t.ID == id {
			return t, tasks, employees, nil
		}
	}
	return model.Task{}, nil, nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
}

// canModify reports whether the current user may change a task's state.
// Owners and super admins always may; otherwise you touch what is yours:
// tasks assigned to you, tasks you assigned, and (for managers) tasks on
// staff you can see or tasks not yet assigned.
func (e *Engine) canModify(t model.Task, tasks []model.Task, employees []model.Employee) bool {
	switch e.current.Role {
	case model.RoleOwner, model.RoleSuperAdmin:
		return true
	}
	if t.AssignedTo == e.current.ID || t.AssignedBy == e.current.ID {
		return true
	}
	if e.current.Role != model.RoleManager {
		return false
	}
	if t.AssignedTo == "" {
		return true
	}
	for _, emp := range scope.Visible(employees, tasks, e.current) {
		if emp.ID == t.AssignedTo && emp.Role == model.RoleStaff {
			return true
		}
	}
	return false
}

// saveTask replaces one task in the snapshot.
func (e *Engine) saveTask(ctx context.Context, tasks []model.Task, updated model.Task) error {
	replaced := false
	for i := range tasks {
		if tasks[i].ID == updated.ID {
			tasks[i] = updated
			replaced = true
			break
		}
	}
	if !replaced {
		tasks = append([]model.Task{updated}, tasks...)
	}
	return e.snaps.PutTasks(ctx, e.TenantID(), tasks)
}

// awardPoints credits the assignee for a completion, best effort on the
// backend side.
func (e *Engine) awardPoints(ctx context.Context, employees []model.Employee, assigneeID string) {
	if assigneeID == "" || e.points == 0 {
		return
	}
	for i := range employees {
		if employees[i].ID != assigneeID {
			continue
		}
		employees[i].Points += e.points
		if err := e.snaps.PutEmployees(ctx, e.TenantID(), employees); err != nil {
			e.logger.Printf("failed to record points for %s locally: %v", assigneeID, err)
			return
		}
		if _, err := e.writer.UpdateEmployee(ctx, employees[i]); err != nil {
			e.logger.Printf("points for %s saved locally only: %v", assigneeID, err)
		}
		return
	}
	e.logger.Printf("assignee %s not in cache, skipping points award", assigneeID)
}

func taskByID(tasks []model.Task, id string) (model.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

func employeeByID(employees []model.Employee, id string) (model.Employee, bool) {
	for _, emp := range employees {
		if emp.ID == id {
			return emp, true
		}
	}
	return model.Employee{}, false
}
