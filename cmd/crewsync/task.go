package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/crewsync/crewsync/internal/cache"
	"github.com/crewsync/crewsync/internal/engine"
	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "tasks",
	Short:   "Create and manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Create a task",
	Long: `Create a task and optionally assign it.

Deadlines accept natural language ("tomorrow 5pm", "next friday") as
well as RFC 3339 timestamps and YYYY-MM-DD dates. Picker flags omitted
here are filled from the saved draft of a previous interrupted add; the
description never is.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()
		return runTaskAdd(cmd, args, a)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visible tasks, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()
		return runTaskList(cmd.Context(), a)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in full, including remarks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()
		return runTaskShow(cmd.Context(), a, args[0])
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Move a pending task to in-progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskTransition(cmd.Context(), args[0], "started",
			func(ctx context.Context, e *engine.Engine, id string) (engine.Outcome, error) {
				return e.StartTask(ctx, id)
			})
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Complete a task, attaching photo proof when required",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		photo, _ := cmd.Flags().GetString("photo")
		return taskTransition(cmd.Context(), args[0], "completed",
			func(ctx context.Context, e *engine.Engine, id string) (engine.Outcome, error) {
				return e.CompleteTask(ctx, id, photo)
			})
	},
}

var taskReopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Put a completed task back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskTransition(cmd.Context(), args[0], "reopened",
			func(ctx context.Context, e *engine.Engine, id string) (engine.Outcome, error) {
				return e.ReopenTask(ctx, id)
			})
	},
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign <id> <employee>",
	Short: "Reassign a task to another employee",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		id, err := resolveTaskID(ctx, a.engine, args[0])
		if err != nil {
			return err
		}
		assignee, err := resolveEmployeeID(ctx, a.engine, args[1])
		if err != nil {
			return err
		}
		out, err := a.engine.ReassignTask(ctx, id, assignee)
		if err != nil {
			return err
		}
		reportOutcome(out, fmt.Sprintf("Task %s reassigned", ui.ShortID(out.Task.ID)))
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and its direct sub-tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()
		return runTaskDelete(cmd.Context(), a, args[0], yes)
	},
}

var taskRemarkCmd = &cobra.Command{
	Use:   "remark <id> <text>",
	Short: "Append a progress remark to a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		id, err := resolveTaskID(ctx, a.engine, args[0])
		if err != nil {
			return err
		}
		out, err := a.engine.AddRemark(ctx, id, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		reportOutcome(out, fmt.Sprintf("Remark added to %s", ui.ShortID(out.Task.ID)))
		return nil
	},
}

func init() {
	taskAddCmd.Flags().StringP("assignee", "a", "", "assignee employee id, prefix, or email")
	taskAddCmd.Flags().StringP("deadline", "d", "", "deadline (natural language or RFC 3339)")
	taskAddCmd.Flags().Bool("photo", false, "require photo proof on completion")
	taskAddCmd.Flags().StringP("recur", "r", "", "recurrence frequency: daily, weekly, or monthly")
	taskAddCmd.Flags().String("parent", "", "parent task id for a sub-task")
	taskCompleteCmd.Flags().String("photo", "", "path to the completion photo")
	taskDeleteCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskStartCmd,
		taskCompleteCmd, taskReopenCmd, taskAssignCmd, taskDeleteCmd, taskRemarkCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string, a *app) error {
	ctx := cmd.Context()
	description := strings.Join(args, " ")

	assignee, _ := cmd.Flags().GetString("assignee")
	deadlineRaw, _ := cmd.Flags().GetString("deadline")
	photo, _ := cmd.Flags().GetBool("photo")
	recur, _ := cmd.Flags().GetString("recur")
	parent, _ := cmd.Flags().GetString("parent")

	// An interrupted add leaves its picker state behind; flags given now
	// win over it. The description is typed fresh every time.
	draft, err := a.snaps.Draft(ctx, a.engine.Current().ID)
	if err != nil {
		return err
	}
	if draft != nil {
		if assignee == "" {
			assignee = draft.AssignedTo
		}
		if recur == "" {
			recur = string(draft.Frequency)
		}
		if !cmd.Flags().Changed("photo") {
			photo = draft.RequirePhoto
		}
	}

	in := engine.NewTask{
		Description:  description,
		RequirePhoto: photo,
		Frequency:    model.Frequency(recur),
	}
	if in.Frequency != model.FreqNone {
		in.Type = model.TypeRecurring
	} else {
		in.Type = model.TypeOneTime
	}

	if assignee != "" {
		in.AssignedTo, err = resolveEmployeeID(ctx, a.engine, assignee)
		if err != nil {
			return err
		}
	}
	if parent != "" {
		in.ParentTaskID, err = resolveTaskID(ctx, a.engine, parent)
		if err != nil {
			return err
		}
	}
	if deadlineRaw != "" {
		deadline, err := parseDeadline(deadlineRaw, time.Now())
		if err != nil {
			return err
		}
		in.Deadline = &deadline
	} else if draft != nil && draft.Deadline != nil {
		in.Deadline = draft.Deadline
	}

	// Persist the picker state before the engine call so a failure here
	// (validation, dead backend mid-upload) can be resumed.
	saveDraft := cache.TaskDraft{
		AssignedTo:   in.AssignedTo,
		Deadline:     in.Deadline,
		TaskType:     in.Type,
		Frequency:    in.Frequency,
		RequirePhoto: in.RequirePhoto,
		SavedAt:      time.Now().UTC(),
	}
	if err := a.snaps.PutDraft(ctx, a.engine.Current().ID, saveDraft); err != nil {
		return err
	}

	out, err := a.engine.AddTask(ctx, in)
	if err != nil {
		return err
	}
	if out.Deduplicated {
		fmt.Printf("%s Duplicate submission ignored, task %s already created\n", ui.RenderWarn("⚠"), ui.ShortID(out.Task.ID))
		return nil
	}
	reportOutcome(out, fmt.Sprintf("Task %s created", ui.ShortID(out.Task.ID)))
	return nil
}

func runTaskList(ctx context.Context, a *app) error {
	unseen, _, err := a.engine.UnseenCount(ctx)
	if err != nil {
		return err
	}
	tasks, err := a.engine.Tasks(ctx)
	if err != nil {
		return err
	}
	employees, err := a.engine.Employees(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(employees))
	for _, e := range employees {
		names[e.ID] = e.Name
	}

	if a.offline {
		fmt.Printf("%s Backend unreachable, showing cached snapshot\n", ui.RenderWarn("⚠"))
	}
	if unseen > 0 {
		fmt.Printf("%s since you last looked\n", ui.RenderAccent(ui.Pluralize(unseen, "new change")))
	}
	if len(tasks) == 0 {
		fmt.Println(ui.RenderMuted("No tasks."))
		return a.engine.MarkSeen(ctx)
	}

	for _, t := range tasks {
		line := fmt.Sprintf("%s  %-12s  %s", ui.RenderMuted(ui.ShortID(t.ID)), ui.RenderStatus(t.Status), t.Description)
		if t.AssignedTo != "" {
			name := names[t.AssignedTo]
			if name == "" {
				name = ui.ShortID(t.AssignedTo)
			}
			line += ui.RenderMuted("  → " + name)
		}
		if t.Type == model.TypeRecurring {
			line += ui.RenderMuted("  ↻ " + string(t.Frequency))
		}
		if t.Deadline != nil {
			line += ui.RenderMuted("  due " + t.Deadline.Local().Format("Jan 2 15:04"))
		}
		if t.ParentTaskID != "" {
			line = "  " + line
		}
		fmt.Println(line)
	}
	return a.engine.MarkSeen(ctx)
}

func runTaskShow(ctx context.Context, a *app, ref string) error {
	id, err := resolveTaskID(ctx, a.engine, ref)
	if err != nil {
		return err
	}
	t, err := a.engine.Task(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", ui.RenderHeading(t.Description))
	fmt.Printf("  id:       %s\n", t.ID)
	fmt.Printf("  status:   %s\n", ui.RenderStatus(t.Status))
	fmt.Printf("  type:     %s", t.Type)
	if t.Type == model.TypeRecurring {
		fmt.Printf(" (%s)", t.Frequency)
		if t.NextRecurrenceAt != nil {
			fmt.Printf(", next reminder %s", t.NextRecurrenceAt.Local().Format(time.RFC1123))
		}
	}
	fmt.Println()
	fmt.Printf("  created:  %s\n", t.CreatedAt.Local().Format(time.RFC1123))
	if t.Deadline != nil {
		fmt.Printf("  deadline: %s\n", t.Deadline.Local().Format(time.RFC1123))
	}
	if t.AssignedTo != "" {
		fmt.Printf("  assignee: %s\n", t.AssignedTo)
	}
	fmt.Printf("  assigner: %s\n", t.AssignedBy)
	if t.ParentTaskID != "" {
		fmt.Printf("  parent:   %s\n", t.ParentTaskID)
	}
	if t.RequirePhoto {
		fmt.Printf("  proof:    photo required\n")
	}
	if t.CompletedAt != nil {
		fmt.Printf("  completed %s\n", t.CompletedAt.Local().Format(time.RFC1123))
	}
	if t.Proof != nil {
		fmt.Printf("  photo:    %s\n", t.Proof.ImageURL)
	}
	if len(t.Remarks) > 0 {
		fmt.Printf("\n%s\n", ui.RenderHeading("Remarks"))
		for _, r := range t.Remarks {
			fmt.Printf("  %s %s: %s\n", ui.RenderMuted(r.Timestamp.Local().Format("Jan 2 15:04")), r.EmployeeName, r.Remark)
		}
	}
	return nil
}

func runTaskDelete(ctx context.Context, a *app, ref string, yes bool) error {
	id, err := resolveTaskID(ctx, a.engine, ref)
	if err != nil {
		return err
	}
	t, err := a.engine.Task(ctx, id)
	if err != nil {
		return err
	}

	tasks, err := a.engine.Tasks(ctx)
	if err != nil {
		return err
	}
	children := 0
	for _, c := range tasks {
		if c.ParentTaskID == id {
			children++
		}
	}

	if !yes {
		prompt := fmt.Sprintf("Delete %q?", t.Description)
		if children > 0 {
			prompt = fmt.Sprintf("Delete %q and its %s?", t.Description, ui.Pluralize(children, "sub-task"))
		}
		confirmed := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title(prompt).Value(&confirmed),
		))
		if err := form.Run(); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println(ui.RenderMuted("Aborted."))
			return nil
		}
	}

	ids, err := a.engine.DeleteTask(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), ui.Pluralize(len(ids), "task"))
	return nil
}

// taskTransition builds the app, resolves the task reference, and runs
// one status-changing action.
func taskTransition(ctx context.Context, ref, verb string, fn func(context.Context, *engine.Engine, string) (engine.Outcome, error)) error {
	a, err := buildApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolveTaskID(ctx, a.engine, ref)
	if err != nil {
		return err
	}
	out, err := fn(ctx, a.engine, id)
	if err != nil {
		return err
	}
	reportOutcome(out, fmt.Sprintf("Task %s %s", ui.ShortID(out.Task.ID), verb))
	return nil
}

// reportOutcome prints the mutation result, flagging local-only saves
// and degraded writes without failing the command: the local state is
// committed either way.
func reportOutcome(out engine.Outcome, msg string) {
	fmt.Printf("%s %s\n", ui.RenderPass("✓"), msg)
	if !out.RemoteSaved {
		fmt.Printf("%s Saved locally only; the backend write failed and will be reconciled later\n", ui.RenderWarn("⚠"))
	}
	if out.Warning != "" {
		fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), out.Warning)
	}
}

// resolveTaskID accepts a full id or an unambiguous prefix.
func resolveTaskID(ctx context.Context, e *engine.Engine, ref string) (string, error) {
	tasks, err := e.Tasks(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, t := range tasks {
		if t.ID == ref {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no task matching %q", ref)
	default:
		return "", fmt.Errorf("%q is ambiguous (%d tasks match)", ref, len(matches))
	}
}

// resolveEmployeeID accepts a full id, an unambiguous prefix, an email,
// or an exact name.
func resolveEmployeeID(ctx context.Context, e *engine.Engine, ref string) (string, error) {
	employees, err := e.Employees(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, emp := range employees {
		if emp.ID == ref || strings.EqualFold(emp.Email, ref) {
			return emp.ID, nil
		}
		if strings.HasPrefix(emp.ID, ref) || strings.EqualFold(emp.Name, ref) {
			matches = append(matches, emp.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no employee matching %q", ref)
	default:
		return "", fmt.Errorf("%q is ambiguous (%d employees match)", ref, len(matches))
	}
}

// parseDeadline accepts RFC 3339, a plain date, or natural language.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t.UTC(), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse deadline %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand deadline %q", s)
	}
	return r.Time.UTC(), nil
}
