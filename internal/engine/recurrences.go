package engine

import (
	"context"
	"time"

	"github.com/crewsync/crewsync/internal/notify"
	"github.com/crewsync/crewsync/internal/recurrence"
)

// SweepRecurrences fires a reminder for every recurring task whose next
// occurrence has arrived and advances its schedule past now. The watch
// daemon runs this on a timer.
//
// Reminders go to the assignee even when that is the signed-in user;
// unlike assignment notifications there is no acting user to exempt.
func (e *Engine) SweepRecurrences(ctx context.Context) (int, error) {
	tasks, _, err := e.loadState(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	fired := 0
	for i := range tasks {
		t := tasks[i]
		if !recurrence.Due(&t, now) {
			continue
		}

		if t.AssignedTo != "" && e.notifier != nil {
			if err := e.notifier.Notify(ctx, e.TenantID(), t.AssignedTo, notify.RecurrenceDue(t)); err != nil {
				e.logger.Printf("reminder for task %s not delivered: %v", t.ID, err)
			}
		}

		t.NextRecurrenceAt = recurrence.Advance(&t, now)
		tasks[i] = t
		fired++

		res, werr := e.writer.UpdateTask(ctx, t)
		if werr != nil {
			e.logger.Printf("task %s schedule advanced locally only, backend write failed: %v", t.ID, werr)
		} else if res.Degraded() {
			e.logger.Printf("task %s: %s", t.ID, res.Warning())
		}
	}

	if fired > 0 {
		if err := e.snaps.PutTasks(ctx, e.TenantID(), tasks); err != nil {
			return fired, err
		}
		e.logger.Printf("recurrence sweep fired %d reminder(s)", fired)
	}
	return fired, nil
}
