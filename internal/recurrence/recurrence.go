// Package recurrence computes reminder schedules for recurring tasks.
package recurrence

import (
	"time"

	"github.com/crewsync/crewsync/internal/model"
)

// Fixed reminder intervals. Monthly is a fixed 30-day approximation, not
// calendar-month arithmetic: existing rows and reminder expectations were
// built on the fixed interval, so it must not be "corrected" to calendar
// months.
const (
	DailyInterval   = 24 * time.Hour
	WeeklyInterval  = 7 * 24 * time.Hour
	MonthlyInterval = 30 * 24 * time.Hour
)

// Interval returns the reminder interval for a frequency. ok is false for
// the empty (non-recurring) frequency and for unknown values.
func Interval(f model.Frequency) (time.Duration, bool) {
	switch f {
	case model.FreqDaily:
		return DailyInterval, true
	case model.FreqWeekly:
		return WeeklyInterval, true
	case model.FreqMonthly:
		return MonthlyInterval, true
	}
	return 0, false
}

// ComputeNext returns base plus the frequency's interval, or nil when the
// frequency is empty. It is invoked at task creation and when recurrence
// settings are edited, never on status transitions.
func ComputeNext(base time.Time, f model.Frequency) *time.Time {
	iv, ok := Interval(f)
	if !ok {
		return nil
	}
	next := base.Add(iv)
	return &next
}

// Due reports whether a task's reminder instant has arrived.
func Due(task *model.Task, now time.Time) bool {
	if task.Type != model.TypeRecurring || task.NextRecurrenceAt == nil {
		return false
	}
	return !task.NextRecurrenceAt.After(now)
}

// Advance moves a due reminder forward by whole intervals until it is in
// the future, so a reminder missed while the daemon was down fires once
// rather than once per missed interval.
func Advance(task *model.Task, now time.Time) *time.Time {
	iv, ok := Interval(task.Frequency)
	if !ok || task.NextRecurrenceAt == nil {
		return nil
	}
	next := *task.NextRecurrenceAt
	for !next.After(now) {
		next = next.Add(iv)
	}
	return &next
}
