// Package notify delivers push notifications to employees' devices.
//
// Delivery is strictly best-effort. A mutation that saved correctly has
// succeeded even if the push nudge behind it never arrives, so callers
// log Notify errors and move on; nothing in this package is allowed to
// fail a save.
package notify

import (
	"context"
	"fmt"

	"github.com/crewsync/crewsync/internal/model"
)

// Notification is one push message.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier delivers a notification to one employee's registered device.
type Notifier interface {
	Notify(ctx context.Context, tenantID, employeeID string, n Notification) error
}

// Noop drops every notification. Used in tests and when push is not
// configured.
type Noop struct{}

func (Noop) Notify(context.Context, string, string, Notification) error { return nil }

// Assigned is the message sent when a task lands on someone's plate.
func Assigned(task model.Task, assignerName string) Notification {
	return Notification{
		Title: "New task assigned",
		Body:  fmt.Sprintf("%s assigned you: %s", assignerName, task.Description),
		Data: map[string]string{
			"type":    "task_assigned",
			"task_id": task.ID,
		},
	}
}

// Reassigned is the message sent when a task moves to a new assignee.
func Reassigned(task model.Task, assignerName string) Notification {
	return Notification{
		Title: "Task reassigned to you",
		Body:  fmt.Sprintf("%s reassigned to you: %s", assignerName, task.Description),
		Data: map[string]string{
			"type":    "task_reassigned",
			"task_id": task.ID,
		},
	}
}

// RecurrenceDue is the message sent when a recurring task comes around
// again.
func RecurrenceDue(task model.Task) Notification {
	return Notification{
		Title: "Recurring task due",
		Body:  fmt.Sprintf("Due again: %s", task.Description),
		Data: map[string]string{
			"type":    "recurrence_due",
			"task_id": task.ID,
		},
	}
}
