// Package scope projects the full employee collection down to what a
// given role may see.
//
// The filter is pure and deterministic: same inputs, same output, no side
// effects. It is re-run on every render of the relevant view rather than
// cached, so it must stay cheap: a single pass over employees plus one
// over tasks.
package scope

import "github.com/crewsync/crewsync/internal/model"

// Visible returns the employees the current user may see, with the current
// user always first. Rules, evaluated top to bottom:
//
//  1. super_admin and owner see every employee (the current user is merged
//     in if the collection happens to lack them).
//  2. A manager sees themselves plus every staff member linked to them,
//     and, for legacy staff rows that carry no manager link at all, staff
//     they have assigned tasks to. Both paths are evaluated; the inferred
//     path keeps employees created before manager linking visible.
//  3. Staff see themselves, their linked manager(s), and anyone who has
//     assigned a task to them.
func Visible(employees []model.Employee, tasks []model.Task, current model.Employee) []model.Employee {
	out := []model.Employee{current}
	seen := map[string]bool{current.ID: true}

	add := func(e model.Employee) {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}

	switch current.Role {
	case model.RoleSuperAdmin, model.RoleOwner:
		for _, e := range employees {
			add(e)
		}

	case model.RoleManager:
		assigned := assignedByTo(tasks, current.ID)
		for _, e := range employees {
			if e.Role != model.RoleStaff {
				continue
			}
			if e.LinkedTo(current.ID) {
				add(e)
				continue
			}
			// Legacy rows without any link fall back to assignment
			// history; linked rows never do.
			if !e.HasManagerLink() && assigned[e.ID] {
				add(e)
			}
		}

	case model.RoleStaff:
		assigners := assignersOf(tasks, current.ID)
		for _, e := range employees {
			if current.LinkedTo(e.ID) || assigners[e.ID] {
				add(e)
			}
		}
	}

	return out
}

// assignedByTo collects the assignee ids of every task the manager created.
func assignedByTo(tasks []model.Task, managerID string) map[string]bool {
	m := make(map[string]bool)
	for _, t := range tasks {
		if t.AssignedBy == managerID && t.AssignedTo != "" {
			m[t.AssignedTo] = true
		}
	}
	return m
}

// assignersOf collects the ids of everyone who assigned a task to the staff
// member.
func assignersOf(tasks []model.Task, staffID string) map[string]bool {
	m := make(map[string]bool)
	for _, t := range tasks {
		if t.AssignedTo == staffID && t.AssignedBy != "" {
			m[t.AssignedBy] = true
		}
	}
	return m
}
