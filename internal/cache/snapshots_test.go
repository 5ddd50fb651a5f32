package cache

import (
	"context"
	"testing"
	"time"

	"github.com/crewsync/crewsync/internal/model"
)

func TestSnapshotsTenantFilter(t *testing.T) {
	snaps := NewSnapshots(NewMemory())
	ctx := context.Background()

	// A snapshot poisoned with a foreign-tenant row must not surface it.
	mixed := []model.Task{
		{ID: "t1", CompanyID: "co1", Description: "ours"},
		{ID: "t2", CompanyID: "co2", Description: "theirs"},
	}
	if err := snaps.PutTasks(ctx, "co1", mixed); err != nil {
		t.Fatalf("PutTasks: %v", err)
	}

	got, err := snaps.Tasks(ctx, "co1")
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("Tasks = %+v, want only t1", got)
	}

	// Same guard on employees.
	if err := snaps.PutEmployees(ctx, "co1", []model.Employee{
		{ID: "e1", CompanyID: "co1", Name: "a", Role: model.RoleStaff},
		{ID: "e2", CompanyID: "co2", Name: "b", Role: model.RoleStaff},
	}); err != nil {
		t.Fatalf("PutEmployees: %v", err)
	}
	emps, err := snaps.Employees(ctx, "co1")
	if err != nil {
		t.Fatalf("Employees: %v", err)
	}
	if len(emps) != 1 || emps[0].ID != "e1" {
		t.Errorf("Employees = %+v, want only e1", emps)
	}
}

func TestSnapshotsTenantsAreIsolated(t *testing.T) {
	snaps := NewSnapshots(NewMemory())
	ctx := context.Background()

	_ = snaps.PutTasks(ctx, "co1", []model.Task{{ID: "t1", CompanyID: "co1"}})
	_ = snaps.PutTasks(ctx, "co2", []model.Task{{ID: "t2", CompanyID: "co2"}})

	co1, _ := snaps.Tasks(ctx, "co1")
	co2, _ := snaps.Tasks(ctx, "co2")
	if len(co1) != 1 || co1[0].ID != "t1" {
		t.Errorf("co1 tasks = %+v", co1)
	}
	if len(co2) != 1 || co2[0].ID != "t2" {
		t.Errorf("co2 tasks = %+v", co2)
	}
}

func TestSnapshotsProfileAbsent(t *testing.T) {
	snaps := NewSnapshots(NewMemory())
	p, err := snaps.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p != nil {
		t.Errorf("Profile = %+v, want nil when never cached", p)
	}
}

func TestSnapshotsProfileRoundTrip(t *testing.T) {
	snaps := NewSnapshots(NewMemory())
	ctx := context.Background()

	want := model.Employee{ID: "e1", CompanyID: "co1", Name: "Dana", Role: model.RoleManager}
	if err := snaps.PutProfile(ctx, want); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}
	got, err := snaps.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if got == nil || got.ID != "e1" || got.Role != model.RoleManager {
		t.Errorf("Profile = %+v, want %+v", got, want)
	}
}

func TestSnapshotsLastSeen(t *testing.T) {
	snaps := NewSnapshots(NewMemory())
	ctx := context.Background()

	zero, err := snaps.LastSeen(ctx, "u1")
	if err != nil {
		t.Fatalf("LastSeen: %v", err)
	}
	if !zero.IsZero() {
		t.Errorf("LastSeen before any Put = %v, want zero", zero)
	}

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := snaps.PutLastSeen(ctx, "u1", at); err != nil {
		t.Fatalf("PutLastSeen: %v", err)
	}
	got, _ := snaps.LastSeen(ctx, "u1")
	if !got.Equal(at) {
		t.Errorf("LastSeen = %v, want %v", got, at)
	}

	// Distinct per user.
	other, _ := snaps.LastSeen(ctx, "u2")
	if !other.IsZero() {
		t.Errorf("LastSeen(u2) = %v, want zero", other)
	}
}

func TestSnapshotsDraftLifecycle(t *testing.T) {
	snaps := NewSnapshots(NewMemory())
	ctx := context.Background()

	if d, err := snaps.Draft(ctx, "u1"); err != nil || d != nil {
		t.Fatalf("Draft before save = %+v err=%v, want nil", d, err)
	}

	deadline := time.Date(2026, 4, 1, 17, 0, 0, 0, time.UTC)
	in := TaskDraft{
		AssignedTo:   "e9",
		Deadline:     &deadline,
		TaskType:     model.TypeRecurring,
		Frequency:    model.FreqWeekly,
		RequirePhoto: true,
		SavedAt:      time.Now().UTC(),
	}
	if err := snaps.PutDraft(ctx, "u1", in); err != nil {
		t.Fatalf("PutDraft: %v", err)
	}

	out, err := snaps.Draft(ctx, "u1")
	if err != nil || out == nil {
		t.Fatalf("Draft = %+v err=%v", out, err)
	}
	if out.AssignedTo != "e9" || out.Frequency != model.FreqWeekly || !out.RequirePhoto {
		t.Errorf("Draft = %+v, want %+v", out, in)
	}
	if out.Deadline == nil || !out.Deadline.Equal(deadline) {
		t.Errorf("Draft deadline = %v, want %v", out.Deadline, deadline)
	}

	if err := snaps.DeleteDraft(ctx, "u1"); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	if d, _ := snaps.Draft(ctx, "u1"); d != nil {
		t.Errorf("Draft after delete = %+v, want nil", d)
	}
}

func TestSnapshotsClearAll(t *testing.T) {
	snaps := NewSnapshots(NewMemory())
	ctx := context.Background()

	_ = snaps.PutProfile(ctx, model.Employee{ID: "e1", CompanyID: "co1", Name: "x", Role: model.RoleStaff})
	_ = snaps.PutTasks(ctx, "co1", []model.Task{{ID: "t1", CompanyID: "co1"}})
	_ = snaps.PutLastSeen(ctx, "e1", time.Now())

	if err := snaps.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	if p, _ := snaps.Profile(ctx); p != nil {
		t.Errorf("profile survived ClearAll: %+v", p)
	}
	if ts, _ := snaps.Tasks(ctx, "co1"); len(ts) != 0 {
		t.Errorf("tasks survived ClearAll: %+v", ts)
	}
	if at, _ := snaps.LastSeen(ctx, "e1"); !at.IsZero() {
		t.Errorf("lastSeen survived ClearAll: %v", at)
	}
}
