package model

import (
	"testing"
	"time"
)

func validTask() *Task {
	return &Task{
		ID:          "t-1",
		CompanyID:   "co-1",
		Description: "Clean lobby",
		Status:      StatusPending,
		Type:        TypeOneTime,
		CreatedAt:   time.Now(),
		AssignedBy:  "e-1",
	}
}

func TestTaskValidate(t *testing.T) {
	if err := validTask().Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}
}

func TestTaskValidateEmptyDescription(t *testing.T) {
	task := validTask()
	task.Description = ""
	err := task.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty description")
	}
	if !IsValidation(err) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestTaskValidateRecurringNeedsFrequency(t *testing.T) {
	task := validTask()
	task.Type = TypeRecurring
	if err := task.Validate(); err == nil {
		t.Fatal("recurring task without frequency accepted")
	}

	task.Frequency = FreqWeekly
	if err := task.Validate(); err != nil {
		t.Fatalf("recurring task with frequency rejected: %v", err)
	}
}

func TestTaskValidateOneTimeRejectsFrequency(t *testing.T) {
	task := validTask()
	task.Frequency = FreqDaily
	if err := task.Validate(); err == nil {
		t.Fatal("one-time task with frequency accepted")
	}
}

func TestTaskValidateProofCoherence(t *testing.T) {
	task := validTask()
	task.Proof = &Proof{ImageURL: "x", Timestamp: time.Now()}
	if err := task.Validate(); err == nil {
		t.Fatal("pending task with proof accepted")
	}

	now := time.Now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	if err := task.Validate(); err != nil {
		t.Fatalf("completed task with proof rejected: %v", err)
	}
}

func TestRemarkValidate(t *testing.T) {
	r := &Remark{TaskID: "t-1", EmployeeID: "e-1", Remark: "done half", Timestamp: time.Now()}
	if err := r.Validate(); err != nil {
		t.Fatalf("valid remark rejected: %v", err)
	}

	r.Remark = ""
	if err := r.Validate(); err == nil {
		t.Fatal("empty remark accepted")
	}
}

func TestSortRemarks(t *testing.T) {
	base := time.Now()
	remarks := []Remark{
		{ID: "r-3", Timestamp: base.Add(2 * time.Hour)},
		{ID: "r-1", Timestamp: base},
		{ID: "r-2", Timestamp: base.Add(time.Hour)},
	}
	SortRemarks(remarks)
	for i, want := range []string{"r-1", "r-2", "r-3"} {
		if remarks[i].ID != want {
			t.Errorf("remarks[%d] = %s, want %s", i, remarks[i].ID, want)
		}
	}
}

func TestEmployeeLinkedTo(t *testing.T) {
	e := Employee{ID: "s-1", CompanyID: "co-1", Name: "Sam", Role: RoleStaff, ManagerIDs: []string{"m-1", "m-2"}}
	if !e.LinkedTo("m-2") {
		t.Error("explicit link not recognized")
	}
	if e.LinkedTo("m-9") {
		t.Error("unlinked manager recognized")
	}

	legacy := Employee{ID: "s-2", CompanyID: "co-1", Name: "Lee", Role: RoleStaff, ManagerID: "m-1"}
	if !legacy.LinkedTo("m-1") {
		t.Error("legacy pointer not recognized")
	}
	if !legacy.HasManagerLink() {
		t.Error("legacy pointer should count as a link")
	}

	unlinked := Employee{ID: "s-3", CompanyID: "co-1", Name: "Kim", Role: RoleStaff}
	if unlinked.HasManagerLink() {
		t.Error("employee without links reported as linked")
	}
}

func TestLinksDeduplicatesLegacyPointer(t *testing.T) {
	employees := []Employee{
		{ID: "s-1", CompanyID: "co-1", ManagerID: "m-1", ManagerIDs: []string{"m-1", "m-2"}},
	}
	links := Links(employees)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d: %+v", len(links), links)
	}
}

func TestTaskClone(t *testing.T) {
	now := time.Now()
	task := validTask()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.Proof = &Proof{ImageURL: "u", Timestamp: now}
	task.Remarks = []Remark{{ID: "r-1", Remark: "x", Timestamp: now, TaskID: task.ID}}

	cp := task.Clone()
	cp.Proof.ImageURL = "changed"
	cp.Remarks[0].Remark = "changed"
	*cp.CompletedAt = now.Add(time.Hour)

	if task.Proof.ImageURL != "u" {
		t.Error("clone shares proof with original")
	}
	if task.Remarks[0].Remark != "x" {
		t.Error("clone shares remarks with original")
	}
	if !task.CompletedAt.Equal(now) {
		t.Error("clone shares completedAt with original")
	}
}
