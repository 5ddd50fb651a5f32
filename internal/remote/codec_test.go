package remote

import (
	"testing"
	"time"

	"github.com/crewsync/crewsync/internal/model"
)

func TestTaskRoundTrip(t *testing.T) {
	deadline := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	completed := time.Date(2026, 3, 9, 12, 30, 0, 500e6, time.UTC)
	next := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)

	in := model.Task{
		ID:               "t1",
		CompanyID:        "co1",
		Description:      "restock aisle four",
		Status:           model.StatusCompleted,
		Type:             model.TypeRecurring,
		Frequency:        model.FreqWeekly,
		NextRecurrenceAt: &next,
		CreatedAt:        time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 3, 9, 12, 30, 1, 0, time.UTC),
		Deadline:         &deadline,
		CompletedAt:      &completed,
		Proof: &model.Proof{
			ImageURL:  "https://proofs.example/t1.jpg",
			Timestamp: completed,
		},
		RequirePhoto: true,
		AssignedTo:   "e2",
		AssignedBy:   "e1",
		ParentTaskID: "t0",
		Remarks: []model.Remark{
			{ID: "r1", TaskID: "t1", EmployeeID: "e2", EmployeeName: "Sam", Remark: "half done", Timestamp: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)},
		},
	}

	row, err := EncodeTask(in)
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}
	out, err := DecodeTask(row.Columns(), row.Values())
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}

	if out.ID != in.ID || out.CompanyID != in.CompanyID || out.Description != in.Description {
		t.Errorf("identity fields changed: %+v", out)
	}
	if out.Status != in.Status || out.Type != in.Type || out.Frequency != in.Frequency {
		t.Errorf("enum fields changed: status=%s type=%s freq=%s", out.Status, out.Type, out.Frequency)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || !out.UpdatedAt.Equal(in.UpdatedAt) {
		t.Errorf("timestamps changed: created=%v updated=%v", out.CreatedAt, out.UpdatedAt)
	}
	if out.Deadline == nil || !out.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", out.Deadline, deadline)
	}
	if out.CompletedAt == nil || !out.CompletedAt.Equal(completed) {
		t.Errorf("completedAt = %v, want %v (fractional seconds must survive)", out.CompletedAt, completed)
	}
	if out.NextRecurrenceAt == nil || !out.NextRecurrenceAt.Equal(next) {
		t.Errorf("nextRecurrenceAt = %v, want %v", out.NextRecurrenceAt, next)
	}
	if out.Proof == nil || out.Proof.ImageURL != in.Proof.ImageURL || !out.Proof.Timestamp.Equal(in.Proof.Timestamp) {
		t.Errorf("proof = %+v, want %+v", out.Proof, in.Proof)
	}
	if !out.RequirePhoto {
		t.Error("requirePhoto lost")
	}
	if out.AssignedTo != "e2" || out.AssignedBy != "e1" || out.ParentTaskID != "t0" {
		t.Errorf("assignment fields changed: %+v", out)
	}
	if len(out.Remarks) != 1 || out.Remarks[0] != in.Remarks[0] {
		t.Errorf("remarks = %+v, want %+v", out.Remarks, in.Remarks)
	}
}

func TestTaskRoundTripMinimal(t *testing.T) {
	in := model.Task{
		ID:          "t2",
		CompanyID:   "co1",
		Description: "sweep front",
		Status:      model.StatusPending,
		Type:        model.TypeOneTime,
		CreatedAt:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		AssignedTo:  "e2",
		AssignedBy:  "e1",
	}

	row, err := EncodeTask(in)
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}
	out, err := DecodeTask(row.Columns(), row.Values())
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}

	if out.Frequency != model.FreqNone {
		t.Errorf("frequency = %q, want empty", out.Frequency)
	}
	if out.Deadline != nil || out.CompletedAt != nil || out.NextRecurrenceAt != nil {
		t.Errorf("optional times not nil: %+v", out)
	}
	if out.Proof != nil {
		t.Errorf("proof = %+v, want nil", out.Proof)
	}
	if !out.UpdatedAt.IsZero() {
		t.Errorf("updatedAt = %v, want zero for never-reported", out.UpdatedAt)
	}
	if len(out.Remarks) != 0 {
		t.Errorf("remarks = %+v, want empty", out.Remarks)
	}
}

func TestEmployeeRoundTrip(t *testing.T) {
	in := model.Employee{
		ID:         "e1",
		CompanyID:  "co1",
		Name:       "Dana",
		Email:      "dana@example.com",
		Mobile:     "+15550100",
		Role:       model.RoleManager,
		Points:     120,
		AuthUserID: "auth-1",
		ManagerID:  "e0",
		ManagerIDs: []string{"e0", "e9"},
	}

	row, err := EncodeEmployee(in)
	if err != nil {
		t.Fatalf("EncodeEmployee: %v", err)
	}
	out, err := DecodeEmployee(row.Columns(), row.Values())
	if err != nil {
		t.Fatalf("DecodeEmployee: %v", err)
	}

	if out.ID != in.ID || out.Name != in.Name || out.Email != in.Email || out.Mobile != in.Mobile {
		t.Errorf("identity fields changed: %+v", out)
	}
	if out.Role != model.RoleManager || out.Points != 120 {
		t.Errorf("role/points changed: %+v", out)
	}
	if out.AuthUserID != "auth-1" || out.ManagerID != "e0" {
		t.Errorf("link fields changed: %+v", out)
	}
	if len(out.ManagerIDs) != 2 || out.ManagerIDs[0] != "e0" || out.ManagerIDs[1] != "e9" {
		t.Errorf("managerIDs = %v, want [e0 e9]", out.ManagerIDs)
	}
}

func TestDecodeTaskToleratesMissingColumns(t *testing.T) {
	// A backend that predates recurrence serves rows without those
	// columns; decode must leave them zero rather than fail.
	cols := []string{ColID, ColCompanyID, ColDescription, ColStatus, ColCreatedAt}
	vals := []any{"t1", "co1", "wipe counters", "pending", "2026-03-01T08:00:00Z"}

	out, err := DecodeTask(cols, vals)
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}
	if out.ID != "t1" || out.Description != "wipe counters" {
		t.Errorf("present fields wrong: %+v", out)
	}
	if out.Type != "" || out.Frequency != "" || out.RequirePhoto {
		t.Errorf("absent fields not zero: %+v", out)
	}
}

func TestDecodeTaskReordersRemarks(t *testing.T) {
	// The remarks column is backend-controlled JSON; nothing guarantees
	// its element order. Decode must hand back timestamp-ascending
	// remarks regardless.
	remarksJSON := `[
		{"id":"r2","task_id":"t1","employee_id":"e1","employee_name":"Sam","remark":"later","timestamp":"2026-01-02T09:00:00Z"},
		{"id":"r1","task_id":"t1","employee_id":"e1","employee_name":"Sam","remark":"earlier","timestamp":"2026-01-01T09:00:00Z"}
	]`
	cols := []string{ColID, ColCompanyID, ColDescription, ColStatus, ColCreatedAt, ColRemarks}
	vals := []any{"t1", "co1", "wipe counters", "pending", "2026-03-01T08:00:00Z", remarksJSON}

	out, err := DecodeTask(cols, vals)
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}
	if len(out.Remarks) != 2 {
		t.Fatalf("len(Remarks) = %d, want 2", len(out.Remarks))
	}
	if out.Remarks[0].ID != "r1" || out.Remarks[1].ID != "r2" {
		t.Errorf("remarks not timestamp-ascending: got %s then %s", out.Remarks[0].ID, out.Remarks[1].ID)
	}
}

func TestDecodeDriverValueShapes(t *testing.T) {
	// Drivers differ in what they hand back: []byte for TEXT, int64 for
	// INTEGER bools, float64 through JSON-ish paths.
	cols := []string{ColID, ColCompanyID, ColDescription, ColStatus, ColRequirePhoto, ColCreatedAt}
	vals := []any{[]byte("t1"), []byte("co1"), []byte("desc"), []byte("pending"), int64(1), []byte("2026-03-01T08:00:00Z")}

	out, err := DecodeTask(cols, vals)
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}
	if out.ID != "t1" || out.Status != model.StatusPending || !out.RequirePhoto {
		t.Errorf("byte-slice decode wrong: %+v", out)
	}
	if out.CreatedAt.IsZero() {
		t.Error("createdAt not parsed from []byte")
	}
}

func TestRowStripAndClone(t *testing.T) {
	row, err := EncodeTask(model.Task{
		ID: "t1", CompanyID: "co1", Description: "x",
		Status: model.StatusPending, Type: model.TypeOneTime,
		CreatedAt: time.Now(), AssignedTo: "e2", AssignedBy: "e1",
	})
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}

	clone := row.Clone()
	if !clone.Delete(ColTaskType) {
		t.Fatal("Delete(task_type) = false, want true")
	}
	if clone.Has(ColTaskType) {
		t.Error("clone still has task_type after Delete")
	}
	if !row.Has(ColTaskType) {
		t.Error("Delete on clone mutated the original")
	}
	if clone.Delete("never_there") {
		t.Error("Delete(absent) = true")
	}
	if clone.Len() != row.Len()-1 {
		t.Errorf("clone.Len() = %d, want %d", clone.Len(), row.Len()-1)
	}
}
