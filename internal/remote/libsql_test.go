package remote

import (
	"context"
	"database/sql"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/crewsync/crewsync/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// fullSchema matches a backend that carries every column this client
// writes.
const fullSchema = `
CREATE TABLE tasks (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	task_type TEXT,
	recurrence_frequency TEXT,
	next_recurrence_notification_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT,
	deadline TEXT,
	completed_at TEXT,
	proof_image_url TEXT,
	proof_timestamp TEXT,
	require_photo INTEGER NOT NULL DEFAULT 0,
	assigned_to TEXT,
	assigned_by TEXT,
	parent_task_id TEXT,
	remarks TEXT
);
CREATE TABLE employees (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT,
	mobile TEXT,
	role TEXT NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	auth_user_id TEXT,
	manager_id TEXT,
	manager_ids TEXT,
	device_token TEXT
);
CREATE TABLE meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// staleSchema matches a backend deployed before recurrence, photo
// requirements, and subtasks existed.
const staleSchema = `
CREATE TABLE tasks (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT,
	deadline TEXT,
	completed_at TEXT,
	proof_image_url TEXT,
	proof_timestamp TEXT,
	assigned_to TEXT,
	assigned_by TEXT,
	remarks TEXT
);
CREATE TABLE employees (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	name TEXT NOT NULL,
	role TEXT NOT NULL
);
`

func openBackend(t *testing.T, schema string) *SQLClient {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.db")
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create backend schema: %v", err)
	}
	client := NewSQLClient(db, Config{Logger: log.New(io.Discard, "", 0)})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleTask() model.Task {
	deadline := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	return model.Task{
		ID:           "t1",
		CompanyID:    "co1",
		Description:  "check freezer temps",
		Status:       model.StatusPending,
		Type:         model.TypeRecurring,
		Frequency:    model.FreqDaily,
		CreatedAt:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Deadline:     &deadline,
		RequirePhoto: true,
		AssignedTo:   "e2",
		AssignedBy:   "e1",
	}
}

func TestInsertAndListTasks(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	row, err := EncodeTask(sampleTask())
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}
	if err := client.InsertTask(ctx, row); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	tasks, err := client.ListTasks(ctx, "co1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("ListTasks returned %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	want := sampleTask()
	if got.ID != want.ID || got.Description != want.Description || got.Frequency != want.Frequency {
		t.Errorf("task = %+v, want %+v", got, want)
	}
	if !got.RequirePhoto {
		t.Error("requirePhoto lost through the backend")
	}
	if got.Deadline == nil || !got.Deadline.Equal(*want.Deadline) {
		t.Errorf("deadline = %v, want %v", got.Deadline, want.Deadline)
	}
}

func TestListTasksScopedToTenant(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	mine := sampleTask()
	theirs := sampleTask()
	theirs.ID = "t2"
	theirs.CompanyID = "co2"
	for _, task := range []model.Task{mine, theirs} {
		row, _ := EncodeTask(task)
		if err := client.InsertTask(ctx, row); err != nil {
			t.Fatalf("InsertTask(%s): %v", task.ID, err)
		}
	}

	tasks, err := client.ListTasks(ctx, "co1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].CompanyID != "co1" {
		t.Errorf("ListTasks(co1) = %+v, want only co1 rows", tasks)
	}
}

func TestGetTaskAbsentIsNilNil(t *testing.T) {
	client := openBackend(t, fullSchema)

	got, err := client.GetTask(context.Background(), "co1", "nope")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Errorf("GetTask(absent) = %+v, want nil", got)
	}
}

func TestUpdateTask(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	task := sampleTask()
	row, _ := EncodeTask(task)
	if err := client.InsertTask(ctx, row); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	task.Status = model.StatusInProgress
	row, _ = EncodeTask(task)
	if err := client.UpdateTask(ctx, "co1", "t1", row); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	got, err := client.GetTask(ctx, "co1", "t1")
	if err != nil || got == nil {
		t.Fatalf("GetTask: %+v, %v", got, err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("status = %s, want in-progress", got.Status)
	}
}

func TestUpdateTaskWrongTenantIsNotFound(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	row, _ := EncodeTask(sampleTask())
	if err := client.InsertTask(ctx, row); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	err := client.UpdateTask(ctx, "co2", "t1", row)
	if KindOf(err) != KindNotFound {
		t.Errorf("update across tenants: kind = %v, want not-found", KindOf(err))
	}
}

func TestDeleteTaskIdempotent(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	row, _ := EncodeTask(sampleTask())
	if err := client.InsertTask(ctx, row); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := client.DeleteTask(ctx, "co1", "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := client.DeleteTask(ctx, "co1", "t1"); err != nil {
		t.Errorf("second DeleteTask: %v", err)
	}
	if got, _ := client.GetTask(ctx, "co1", "t1"); got != nil {
		t.Errorf("task still present after delete: %+v", got)
	}
}

func TestInsertMissingColumnClassified(t *testing.T) {
	client := openBackend(t, staleSchema)

	row, _ := EncodeTask(sampleTask())
	err := client.InsertTask(context.Background(), row)
	if err == nil {
		t.Fatal("InsertTask against stale schema succeeded, want missing-column")
	}
	if KindOf(err) != KindMissingColumn {
		t.Fatalf("kind = %v (%v), want missing-column", KindOf(err), err)
	}
	col, ok := MissingColumn(err)
	if !ok {
		t.Fatal("MissingColumn reported no column")
	}
	// SQLite names the first unknown column in the statement.
	if col != "task_type" {
		t.Errorf("column = %q, want task_type", col)
	}
}

func TestUpdateMissingColumnClassified(t *testing.T) {
	client := openBackend(t, staleSchema)
	ctx := context.Background()

	// Seed a row the stale backend can hold.
	stripped, _ := EncodeTask(sampleTask())
	for _, col := range []string{ColTaskType, ColFrequency, ColNextNotify, ColRequirePhoto, ColParentTask} {
		stripped.Delete(col)
	}
	if err := client.InsertTask(ctx, stripped); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	full, _ := EncodeTask(sampleTask())
	err := client.UpdateTask(ctx, "co1", "t1", full)
	if KindOf(err) != KindMissingColumn {
		t.Fatalf("kind = %v (%v), want missing-column", KindOf(err), err)
	}
	if col, _ := MissingColumn(err); col != "task_type" {
		t.Errorf("column = %q, want task_type", col)
	}
}

func TestStaleBackendStillServesReads(t *testing.T) {
	client := openBackend(t, staleSchema)
	ctx := context.Background()

	stripped, _ := EncodeTask(sampleTask())
	for _, col := range []string{ColTaskType, ColFrequency, ColNextNotify, ColRequirePhoto, ColParentTask} {
		stripped.Delete(col)
	}
	if err := client.InsertTask(ctx, stripped); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	tasks, err := client.ListTasks(ctx, "co1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	if got.Description != "check freezer temps" {
		t.Errorf("description = %q", got.Description)
	}
	if got.Type != "" || got.RequirePhoto {
		t.Errorf("stripped fields should decode to zero: %+v", got)
	}
}

func TestEmployeesRoundTripThroughBackend(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	emp := model.Employee{
		ID: "e1", CompanyID: "co1", Name: "Dana", Email: "dana@example.com",
		Role: model.RoleManager, Points: 10, ManagerIDs: []string{"e0"},
	}
	row, err := EncodeEmployee(emp)
	if err != nil {
		t.Fatalf("EncodeEmployee: %v", err)
	}
	if err := client.InsertEmployee(ctx, row); err != nil {
		t.Fatalf("InsertEmployee: %v", err)
	}

	got, err := client.GetEmployee(ctx, "co1", "e1")
	if err != nil || got == nil {
		t.Fatalf("GetEmployee: %+v, %v", got, err)
	}
	if got.Name != "Dana" || got.Role != model.RoleManager || got.Points != 10 {
		t.Errorf("employee = %+v", got)
	}
	if len(got.ManagerIDs) != 1 || got.ManagerIDs[0] != "e0" {
		t.Errorf("managerIDs = %v, want [e0]", got.ManagerIDs)
	}
}

func TestSchemaVersion(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	// Nothing published yet.
	v, err := client.SchemaVersion(ctx)
	if err != nil || v != "" {
		t.Fatalf("SchemaVersion = %q, %v; want empty, nil", v, err)
	}

	if _, err := client.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', 'v2.1.0')`); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	v, err = client.SchemaVersion(ctx)
	if err != nil || v != "v2.1.0" {
		t.Errorf("SchemaVersion = %q, %v; want v2.1.0", v, err)
	}
}

func TestSchemaVersionWithoutMetaTable(t *testing.T) {
	client := openBackend(t, staleSchema)

	v, err := client.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion without meta table: %v", err)
	}
	if v != "" {
		t.Errorf("SchemaVersion = %q, want empty", v)
	}
}

func TestDeviceToken(t *testing.T) {
	client := openBackend(t, fullSchema)
	ctx := context.Background()

	emp := model.Employee{ID: "e1", CompanyID: "co1", Name: "Dana", Role: model.RoleStaff}
	row, _ := EncodeEmployee(emp)
	if err := client.InsertEmployee(ctx, row); err != nil {
		t.Fatalf("InsertEmployee: %v", err)
	}

	tok, err := client.DeviceToken(ctx, "co1", "e1")
	if err != nil || tok != "" {
		t.Fatalf("DeviceToken unregistered = %q, %v", tok, err)
	}

	if _, err := client.db.Exec(
		`UPDATE employees SET device_token = 'fcm-abc' WHERE id = 'e1'`); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	tok, err = client.DeviceToken(ctx, "co1", "e1")
	if err != nil || tok != "fcm-abc" {
		t.Errorf("DeviceToken = %q, %v; want fcm-abc", tok, err)
	}

	// Unknown employee: no token, no error.
	tok, err = client.DeviceToken(ctx, "co1", "missing")
	if err != nil || tok != "" {
		t.Errorf("DeviceToken(missing) = %q, %v", tok, err)
	}
}

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindUnavailable},
		{"canceled", context.Canceled, KindUnavailable},
		{"refused", errTest("dial tcp 127.0.0.1:8080: connection refused"), KindUnavailable},
		{"no host", errTest("dial tcp: lookup db.example: no such host"), KindUnavailable},
		{"auth", errTest("websocket: bad handshake: 401 Unauthorized"), KindUnauthorized},
		{"invalid auth", errTest("invalid auth token"), KindUnauthorized},
		{"insert drift", errTest("sqlite3: SQL logic error: table tasks has no column named require_photo"), KindMissingColumn},
		{"select drift", errTest("sqlite3: SQL logic error: no such column: tasks.require_photo"), KindMissingColumn},
		{"other", errTest("sqlite3: constraint failed: UNIQUE constraint failed: tasks.id"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("op", tc.err)
			if KindOf(got) != tc.want {
				t.Errorf("classify(%q) = %v, want %v", tc.err, KindOf(got), tc.want)
			}
		})
	}

	// Qualified column names are stripped to the bare column.
	err := classify("op", errTest("no such column: tasks.require_photo"))
	if col, _ := MissingColumn(err); col != "require_photo" {
		t.Errorf("column = %q, want require_photo", col)
	}
}

func TestDSNJoinsExistingQueryString(t *testing.T) {
	cases := []struct {
		name  string
		url   string
		token string
		want  string
	}{
		{"bare url", "libsql://db.turso.io", "tok", "libsql://db.turso.io?authToken=tok"},
		{"existing query", "libsql://db.turso.io?tls=0", "tok", "libsql://db.turso.io?tls=0&authToken=tok"},
		{"no token", "libsql://db.turso.io?tls=0", "", "libsql://db.turso.io?tls=0"},
		{"token escaped", "libsql://db.turso.io", "a&b=c", "libsql://db.turso.io?authToken=a%26b%3Dc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dsnFor(tc.url, tc.token); got != tc.want {
				t.Errorf("dsnFor(%q, %q) = %q, want %q", tc.url, tc.token, got, tc.want)
			}
		})
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
