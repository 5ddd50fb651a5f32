package drift

import (
	"context"
	"database/sql"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/remote"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// midSchema is a backend two migrations behind: it predates recurrence
// and recurrence notifications but has everything since.
const midSchema = `
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
	require_photo INTEGER NOT NULL DEFAULT 0,
	assigned_to TEXT,
	assigned_by TEXT,
	parent_task_id TEXT,
	remarks TEXT
);
CREATE TABLE meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// holeSchema has the newest columns but lacks require_photo: an
// inconsistent backend the generation model cannot describe.
const holeSchema = `
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
	assigned_to TEXT,
	assigned_by TEXT,
	parent_task_id TEXT,
	remarks TEXT
);
`

// legacyEmployees predates staff-manager links.
const legacyEmployees = `
CREATE TABLE employees (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT,
	mobile TEXT,
	role TEXT NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	auth_user_id TEXT,
	manager_id TEXT
);
`

func openBackend(t *testing.T, schema string) (*remote.SQLClient, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.db")
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	client := remote.NewSQLClient(db, remote.Config{Logger: log.New(io.Discard, "", 0)})
	t.Cleanup(func() { _ = client.Close() })
	return client, db
}

func newTestWriter(t *testing.T, client remote.Client) *Writer {
	t.Helper()
	w, err := NewWriter(client, Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w
}

func recurringTask() model.Task {
	next := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	return model.Task{
		ID:               "t1",
		CompanyID:        "co1",
		Description:      "clean grease trap",
		Status:           model.StatusPending,
		Type:             model.TypeRecurring,
		Frequency:        model.FreqWeekly,
		NextRecurrenceAt: &next,
		CreatedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		RequirePhoto:     true,
		AssignedTo:       "e2",
		AssignedBy:       "e1",
	}
}

func TestWriteStripsTwoGenerationsAndLands(t *testing.T) {
	client, db := openBackend(t, midSchema)
	w := newTestWriter(t, client)

	res, err := w.InsertTask(context.Background(), recurringTask())
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if len(res.Stripped) != 2 || res.Stripped[0] != "recurrence_notification" || res.Stripped[1] != "recurrence" {
		t.Errorf("Stripped = %v, want [recurrence_notification recurrence]", res.Stripped)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if !res.Degraded() {
		t.Error("Degraded() = false after stripping")
	}
	if res.Warning() == "" {
		t.Error("Warning() empty for a degraded save")
	}

	// The degraded row landed with everything the backend can hold.
	var desc string
	var photo int
	err = db.QueryRow(`SELECT description, require_photo FROM tasks WHERE id = 't1'`).Scan(&desc, &photo)
	if err != nil {
		t.Fatalf("row not saved: %v", err)
	}
	if desc != "clean grease trap" || photo != 1 {
		t.Errorf("saved row = (%q, %d)", desc, photo)
	}
}

func TestWriteWholeRowOnCurrentBackend(t *testing.T) {
	client, _ := openBackend(t, midSchema+`
		ALTER TABLE tasks ADD COLUMN task_type TEXT;
		ALTER TABLE tasks ADD COLUMN recurrence_frequency TEXT;
		ALTER TABLE tasks ADD COLUMN next_recurrence_notification_at TEXT;
	`)
	w := newTestWriter(t, client)

	res, err := w.InsertTask(context.Background(), recurringTask())
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if res.Degraded() || res.Attempts != 1 {
		t.Errorf("res = %+v, want clean single-attempt save", res)
	}
	if res.Warning() != "" {
		t.Errorf("Warning() = %q for a clean save", res.Warning())
	}
}

func TestPublishedVersionPreStripsWithoutSpendingPasses(t *testing.T) {
	client, db := openBackend(t, midSchema)
	if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', 'v2.0.0')`); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	w := newTestWriter(t, client)

	res, err := w.InsertTask(context.Background(), recurringTask())
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	// v2.0.0 predates recurrence (v2.1.0) and notifications (v2.3.0):
	// both go before the first attempt, which then succeeds outright.
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 when the version is published", res.Attempts)
	}
	if len(res.Stripped) != 2 {
		t.Errorf("Stripped = %v, want both recurrence groups", res.Stripped)
	}
}

func TestStripCapGivesUpOnInconsistentBackend(t *testing.T) {
	client, _ := openBackend(t, holeSchema)
	w := newTestWriter(t, client)

	_, err := w.InsertTask(context.Background(), recurringTask())
	if err == nil {
		t.Fatal("InsertTask succeeded against a backend missing require_photo under newer columns")
	}
	if remote.KindOf(err) != remote.KindMissingColumn {
		t.Errorf("kind = %v, want missing-column", remote.KindOf(err))
	}
	if col, _ := remote.MissingColumn(err); col != "require_photo" {
		t.Errorf("column = %q, want require_photo", col)
	}
}

func TestEmployeeWriteStripsManagerLinksOnly(t *testing.T) {
	client, db := openBackend(t, legacyEmployees)
	w := newTestWriter(t, client)

	emp := model.Employee{
		ID: "e5", CompanyID: "co1", Name: "Kim", Role: model.RoleStaff,
		ManagerID: "e1", ManagerIDs: []string{"e1"},
	}
	res, err := w.InsertEmployee(context.Background(), emp)
	if err != nil {
		t.Fatalf("InsertEmployee: %v", err)
	}
	// Task groups never intersect an employee row, so only one pass is
	// spent even though manager_links is last in the table.
	if len(res.Stripped) != 1 || res.Stripped[0] != "manager_links" {
		t.Errorf("Stripped = %v, want [manager_links]", res.Stripped)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}

	var managerID string
	if err := db.QueryRow(`SELECT manager_id FROM employees WHERE id = 'e5'`).Scan(&managerID); err != nil {
		t.Fatalf("row not saved: %v", err)
	}
	if managerID != "e1" {
		t.Errorf("manager_id = %q, want e1 (legacy link must survive)", managerID)
	}
}

func TestMissingCoreColumnFailsFast(t *testing.T) {
	client, _ := openBackend(t, `
		CREATE TABLE tasks (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			status TEXT NOT NULL
		);
	`)
	w := newTestWriter(t, client)

	_, err := w.InsertTask(context.Background(), recurringTask())
	if err == nil {
		t.Fatal("InsertTask succeeded against a backend missing description")
	}
	if col, _ := remote.MissingColumn(err); col != "description" {
		t.Errorf("column = %q, want description (no group owns it, no stripping)", col)
	}
}

func TestUpdateStripsLikeInsert(t *testing.T) {
	client, _ := openBackend(t, midSchema)
	w := newTestWriter(t, client)
	ctx := context.Background()

	task := recurringTask()
	if _, err := w.InsertTask(ctx, task); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	task.Status = model.StatusInProgress
	res, err := w.UpdateTask(ctx, task)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if !res.Degraded() {
		t.Error("update against mid schema should degrade like insert")
	}

	got, err := client.GetTask(ctx, "co1", "t1")
	if err != nil || got == nil {
		t.Fatalf("GetTask: %+v, %v", got, err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("status = %s, want in-progress", got.Status)
	}
}

// scriptedClient serves canned errors so pass-through behavior can be
// pinned without a real backend.
type scriptedClient struct {
	remote.Client
	insertErrs []error
	calls      int
	version    string
}

func (s *scriptedClient) InsertTask(ctx context.Context, row *remote.Row) error {
	s.calls++
	if len(s.insertErrs) == 0 {
		return nil
	}
	err := s.insertErrs[0]
	s.insertErrs = s.insertErrs[1:]
	return err
}

func (s *scriptedClient) SchemaVersion(ctx context.Context) (string, error) {
	return s.version, nil
}

func TestNetworkErrorPassesThroughUntouched(t *testing.T) {
	netErr := &remote.Error{Op: "insert task", Kind: remote.KindUnavailable, Err: context.DeadlineExceeded}
	sc := &scriptedClient{insertErrs: []error{netErr}}
	w := newTestWriter(t, sc)

	res, err := w.InsertTask(context.Background(), recurringTask())
	if remote.KindOf(err) != remote.KindUnavailable {
		t.Errorf("kind = %v, want unavailable", remote.KindOf(err))
	}
	if res.Attempts != 1 || sc.calls != 1 {
		t.Errorf("attempts = %d calls = %d, want 1 each: no retry on network failure", res.Attempts, sc.calls)
	}
}

func TestUnknownErrorDoesNotTriggerStripping(t *testing.T) {
	dup := &remote.Error{Op: "insert task", Kind: remote.KindUnknown, Err: errString("UNIQUE constraint failed")}
	sc := &scriptedClient{insertErrs: []error{dup}}
	w := newTestWriter(t, sc)

	res, err := w.InsertTask(context.Background(), recurringTask())
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Degraded() {
		t.Errorf("Stripped = %v, want none for a non-drift failure", res.Stripped)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestLoadGroupsEmbedded(t *testing.T) {
	groups, err := LoadGroups()
	if err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}
	if len(groups) == 0 {
		t.Fatal("no groups loaded")
	}
	if groups[0].Name != "recurrence_notification" {
		t.Errorf("newest group = %q, want recurrence_notification", groups[0].Name)
	}
	for _, g := range groups {
		if len(g.Columns) == 0 {
			t.Errorf("group %s has no columns", g.Name)
		}
	}
}

func TestParseGroupsRejectsBadTables(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"empty", ``},
		{"no name", "[[group]]\ncolumns = [\"a\"]\n"},
		{"no columns", "[[group]]\nname = \"g\"\n"},
		{"bad semver", "[[group]]\nname = \"g\"\nmin_schema = \"2.x\"\ncolumns = [\"a\"]\n"},
		{"duplicate name", "[[group]]\nname = \"g\"\ncolumns = [\"a\"]\n[[group]]\nname = \"g\"\ncolumns = [\"b\"]\n"},
		{"shared column", "[[group]]\nname = \"g1\"\ncolumns = [\"a\"]\n[[group]]\nname = \"g2\"\ncolumns = [\"a\"]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseGroups([]byte(tc.toml)); err == nil {
				t.Errorf("parseGroups accepted %s", tc.name)
			}
		})
	}
}
