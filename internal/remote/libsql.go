package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	neturl "net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/crewsync/crewsync/internal/model"
	_ "github.com/tursodatabase/go-libsql"
)

// Config configures the SQL client.
type Config struct {
	// URL is the libsql database URL, e.g. libsql://crewsync-acme.turso.io.
	URL string

	// AuthToken authenticates against the backend. Appended to the DSN.
	AuthToken string

	// Logger receives classification decisions at debug level.
	Logger *log.Logger
}

// DefaultConfig returns a config with a stderr logger.
func DefaultConfig() Config {
	return Config{
		Logger: log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// SQLClient implements Client against a libSQL (or plain SQLite in tests)
// database. The schema belongs to the backend team and may lag behind
// this client; every write error is classified so the fallback layer can
// react to missing columns.
type SQLClient struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to the backend named by cfg.URL.
//
// The caller MUST call Close() when done.
func Open(cfg Config) (*SQLClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote: no database URL configured")
	}
	db, err := sql.Open("libsql", dsnFor(cfg.URL, cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify("ping", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewSQLClient(db, cfg), nil
}

// dsnFor appends the auth token to a database URL, joining with & when
// the URL already carries a query string. The token value is escaped;
// libsql URLs otherwise pass through untouched.
func dsnFor(url, authToken string) string {
	if authToken == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "authToken=" + neturl.QueryEscape(authToken)
}

// NewSQLClient wraps an already-open database handle. Tests use this with
// an embedded SQLite handle so missing-column failures are the real thing,
// not fakes.
func NewSQLClient(db *sql.DB, cfg Config) *SQLClient {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &SQLClient{db: db, logger: logger}
}

// Close closes the underlying handle.
func (c *SQLClient) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Reads use SELECT * and decode whatever columns come back. A backend
// missing newer columns still serves every row it has.

func (c *SQLClient) ListTasks(ctx context.Context, tenantID string) ([]model.Task, error) {
	const op = "list tasks"
	rows, err := c.db.QueryContext(ctx,
		`SELECT * FROM tasks WHERE company_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	return scanTasks(op, rows)
}

func (c *SQLClient) GetTask(ctx context.Context, tenantID, id string) (*model.Task, error) {
	const op = "get task"
	rows, err := c.db.QueryContext(ctx,
		`SELECT * FROM tasks WHERE company_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	tasks, err := scanTasks(op, rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		// Absence is data: the caller treats it as a remote delete.
		return nil, nil
	}
	return &tasks[0], nil
}

func (c *SQLClient) InsertTask(ctx context.Context, row *Row) error {
	return c.insert(ctx, "insert task", "tasks", row)
}

func (c *SQLClient) UpdateTask(ctx context.Context, tenantID, id string, row *Row) error {
	return c.update(ctx, "update task", "tasks", tenantID, id, row)
}

func (c *SQLClient) DeleteTask(ctx context.Context, tenantID, id string) error {
	const op = "delete task"
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE company_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (c *SQLClient) ListEmployees(ctx context.Context, tenantID string) ([]model.Employee, error) {
	const op = "list employees"
	rows, err := c.db.QueryContext(ctx,
		`SELECT * FROM employees WHERE company_id = ? ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	return scanEmployees(op, rows)
}

func (c *SQLClient) GetEmployee(ctx context.Context, tenantID, id string) (*model.Employee, error) {
	const op = "get employee"
	rows, err := c.db.QueryContext(ctx,
		`SELECT * FROM employees WHERE company_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	employees, err := scanEmployees(op, rows)
	if err != nil {
		return nil, err
	}
	if len(employees) == 0 {
		return nil, nil
	}
	return &employees[0], nil
}

func (c *SQLClient) InsertEmployee(ctx context.Context, row *Row) error {
	return c.insert(ctx, "insert employee", "employees", row)
}

func (c *SQLClient) UpdateEmployee(ctx context.Context, tenantID, id string, row *Row) error {
	return c.update(ctx, "update employee", "employees", tenantID, id, row)
}

func (c *SQLClient) DeleteEmployee(ctx context.Context, tenantID, id string) error {
	const op = "delete employee"
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM employees WHERE company_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// SchemaVersion reads the version the backend publishes in its meta
// table. A backend without the table (or the row) publishes nothing;
// that is "" with no error, and the fallback layer probes column by
// column instead.
func (c *SQLClient) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		classified := classify("schema version", err)
		if KindOf(classified) == KindUnavailable || KindOf(classified) == KindUnauthorized {
			return "", classified
		}
		// Missing meta table, missing column: no version published.
		return "", nil
	}
	return version, nil
}

func (c *SQLClient) DeviceToken(ctx context.Context, tenantID, employeeID string) (string, error) {
	var token sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT device_token FROM employees WHERE company_id = ? AND id = ?`,
		tenantID, employeeID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", classify("device token", err)
	}
	return token.String, nil
}

func (c *SQLClient) insert(ctx context.Context, op, table string, row *Row) error {
	cols := row.Columns()
	if len(cols) == 0 {
		return &Error{Op: op, Kind: KindUnknown, Err: fmt.Errorf("empty row")}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders)

	if _, err := c.db.ExecContext(ctx, query, row.Values()...); err != nil {
		return classify(op, err)
	}
	return nil
}

// update builds an UPDATE from the row, keying on id and company_id.
// Key columns never appear in SET even when the row carries them.
func (c *SQLClient) update(ctx context.Context, op, table, tenantID, id string, row *Row) error {
	var assignments []string
	var args []any
	for i, col := range row.Columns() {
		if col == ColID || col == ColCompanyID {
			continue
		}
		assignments = append(assignments, col+" = ?")
		args = append(args, row.Values()[i])
	}
	if len(assignments) == 0 {
		return &Error{Op: op, Kind: KindUnknown, Err: fmt.Errorf("empty row")}
	}
	args = append(args, tenantID, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE company_id = ? AND id = ?",
		table, strings.Join(assignments, ", "))

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s %s not on backend", table, id)}
	}
	return nil
}

func scanTasks(op string, rows *sql.Rows) ([]model.Task, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(op, err)
	}

	var tasks []model.Task
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(op, err)
		}
		task, err := DecodeTask(cols, vals)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindUnknown, Err: err}
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return tasks, nil
}

func scanEmployees(op string, rows *sql.Rows) ([]model.Employee, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(op, err)
	}

	var employees []model.Employee
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(op, err)
		}
		employee, err := DecodeEmployee(cols, vals)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindUnknown, Err: err}
		}
		employees = append(employees, employee)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return employees, nil
}

// SQLite reports a missing column two ways depending on the statement:
// INSERT says "table tasks has no column named foo", SELECT and UPDATE
// say "no such column: foo" (optionally table-qualified).
var (
	reNoColumnNamed = regexp.MustCompile(`has no column named\s+([A-Za-z0-9_.]+)`)
	reNoSuchColumn  = regexp.MustCompile(`no such column:?\s+([A-Za-z0-9_.]+)`)
)

// classify maps a raw driver error onto the Kind taxonomy. This is the
// single place failure strings are inspected.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	if m := reNoColumnNamed.FindStringSubmatch(msg); m != nil {
		return &Error{Op: op, Kind: KindMissingColumn, Column: bareColumn(m[1]), Err: err}
	}
	if m := reNoSuchColumn.FindStringSubmatch(msg); m != nil {
		return &Error{Op: op, Kind: KindMissingColumn, Column: bareColumn(m[1]), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Op: op, Kind: KindUnavailable, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Op: op, Kind: KindUnavailable, Err: err}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "invalid auth"),
		strings.Contains(lower, "authentication failed"):
		return &Error{Op: op, Kind: KindUnauthorized, Err: err}
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "server unavailable"):
		return &Error{Op: op, Kind: KindUnavailable, Err: err}
	}
	return &Error{Op: op, Kind: KindUnknown, Err: err}
}

// bareColumn strips any table qualifier from a column reference.
func bareColumn(col string) string {
	if i := strings.LastIndex(col, "."); i >= 0 {
		return col[i+1:]
	}
	return col
}
