// Package remote is the only layer that speaks the backend's wire schema.
//
// Everything above it works with model types and classified errors; the
// snake_case column names, the SQL, and the failure-mode sniffing all live
// here. A failure is classified exactly once, at this boundary, into a
// Kind; callers switch on KindOf(err) and never inspect error strings.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/crewsync/crewsync/internal/model"
)

// Kind classifies a remote failure.
type Kind int

const (
	// KindUnknown covers failures no other kind matches.
	KindUnknown Kind = iota

	// KindMissingColumn means the backend schema lacks a column this
	// client writes. The column name is carried on the Error so the
	// fallback layer can strip the field group that owns it.
	KindMissingColumn

	// KindNotFound means the addressed row does not exist.
	KindNotFound

	// KindUnauthorized means the backend rejected our credentials.
	KindUnauthorized

	// KindUnavailable means the backend could not be reached or timed
	// out. Retryable.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindMissingColumn:
		return "missing-column"
	case KindNotFound:
		return "not-found"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure.
type Error struct {
	Op     string // the operation that failed, e.g. "insert task"
	Kind   Kind
	Column string // set when Kind == KindMissingColumn
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindMissingColumn {
		return fmt.Sprintf("remote %s: missing column %q: %v", e.Op, e.Column, e.Err)
	}
	return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindUnknown if err did not
// come through this package.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// MissingColumn reports the column named by a KindMissingColumn error.
func MissingColumn(err error) (string, bool) {
	var re *Error
	if errors.As(err, &re) && re.Kind == KindMissingColumn {
		return re.Column, true
	}
	return "", false
}

// Row is an ordered set of column values bound for one remote row. The
// fallback layer strips columns from a Row between write attempts, so
// column order must be stable under deletion.
type Row struct {
	cols []string
	vals []any
}

// Set appends or replaces a column value.
func (r *Row) Set(col string, v any) {
	for i, c := range r.cols {
		if c == col {
			r.vals[i] = v
			return
		}
	}
	r.cols = append(r.cols, col)
	r.vals = append(r.vals, v)
}

// Delete removes a column, reporting whether it was present.
func (r *Row) Delete(col string) bool {
	for i, c := range r.cols {
		if c == col {
			r.cols = append(r.cols[:i], r.cols[i+1:]...)
			r.vals = append(r.vals[:i], r.vals[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether the column is present.
func (r *Row) Has(col string) bool {
	for _, c := range r.cols {
		if c == col {
			return true
		}
	}
	return false
}

// Value returns the value bound to col.
func (r *Row) Value(col string) (any, bool) {
	for i, c := range r.cols {
		if c == col {
			return r.vals[i], true
		}
	}
	return nil, false
}

// Columns returns the column names in insertion order.
func (r *Row) Columns() []string {
	return r.cols
}

// Values returns the bound values in column order.
func (r *Row) Values() []any {
	return r.vals
}

// Len returns the number of columns.
func (r *Row) Len() int {
	return len(r.cols)
}

// Clone returns an independent copy. The fallback layer clones before
// stripping so a retry after a transient failure starts from the full row.
func (r *Row) Clone() *Row {
	cp := &Row{
		cols: make([]string, len(r.cols)),
		vals: make([]any, len(r.vals)),
	}
	copy(cp.cols, r.cols)
	copy(cp.vals, r.vals)
	return cp
}

// Client is the backend surface the engine and reconciler depend on.
// Get methods return (nil, nil) when the row does not exist; absence is
// data, not an error, because the reconciler treats it as a delete.
type Client interface {
	ListTasks(ctx context.Context, tenantID string) ([]model.Task, error)
	GetTask(ctx context.Context, tenantID, id string) (*model.Task, error)
	InsertTask(ctx context.Context, row *Row) error
	UpdateTask(ctx context.Context, tenantID, id string, row *Row) error
	DeleteTask(ctx context.Context, tenantID, id string) error

	ListEmployees(ctx context.Context, tenantID string) ([]model.Employee, error)
	GetEmployee(ctx context.Context, tenantID, id string) (*model.Employee, error)
	InsertEmployee(ctx context.Context, row *Row) error
	UpdateEmployee(ctx context.Context, tenantID, id string, row *Row) error
	DeleteEmployee(ctx context.Context, tenantID, id string) error

	// SchemaVersion returns the version the backend publishes, or ""
	// when it publishes none.
	SchemaVersion(ctx context.Context) (string, error)

	// DeviceToken returns the push token registered for an employee,
	// or "" when none is registered.
	DeviceToken(ctx context.Context, tenantID, employeeID string) (string, error)

	Close() error
}
