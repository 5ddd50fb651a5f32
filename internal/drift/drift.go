// Package drift writes rows to a backend whose schema may lag behind
// this client.
//
// The backend team ships column migrations on their own cadence, so a
// write can land on a database that has never heard of task_type. Rather
// than fail the mutation, the writer strips the newest field group and
// retries, degrading the saved row instead of losing it. Stripping is
// capped at two passes per write; a backend more than two migrations
// behind is treated as broken rather than merely old.
package drift

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/remote"
	"golang.org/x/mod/semver"
)

// maxStripPasses bounds strip-and-retry cycles per write. The initial
// attempt is free; only strips count.
const maxStripPasses = 2

// Config configures a Writer.
type Config struct {
	// Groups overrides the embedded field-group table. Tests use this.
	Groups []Group

	// Logger receives one line per stripped group.
	Logger *log.Logger
}

// DefaultConfig returns a config with a stderr logger.
func DefaultConfig() Config {
	return Config{
		Logger: log.New(os.Stderr, "[drift] ", log.LstdFlags),
	}
}

// Result reports how a write landed.
type Result struct {
	// Stripped lists the groups removed before the row was accepted,
	// in strip order. Empty means the row landed whole.
	Stripped []string

	// Attempts counts write attempts, including the successful one.
	Attempts int
}

// Degraded reports whether the saved row is missing any field group.
func (r Result) Degraded() bool { return len(r.Stripped) > 0 }

// Warning renders the degraded-save notice shown to the user, or "".
func (r Result) Warning() string {
	if !r.Degraded() {
		return ""
	}
	return "saved without " + strings.Join(r.Stripped, ", ") + " (backend schema is older than this client)"
}

// Writer sends rows through a remote.Client with schema-drift fallback.
// Safe for concurrent use.
type Writer struct {
	client remote.Client
	groups []Group
	logger *log.Logger

	// The backend's published schema version is probed once per Writer
	// and reused; backends do not migrate mid-session.
	versionOnce sync.Once
	version     string
}

// NewWriter builds a Writer over client. Fails only if the embedded
// field-group table is unusable.
func NewWriter(client remote.Client, cfg Config) (*Writer, error) {
	groups := cfg.Groups
	if groups == nil {
		var err error
		groups, err = LoadGroups()
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[drift] ", log.LstdFlags)
	}
	return &Writer{client: client, groups: groups, logger: logger}, nil
}

// InsertTask writes a new task, stripping field groups as needed.
func (w *Writer) InsertTask(ctx context.Context, task model.Task) (Result, error) {
	row, err := remote.EncodeTask(task)
	if err != nil {
		return Result{}, err
	}
	return w.send(ctx, row, w.client.InsertTask)
}

// UpdateTask rewrites an existing task, stripping field groups as needed.
func (w *Writer) UpdateTask(ctx context.Context, task model.Task) (Result, error) {
	row, err := remote.EncodeTask(task)
	if err != nil {
		return Result{}, err
	}
	return w.send(ctx, row, func(ctx context.Context, r *remote.Row) error {
		return w.client.UpdateTask(ctx, task.CompanyID, task.ID, r)
	})
}

// InsertEmployee writes a new employee, stripping field groups as needed.
func (w *Writer) InsertEmployee(ctx context.Context, e model.Employee) (Result, error) {
	row, err := remote.EncodeEmployee(e)
	if err != nil {
		return Result{}, err
	}
	return w.send(ctx, row, w.client.InsertEmployee)
}

// UpdateEmployee rewrites an existing employee, stripping field groups
// as needed.
func (w *Writer) UpdateEmployee(ctx context.Context, e model.Employee) (Result, error) {
	row, err := remote.EncodeEmployee(e)
	if err != nil {
		return Result{}, err
	}
	return w.send(ctx, row, func(ctx context.Context, r *remote.Row) error {
		return w.client.UpdateEmployee(ctx, e.CompanyID, e.ID, r)
	})
}

func (w *Writer) send(ctx context.Context, row *remote.Row, op func(context.Context, *remote.Row) error) (Result, error) {
	row = row.Clone()
	var res Result

	remaining, pre := w.preStrip(ctx, row)
	res.Stripped = append(res.Stripped, pre...)

	failStrips := 0
	for {
		res.Attempts++
		err := op(ctx, row)
		if err == nil {
			return res, nil
		}

		col, ok := remote.MissingColumn(err)
		if !ok {
			// Not drift. Hand the classified error straight up.
			return res, err
		}
		if owner(w.groups, col) == nil {
			// A column we write but no group owns: core schema is
			// broken, stripping cannot help.
			w.logger.Printf("column %s missing on backend and owned by no field group, giving up", col)
			return res, err
		}
		if failStrips >= maxStripPasses {
			w.logger.Printf("strip cap reached after %d attempts, giving up on column %s", res.Attempts, col)
			return res, err
		}

		g, rest := nextApplicable(remaining, row)
		if g == nil {
			return res, err
		}
		remaining = rest
		stripGroup(row, *g)
		res.Stripped = append(res.Stripped, g.Name)
		failStrips++
		w.logger.Printf("backend missing column %s, retrying without %s", col, g.Name)
	}
}

// preStrip removes groups the backend's published schema version cannot
// hold. These strips are version-driven, not failure-driven, and do not
// count toward the pass cap. Returns the groups still in play and the
// names of the groups actually stripped from this row.
func (w *Writer) preStrip(ctx context.Context, row *remote.Row) ([]Group, []string) {
	w.versionOnce.Do(func() {
		v, err := w.client.SchemaVersion(ctx)
		if err != nil {
			// Probe failures are not fatal; writes fall back to
			// failure-driven stripping.
			w.logger.Printf("schema version probe failed: %v", err)
			return
		}
		if v != "" && !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if v != "" && !semver.IsValid(v) {
			w.logger.Printf("backend published unparseable schema version %q, ignoring", v)
			return
		}
		w.version = v
	})

	if w.version == "" {
		return w.groups, nil
	}

	var remaining []Group
	var stripped []string
	for _, g := range w.groups {
		if g.MinSchema != "" && semver.Compare(w.version, g.MinSchema) < 0 {
			if stripGroup(row, g) {
				stripped = append(stripped, g.Name)
				w.logger.Printf("backend schema %s predates %s, stripping up front", w.version, g.Name)
			}
			continue
		}
		remaining = append(remaining, g)
	}
	return remaining, stripped
}

// nextApplicable returns the newest remaining group with at least one
// column present in the row, plus the groups after it. Groups whose
// columns the row never carried (task groups during an employee write)
// are skipped without consuming a pass.
func nextApplicable(groups []Group, row *remote.Row) (*Group, []Group) {
	for i := range groups {
		for _, c := range groups[i].Columns {
			if row.Has(c) {
				return &groups[i], groups[i+1:]
			}
		}
	}
	return nil, nil
}

// stripGroup deletes the group's columns from the row, reporting whether
// anything was actually removed.
func stripGroup(row *remote.Row, g Group) bool {
	removed := false
	for _, c := range g.Columns {
		if row.Delete(c) {
			removed = true
		}
	}
	return removed
}
