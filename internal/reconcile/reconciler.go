package reconcile

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/crewsync/crewsync/internal/cache"
	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/remote"
)

// Config holds reconciler tuning.
type Config struct {
	// ResumeDebounce is the minimum gap between two full refreshes
	// triggered by Poke. Resume signals inside the gap coalesce.
	ResumeDebounce time.Duration

	// ReconnectMin and ReconnectMax bound the backoff between
	// subscription attempts after a stream failure.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Logger *log.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ResumeDebounce: 1200 * time.Millisecond,
		ReconnectMin:   time.Second,
		ReconnectMax:   30 * time.Second,
		Logger:         log.New(os.Stderr, "[reconcile] ", log.LstdFlags),
	}
}

// RefreshFunc pulls a full canonical snapshot into the cache.
type RefreshFunc func(ctx context.Context) error

// Reconciler applies backend change events to the snapshot cache for
// one (tenant, user) identity at a time.
//
// Events never carry authoritative row data: INSERT and UPDATE refetch
// the canonical row before merging, DELETE trusts only the id. A
// reconnect or rescope runs one full refresh because events may have
// been missed while unsubscribed.
//
// Callers switching identity clear the cache themselves before calling
// Rescope; the reconciler only tears down and resubscribes.
type Reconciler struct {
	source  Source
	client  remote.Client
	snaps   *cache.Snapshots
	refresh RefreshFunc
	logger  *log.Logger

	debounce     time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu         sync.Mutex
	scope      Scope
	running    bool
	lastResume time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	resub  chan struct{}
	pokes  chan struct{}
}

// New builds a Reconciler. refresh is typically Engine.Refresh.
func New(source Source, client remote.Client, snaps *cache.Snapshots, refresh RefreshFunc, cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	debounce := cfg.ResumeDebounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}
	min := cfg.ReconnectMin
	if min <= 0 {
		min = time.Second
	}
	max := cfg.ReconnectMax
	if max < min {
		max = min
	}
	return &Reconciler{
		source:       source,
		client:       client,
		snaps:        snaps,
		refresh:      refresh,
		logger:       logger,
		debounce:     debounce,
		reconnectMin: min,
		reconnectMax: max,
		resub:        make(chan struct{}, 1),
		pokes:        make(chan struct{}, 1),
	}
}

// Start subscribes for the given scope and begins applying events.
func (r *Reconciler) Start(scope Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.scope = scope
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true

	r.wg.Add(2)
	go r.run()
	go r.resumeLoop()
	return nil
}

// Stop tears down the subscription and waits for the loops to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Printf("reconciler stopped")
}

// IsRunning reports whether the loops are live.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Rescope switches to a different (tenant, user) identity. The current
// subscription is torn down before the new one is dialed.
func (r *Reconciler) Rescope(scope Scope) {
	r.mu.Lock()
	r.scope = scope
	r.mu.Unlock()

	select {
	case r.resub <- struct{}{}:
	default:
	}
}

// Poke signals a foreground resume. Refreshes triggered this way are
// kept at least the debounce window apart; signals inside the window
// coalesce into the trailing refresh.
func (r *Reconciler) Poke() {
	select {
	case r.pokes <- struct{}{}:
	default:
	}
}

func (r *Reconciler) currentScope() Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

// run dials, drains, and redials the change stream until stopped.
func (r *Reconciler) run() {
	defer r.wg.Done()

	delay := r.reconnectMin
	for {
		if r.ctx.Err() != nil {
			return
		}
		scope := r.currentScope()

		sub, err := r.source.Subscribe(r.ctx, scope)
		if err != nil {
			r.logger.Printf("subscribe failed for %s, retrying in %v: %v", scope.TenantID, delay, err)
			if !r.sleep(delay) {
				return
			}
			delay = r.nextDelay(delay)
			continue
		}
		delay = r.reconnectMin
		r.logger.Printf("subscribed to %s", scope.TenantID)

		// Events may have been missed while unsubscribed.
		if err := r.refresh(r.ctx); err != nil && r.ctx.Err() == nil {
			r.logger.Printf("post-subscribe refresh failed: %v", err)
		}

		rescoped := r.drain(sub, scope)
		_ = sub.Close()

		if !rescoped && r.ctx.Err() == nil {
			// The stream broke on its own; give the backend a moment
			// before redialing.
			if !r.sleep(r.reconnectMin) {
				return
			}
		}
	}
}

// drain applies events until the stream breaks, the scope changes, or
// the reconciler stops. Reports whether it returned because of a
// rescope.
func (r *Reconciler) drain(sub Subscription, scope Scope) bool {
	for {
		select {
		case <-r.ctx.Done():
			return false

		case <-r.resub:
			r.logger.Printf("rescoping away from %s", scope.TenantID)
			return true

		case ev, ok := <-sub.Events():
			if !ok {
				r.logger.Printf("stream for %s ended", scope.TenantID)
				return false
			}
			r.apply(r.ctx, scope, ev)

		case err, ok := <-sub.Errors():
			if !ok {
				return false
			}
			r.logger.Printf("stream error for %s: %v", scope.TenantID, err)
			return false
		}
	}
}

// resumeLoop turns Poke signals into debounced full refreshes.
func (r *Reconciler) resumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.pokes:
		}

		r.mu.Lock()
		since := time.Since(r.lastResume)
		r.mu.Unlock()

		if since < r.debounce {
			if !r.sleep(r.debounce - since) {
				return
			}
			// Collapse anything that arrived while waiting.
			select {
			case <-r.pokes:
			default:
			}
		}

		r.mu.Lock()
		r.lastResume = time.Now()
		r.mu.Unlock()

		if err := r.refresh(r.ctx); err != nil && r.ctx.Err() == nil {
			r.logger.Printf("resume refresh failed: %v", err)
		}
	}
}

// sleep waits d or until the reconciler stops. Reports whether it slept
// the full duration.
func (r *Reconciler) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Reconciler) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > r.reconnectMax {
		d = r.reconnectMax
	}
	return d
}

// apply merges one event into the cache.
func (r *Reconciler) apply(ctx context.Context, scope Scope, ev ChangeEvent) {
	switch ev.Table {
	case "tasks":
		r.applyTask(ctx, scope, ev)
	case "employees":
		r.applyEmployee(ctx, scope, ev)
	default:
		r.logger.Printf("ignoring event for table %q", ev.Table)
	}
}

func (r *Reconciler) applyTask(ctx context.Context, scope Scope, ev ChangeEvent) {
	id := ev.RowID()

	if ev.Op == OpDelete {
		// Id only, no refetch. Children stay; a later full refresh
		// settles whatever the backend did with them.
		if err := r.removeTask(ctx, scope.TenantID, id); err != nil {
			r.logger.Printf("failed to drop task %s: %v", id, err)
		}
		return
	}

	canonical, err := r.client.GetTask(ctx, scope.TenantID, id)
	if err != nil {
		r.logger.Printf("refetch of task %s failed, waiting for next refresh: %v", id, err)
		return
	}
	if canonical == nil {
		// Gone between the event and the refetch.
		if err := r.removeTask(ctx, scope.TenantID, id); err != nil {
			r.logger.Printf("failed to drop task %s: %v", id, err)
		}
		return
	}
	if canonical.CompanyID != scope.TenantID {
		r.logger.Printf("dropping cross-tenant event for task %s", id)
		return
	}

	tasks, err := r.snaps.Tasks(ctx, scope.TenantID)
	if err != nil {
		r.logger.Printf("failed to load tasks: %v", err)
		return
	}

	switch ev.Op {
	case OpInsert:
		tasks = upsertTaskTop(tasks, *canonical)
	case OpUpdate:
		tasks = replaceTask(tasks, *canonical)
	}

	if err := r.snaps.PutTasks(ctx, scope.TenantID, tasks); err != nil {
		r.logger.Printf("failed to store tasks: %v", err)
		return
	}

	r.pullReferencedEmployees(ctx, scope, *canonical)
}

func (r *Reconciler) removeTask(ctx context.Context, tenantID, id string) error {
	tasks, err := r.snaps.Tasks(ctx, tenantID)
	if err != nil {
		return err
	}
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return r.snaps.PutTasks(ctx, tenantID, kept)
}

// pullReferencedEmployees makes sure the rows a merged task points at
// exist in the roster snapshot, refetching canonically when they do
// not.
func (r *Reconciler) pullReferencedEmployees(ctx context.Context, scope Scope, t model.Task) {
	employees, err := r.snaps.Employees(ctx, scope.TenantID)
	if err != nil {
		r.logger.Printf("failed to load employees: %v", err)
		return
	}
	known := make(map[string]bool, len(employees))
	for _, emp := range employees {
		known[emp.ID] = true
	}

	added := false
	for _, id := range []string{t.AssignedTo, t.AssignedBy} {
		if id == "" || known[id] {
			continue
		}
		emp, err := r.client.GetEmployee(ctx, scope.TenantID, id)
		if err != nil {
			r.logger.Printf("refetch of employee %s failed: %v", id, err)
			continue
		}
		if emp == nil || emp.CompanyID != scope.TenantID {
			continue
		}
		employees = append(employees, *emp)
		known[id] = true
		added = true
	}
	if !added {
		return
	}
	if err := r.snaps.PutEmployees(ctx, scope.TenantID, employees); err != nil {
		r.logger.Printf("failed to store employees: %v", err)
	}
}

func (r *Reconciler) applyEmployee(ctx context.Context, scope Scope, ev ChangeEvent) {
	id := ev.RowID()

	if ev.Op == OpDelete {
		if err := r.removeEmployee(ctx, scope.TenantID, id); err != nil {
			r.logger.Printf("failed to drop employee %s: %v", id, err)
		}
		return
	}

	canonical, err := r.client.GetEmployee(ctx, scope.TenantID, id)
	if err != nil {
		r.logger.Printf("refetch of employee %s failed, waiting for next refresh: %v", id, err)
		return
	}
	if canonical == nil {
		if err := r.removeEmployee(ctx, scope.TenantID, id); err != nil {
			r.logger.Printf("failed to drop employee %s: %v", id, err)
		}
		return
	}
	if canonical.CompanyID != scope.TenantID {
		r.logger.Printf("dropping cross-tenant event for employee %s", id)
		return
	}

	employees, err := r.snaps.Employees(ctx, scope.TenantID)
	if err != nil {
		r.logger.Printf("failed to load employees: %v", err)
		return
	}
	replaced := false
	for i := range employees {
		if employees[i].ID == canonical.ID {
			employees[i] = *canonical
			replaced = true
			break
		}
	}
	if !replaced {
		employees = append(employees, *canonical)
	}
	if err := r.snaps.PutEmployees(ctx, scope.TenantID, employees); err != nil {
		r.logger.Printf("failed to store employees: %v", err)
	}
}

func (r *Reconciler) removeEmployee(ctx context.Context, tenantID, id string) error {
	employees, err := r.snaps.Employees(ctx, tenantID)
	if err != nil {
		return err
	}
	kept := employees[:0]
	for _, emp := range employees {
		if emp.ID != id {
			kept = append(kept, emp)
		}
	}
	return r.snaps.PutEmployees(ctx, tenantID, kept)
}

// upsertTaskTop removes any existing copy of the task and puts the
// fresh row first.
func upsertTaskTop(tasks []model.Task, t model.Task) []model.Task {
	out := make([]model.Task, 0, len(tasks)+1)
	out = append(out, t)
	for _, existing := range tasks {
		if existing.ID != t.ID {
			out = append(out, existing)
		}
	}
	return out
}

// replaceTask swaps the stored row in place, keeping its position. An
// update for a row the cache never saw lands at the top like an insert.
func replaceTask(tasks []model.Task, t model.Task) []model.Task {
	for i := range tasks {
		if tasks[i].ID == t.ID {
			tasks[i] = t
			return tasks
		}
	}
	return append([]model.Task{t}, tasks...)
}
