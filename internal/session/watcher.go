package session

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Change reports that the session file changed hands.
type Change struct {
	// Identity is the new identity, or "" after a sign-out.
	Identity string
	// Session is the new session, nil after a sign-out.
	Session *Session
}

// Watcher emits a Change whenever another process signs in, signs out,
// or switches accounts. The watch daemon uses this to tear down and
// re-establish its subscriptions under the new identity.
//
// The session file's parent directory is watched rather than the file
// itself: sign-in replaces the file atomically, and a watch on the old
// inode would go quiet.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	events   chan Change
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	identity string
}

// NewWatcher creates a watcher over the store's session file.
// The watcher must be started with Start() before it will emit events.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		store:   store,
		watcher: fsw,
		events:  make(chan Change, 16),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start records the current identity and begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("session watcher already running")
	}

	w.identity = w.currentIdentity()

	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the
// event processing goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel that emits identity changes.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan Change {
	return w.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	sessionFile := filepath.Base(w.store.Path())

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != sessionFile {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if change, changed := w.reload(); changed {
				select {
				case w.events <- change:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// reload re-reads the session file and reports whether the identity
// moved since the last emit.
func (w *Watcher) reload() (Change, bool) {
	s, err := w.store.Load()

	var identity string
	if err == nil {
		identity = s.Identity()
	}
	// ErrNoSession and expiry both read as "signed out" here; the
	// consumer decides what to do about it.

	w.mu.Lock()
	defer w.mu.Unlock()
	if identity == w.identity {
		return Change{}, false
	}
	w.identity = identity
	return Change{Identity: identity, Session: s}, true
}

func (w *Watcher) currentIdentity() string {
	s, err := w.store.Load()
	if err != nil {
		return ""
	}
	return s.Identity()
}
