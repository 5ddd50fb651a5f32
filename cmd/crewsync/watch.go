package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/crewsync/crewsync/internal/engine"
	"github.com/crewsync/crewsync/internal/reconcile"
	"github.com/crewsync/crewsync/internal/session"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Run the reconciler daemon",
	Long: `Keep the local snapshot reconciled with the backend.

The daemon subscribes to the backend's per-company change stream,
refetches canonical rows for every insert and update, sweeps recurring
tasks for due reminders once a minute, and follows the session file so
a sign-in, sign-out, or account switch performed by another crewsync
process is picked up without a restart.

Send SIGHUP to force a (debounced) full refresh.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		foreground, _ := cmd.Flags().GetBool("foreground")
		return runWatch(foreground)
	},
}

func init() {
	watchCmd.Flags().Bool("foreground", false, "log to stderr instead of the rotating log file")
	rootCmd.AddCommand(watchCmd)
}

// watchDaemon owns the pieces that must be swapped together when the
// signed-in identity changes: the engine acting as that identity and
// the reconciler scope.
type watchDaemon struct {
	logger *log.Logger
	rec    *reconcile.Reconciler
	croner *cron.Cron

	mu sync.Mutex
	a  *app
}

func runWatch(foreground bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	var logger *log.Logger
	if foreground {
		logger = newStderrLogger("[watch] ")
	} else {
		logger = log.New(&lumberjack.Logger{
			Filename:   settings.LogPath(),
			MaxSize:    settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			MaxAge:     settings.Log.MaxAgeDays,
		}, "[watch] ", log.LstdFlags)
		fmt.Printf("Logging to %s\n", settings.LogPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	d := &watchDaemon{logger: logger, a: a}

	source := reconcile.NewWebSocketSource(settings.StreamBase(), settings.Remote.Token, logger)
	rcfg := reconcile.DefaultConfig()
	rcfg.Logger = logger
	d.rec = reconcile.New(source, a.client, a.snaps, d.refresh, rcfg)

	if err := d.rec.Start(d.scope()); err != nil {
		return err
	}
	defer d.rec.Stop()

	// Due-reminder sweep. Advancing the schedule happens on fire, never
	// on status transitions.
	d.croner = cron.New()
	if _, err := d.croner.AddFunc("@every 1m", func() { d.sweep(ctx) }); err != nil {
		return err
	}
	d.croner.Start()
	defer d.croner.Stop()

	// Another process signing in, out, or switching accounts moves the
	// identity under this daemon; resubscribe under the new one.
	watcher, err := session.NewWatcher(a.sessions)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	// SIGHUP is the "foreground resume" signal: a debounced full refresh.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger.Printf("watch daemon up for company %s as %s", a.engine.TenantID(), a.engine.Current().Email)
	fmt.Println("Watching. Press Ctrl+C to stop...")

	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down")
			return nil

		case <-hup:
			d.rec.Poke()

		case change, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			if err := d.switchIdentity(ctx, change); err != nil {
				logger.Printf("identity switch failed: %v", err)
			}

		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			logger.Printf("session watch error: %v", err)
		}
	}
}

func (d *watchDaemon) scope() reconcile.Scope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return reconcile.Scope{TenantID: d.a.engine.TenantID(), UserID: d.a.engine.Current().ID}
}

// refresh delegates to whichever engine is current, so the reconciler
// never holds a stale identity across a switch.
func (d *watchDaemon) refresh(ctx context.Context) error {
	d.mu.Lock()
	e := d.a.engine
	d.mu.Unlock()
	if e == nil {
		return nil
	}
	return e.Refresh(ctx)
}

func (d *watchDaemon) sweep(ctx context.Context) {
	d.mu.Lock()
	e := d.a.engine
	d.mu.Unlock()
	if e == nil {
		return
	}
	if _, err := e.SweepRecurrences(ctx); err != nil {
		d.logger.Printf("recurrence sweep failed: %v", err)
	}
}

// switchIdentity reacts to the session file changing hands. The cache is
// cleared before anything runs as the new identity; a sign-out leaves
// the daemon idle until someone signs in again.
func (d *watchDaemon) switchIdentity(ctx context.Context, change session.Change) error {
	d.mu.Lock()
	a := d.a
	d.mu.Unlock()

	if change.Session == nil {
		d.logger.Printf("signed out, pausing")
		d.rec.Stop()
		d.mu.Lock()
		a.engine = nil
		d.mu.Unlock()
		return a.snaps.ClearAll(ctx)
	}

	d.logger.Printf("identity changed to %s, resubscribing", change.Identity)
	if err := a.snaps.ClearAll(ctx); err != nil {
		return err
	}

	current, err := resolveProfile(ctx, a.client, a.snaps, change.Session)
	if err != nil {
		return err
	}

	cfg := engine.DefaultConfig()
	cfg.Logger = d.logger
	cfg.PointsPerCompletion = a.settings.Points.PerCompletion
	cfg.Notifier = buildNotifier(ctx, a.settings, a.client, d.logger)

	d.mu.Lock()
	a.sess = change.Session
	a.engine = engine.New(current, a.snaps, a.client, a.writer, cfg)
	d.mu.Unlock()

	scope := reconcile.Scope{TenantID: current.CompanyID, UserID: current.ID}
	if d.rec.IsRunning() {
		d.rec.Rescope(scope)
	} else if err := d.rec.Start(scope); err != nil {
		return err
	}
	return nil
}
