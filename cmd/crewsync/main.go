// crewsync is the headless client for the CrewSync task-assignment
// backend: a local snapshot cache, an optimistic mutation pipeline, and
// a watch daemon that keeps the cache reconciled with the backend's
// change stream.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewsync/crewsync/internal/cache"
	"github.com/crewsync/crewsync/internal/config"
	"github.com/crewsync/crewsync/internal/drift"
	"github.com/crewsync/crewsync/internal/engine"
	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/notify"
	"github.com/crewsync/crewsync/internal/proof"
	"github.com/crewsync/crewsync/internal/remote"
	"github.com/crewsync/crewsync/internal/session"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crewsync",
	Short: "Task assignment client with an offline-first snapshot cache",
	Long: `crewsync is the command-line client for the CrewSync backend.

Every mutation lands in the local snapshot cache first, so the client
stays usable when the backend is slow or unreachable; backend writes
follow and are reconciled when they land. The watch daemon subscribes
to the backend's change stream and keeps the cache current.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: config.yaml in ~/.crewsync or .)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "people", Title: "Employee Commands:"},
		&cobra.Group{ID: "sync", Title: "Session & Sync Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything an online command needs, wired in dependency
// order: config, cache, session, backend client, drift writer, engine.
type app struct {
	settings *config.Settings
	store    *cache.SQLite
	snaps    *cache.Snapshots
	sessions *session.Store
	sess     *session.Session
	client   remote.Client
	writer   *drift.Writer
	engine   *engine.Engine

	// offline is true when the backend was unreachable at startup and
	// the client stub in use fails every remote call as unavailable.
	offline bool
}

func (a *app) Close() {
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// loadSettings reads configuration and ensures the data directory exists.
func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(settings.Data.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return settings, nil
}

// buildApp wires the full stack for the signed-in user. The backend
// being unreachable is not fatal: the engine runs against the cached
// snapshot and every remote write fails as unavailable, which the
// pipeline already tolerates.
func buildApp(ctx context.Context, logger *log.Logger) (*app, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[crewsync] ", log.LstdFlags)
	}

	sessions := session.NewStore(settings.SessionPath())
	sess, err := sessions.Load()
	if err != nil {
		if session.IsIdentity(err) {
			// Expired token: the cached snapshots belong to an identity
			// we can no longer act as.
			clearCache(ctx, settings)
			_ = sessions.Clear()
		}
		return nil, err
	}

	store, err := cache.OpenSQLite(settings.CachePath())
	if err != nil {
		return nil, err
	}
	snaps := cache.NewSnapshots(store)

	a := &app{
		settings: settings,
		store:    store,
		snaps:    snaps,
		sessions: sessions,
		sess:     sess,
	}

	// A snapshot cached under a different identity must never survive
	// into this session, not even for one read.
	if err := ensureCacheIdentity(ctx, snaps, sess); err != nil {
		a.Close()
		return nil, err
	}

	a.client = openClient(settings, logger)
	if _, ok := a.client.(*unavailableClient); ok {
		a.offline = true
	}

	current, err := resolveProfile(ctx, a.client, snaps, sess)
	if err != nil {
		a.Close()
		return nil, err
	}

	writer, err := drift.NewWriter(a.client, drift.Config{Logger: logger})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.writer = writer

	cfg := engine.DefaultConfig()
	cfg.Logger = logger
	cfg.PointsPerCompletion = settings.Points.PerCompletion
	cfg.Notifier = buildNotifier(ctx, settings, a.client, logger)
	if settings.Proof.Endpoint != "" {
		cfg.Uploader = proof.NewHTTP(settings.Proof.Endpoint, settings.Proof.Token)
	}

	a.engine = engine.New(current, snaps, a.client, writer, cfg)
	return a, nil
}

// openClient connects to the backend, degrading to an offline stub when
// it cannot be reached.
func openClient(settings *config.Settings, logger *log.Logger) remote.Client {
	rcfg := remote.DefaultConfig()
	rcfg.URL = settings.Remote.URL
	rcfg.AuthToken = settings.Remote.Token
	rcfg.Logger = logger

	client, err := remote.Open(rcfg)
	if err != nil {
		logger.Printf("backend unreachable, working from cached snapshot: %v", err)
		return &unavailableClient{err: err}
	}
	return client
}

// ensureCacheIdentity clears the snapshot cache when it was written by a
// different identity than the one signing in now.
func ensureCacheIdentity(ctx context.Context, snaps *cache.Snapshots, sess *session.Session) error {
	cached, err := snaps.Profile(ctx)
	if err != nil {
		return err
	}
	if cached == nil {
		return nil
	}
	same := cached.CompanyID == sess.CompanyID &&
		(cached.AuthUserID == sess.Identity() || cached.Email == sess.Email)
	if same {
		return nil
	}
	return snaps.ClearAll(ctx)
}

// resolveProfile produces the employee the engine acts as: the backend's
// current row when reachable, the cached one otherwise.
func resolveProfile(ctx context.Context, client remote.Client, snaps *cache.Snapshots, sess *session.Session) (model.Employee, error) {
	fetched, err := fetchProfile(ctx, client, sess)
	if err == nil && fetched != nil {
		if err := snaps.PutProfile(ctx, *fetched); err != nil {
			return model.Employee{}, err
		}
		return *fetched, nil
	}

	cached, cerr := snaps.Profile(ctx)
	if cerr != nil {
		return model.Employee{}, cerr
	}
	if cached != nil {
		return *cached, nil
	}
	if err != nil {
		return model.Employee{}, fmt.Errorf("failed to resolve employee profile: %w", err)
	}
	return model.Employee{}, fmt.Errorf("no employee row for %s in company %s; ask an admin to provision one", sess.Email, sess.CompanyID)
}

// fetchProfile reads the signed-in employee's row from the backend, by
// id when the token names one, by email otherwise.
func fetchProfile(ctx context.Context, client remote.Client, sess *session.Session) (*model.Employee, error) {
	if sess.EmployeeID != "" {
		return client.GetEmployee(ctx, sess.CompanyID, sess.EmployeeID)
	}
	employees, err := client.ListEmployees(ctx, sess.CompanyID)
	if err != nil {
		return nil, err
	}
	for i := range employees {
		if employees[i].Email == sess.Email {
			return &employees[i], nil
		}
	}
	return nil, nil
}

// buildNotifier returns the FCM notifier when credentials are
// configured, a no-op otherwise. Notification failures never block a
// mutation, so a misconfigured Firebase setup only logs.
func buildNotifier(ctx context.Context, settings *config.Settings, tokens notify.TokenSource, logger *log.Logger) notify.Notifier {
	if settings.Firebase.Credentials == "" {
		return notify.Noop{}
	}
	fcm, err := notify.NewFCM(ctx, settings.Firebase.Credentials, tokens, logger)
	if err != nil {
		logger.Printf("push notifications disabled: %v", err)
		return notify.Noop{}
	}
	return fcm
}

func newStderrLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// clearCache wipes the snapshot cache, best effort. Used on identity
// errors, where stale data is worse than no data.
func clearCache(ctx context.Context, settings *config.Settings) {
	store, err := cache.OpenSQLite(settings.CachePath())
	if err != nil {
		return
	}
	defer store.Close()
	_ = cache.NewSnapshots(store).ClearAll(ctx)
}
