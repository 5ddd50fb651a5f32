package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewsync/crewsync/internal/session"
	"github.com/crewsync/crewsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replace the local snapshot with canonical backend state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		if err := a.engine.Refresh(cmd.Context()); err != nil {
			return err
		}
		tasks, err := a.engine.Tasks(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Sync complete in %v (%s visible)\n", ui.RenderPass("✓"),
			time.Since(start).Round(time.Millisecond), ui.Pluralize(len(tasks), "task"))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show session, cache, and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		sess, err := session.NewStore(settings.SessionPath()).Load()
		if err != nil {
			if session.IsIdentity(err) {
				fmt.Printf("%s Session expired; run `crewsync login`\n", ui.RenderWarn("⚠"))
				return nil
			}
			fmt.Printf("%s Not signed in; run `crewsync login`\n", ui.RenderWarn("⚠"))
			return nil
		}

		fmt.Printf("%s\n", ui.RenderHeading("Session"))
		fmt.Printf("  account: %s\n", sess.Email)
		fmt.Printf("  company: %s\n", sess.CompanyID)
		if !sess.ExpiresAt.IsZero() {
			fmt.Printf("  expires: %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
		}

		fmt.Printf("\n%s\n", ui.RenderHeading("Cache"))
		if info, err := os.Stat(settings.CachePath()); err == nil {
			fmt.Printf("  %s (%d KB)\n", settings.CachePath(), info.Size()/1024)
		} else {
			fmt.Printf("  %s\n", ui.RenderMuted("not initialized"))
		}

		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.engine.Tasks(cmd.Context())
		if err != nil {
			return err
		}
		employees, err := a.engine.Employees(cmd.Context())
		if err != nil {
			return err
		}
		unseen, lastSeen, err := a.engine.UnseenCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("  %s, %s visible\n", ui.Pluralize(len(tasks), "task"), ui.Pluralize(len(employees), "employee"))
		if unseen > 0 {
			fmt.Printf("  %s since %s\n", ui.RenderAccent(ui.Pluralize(unseen, "new change")), lastSeen.Local().Format("Jan 2 15:04"))
		}

		fmt.Printf("\n%s\n", ui.RenderHeading("Backend"))
		if a.offline {
			fmt.Printf("  %s\n", ui.RenderWarn("unreachable"))
			return nil
		}
		fmt.Printf("  %s\n", ui.RenderPass("connected"))
		if v, err := a.client.SchemaVersion(cmd.Context()); err == nil && v != "" {
			fmt.Printf("  schema %s\n", v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
