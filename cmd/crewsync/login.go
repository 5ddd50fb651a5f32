package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crewsync/crewsync/internal/cache"
	"github.com/crewsync/crewsync/internal/session"
	"github.com/crewsync/crewsync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Sign in with a backend access token",
	Long: `Sign in by pasting an access token issued by the CrewSync backend.

The token's claims name the employee, company, and expiry; crewsync
stores them in the session file and scopes all cached data to that
identity. Signing in as a different identity clears the snapshot cache
before anything new is fetched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		email, _ := cmd.Flags().GetString("email")
		return runLogin(cmd.Context(), token, email)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Sign out and clear cached data",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		// Cache first: a signed-out machine must hold no tenant data.
		clearCache(cmd.Context(), settings)
		if err := session.NewStore(settings.SessionPath()).Clear(); err != nil {
			return err
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "access token (prompted when omitted)")
	loginCmd.Flags().String("email", "", "expected account email, checked against the token")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(ctx context.Context, token, email string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	if token == "" {
		if email == "" {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("Email").
					Description("The account you are signing in as").
					Value(&email),
			))
			if err := form.Run(); err != nil {
				return err
			}
		}
		fmt.Fprint(os.Stderr, "Access token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	if token == "" {
		return fmt.Errorf("no token given")
	}

	sess, err := session.FromToken(token)
	if err != nil {
		return err
	}
	if sess.Expired(nowUTC()) {
		return &session.IdentityError{Reason: "token already expired"}
	}
	if email != "" && sess.Email != "" && !strings.EqualFold(email, sess.Email) {
		return fmt.Errorf("token belongs to %s, not %s", sess.Email, email)
	}

	sessions := session.NewStore(settings.SessionPath())
	prior, _ := sessions.Load()

	store, err := cache.OpenSQLite(settings.CachePath())
	if err != nil {
		return err
	}
	defer store.Close()
	snaps := cache.NewSnapshots(store)

	// Different identity: wipe before the new session is saved, so no
	// read between sign-ins can surface the old tenant's rows.
	if prior == nil || prior.Identity() != sess.Identity() || prior.CompanyID != sess.CompanyID {
		if err := snaps.ClearAll(ctx); err != nil {
			return err
		}
	}

	if err := sessions.Save(sess); err != nil {
		return err
	}

	logger := newStderrLogger("[login] ")
	client := openClient(settings, logger)
	defer client.Close()

	current, err := resolveProfile(ctx, client, snaps, &sess)
	if err != nil {
		return err
	}

	fmt.Printf("%s Signed in as %s (%s, %s)\n", ui.RenderPass("✓"), current.Name, ui.RenderRole(current.Role), current.Email)

	// Initial snapshot, best effort; `crewsync sync` can run it later.
	tasks, terr := client.ListTasks(ctx, current.CompanyID)
	employees, eerr := client.ListEmployees(ctx, current.CompanyID)
	if terr != nil || eerr != nil {
		fmt.Printf("%s Backend unreachable, snapshot not fetched; run `crewsync sync` when online\n", ui.RenderWarn("⚠"))
		return nil
	}
	if err := snaps.PutTasks(ctx, current.CompanyID, tasks); err != nil {
		return err
	}
	if err := snaps.PutEmployees(ctx, current.CompanyID, employees); err != nil {
		return err
	}
	fmt.Printf("   Fetched %s, %s\n", ui.Pluralize(len(tasks), "task"), ui.Pluralize(len(employees), "employee"))
	return nil
}
