package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/crewsync/crewsync/internal/engine"
	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/ui"
)

var employeeCmd = &cobra.Command{
	Use:     "employee",
	GroupID: "people",
	Short:   "Provision and manage employees",
}

var employeeAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Provision an employee in the active company",
	Long: `Provision an employee. Staff are linked to the managers named with
--manager; a manager adding staff is linked automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		email, _ := cmd.Flags().GetString("email")
		mobile, _ := cmd.Flags().GetString("mobile")
		role, _ := cmd.Flags().GetString("role")
		managers, _ := cmd.Flags().GetStringArray("manager")

		ctx := cmd.Context()
		in := engine.NewEmployee{
			Name:   args[0],
			Email:  email,
			Mobile: mobile,
			Role:   model.Role(role),
		}
		for _, m := range managers {
			id, err := resolveEmployeeID(ctx, a.engine, m)
			if err != nil {
				return err
			}
			in.ManagerIDs = append(in.ManagerIDs, id)
		}

		out, err := a.engine.AddEmployee(ctx, in)
		if err != nil {
			return err
		}
		fmt.Printf("%s Employee %s added as %s\n", ui.RenderPass("✓"), out.Employee.Name, ui.RenderRole(out.Employee.Role))
		if !out.RemoteSaved {
			fmt.Printf("%s Saved locally only; the backend write failed and will be reconciled later\n", ui.RenderWarn("⚠"))
		}
		if out.Warning != "" {
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), out.Warning)
		}
		return nil
	},
}

var employeeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List employees visible to you",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		employees, err := a.engine.Employees(cmd.Context())
		if err != nil {
			return err
		}
		if a.offline {
			fmt.Printf("%s Backend unreachable, showing cached snapshot\n", ui.RenderWarn("⚠"))
		}
		for _, e := range employees {
			line := fmt.Sprintf("%s  %-11s  %s", ui.RenderMuted(ui.ShortID(e.ID)), ui.RenderRole(e.Role), e.Name)
			if e.Email != "" {
				line += ui.RenderMuted("  <" + e.Email + ">")
			}
			if e.Points > 0 {
				line += ui.RenderAccent(fmt.Sprintf("  %dpt", e.Points))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var employeeRemoveCmd = &cobra.Command{
	Use:   "remove <employee>",
	Short: "Deprovision an employee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		id, err := resolveEmployeeID(ctx, a.engine, args[0])
		if err != nil {
			return err
		}

		if !yes {
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().Title(fmt.Sprintf("Remove employee %s?", args[0])).Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println(ui.RenderMuted("Aborted."))
				return nil
			}
		}

		if err := a.engine.RemoveEmployee(ctx, id); err != nil {
			return err
		}
		fmt.Printf("%s Employee removed\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	employeeAddCmd.Flags().String("email", "", "email address")
	employeeAddCmd.Flags().String("mobile", "", "mobile number")
	employeeAddCmd.Flags().String("role", "staff", "role: staff, manager, owner, or super_admin")
	employeeAddCmd.Flags().StringArray("manager", nil, "manager to link a staff member to (repeatable)")
	employeeRemoveCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	employeeCmd.AddCommand(employeeAddCmd, employeeListCmd, employeeRemoveCmd)
	rootCmd.AddCommand(employeeCmd)
}
