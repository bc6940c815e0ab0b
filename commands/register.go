package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Seann-Moser/stocker/identity"
)

func registerCommand(rt *runtime) *cobra.Command {
	var flagEmail, flagName string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagEmail == "" {
				return errors.New("--email is required")
			}
			password, err := readSecret(cmd, "Password: ")
			if err != nil {
				return err
			}
			reg := identity.Registration{Email: flagEmail, Password: password}
			if flagName != "" {
				reg.DisplayName = &flagName
			}
			if _, err := rt.app.Session.Register(cmd.Context(), reg); err != nil {
				return userFacing("", err)
			}
			printOutcome(cmd, rt.app.Session.Snapshot())
			return nil
		},
	}
	cmd.Flags().StringVar(&flagEmail, "email", "", "Account email")
	cmd.Flags().StringVar(&flagName, "name", "", "Display name")
	return cmd
}

func passwordCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Recover or reset a password",
	}

	recoverCmd := &cobra.Command{
		Use:   "recover EMAIL",
		Short: "Send a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.app.Session.RecoverPassword(cmd.Context(), args[0]); err != nil {
				return userFacing("", err)
			}
			printOutcome(cmd, rt.app.Session.Snapshot())
			return nil
		},
	}

	var flagToken string
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with the emailed reset token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagToken == "" {
				return errors.New("--token is required")
			}
			pw, err := readSecret(cmd, "New password: ")
			if err != nil {
				return err
			}
			if err := rt.app.Session.ResetPassword(cmd.Context(), flagToken, pw); err != nil {
				return userFacing("", err)
			}
			printOutcome(cmd, rt.app.Session.Snapshot())
			return nil
		},
	}
	resetCmd.Flags().StringVar(&flagToken, "token", "", "Reset token from the recovery email")

	cmd.AddCommand(recoverCmd, resetCmd)
	return cmd
}

func logoutCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt.app.Session.Logout(cmd.Context())
			printOutcome(cmd, rt.app.Session.Snapshot())
			return nil
		},
	}
}

func whoamiCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the verified profile of the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := rt.require(cmd)
			if err != nil {
				return err
			}
			u := s.User
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:     %d\n", u.ID)
			fmt.Fprintf(out, "email:  %s\n", u.Email)
			fmt.Fprintf(out, "name:   %s\n", u.Name())
			fmt.Fprintf(out, "active: %t\n", u.Active)
			fmt.Fprintf(out, "admin:  %t\n", u.Admin)
			if u.ExternalIdentityID != nil {
				fmt.Fprintln(out, "google: linked")
			}
			return nil
		},
	}
}

func statusCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Verify the stored token and print the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := rt.boot(cmd)
			if s.Authenticated() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", s.State, s.User.Email)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.State)
			return nil
		},
	}
}
