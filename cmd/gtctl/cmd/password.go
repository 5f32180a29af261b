package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	newPassword string
	resetToken  string
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change or reset the account password",
}

var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the signed-in user's password",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := resolvePassword()
		if err != nil {
			return err
		}
		next, err := resolveNewPassword()
		if err != nil {
			return err
		}
		c, err := newClient(cmd, nil)
		if err != nil {
			return err
		}
		if err := c.ChangePassword(cmd.Context(), current, next); err != nil {
			return describe(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Password changed.")
		return nil
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Request a reset token by email, or redeem one with --token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, nil)
		if err != nil {
			return err
		}
		if resetToken == "" {
			if email == "" {
				return errors.New("--email is required to request a reset")
			}
			if err := c.RequestPasswordReset(cmd.Context(), email); err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "If the address is registered, a reset token is on its way.")
			return nil
		}

		next, err := resolveNewPassword()
		if err != nil {
			return err
		}
		if err := c.ConfirmPasswordReset(cmd.Context(), resetToken, next); err != nil {
			return describe(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Password reset. Run gtctl login to sign in.")
		return nil
	},
}

func init() {
	passwordChangeCmd.Flags().StringVarP(&password, "password", "p", "", "Current password (defaults to $GTCTL_PASSWORD)")
	passwordChangeCmd.Flags().StringVar(&newPassword, "new-password", "", "New password (defaults to $GTCTL_NEW_PASSWORD)")

	passwordResetCmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	passwordResetCmd.Flags().StringVar(&resetToken, "token", "", "Reset token received by email")
	passwordResetCmd.Flags().StringVar(&newPassword, "new-password", "", "New password (defaults to $GTCTL_NEW_PASSWORD)")

	passwordCmd.AddCommand(passwordChangeCmd, passwordResetCmd)
	rootCmd.AddCommand(passwordCmd)
}

func resolveNewPassword() (string, error) {
	if newPassword != "" {
		return newPassword, nil
	}
	if pw := os.Getenv("GTCTL_NEW_PASSWORD"); pw != "" {
		return pw, nil
	}
	return "", errors.New("new password required: pass --new-password or set GTCTL_NEW_PASSWORD")
}
