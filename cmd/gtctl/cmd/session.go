package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/globetrotter/auth-service/internal/api/dto"
	"github.com/globetrotter/auth-service/internal/client"
)

var (
	email     string
	password  string
	firstName string
	lastName  string
	role      string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := resolvePassword()
		if err != nil {
			return err
		}
		c, err := newClient(cmd, nil)
		if err != nil {
			return err
		}
		resp, err := c.Login(cmd.Context(), email, pw)
		if err != nil {
			return describe(err)
		}
		printSession(cmd.OutOrStdout(), resp)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := resolvePassword()
		if err != nil {
			return err
		}
		c, err := newClient(cmd, nil)
		if err != nil {
			return err
		}
		resp, err := c.Register(cmd.Context(), dto.RegisterRequest{
			FirstName: firstName,
			LastName:  lastName,
			Email:     email,
			Password:  pw,
			Role:      role,
		})
		if err != nil {
			return describe(err)
		}
		printSession(cmd.OutOrStdout(), resp)
		return nil
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, nil)
		if err != nil {
			return err
		}
		user, err := c.Me(cmd.Context())
		if err != nil {
			return describe(err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the stored credential for a new one",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, nil)
		if err != nil {
			return err
		}
		resp, err := c.Refresh(cmd.Context())
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session renewed until %s\n", resp.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session on every terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, nil)
		if err != nil {
			return err
		}
		return c.Logout(cmd.Context())
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVarP(&email, "email", "e", "", "Account email")
		c.Flags().StringVarP(&password, "password", "p", "", "Account password (defaults to $GTCTL_PASSWORD)")
		_ = c.MarkFlagRequired("email")
	}
	registerCmd.Flags().StringVar(&firstName, "first-name", "", "First name")
	registerCmd.Flags().StringVar(&lastName, "last-name", "", "Last name")
	registerCmd.Flags().StringVar(&role, "role", "", "Role: traveller, planner or vendor")

	rootCmd.AddCommand(loginCmd, registerCmd, meCmd, refreshCmd, logoutCmd)
}

func resolvePassword() (string, error) {
	if password != "" {
		return password, nil
	}
	if pw := os.Getenv("GTCTL_PASSWORD"); pw != "" {
		return pw, nil
	}
	return "", errors.New("password required: pass --password or set GTCTL_PASSWORD")
}

func printSession(out io.Writer, resp *dto.AuthResponse) {
	fmt.Fprintf(out, "Signed in as %s <%s> (%s)\n", resp.User.FirstName+" "+resp.User.LastName, resp.User.Email, resp.User.Role)
	fmt.Fprintf(out, "Session valid until %s\n", resp.ExpiresAt.Local().Format(time.RFC1123))
}

// describe turns client errors into messages for the terminal.
func describe(err error) error {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNoSession):
		return errors.New("not logged in; run gtctl login")
	case errors.As(err, &apiErr):
		msg := fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Message)
		for field, problem := range apiErr.Details {
			msg += fmt.Sprintf("\n  %s: %v", field, problem)
		}
		return errors.New(msg)
	case client.IsTransport(err):
		return fmt.Errorf("cannot reach %s: %w", apiURL, err)
	default:
		return err
	}
}
