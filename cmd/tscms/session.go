package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/notify"
	"github.com/diviatrix/ts-cms-sub000/pkg/token"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	Long: `Posts the credentials to the login endpoint and stores the returned token
in the configured token backend. The password may also be supplied through
TSCMS_PASSWORD.`,
	RunE: guard(func(cmd *cobra.Command, args []string) error {
		login, _ := cmd.Flags().GetString("login")
		password, _ := cmd.Flags().GetString("password")
		path, _ := cmd.Flags().GetString("path")
		if password == "" {
			password = os.Getenv("TSCMS_PASSWORD")
		}
		if strings.TrimSpace(login) == "" || password == "" {
			return errors.New("login and password are required")
		}

		env, err := rt.Gateway.Login(commandContext(cmd), path, map[string]string{
			"login":    login,
			"password": password,
		})
		if err != nil {
			return err
		}
		if !env.Success {
			rt.Notifications.ErrorFromEnvelope(env, notify.ErrorOptions{})
			return env.Err()
		}

		claims, err := rt.Tokens.Claims()
		if err != nil {
			return fmt.Errorf("stored token is unusable: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", claims.Subject)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session token",
	RunE: guard(func(cmd *cobra.Command, args []string) error {
		rt.Gateway.Logout()
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the subject, roles and expiry of the stored session",
	RunE: guard(func(cmd *cobra.Command, args []string) error {
		if !rt.Tokens.IsValid() {
			return token.ErrNoToken
		}
		claims, err := rt.Tokens.Claims()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Subject: %s\n", claims.Subject)
		if roles := append(append([]string{}, claims.Roles...), claims.Groups...); len(roles) > 0 {
			fmt.Fprintf(out, "Roles:   %s\n", strings.Join(roles, ", "))
		}
		if claims.ExpiresAt != nil {
			exp := claims.ExpiresAt.Time
			fmt.Fprintf(out, "Expires: %s (in %s)\n", exp.Format("2006-01-02 15:04:05"), exp.Sub(rt.Clock.Now()).Round(time.Second))
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)

	loginCmd.Flags().String("login", "", "Account login")
	loginCmd.Flags().String("password", "", "Account password")
	loginCmd.Flags().String("path", "/auth/login", "Login endpoint path")
}
