package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
	"github.com/diviatrix/ts-cms-sub000/pkg/client"
	"github.com/diviatrix/ts-cms-sub000/pkg/notify"
	"github.com/spf13/cobra"
)

var requestCmd = &cobra.Command{
	Use:   "request <path>",
	Short: "Call the API and print the normalized result envelope",
	Long: `Sends one request through the gateway. Failures are classified and shown
the same way the admin panel shows them. With --retry, network and server
errors are retried with exponential backoff up to --max-retries times.`,
	Args: cobra.ExactArgs(1),
	RunE: guard(func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		body, _ := cmd.Flags().GetString("body")
		noAuth, _ := cmd.Flags().GetBool("no-auth")
		coalesceKey, _ := cmd.Flags().GetString("coalesce-key")
		retry, _ := cmd.Flags().GetBool("retry")

		opts := client.RequestOptions{
			Method:      strings.ToUpper(method),
			UseAuth:     !noAuth,
			CoalesceKey: coalesceKey,
		}
		if body != "" {
			if !json.Valid([]byte(body)) {
				return errors.New("--body must be valid JSON")
			}
			opts.Body = json.RawMessage(body)
		}

		path := args[0]
		var (
			env *client.Envelope
			err error
		)
		if retry {
			env, err = requestWithRetry(cmd, path, opts)
		} else {
			env, err = rt.Gateway.Request(commandContext(cmd), path, opts)
		}
		if err != nil {
			return err
		}
		if err := printEnvelope(cmd.OutOrStdout(), env); err != nil {
			return err
		}
		if !env.Success {
			if !retry {
				rt.Notifications.ErrorFromEnvelope(env, notify.ErrorOptions{})
			}
			return env.Err()
		}
		return nil
	}),
}

// requestWithRetry drives the notification center's retry policy until the
// call succeeds, fails with a non-retryable category, or the cap is reached.
func requestWithRetry(cmd *cobra.Command, path string, opts client.RequestOptions) (*client.Envelope, error) {
	ctx := commandContext(cmd)
	key := opts.Method + " " + path

	type outcome struct {
		env *client.Envelope
		err error
	}
	done := make(chan outcome, 1)

	var attempt func()
	attempt = func() {
		env, err := rt.Gateway.Request(ctx, path, opts)
		if err != nil || env.Success {
			rt.Notifications.ResetRetries(key)
			done <- outcome{env, err}
			return
		}
		category := rt.Classifier.Classify(env.Err(), classify.Hints{})
		if !classify.Describe(category).Retryable || ctx.Err() != nil {
			rt.Notifications.ResetRetries(key)
			rt.Notifications.ErrorFromEnvelope(env, notify.ErrorOptions{})
			done <- outcome{env, nil}
			return
		}
		rt.Notifications.HandleNetworkError(key, env.Err(), attempt, rt.RetryOptions())
		if rt.Notifications.RetryCount(key) == 0 {
			// Cap reached; the terminal error has been shown.
			done <- outcome{env, nil}
		}
	}
	attempt()

	select {
	case res := <-done:
		return res.env, res.err
	case <-ctx.Done():
		rt.Notifications.ResetRetries(key)
		return nil, ctx.Err()
	}
}

var classifyCmd = &cobra.Command{
	Use:   "classify <message>",
	Short: "Classify an error message and print remediation suggestions",
	Args:  cobra.MinimumNArgs(1),
	RunE: guard(func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetInt("status")
		page, _ := cmd.Flags().GetString("page")
		formFocused, _ := cmd.Flags().GetBool("form-focused")

		category := rt.Classifier.ClassifyText(strings.Join(args, " "), classify.Hints{
			Status:      status,
			Page:        page,
			FormFocused: formFocused,
		})
		def := classify.Describe(category)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s\n", category, def.Title)
		fmt.Fprintln(out, def.Message)
		for _, s := range def.Suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
		if def.Retryable {
			fmt.Fprintln(out, "Retryable: yes")
		}
		return nil
	}),
}

func printEnvelope(w io.Writer, env *client.Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func init() {
	rootCmd.AddCommand(requestCmd, classifyCmd)

	requestCmd.Flags().StringP("method", "X", http.MethodGet, "HTTP method")
	requestCmd.Flags().StringP("body", "d", "", "JSON request body")
	requestCmd.Flags().Bool("no-auth", false, "Do not attach the session token")
	requestCmd.Flags().String("coalesce-key", "", "Coalesce calls sharing this key")
	requestCmd.Flags().Bool("retry", false, "Retry network and server errors with backoff")

	classifyCmd.Flags().Int("status", 0, "HTTP status hint (-1 for network errors)")
	classifyCmd.Flags().String("page", "", "Current page path")
	classifyCmd.Flags().Bool("form-focused", false, "A form field has focus")
}
