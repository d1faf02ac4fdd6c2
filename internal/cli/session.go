package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// sessionState mirrors the agent's /api/v1/session document.
type sessionState struct {
	Status          string `json:"status"`
	DisplayName     string `json:"displayName"`
	NeedsOnboarding bool   `json:"needsOnboarding"`
	ExpiresAt       *int64 `json:"expiresAt"`
	Expired         bool   `json:"expired"`
	DiscoveryLoaded bool   `json:"discoveryLoaded"`
}

func (o *options) session(ctx context.Context) (*sessionState, json.RawMessage, error) {
	var raw json.RawMessage
	if err := o.client.Get(ctx, "/api/v1/session", &raw); err != nil {
		return nil, nil, err
	}
	var st sessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, nil, fmt.Errorf("parse session: %w", err)
	}
	return &st, raw, nil
}

func newLoginCmd(o *options) *cobra.Command {
	var timeout, interval time.Duration

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser",
		Long:  "Starts an authorization request on the agent, prints the sign-in URL and waits until the agent reports a session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var start struct {
				URL   string `json:"authorization_url"`
				State string `json:"state"`
			}
			if err := o.client.Get(ctx, "/auth/login?format=json", &start); err != nil {
				return fmt.Errorf("start sign-in: %w", err)
			}
			fmt.Fprintf(out, "Open this URL in your browser to sign in:\n\n  %s\n\n", start.URL)

			st, err := waitSignedIn(ctx, o, timeout, interval)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in as %s\n", nameOr(st.DisplayName, "unknown user"))
			if st.NeedsOnboarding {
				fmt.Fprintln(out, "Your beekeeper profile is incomplete. Finish onboarding in the app.")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the browser sign-in")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "session poll interval")
	return cmd
}

func waitSignedIn(ctx context.Context, o *options, timeout, interval time.Duration) (*sessionState, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, _, err := o.session(ctx)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if st != nil && st.Status == "signed_in" {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for sign-in")
		case <-ticker.C:
		}
	}
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, raw, err := o.session(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.json {
				return printJSON(out, raw)
			}
			printSession(out, st)
			return nil
		},
	}
}

func printSession(out io.Writer, st *sessionState) {
	fmt.Fprintf(out, "Status:      %s\n", st.Status)
	if !st.DiscoveryLoaded {
		fmt.Fprintln(out, "Auth:        unavailable (discovery not loaded)")
	}
	if st.Status != "signed_in" {
		return
	}
	fmt.Fprintf(out, "User:        %s\n", nameOr(st.DisplayName, "-"))
	if st.ExpiresAt != nil {
		exp := time.Unix(*st.ExpiresAt, 0).Local().Format(time.RFC3339)
		if st.Expired {
			exp += " (expired)"
		}
		fmt.Fprintf(out, "Expires:     %s\n", exp)
	}
	if st.NeedsOnboarding {
		fmt.Fprintln(out, "Onboarding:  required")
	}
}

func newLogoutCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and delete the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.client.Post(cmd.Context(), "/auth/logout", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newRefreshCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the session tokens now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Refreshed bool   `json:"refreshed"`
				ExpiresAt *int64 `json:"expiresAt"`
			}
			err := o.client.Post(cmd.Context(), "/auth/refresh", &res)
			var ae *AgentError
			if errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized {
				return fmt.Errorf("not signed in: %s", nameOr(ae.Message, "session ended"))
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Refreshed {
				fmt.Fprintln(out, "Session unchanged (no refresh token)")
				return nil
			}
			fmt.Fprintln(out, "Session refreshed")
			if res.ExpiresAt != nil {
				fmt.Fprintf(out, "Expires:     %s\n", time.Unix(*res.ExpiresAt, 0).Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func nameOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
