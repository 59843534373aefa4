package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	statusadapter "github.com/paralyuzov/raven-client/internal/adapters/render/status"
	"github.com/paralyuzov/raven-client/internal/application"
	"github.com/paralyuzov/raven-client/internal/config"
	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionCmd(runner appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the stored session",
	}

	cmd.AddCommand(newSessionStatusCmd(runner), newSessionProfileCmd(runner))

	return cmd
}

func newSessionStatusCmd(runner appRunner) *cobra.Command {
	var asJSON bool
	var verify bool
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in and when the access token expires",
		RunE: runner.run(func(cmd *cobra.Command, _ []string, app *app) error {
			if watch && asJSON {
				return fmt.Errorf("%s: --watch cannot be combined with --json", cmd.CommandPath())
			}

			status, err := app.status.Status(cmd.Context(), verify)
			if err != nil {
				return err
			}
			app.describeEnvironment(&status)

			if watch {
				return watchStatus(cmd, app, status, interval)
			}
			return writeStatusOutput(cmd, app, status, asJSON)
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "Ask the backend who the token belongs to")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep the session alive and redraw it until q is pressed")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Redraw period for --watch")

	return cmd
}

func newSessionProfileCmd(runner appRunner) *cobra.Command {
	var update domain.ProfileUpdate

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the signed-in user's profile",
		RunE: runner.run(func(cmd *cobra.Command, _ []string, app *app) error {
			if update == (domain.ProfileUpdate{}) {
				return fmt.Errorf("%s: nothing to update", cmd.CommandPath())
			}

			user, err := app.auth.UpdateProfile(cmd.Context(), update)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated profile for %s\n", user.DisplayName())
			return nil
		}),
	}

	cmd.Flags().StringVar(&update.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&update.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&update.Nickname, "nickname", "", "Nickname")
	cmd.Flags().StringVar(&update.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&update.Avatar, "avatar", "", "Avatar URL")

	return cmd
}

// describeEnvironment fills in where the session lives and which backend it
// belongs to.
func (a *app) describeEnvironment(status *application.SessionStatus) {
	status.BaseURL = a.cfg.API.BaseURL
	status.RealtimeURL = a.realtimeURL
	status.Storage = a.cfg.Storage.Path

	if path, err := config.Path(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			status.ConfigPath = path
		}
	}
}

// watchStatus runs the proactive refresh loop and redraws the session so the
// token countdown and each refresh can be followed live.
func watchStatus(cmd *cobra.Command, app *app, initial application.SessionStatus, interval time.Duration) error {
	ctx := cmd.Context()
	if initial.Authenticated {
		app.coordinator.Start(ctx)
	}

	source := func() application.SessionStatus {
		status, err := app.status.Status(ctx, false)
		if err != nil {
			return initial
		}
		if status.Authenticated {
			status.User = initial.User
		}
		app.describeEnvironment(&status)
		return status
	}

	return statusadapter.Watch(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), source, app.renderOptions(), interval)
}

func (a *app) renderOptions() statusadapter.RenderOptions {
	return statusadapter.RenderOptions{
		Now:         a.now(),
		AccessTTL:   a.cfg.Session.RefreshInterval + a.cfg.Session.RefreshSkew,
		RefreshSkew: a.cfg.Session.RefreshSkew,
	}
}

func writeStatusOutput(cmd *cobra.Command, app *app, status application.SessionStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	output, err := app.statusRenderer(status, app.renderOptions())
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
	return err
}
