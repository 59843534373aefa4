package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/spf13/cobra"
)

func newLoginCmd(runner appRunner) *cobra.Command {
	var identifier string
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a nickname or email",
		Long:  "Sign in and store the access and refresh tokens. The password is read from stdin when --password is not given.",
		RunE: runner.run(func(cmd *cobra.Command, _ []string, app *app) error {
			if password == "" {
				var err error
				password, err = readSecretLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}

			user, err := app.auth.Login(cmd.Context(), identifier, password)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.DisplayName())
			return nil
		}),
	}

	cmd.Flags().StringVarP(&identifier, "identifier", "u", "", "Nickname or email")
	cmd.Flags().StringVar(&password, "password", "", "Password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("identifier")

	return cmd
}

func newRegisterCmd(runner appRunner) *cobra.Command {
	var req domain.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: runner.run(func(cmd *cobra.Command, _ []string, app *app) error {
			if req.Password == "" {
				var err error
				req.Password, err = readSecretLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}

			resp, err := app.auth.Register(cmd.Context(), req)
			if err != nil {
				return err
			}

			message := resp.Message
			if message == "" {
				message = "Account created"
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		}),
	}

	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&req.Nickname, "nickname", "", "Nickname")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("nickname")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newLogoutCmd(runner appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: runner.run(func(cmd *cobra.Command, _ []string, app *app) error {
			if err := app.auth.Logout(cmd.Context()); err != nil {
				// The local session is gone either way.
				app.logger.Warn().Err(err).Msg("logout")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func readSecretLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
