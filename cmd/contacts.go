package cmd

import (
	"fmt"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/spf13/cobra"
)

func newContactsCmd(runner appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List friends with presence and unread counts",
		RunE: runner.run(func(cmd *cobra.Command, _ []string, app *app) error {
			contacts, err := app.contacts.Fetch(cmd.Context())
			if err != nil {
				return err
			}

			if len(contacts) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no contacts")
				return nil
			}
			for _, contact := range contacts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d\n",
					contact.ID, contact.DisplayName(), presence(contact), contact.UnreadCount)
			}
			return nil
		}),
	}
}

func presence(contact domain.Contact) string {
	if contact.IsOnline {
		return "online"
	}
	return "offline"
}

func newFriendsCmd(runner appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Manage friend requests",
	}

	cmd.AddCommand(
		newFriendsListCmd(runner),
		newFriendsSendCmd(runner),
		newFriendsAnswerCmd(runner, "accept", "Accept a pending friend request"),
		newFriendsAnswerCmd(runner, "reject", "Reject a pending friend request"),
	)

	return cmd
}

func newFriendsListCmd(runner appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending friend requests",
		RunE: runner.run(func(cmd *cobra.Command, _ []string, app *app) error {
			pending, err := app.friends.FetchPending(cmd.Context())
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no pending friend requests")
				return nil
			}
			for _, req := range pending {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", req.ID, senderName(req.Sender), req.CreatedAt)
			}
			return nil
		}),
	}
}

func senderName(sender domain.FriendRequestSender) string {
	if sender.Username != "" {
		return sender.Username
	}
	if sender.Email != "" {
		return sender.Email
	}
	return sender.ID
}

func newFriendsSendCmd(runner appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "send <user-id>",
		Short: "Send a friend request",
		Args:  cobra.ExactArgs(1),
		RunE: runner.run(func(cmd *cobra.Command, args []string, app *app) error {
			if err := app.friends.Send(cmd.Context(), args[0]); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Friend request sent to %s\n", args[0])
			return nil
		}),
	}
}

func newFriendsAnswerCmd(runner appRunner, verb string, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: runner.run(func(cmd *cobra.Command, args []string, app *app) error {
			// Answers are addressed by sender, so the request must be known.
			if _, err := app.friends.FetchPending(cmd.Context()); err != nil {
				return err
			}

			answer := app.friends.Accept
			if verb == "reject" {
				answer = app.friends.Reject
			}
			if err := answer(cmd.Context(), args[0]); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Friend request %s %sed\n", args[0], verb)
			return nil
		}),
	}
}
