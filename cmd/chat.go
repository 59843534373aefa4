package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paralyuzov/raven-client/internal/application"
	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const chatHelp = "commands: /media <path>, /status <friend-id>, /quit"

var errNotSignedIn = errors.New(`not signed in: run "raven login"`)

func newChatCmd(runner appRunner) *cobra.Command {
	var noSpinner bool

	cmd := &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Join a conversation and chat from the terminal",
		Long:  "Join a conversation over the realtime channel. Lines read from stdin are sent as messages. " + chatHelp + ".",
		Args:  cobra.ExactArgs(1),
		RunE: runner.run(func(cmd *cobra.Command, args []string, app *app) error {
			return runChat(cmd, app, args[0], !noSpinner)
		}),
	}

	cmd.Flags().BoolVar(&noSpinner, "no-spinner", false, "Do not animate while connecting")

	return cmd
}

func runChat(cmd *cobra.Command, app *app, conversationID string, spin bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ok, err := app.auth.CheckAuth(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errNotSignedIn
	}
	app.coordinator.Start(ctx)

	if spin {
		err = connectWithSpinner(ctx, cmd.ErrOrStderr(), "Connecting to chat...", app)
	} else {
		err = connectQuietly(ctx, cmd.ErrOrStderr(), app)
	}
	if err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}

	if _, err := app.contacts.Fetch(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("fetch contacts")
	}
	releaseContacts := app.contacts.SubscribeRealtime()
	defer releaseContacts()

	app.friends.OnChange(func(pending []domain.FriendRequest) {
		if len(pending) > 0 {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "* %d pending friend request(s)\n", len(pending))
		}
	})
	if err := app.friends.Initialize(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("load friend requests")
	}

	history, err := app.messages.Open(ctx, conversationID)
	if err != nil {
		return err
	}
	names := newSenderNames(app)
	for _, msg := range history {
		printMessage(out, names, msg)
	}
	_, _ = fmt.Fprintln(out, chatHelp)

	g, gctx := errgroup.WithContext(ctx)

	incoming := make(chan domain.Message, 16)
	stopWatch := app.messages.Watch(func(msg domain.Message) {
		select {
		case incoming <- msg:
		case <-gctx.Done():
		}
	})
	defer stopWatch()

	lines := scanLines(gctx, cmd.InOrStdin())

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg := <-incoming:
				printMessage(out, names, msg)
			}
		}
	})
	g.Go(func() error {
		return chatInput(gctx, cmd, app, conversationID, lines)
	})

	err = g.Wait()
	if errors.Is(err, errChatDone) {
		err = nil
	}
	if leaveErr := app.channel.LeaveConversation(conversationID); leaveErr != nil && !errors.Is(leaveErr, domain.ErrNotConnected) {
		app.logger.Debug().Err(leaveErr).Msg("leave conversation")
	}
	return err
}

// errChatDone ends the chat without reporting an error. It is returned as an
// error so the errgroup stops the printer too.
var errChatDone = errors.New("chat done")

func chatInput(ctx context.Context, cmd *cobra.Command, app *app, conversationID string, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errChatDone
			}
			err := handleChatLine(ctx, cmd, app, conversationID, line)
			if errors.Is(err, errChatDone) {
				return err
			}
			if err != nil {
				// Refused sends are reported and the session goes on.
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "! %v\n", err)
			}
		}
	}
}

func handleChatLine(ctx context.Context, cmd *cobra.Command, app *app, conversationID string, line string) error {
	line = strings.TrimSpace(line)
	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "":
		return nil
	case "/quit":
		return errChatDone
	case "/media":
		if arg == "" {
			return errors.New("usage: /media <path>")
		}
		return sendMediaFile(ctx, cmd, app, conversationID, arg)
	case "/status":
		if arg == "" {
			return errors.New("usage: /status <friend-id>")
		}
		return app.contacts.RequestFriendStatus(arg)
	default:
		return app.messages.Send(conversationID, line)
	}
}

func sendMediaFile(ctx context.Context, cmd *cobra.Command, app *app, conversationID string, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat media: %w", err)
	}

	stderr := cmd.ErrOrStderr()
	last := -1
	media, err := app.messages.SendMedia(ctx, application.SendMediaCommand{
		ConversationID: conversationID,
		Filename:       path,
		Size:           info.Size(),
		Content:        file,
		Progress: func(percent int) {
			if percent/25 != last/25 {
				last = percent
				_, _ = fmt.Fprintf(stderr, "uploading %s: %d%%\n", info.Name(), percent)
			}
		},
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stderr, "sent %s %s\n", media.Type, media.OriginalFileName)
	return nil
}

// scanLines feeds r line by line into the returned channel and closes it at
// EOF. A terminal read cannot be interrupted, so the reader stays blocked on
// stdin when ctx ends first; the process exits right after.
func scanLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

type senderNames struct {
	self  string
	names map[string]string
}

func newSenderNames(app *app) senderNames {
	names := senderNames{names: map[string]string{}}
	if user, ok := app.auth.User(); ok {
		names.self = user.ID
	}
	for _, contact := range app.contacts.Contacts() {
		names.names[contact.ID] = contact.DisplayName()
	}
	return names
}

func (n senderNames) lookup(senderID string) string {
	if senderID == "" {
		return "unknown"
	}
	if senderID == n.self {
		return "you"
	}
	if name, ok := n.names[senderID]; ok && name != "" {
		return name
	}
	return senderID
}

func printMessage(out io.Writer, names senderNames, msg domain.Message) {
	content := msg.Content
	if msg.Type.IsMedia() {
		content = fmt.Sprintf("[%s] %s", msg.Type, msg.OriginalFileName)
	}
	_, _ = fmt.Fprintf(out, "%s: %s\n", names.lookup(msg.SenderID), content)
}
