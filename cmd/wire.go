package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/paralyuzov/raven-client/internal/adapters/httpapi"
	"github.com/paralyuzov/raven-client/internal/adapters/realtime"
	statusadapter "github.com/paralyuzov/raven-client/internal/adapters/render/status"
	chainstore "github.com/paralyuzov/raven-client/internal/adapters/secrets/chain"
	"github.com/paralyuzov/raven-client/internal/application"
	"github.com/paralyuzov/raven-client/internal/config"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/paralyuzov/raven-client/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errSessionEnded cancels the running command once the session could not be
// recovered.
var errSessionEnded = errors.New(`session expired: run "raven login"`)

type app struct {
	cfg         config.Config
	realtimeURL string
	logger      zerolog.Logger

	store       *chainstore.Store
	creds       *session.Credentials
	coordinator *session.Coordinator
	gateway     *httpapi.Gateway
	channel     *realtime.Channel

	auth     *application.AuthService
	status   *application.StatusService
	contacts *application.ContactsService
	friends  *application.FriendsService
	messages *application.MessagesService

	statusRenderer func(application.SessionStatus, statusadapter.RenderOptions) (string, error)
	now            func() time.Time
}

type wireOptions struct {
	debug  bool
	stderr io.Writer
	// onSessionEnded runs when the coordinator gives up on the session.
	onSessionEnded func(reason string)
}

func newLogger(w io.Writer, level string, debug bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

// wireApp builds the session core in dependency order: credentials, the raw
// HTTP client that performs refreshes, the coordinator, the realtime channel
// and finally the gateway that routes 401s through the coordinator.
func wireApp(ctx context.Context, opts wireOptions) (*app, error) {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	stderr := opts.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := newLogger(stderr, cfg.Log.Level, opts.debug)

	realtimeURL, err := cfg.RealtimeURL()
	if err != nil {
		return nil, err
	}

	store, err := chainstore.NewBoltFirstWithFileFallback(cfg.Storage.Path, cfg.Storage.FallbackDir)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	creds := session.NewCredentials(store, logger.With().Str("component", "credentials").Logger())
	if err := creds.Hydrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load session: %w", err)
	}

	client, err := httpapi.NewClient(httpapi.Options{
		BaseURL:      cfg.API.BaseURL,
		Timeout:      cfg.API.Timeout,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		Logger:       logger.With().Str("component", "http").Logger(),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("wire http client: %w", err)
	}

	navigator := ports.NavigatorFunc(func(reason string) {
		logger.Info().Str("reason", reason).Msg("session ended")
		if opts.onSessionEnded != nil {
			opts.onSessionEnded(reason)
		}
	})

	coordinator := session.NewCoordinator(creds, client, navigator, session.CoordinatorConfig{
		RefreshTimeout:  cfg.API.Timeout,
		RefreshInterval: cfg.Session.RefreshInterval,
		RefreshSkew:     cfg.Session.RefreshSkew,
		Logger:          logger.With().Str("component", "session").Logger(),
	})

	channel, err := realtime.NewChannel(realtime.Options{
		URL:                  realtimeURL,
		Dialer:               realtime.WebsocketDialer{HandshakeTimeout: cfg.API.Timeout},
		Tokens:               creds,
		Auth:                 coordinator,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay,
		Logger:               logger.With().Str("component", "realtime").Logger(),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("wire realtime channel: %w", err)
	}
	coordinator.SetReconnector(channel)

	gateway := httpapi.NewGateway(client, creds, coordinator)
	gateway.SetChannel(channel)

	return &app{
		cfg:            cfg,
		realtimeURL:    realtimeURL,
		logger:         logger,
		store:          store,
		creds:          creds,
		coordinator:    coordinator,
		gateway:        gateway,
		channel:        channel,
		auth:           application.NewAuthService(gateway, creds),
		status:         application.NewStatusService(creds, gateway),
		contacts:       application.NewContactsService(gateway, channel, logger),
		friends:        application.NewFriendsService(gateway, channel, logger),
		messages:       application.NewMessagesService(gateway, channel, logger),
		statusRenderer: statusadapter.Render,
		now:            time.Now,
	}, nil
}

// close stops background work before releasing the store it writes to.
func (a *app) close() error {
	a.coordinator.Stop()
	a.contacts.Cleanup()
	a.friends.Cleanup()
	a.channel.Close()
	return a.store.Close()
}

type appRunner struct {
	debug *bool
}

// run wires a fresh app for one command invocation and closes it afterwards.
// The command context is cancelled when the session ends underneath it.
func (r appRunner) run(fn func(cmd *cobra.Command, args []string, app *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancelCause(cmd.Context())
		defer cancel(nil)

		// Loggers and chat goroutines share stderr.
		stderr := zerolog.SyncWriter(cmd.ErrOrStderr())
		cmd.SetErr(stderr)

		app, err := wireApp(ctx, wireOptions{
			debug:  r.debug != nil && *r.debug,
			stderr: stderr,
			onSessionEnded: func(string) {
				_, _ = fmt.Fprintln(stderr, errSessionEnded.Error())
				cancel(errSessionEnded)
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := app.close(); closeErr != nil {
				app.logger.Warn().Err(closeErr).Msg("close app")
			}
		}()

		cmd.SetContext(ctx)
		err = fn(cmd, args, app)
		if cause := context.Cause(ctx); errors.Is(cause, errSessionEnded) {
			return cause
		}
		return err
	}
}
