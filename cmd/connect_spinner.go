package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/paralyuzov/raven-client/internal/domain"
)

// attemptReporter is told about every failed connect attempt that will be
// retried.
type attemptReporter func(attempt int, err error)

// connectChat opens the realtime channel, retrying failed dials with the
// configured linear backoff. A missing session is not retried.
func connectChat(ctx context.Context, app *app, report attemptReporter) error {
	attempts := app.cfg.Realtime.MaxReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := app.channel.Connect(ctx)
		if err == nil || errors.Is(err, domain.ErrUnauthenticated) || attempt >= attempts {
			return err
		}
		report(attempt, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(app.cfg.Realtime.ReconnectDelay * time.Duration(attempt)):
		}
	}
}

type connectAttemptMsg struct {
	attempt int
	err     error
}

type connectDoneMsg struct {
	err error
}

var attemptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

type connectModel struct {
	spinner spinner.Model
	label   string
	connect tea.Cmd

	failed  int
	lastErr error

	err  error
	done bool
}

func newConnectModel(label string, connect tea.Cmd) connectModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return connectModel{
		spinner: s,
		label:   label,
		connect: connect,
	}
}

func (m connectModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.connect)
}

func (m connectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case connectAttemptMsg:
		m.failed = msg.attempt
		m.lastErr = msg.err
		return m, nil
	case connectDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m connectModel) View() string {
	if m.done {
		return ""
	}

	line := fmt.Sprintf("%s %s", m.spinner.View(), m.label)
	if m.lastErr != nil {
		line += " " + attemptStyle.Render(fmt.Sprintf("(attempt %d failed: %v, retrying)", m.failed, m.lastErr))
	}
	return line
}

// connectWithSpinner runs connectChat behind a spinner on output. Failed
// attempts show up next to label until the channel connects or gives up.
func connectWithSpinner(ctx context.Context, output io.Writer, label string, app *app) error {
	var p *tea.Program
	connectCmd := func() tea.Msg {
		return connectDoneMsg{err: connectChat(ctx, app, func(attempt int, err error) {
			p.Send(connectAttemptMsg{attempt: attempt, err: err})
		})}
	}

	p = tea.NewProgram(
		newConnectModel(label, connectCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(connectModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.err
}

// connectQuietly is connectChat for non-interactive runs. Failed attempts
// are written to output as plain lines.
func connectQuietly(ctx context.Context, output io.Writer, app *app) error {
	return connectChat(ctx, app, func(attempt int, err error) {
		_, _ = fmt.Fprintf(output, "connect attempt %d failed: %v, retrying\n", attempt, err)
	})
}
