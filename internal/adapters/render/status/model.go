package status

import (
	"context"
	"errors"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/paralyuzov/raven-client/internal/application"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

// StatusSource reads the current session. Watch calls it on every redraw so
// a token refreshed in the background shows up.
type StatusSource func() application.SessionStatus

type renderReadyMsg struct{}

type redrawMsg time.Time

type model struct {
	source StatusSource
	opts   RenderOptions
	styles styles
	// every is the redraw period; zero renders once.
	every  time.Duration
	output string
}

func newModel(source StatusSource, opts RenderOptions, every time.Duration) model {
	return model{
		source: source,
		opts:   opts,
		styles: newStyles(),
		every:  every,
	}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		return renderReadyMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case renderReadyMsg:
		m.output = renderView(m.source(), m.opts, m.styles)
		if m.every <= 0 {
			return m, tea.Quit
		}
		return m, m.redrawLater()
	case redrawMsg:
		m.opts.Now = time.Time(msg)
		m.output = renderView(m.source(), m.opts, m.styles)
		return m, m.redrawLater()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	default:
		return m, nil
	}
}

func (m model) redrawLater() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg {
		return redrawMsg(t)
	})
}

func (m model) View() string {
	if m.every > 0 && m.output != "" {
		return m.output + "\n" + m.styles.empty.Render("press q to quit")
	}
	return m.output
}

// Render draws the session status once through a headless bubbletea program.
func Render(status application.SessionStatus, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(func() application.SessionStatus { return status }, opts, 0),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}

	return rendered.View(), nil
}

// Watch redraws the session on output every interval until q is pressed on
// input or ctx ends.
func Watch(ctx context.Context, input io.Reader, output io.Writer, source StatusSource, opts RenderOptions, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}

	p := tea.NewProgram(
		newModel(source, opts, interval),
		tea.WithInput(input),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
