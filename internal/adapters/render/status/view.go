package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/paralyuzov/raven-client/internal/application"
)

const defaultAccessTTL = 15 * time.Minute

type RenderOptions struct {
	Now time.Time
	// AccessTTL is the full lifetime of an access token, used to scale the
	// remaining-time bar.
	AccessTTL time.Duration
	// RefreshSkew is how long before expiry the client refreshes on its own.
	RefreshSkew time.Duration
}

func renderView(status application.SessionStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Raven Session"),
		s.header.Render(endpointHeader(status)),
	}

	if !status.Authenticated {
		lines = append(lines,
			s.section.Render(s.warning.Render("signed out")),
			s.empty.Render(`run "raven login" to start a session`),
		)
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	lines = append(lines, s.section.Render(renderSession(status, opts, s)))
	if details := detailLines(status, s); len(details) > 0 {
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, details...)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func endpointHeader(status application.SessionStatus) string {
	parts := make([]string, 0, 2)
	if status.BaseURL != "" {
		parts = append(parts, "api: "+status.BaseURL)
	}
	if status.RealtimeURL != "" {
		parts = append(parts, "realtime: "+status.RealtimeURL)
	}
	if len(parts) == 0 {
		return "backend: n/a"
	}
	return strings.Join(parts, "  ")
}

func renderSession(status application.SessionStatus, opts RenderOptions, s styles) string {
	parts := []string{s.user.Render(userTitle(status))}
	parts = append(parts, tokenLine(status, opts, s))

	refresh := s.ok.Render("present")
	if !status.HasRefreshToken {
		refresh = s.warning.Render("missing")
	}
	parts = append(parts, lipgloss.JoinHorizontal(lipgloss.Top, s.key.Render("refresh token:"), " ", refresh))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func userTitle(status application.SessionStatus) string {
	if status.User == nil {
		return "Signed in"
	}
	name := strings.TrimSpace(status.User.DisplayName())
	if name == "" {
		return fmt.Sprintf("Signed in (%s)", status.User.ID)
	}
	if status.User.Email != "" && status.User.Email != name {
		return fmt.Sprintf("Signed in as %s <%s>", name, status.User.Email)
	}
	return "Signed in as " + name
}

func tokenLine(status application.SessionStatus, opts RenderOptions, s styles) string {
	label := s.key.Render("access token:")
	if status.AccessExpiresAt.IsZero() {
		return lipgloss.JoinHorizontal(lipgloss.Top, label, " ", s.detail.Render("expiry unknown"))
	}

	ttl := opts.AccessTTL
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	remaining := status.ExpiresIn(now)
	leftPercent := clampPercent(100 * remaining.Seconds() / ttl.Seconds())
	bar := renderProgressBar(leftPercent, 24, s)
	meta := lipgloss.NewStyle().Foreground(interpolateColor(leftPercent, 0, 100)).
		Render(formatExpiry(status.AccessExpiresAt, now))

	line := lipgloss.JoinHorizontal(lipgloss.Top, label, " ", bar, " ", meta)
	if remaining > 0 && opts.RefreshSkew > 0 && remaining <= opts.RefreshSkew {
		line += " " + s.warning.Render("[refresh due]")
	}
	return line
}

func detailLines(status application.SessionStatus, s styles) []string {
	lines := make([]string, 0, 2)
	if status.Storage != "" {
		lines = append(lines, s.detail.Render("storage: "+status.Storage))
	}
	if status.ConfigPath != "" {
		lines = append(lines, s.detail.Render("config: "+status.ConfigPath))
	}
	return lines
}

// renderProgressBar draws leftPercent of width as filled.
func renderProgressBar(leftPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * clampPercent(leftPercent) / 100.0))
	filled = max(0, min(filled, width))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatExpiry(expiresAt, now time.Time) string {
	if !expiresAt.After(now) {
		return "expired"
	}

	remaining := expiresAt.Sub(now)
	if remaining < time.Hour {
		minutes := int(math.Ceil(remaining.Minutes()))
		suffix := "minutes"
		if minutes == 1 {
			suffix = "minute"
		}
		return fmt.Sprintf("expires in %d %s (%s)", minutes, suffix, expiresAt.Format("15:04"))
	}

	hours := int(math.Ceil(remaining.Hours()))
	suffix := "hours"
	if hours == 1 {
		suffix = "hour"
	}
	return fmt.Sprintf("expires in %d %s (%s)", hours, suffix, expiresAt.Format("15:04 on 02 Jan"))
}

// interpolateColor maps value onto the 240..255 greyscale ramp.
func interpolateColor(value, lo, hi float64) lipgloss.Color {
	if hi == lo {
		return lipgloss.Color("255")
	}

	normalized := (value - lo) / (hi - lo)
	normalized = max(0, min(normalized, 1))

	return lipgloss.Color(fmt.Sprintf("%d", int(240+15*normalized)))
}
