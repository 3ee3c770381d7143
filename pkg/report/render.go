// pkg/report/render.go

package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/bootstrap"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorPrimary = lipgloss.Color("#00ffff")
	colorSuccess = lipgloss.Color("#00ff00")
	colorWarning = lipgloss.Color("#ffaa00")
	colorError   = lipgloss.Color("#ff0000")
	colorMuted   = lipgloss.Color("#666666")
	colorBorder  = lipgloss.Color("#3d5a80")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(colorMuted).Width(16)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
)

func statusStyle(status string) lipgloss.Style {
	switch bootstrap.Status(status) {
	case bootstrap.StatusApplied:
		return cellStyle.Foreground(colorSuccess)
	case bootstrap.StatusSkipped:
		return cellStyle.Foreground(colorMuted)
	case bootstrap.StatusFailed:
		return cellStyle.Foreground(colorError).Bold(true)
	}
	return cellStyle
}

func statusLabel(s Step) string {
	label := s.Status
	if s.Optional && bootstrap.Status(s.Status) == bootstrap.StatusFailed {
		label += " (optional)"
	}
	return label
}

// Render writes the human readable report to w.
func (r Report) Render(w io.Writer) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render("forge bootstrap summary"))
	b.WriteString("\n")
	if r.RunID != "" {
		b.WriteString(labelStyle.Render("run") + r.RunID + "\n")
	}
	if r.Host.OS != "" {
		b.WriteString(labelStyle.Render("host") + fmt.Sprintf("%s %s (%s, %s)", r.Host.OS, r.Host.Version, r.Host.Codename, r.Host.Arch) + "\n")
	}
	b.WriteString("\n")

	if len(r.Steps) > 0 {
		rows := make([][]string, 0, len(r.Steps))
		for _, s := range r.Steps {
			detail := s.Detail
			if s.Message != "" && bootstrap.Status(s.Status) == bootstrap.StatusFailed {
				detail = s.Message
			}
			rows = append(rows, []string{s.Name, statusLabel(s), formatDuration(s.Seconds), detail})
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
			Headers("STEP", "STATUS", "DURATION", "DETAIL").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if col == 1 && row >= 0 && row < len(r.Steps) {
					return statusStyle(r.Steps[row].Status)
				}
				return cellStyle
			})
		b.WriteString(t.String())
		b.WriteString("\n\n")
	}

	b.WriteString(titleStyle.Render("configuration"))
	b.WriteString("\n")
	for _, kv := range configLines(r) {
		b.WriteString(labelStyle.Render(kv[0]) + kv[1] + "\n")
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\n")
		for _, warn := range r.Warnings {
			b.WriteString(warningStyle.Render("⚠️  "+warn) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(verdictLine(r))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func configLines(r Report) [][2]string {
	c := r.Config
	lines := [][2]string{
		{"user", c.User},
		{"home", c.Home},
		{"ssh port", strconv.Itoa(c.SSHPort)},
		{"ssh allowed from", c.AllowCIDR},
		{"agent", c.AgentPlatform},
	}
	if c.AgentTarget != "" {
		lines = append(lines, [2]string{"agent target", c.AgentTarget})
	}
	if c.AgentToken != "" {
		lines = append(lines, [2]string{"agent token", c.AgentToken})
	}
	lines = append(lines,
		[2]string{"docker", c.Docker},
		[2]string{"terraform", c.Terraform},
		[2]string{"ansible", c.Ansible},
	)
	return lines
}

func verdictLine(r Report) string {
	style := lipgloss.NewStyle().Bold(true)
	switch r.ExitCode {
	case forge_err.ExitOK:
		style = style.Foreground(colorSuccess)
	case forge_err.ExitOptionalStep:
		style = style.Foreground(colorWarning)
	default:
		style = style.Foreground(colorError)
	}
	return style.Render(fmt.Sprintf("%s (exit %d)", r.Verdict, r.ExitCode))
}

func formatDuration(seconds float64) string {
	return (time.Duration(seconds * float64(time.Second))).Round(10 * time.Millisecond).String()
}
