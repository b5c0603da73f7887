package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"SendLater/internal/models"
)

const timeLayout = "Mon Jan 2 15:04 MST"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	statusStyles = map[models.EmailStatus]lipgloss.Style{
		models.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		models.StatusClaimed:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		models.StatusSent:      okStyle,
		models.StatusFailed:    errStyle,
		models.StatusCancelled: dimStyle,
	}
)

func renderList(emails []models.ScheduledEmail, loc *time.Location) string {
	if len(emails) == 0 {
		return dimStyle.Render("No scheduled emails.")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%d scheduled email(s)", len(emails))))
	b.WriteString("\n")

	for _, e := range emails {
		status := statusStyles[e.Status].Width(10).Render(string(e.Status))
		when := e.ScheduledTime.In(loc).Format(timeLayout)

		line := lipgloss.JoinHorizontal(lipgloss.Top,
			status,
			lipgloss.NewStyle().Width(24).Render(when),
			lipgloss.NewStyle().Width(28).Render(truncate(e.Recipient, 26)),
			truncate(e.Subject, 40),
		)
		b.WriteString(line)
		b.WriteString("\n")

		detail := "  " + e.ID
		if e.SentAt != nil {
			detail += "  sent " + e.SentAt.In(loc).Format(timeLayout)
		}
		b.WriteString(dimStyle.Render(detail))
		b.WriteString("\n")

		if e.ErrorMessage != "" {
			b.WriteString(errStyle.Render("  " + e.ErrorMessage))
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
