package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/models"
)

func setupSummary(res *controlplane.SetupResult) string {
	switch res.Status {
	case controlplane.StatusFailed:
		return "Error: setup failed: " + res.Error
	case controlplane.StatusPreview:
		return fmt.Sprintf("✓ Preview: %d servers would be configured", len(res.SelectedServers))
	}
	return fmt.Sprintf("✓ Configured %d servers (%d warnings)", res.ConfiguredServers, len(res.Warnings))
}

func renderSetupResult(res *controlplane.SetupResult) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n  %s  %s\n", lipgloss.NewStyle().Bold(true).Render("Setup"), statusLabel(res.Status)))
	writeSignal(&b, res.Analysis)
	if res.ConfigPath != "" {
		b.WriteString(fmt.Sprintf("  Config:   %s\n", res.ConfigPath))
	}
	if res.SnapshotID != "" {
		b.WriteString(fmt.Sprintf("  Snapshot: %s\n", res.SnapshotID))
	}

	b.WriteString("\n  " + headerStyle.Render("Servers") + "\n")
	if len(res.Matches) == 0 {
		b.WriteString("    none matched\n")
	}
	for _, m := range res.Matches {
		b.WriteString(fmt.Sprintf("    • %-26s %.2f  creds: %-8s health: %s\n",
			m.Name, m.Confidence, orDash(res.Credentials[m.Name]), healthLabel(res.Health, m.Name)))
	}

	if len(res.Configs) > 0 {
		b.WriteString("\n  " + headerStyle.Render("Environment") + "\n")
		for _, c := range res.Configs {
			keys := make([]string, 0, len(c.Env))
			for k := range c.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, k+"="+c.Env[k])
			}
			b.WriteString(fmt.Sprintf("    • %s: %s\n", c.Name, orDash(strings.Join(pairs, " "))))
		}
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\n  " + lipgloss.NewStyle().Foreground(warningColor).Render("Warnings") + "\n")
		for _, w := range res.Warnings {
			b.WriteString("    ! " + w + "\n")
		}
	}
	if res.Error != "" {
		b.WriteString("\n  " + lipgloss.NewStyle().Foreground(errorColor).Render("Error: "+res.Error) + "\n")
	}
	return b.String()
}

func renderAnalyzeResult(res *controlplane.AnalyzeResult) string {
	var b strings.Builder

	b.WriteString("\n  " + lipgloss.NewStyle().Bold(true).Render("Analysis") + "\n")
	writeSignal(&b, res.Analysis)
	b.WriteString(fmt.Sprintf("  Fingerprint: %s\n", res.Fingerprint))
	b.WriteString(fmt.Sprintf("  Threshold:   %.2f\n", res.Threshold))

	b.WriteString("\n  " + headerStyle.Render("Selected") + "\n")
	writeMatches(&b, res.Selected)
	b.WriteString("\n  " + headerStyle.Render("Rejected") + "\n")
	writeMatches(&b, res.Rejected)
	if len(res.Recommendations) > 0 {
		b.WriteString("\n  " + headerStyle.Render("Often used for similar tasks") + "\n")
		writeMatches(&b, res.Recommendations)
	}
	return b.String()
}

func renderSetupRecord(s models.Setup) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(s.TaskDescription)))
	b.WriteString(fmt.Sprintf("  ID:          %s\n", s.ID))
	status := controlplane.StatusSuccess
	if !s.Success {
		status = controlplane.StatusFailed
	}
	b.WriteString(fmt.Sprintf("  Status:      %s\n", statusLabel(status)))
	b.WriteString(fmt.Sprintf("  Agent:       %s (%s scope)\n", s.Agent, s.Scope))
	b.WriteString(fmt.Sprintf("  Fingerprint: %s\n", orDash(s.Fingerprint)))
	b.WriteString(fmt.Sprintf("  Servers:     %s\n", orDash(strings.Join(s.Selected, ", "))))
	b.WriteString(fmt.Sprintf("  Snapshot:    %s\n", orDash(s.SnapshotID)))
	b.WriteString(fmt.Sprintf("  Started:     %s\n", s.CreatedAt.Local().Format(time.DateTime)))
	if s.CompletedAt != nil {
		b.WriteString(fmt.Sprintf("  Took:        %s\n", s.CompletedAt.Sub(s.CreatedAt).Round(time.Millisecond)))
	}
	return b.String()
}

func writeSignal(b *strings.Builder, sig models.TaskSignal) {
	b.WriteString(fmt.Sprintf("  Services: %s (confidence %.2f)\n", orDash(strings.Join(sig.Services, ", ")), sig.Confidence))
	if sig.Account != "" {
		b.WriteString(fmt.Sprintf("  Account:  %s\n", sig.Account))
	}
	if sig.Region != "" {
		b.WriteString(fmt.Sprintf("  Region:   %s\n", sig.Region))
	}
	if sig.TicketID != "" {
		b.WriteString(fmt.Sprintf("  Ticket:   %s\n", sig.TicketID))
	}
}

func writeMatches(b *strings.Builder, ms []models.WorkerMatch) {
	if len(ms) == 0 {
		b.WriteString("    none\n")
		return
	}
	for _, m := range ms {
		b.WriteString(fmt.Sprintf("    • %-26s %.2f  %s\n", m.Name, m.Confidence, m.Rationale))
	}
}

func statusLabel(status string) string {
	switch status {
	case controlplane.StatusSuccess:
		return lipgloss.NewStyle().Foreground(successColor).Render("● " + status)
	case controlplane.StatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ " + status)
	}
	return lipgloss.NewStyle().Foreground(warningColor).Render("○ " + status)
}

func healthLabel(health map[string]models.HealthReport, name string) string {
	h, ok := health[name]
	switch {
	case !ok:
		return "-"
	case h.Healthy:
		return fmt.Sprintf("ok (%dms)", h.StartupLatencyMs)
	case h.Error != "":
		return "unhealthy: " + h.Error
	}
	return "unhealthy"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
