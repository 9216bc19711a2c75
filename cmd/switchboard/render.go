package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// withAPI runs remote against the daemon. When --local is set or the
// daemon cannot be reached, local runs against an in-process app instead.
func withAPI(cmd interface{ Context() context.Context }, manageProcesses bool, remote func() error, local func(ctx context.Context, a *app) error) error {
	if !localMode {
		err := remote()
		if !errors.Is(err, errUnreachable) {
			return err
		}
		fmt.Fprintln(os.Stderr, mutedStyle.Render("daemon not reachable at "+apiAddr+", running locally"))
	}

	cfg, logger, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, manageProcesses)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := local(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.StopTimeout+5*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func printSetupResult(res *controlplane.SetupResult) {
	status := okStyle.Render(res.Status)
	if res.Status == controlplane.StatusFailed {
		status = errStyle.Render(res.Status)
	} else if res.Status == controlplane.StatusPreview {
		status = warnStyle.Render(res.Status)
	}
	fmt.Println(headerStyle.Render("Setup") + "  " + status)
	if res.SetupID != "" {
		fmt.Printf("  ID:       %s\n", truncateID(res.SetupID))
	}
	printAnalysis(res.Analysis)
	if res.ConfigPath != "" {
		fmt.Printf("  Config:   %s\n", res.ConfigPath)
	}
	if res.SnapshotID != "" {
		fmt.Printf("  Snapshot: %s\n", res.SnapshotID)
	}
	fmt.Println()

	if len(res.Matches) > 0 {
		w := newTable()
		fmt.Fprintln(w, "SERVER\tCONFIDENCE\tCREDENTIALS\tHEALTH\tRATIONALE")
		for _, m := range res.Matches {
			fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\n",
				m.Name, m.Confidence, orDash(res.Credentials[m.Name]), healthLabel(res.Health, m.Name), truncate(m.Rationale, 50))
		}
		w.Flush()
	} else {
		fmt.Println(mutedStyle.Render("  No servers matched this task"))
	}

	for _, warning := range res.Warnings {
		fmt.Println(warnStyle.Render("  ! " + warning))
	}
	if res.Error != "" {
		fmt.Println(errStyle.Render("  error: " + res.Error))
	}
}

func printAnalysis(a models.TaskSignal) {
	services := strings.Join(a.Services, ", ")
	fmt.Printf("  Services: %s (confidence %.2f)\n", orDash(services), a.Confidence)
	if a.Account != "" {
		fmt.Printf("  Account:  %s\n", a.Account)
	}
	if a.Region != "" {
		fmt.Printf("  Region:   %s\n", a.Region)
	}
	if a.TicketID != "" {
		fmt.Printf("  Ticket:   %s\n", a.TicketID)
	}
}

func healthLabel(health map[string]models.HealthReport, name string) string {
	h, ok := health[name]
	switch {
	case !ok:
		return "-"
	case h.Healthy:
		return fmt.Sprintf("ok (%dms)", h.StartupLatencyMs)
	default:
		return "unhealthy"
	}
}

func printWorkers(workers []models.WorkerStatus) {
	if len(workers) == 0 {
		fmt.Println("No workers running")
		return
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Name < workers[j].Name })
	w := newTable()
	fmt.Fprintln(w, "NAME\tPID\tRUNNING\tSTARTED\tCOMMAND")
	for _, ws := range workers {
		fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\n", ws.Name, ws.PID, ws.Running,
			ws.StartedAt.Local().Format(time.DateTime), truncate(strings.Join(append([]string{ws.Command}, ws.Args...), " "), 50))
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
