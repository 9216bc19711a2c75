package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/switchboard/internal/agents"
	"github.com/fentz26/switchboard/internal/controlplane"
)

var setupCmd = &cobra.Command{
	Use:   "setup [task description]",
	Short: "Configure the MCP servers a task needs",
	Long: `Classifies the task, selects matching MCP servers, prepares their
credentials and writes them into the agent's configuration. The previous
configuration is snapshotted first and can be restored with "rollback".`,
	Example: `  switchboard setup "Check prod lambda errors in tokyo for DEVOPS-123"
  switchboard setup --agent cursor --scope project --project . "Update Terraform infrastructure"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSetup,
}

var (
	setupAgent   string
	setupScope   string
	setupProject string
	setupDryRun  bool
	setupJSON    bool
)

func init() {
	setupCmd.Flags().StringVar(&setupAgent, "agent", "", "Agent platform (cursor, kiro, claude_desktop, claude_code, custom); detected when empty")
	setupCmd.Flags().StringVar(&setupScope, "scope", "user", "Configuration scope (user, project)")
	setupCmd.Flags().StringVar(&setupProject, "project", "", "Project directory for project scope")
	setupCmd.Flags().BoolVar(&setupDryRun, "dry-run", false, "Preview the configuration without writing it")
	setupCmd.Flags().BoolVar(&setupJSON, "json", false, "Print the result as JSON")
}

// projectPath resolves --project against the caller's working directory
// before it is sent to a daemon running elsewhere.
func projectPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

func runSetup(cmd *cobra.Command, args []string) error {
	project, err := projectPath(setupProject)
	if err != nil {
		return err
	}
	req := controlplane.SetupRequest{
		TaskDescription: strings.Join(args, " "),
		AgentType:       setupAgent,
		Scope:           setupScope,
		ProjectPath:     project,
		DryRun:          setupDryRun,
	}
	if req.AgentType == "" {
		req.AgentType = string(agents.DetectFromEnv(os.Getenv))
	}

	var res *controlplane.SetupResult
	err = withAPI(cmd, true,
		func() error {
			res = &controlplane.SetupResult{}
			return postJSON("/api/v1/setup", req, res, SetupClientTimeout)
		},
		func(ctx context.Context, a *app) error {
			var err error
			res, err = a.service.Setup(ctx, req)
			return err
		})
	if err != nil {
		return err
	}

	if setupJSON {
		return printJSON(res)
	}
	printSetupResult(res)
	return nil
}
