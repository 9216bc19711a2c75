package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/switchboard/internal/agents"
	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/models"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List configuration snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSnapshots,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [snapshot-id]",
	Short: "Restore a configuration snapshot",
	Long: `Restores the named snapshot, or the newest one when no id is given.
The configuration being replaced is snapshotted first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollback,
}

var (
	snapAgent   string
	snapScope   string
	snapProject string
	snapLimit   int
	snapJSON    bool
)

func init() {
	for _, c := range []*cobra.Command{snapshotsCmd, rollbackCmd} {
		c.Flags().StringVar(&snapAgent, "agent", "", "Agent platform; detected when empty")
		c.Flags().StringVar(&snapScope, "scope", "user", "Configuration scope (user, project)")
		c.Flags().StringVar(&snapProject, "project", "", "Project directory for project scope")
		c.Flags().BoolVar(&snapJSON, "json", false, "Print the result as JSON")
	}
	snapshotsCmd.Flags().IntVar(&snapLimit, "limit", 20, "Maximum number of snapshots to list (0 for all)")
}

func snapshotAgent() string {
	if snapAgent != "" {
		return snapAgent
	}
	return string(agents.DetectFromEnv(os.Getenv))
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	project, err := projectPath(snapProject)
	if err != nil {
		return err
	}
	req := controlplane.ListSnapshotsRequest{
		AgentType:   snapshotAgent(),
		Scope:       snapScope,
		ProjectPath: project,
		Limit:       snapLimit,
	}

	var snaps []models.SnapshotInfo
	err = withAPI(cmd, false,
		func() error {
			q := url.Values{}
			q.Set("agent_type", req.AgentType)
			q.Set("scope", req.Scope)
			if req.ProjectPath != "" {
				q.Set("project_path", req.ProjectPath)
			}
			q.Set("limit", strconv.Itoa(req.Limit))
			return getJSON("/api/v1/snapshots?"+q.Encode(), &snaps)
		},
		func(ctx context.Context, a *app) error {
			var err error
			snaps, err = a.service.ListSnapshots(ctx, req)
			return err
		})
	if err != nil {
		return err
	}

	if snapJSON {
		return printJSON(snaps)
	}
	if len(snaps) == 0 {
		fmt.Printf("No snapshots for %s (%s scope)\n", req.AgentType, req.Scope)
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tTAKEN\tSIZE")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.ID, s.Timestamp.Local().Format(time.DateTime), s.Size)
	}
	w.Flush()
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	project, err := projectPath(snapProject)
	if err != nil {
		return err
	}
	req := controlplane.RollbackRequest{
		AgentType:   snapshotAgent(),
		Scope:       snapScope,
		ProjectPath: project,
	}
	if len(args) == 1 {
		req.SnapshotID = args[0]
	}

	var res *controlplane.RollbackResult
	err = withAPI(cmd, false,
		func() error {
			res = &controlplane.RollbackResult{}
			return postJSON("/api/v1/rollback", req, res, DefaultClientTimeout)
		},
		func(ctx context.Context, a *app) error {
			var err error
			res, err = a.service.Rollback(ctx, req)
			return err
		})
	if err != nil {
		return err
	}

	if snapJSON {
		return printJSON(res)
	}
	fmt.Printf("%s restored %s\n", okStyle.Render("✓"), res.RestoredSnapshotID)
	fmt.Printf("  Config: %s\n", res.ConfigPath)
	if res.PreRestoreSnapshotID != "" {
		fmt.Printf("  Undo with: switchboard rollback %s\n", res.PreRestoreSnapshotID)
	}
	return nil
}
