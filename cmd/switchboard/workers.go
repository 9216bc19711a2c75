package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/fentz26/switchboard/internal/models"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Manage worker processes started by the daemon",
}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked worker processes",
	Args:  cobra.NoArgs,
	RunE:  runWorkersList,
}

var workersStopCmd = &cobra.Command{
	Use:   "stop [name]",
	Short: "Stop a worker process",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkersStop,
}

var workersRestartCmd = &cobra.Command{
	Use:   "restart [name]",
	Short: "Restart a worker process",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkersRestart,
}

var workersJSON bool

func init() {
	workersCmd.AddCommand(workersListCmd, workersStopCmd, workersRestartCmd)
	workersListCmd.Flags().BoolVar(&workersJSON, "json", false, "Print the result as JSON")
}

// Workers only exist inside a running daemon, so these commands never fall
// back to a local run.
func runWorkersList(cmd *cobra.Command, args []string) error {
	var workers []models.WorkerStatus
	if err := getJSON("/api/v1/workers", &workers); err != nil {
		return err
	}
	if workersJSON {
		return printJSON(workers)
	}
	printWorkers(workers)
	return nil
}

func runWorkersStop(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/api/v1/workers/"+url.PathEscape(args[0])+"/stop", nil); err != nil {
		return err
	}
	fmt.Printf("Stopped %s\n", args[0])
	return nil
}

func runWorkersRestart(cmd *cobra.Command, args []string) error {
	body, err := apiPost("/api/v1/workers/"+url.PathEscape(args[0])+"/restart", nil)
	if err != nil {
		return err
	}
	var st models.WorkerStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return err
	}
	fmt.Printf("Restarted %s (pid %d)\n", st.Name, st.PID)
	return nil
}
