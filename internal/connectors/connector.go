// Package connectors defines how switchboard runs external helper commands.
package connectors

import "context"

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Success reports whether the command exited with status 0.
func (r *ExecResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Connector executes allowlisted commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns the result. A non-zero exit is
	// reported through ExitCode, not as an error.
	Execute(ctx context.Context, cmd string, args []string) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}
