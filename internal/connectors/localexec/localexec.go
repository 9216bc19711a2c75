// Package localexec provides a local command executor with an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fentz26/switchboard/internal/connectors"
)

// ErrNotAllowed is returned for commands outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
	allowed map[string][]string
}

// New creates a LocalExec that permits each command only with the listed
// subcommands.
func New(workDir string, allowed map[string][]string) *LocalExec {
	copied := make(map[string][]string, len(allowed))
	for cmd, subs := range allowed {
		copied[cmd] = append([]string(nil), subs...)
	}
	return &LocalExec{workDir: workDir, allowed: copied}
}

// AllowlistFor builds an allowlist entry from full command lines such as
// ["aws", "sts", "get-caller-identity"]. The first element is the binary and
// the second its permitted subcommand.
func AllowlistFor(commands ...[]string) map[string][]string {
	allowed := make(map[string][]string)
	for _, argv := range commands {
		if len(argv) < 2 {
			continue
		}
		allowed[argv[0]] = append(allowed[argv[0]], argv[1])
	}
	return allowed
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := l.allowed[cmd]
	if !ok || len(args) == 0 {
		return false
	}

	subcmd := args[0]
	for _, allowed := range allowedSubcmds {
		if subcmd == allowed {
			return true
		}
	}
	return false
}

// Execute runs a command if it's in the allowlist.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("exec %s: %w", cmd, ctxErr)
	}

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		exitCode = exitError.ExitCode()
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
