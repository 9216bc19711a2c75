//go:build windows

package lifecycle

import (
	"errors"
	"os"
	"os/exec"
)

func configureProc(cmd *exec.Cmd) {
	// Windows has no process groups to configure here.
}

// terminate has no graceful form on Windows; the stop timeout still applies
// before the forced kill.
func terminate(p *os.Process) error {
	return nil
}

func kill(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
