package credentials

import (
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
)

// Checked in order; the first pattern with a match wins.
var oauthPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https://\S+/oauth/authorize\S*`),
	regexp.MustCompile(`https://\S+/login\S*`),
	regexp.MustCompile(`https://\S+/auth\S*`),
}

// DetectOAuthURL returns the first authorization URL found in output, or "".
func DetectOAuthURL(output string) string {
	for _, p := range oauthPatterns {
		if m := p.FindString(output); m != "" {
			return m
		}
	}
	return ""
}

// OpenBrowser opens the default browser with the given URL.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	_, err := startReaped(cmd)
	return err
}

// startReaped starts cmd and waits for it in the background so the exited
// process is reaped. The returned channel is closed once it has been.
func startReaped(cmd *exec.Cmd) (<-chan struct{}, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return done, nil
}
