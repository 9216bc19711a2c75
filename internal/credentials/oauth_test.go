package credentials

import (
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectOAuthURL(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"authorize", "open https://auth.example.com/oauth/authorize?x=1 now", "https://auth.example.com/oauth/authorize?x=1"},
		{"login", "go to https://example.com/login", "https://example.com/login"},
		{"auth", "https://example.com/auth/device?code=ABC", "https://example.com/auth/device?code=ABC"},
		{"authorize wins over login", "https://a.com/login then https://b.com/oauth/authorize", "https://b.com/oauth/authorize"},
		{"plain http ignored", "http://example.com/login", ""},
		{"none", "server ready", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectOAuthURL(tt.output))
		})
	}
}

func TestStartReaped_WaitsForExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses true")
	}
	cmd := exec.Command("true")
	done, err := startReaped(cmd)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped")
	}
	require.NotNil(t, cmd.ProcessState)
	assert.True(t, cmd.ProcessState.Exited())

	_, err = startReaped(exec.Command("/definitely/not/here"))
	assert.Error(t, err)
}
