package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAPIAddr(t *testing.T, addr string) {
	t.Helper()
	old := apiAddr
	apiAddr = addr
	t.Cleanup(func() { apiAddr = old })
}

func TestAPIClient_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"snapshot not found: x"}`))
	}))
	defer srv.Close()
	withAPIAddr(t, srv.URL)

	_, err := apiGet("/api/v1/snapshots")
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "snapshot not found: x", apiErr.Message)
	assert.False(t, errors.Is(err, errUnreachable))
}

func TestAPIClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	withAPIAddr(t, addr)

	_, err := apiPost("/api/v1/setup", map[string]string{})
	assert.True(t, errors.Is(err, errUnreachable))

	_, err = CheckHealth()
	assert.True(t, errors.Is(err, errUnreachable))
}

func TestAPIClient_TimeoutIsNotUnreachable(t *testing.T) {
	var (
		mu       sync.Mutex
		received int
	)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received++
		mu.Unlock()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	withAPIAddr(t, srv.URL)

	_, err := apiPostTimeout("/api/v1/setup", map[string]string{}, 50*time.Millisecond)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errUnreachable), "a request the daemon accepted must not be rerun locally")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCheckHealth_Degraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ok":false,"db":"database is closed","version":"test"}`))
	}))
	defer srv.Close()
	withAPIAddr(t, srv.URL)

	health, err := CheckHealth()
	require.Error(t, err)
	require.NotNil(t, health)
	assert.False(t, health.OK)
	assert.Equal(t, "database is closed", health.DB)
}

func TestProjectPath_ResolvesAgainstCaller(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	got, err := projectPath(".")
	require.NoError(t, err)
	assert.Equal(t, wd, got)

	got, err = projectPath("sub/dir")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "sub", "dir"), got)

	got, err = projectPath("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "jira:default", secretKey([]string{"jira"}))
	assert.Equal(t, "jira:DEVOPS", secretKey([]string{"jira", "DEVOPS"}))
	assert.Equal(t, "abcdefgh", truncateID("abcdefgh-1234"))
	assert.Equal(t, "abc...", truncate("abcdefghij", 6))
	assert.Equal(t, "-", orDash(""))
}
