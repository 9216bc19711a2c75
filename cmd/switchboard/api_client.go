package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fentz26/switchboard/internal/controlplane"
)

// DefaultClientTimeout is the default timeout for API requests. Setup runs
// health checks and interactive logins, so it gets its own longer timeout.
const (
	DefaultClientTimeout = 10 * time.Second
	SetupClientTimeout   = 6 * time.Minute
)

// errUnreachable marks requests the daemon never received, where a local
// run can take over. Timeouts and broken connections after the request was
// sent are not unreachable: the daemon may still be acting on them.
var errUnreachable = errors.New("daemon unreachable")

// transportError wraps err as errUnreachable only when dialing failed.
func transportError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", errUnreachable, err)
	}
	return fmt.Errorf("daemon request failed: %w", err)
}

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiError is a non-2xx API response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// apiGet performs a GET request to the API with timeout.
func apiGet(path string) ([]byte, error) {
	resp, err := apiClient.Get(apiAddr + path)
	if err != nil {
		return nil, transportError(err)
	}
	return readResponse(resp)
}

// apiPost performs a POST request to the API.
func apiPost(path string, data interface{}) ([]byte, error) {
	return apiPostTimeout(path, data, DefaultClientTimeout)
}

func apiPostTimeout(path string, data interface{}, timeout time.Duration) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	client := *apiClient
	client.Timeout = timeout
	resp, err := client.Post(apiAddr+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, transportError(err)
	}
	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		msg := string(bytes.TrimSpace(body))
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return nil, &apiError{Status: resp.StatusCode, Message: msg}
	}

	return body, nil
}

// getJSON decodes a GET response into v.
func getJSON(path string, v interface{}) error {
	body, err := apiGet(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// postJSON decodes a POST response into v.
func postJSON(path string, data, v interface{}, timeout time.Duration) error {
	body, err := apiPostTimeout(path, data, timeout)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// CheckHealth checks if the daemon is healthy and returns the health response.
// Unlike other API calls, this returns the parsed HealthResponse even on non-200
// responses, allowing callers to inspect the health payload alongside the error.
func CheckHealth() (*controlplane.HealthResponse, error) {
	resp, err := apiClient.Get(apiAddr + "/health")
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health controlplane.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, string(body))
	}

	return &health, nil
}
