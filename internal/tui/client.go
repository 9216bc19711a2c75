package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// setupTimeout covers health checks and interactive logins.
const setupTimeout = 6 * time.Minute

// Client wraps HTTP calls to the switchboard API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

func (c *Client) get(path string, v interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return decode(resp, v)
}

func (c *Client) post(path string, body, v interface{}, timeout time.Duration) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	hc := *c.httpClient
	hc.Timeout = timeout
	resp, err := hc.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return decode(resp, v)
}

func decode(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return fmt.Errorf("API error: %s", e.Message)
		}
		return fmt.Errorf("API error: %s", string(body))
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Health fetches the daemon health.
func (c *Client) Health() (*controlplane.HealthResponse, error) {
	var h controlplane.HealthResponse
	if err := c.get("/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListSetups fetches the most recent pipeline runs.
func (c *Client) ListSetups(limit int) ([]models.Setup, error) {
	var setups []models.Setup
	err := c.get("/api/v1/setups?limit="+strconv.Itoa(limit), &setups)
	return setups, err
}

// ListWorkers fetches the tracked worker processes.
func (c *Client) ListWorkers() ([]models.WorkerStatus, error) {
	var workers []models.WorkerStatus
	err := c.get("/api/v1/workers", &workers)
	return workers, err
}

// ListRegistry fetches the registered worker descriptors.
func (c *Client) ListRegistry() ([]models.WorkerDescriptor, error) {
	var ds []models.WorkerDescriptor
	err := c.get("/api/v1/registry", &ds)
	return ds, err
}

// ListSnapshots fetches the user-scope snapshots of an agent.
func (c *Client) ListSnapshots(agent string) ([]models.SnapshotInfo, error) {
	q := url.Values{}
	q.Set("agent_type", agent)
	var snaps []models.SnapshotInfo
	err := c.get("/api/v1/snapshots?"+q.Encode(), &snaps)
	return snaps, err
}

// Setup runs the pipeline for a task.
func (c *Client) Setup(task, agent string, dryRun bool) (*controlplane.SetupResult, error) {
	var res controlplane.SetupResult
	err := c.post("/api/v1/setup", controlplane.SetupRequest{
		TaskDescription: task,
		AgentType:       agent,
		DryRun:          dryRun,
	}, &res, setupTimeout)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Analyze scores the registry against a task.
func (c *Client) Analyze(task string) (*controlplane.AnalyzeResult, error) {
	var res controlplane.AnalyzeResult
	if err := c.post("/api/v1/analyze", map[string]string{"task_description": task}, &res, DefaultClientTimeout); err != nil {
		return nil, err
	}
	return &res, nil
}

// Rollback restores a snapshot, the newest when id is empty.
func (c *Client) Rollback(agent, id string) (*controlplane.RollbackResult, error) {
	var res controlplane.RollbackResult
	err := c.post("/api/v1/rollback", controlplane.RollbackRequest{AgentType: agent, SnapshotID: id}, &res, DefaultClientTimeout)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// StopWorker stops a worker process.
func (c *Client) StopWorker(name string) error {
	return c.post("/api/v1/workers/"+url.PathEscape(name)+"/stop", nil, nil, DefaultClientTimeout)
}

// RestartWorker restarts a worker process.
func (c *Client) RestartWorker(name string) (*models.WorkerStatus, error) {
	var st models.WorkerStatus
	if err := c.post("/api/v1/workers/"+url.PathEscape(name)+"/restart", nil, &st, DefaultClientTimeout); err != nil {
		return nil, err
	}
	return &st, nil
}
