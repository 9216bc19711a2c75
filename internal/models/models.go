// Package models defines the core domain types for switchboard.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuthKind is the credential strategy a worker requires.
type AuthKind string

const (
	AuthNone           AuthKind = "none"
	AuthDelegatedLogin AuthKind = "delegated_login"
	AuthSecretToken    AuthKind = "secret_token"
	AuthOAuth          AuthKind = "oauth"
)

// AuthKinds lists every supported auth kind.
var AuthKinds = []AuthKind{AuthNone, AuthDelegatedLogin, AuthSecretToken, AuthOAuth}

// ParseAuthKind parses an auth kind, accepting the legacy registry spellings.
// An empty string means no authentication.
func ParseAuthKind(s string) (AuthKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AuthNone, nil
	case "delegated_login", "aws_sso", "sso":
		return AuthDelegatedLogin, nil
	case "secret_token", "api_token", "token":
		return AuthSecretToken, nil
	case "oauth":
		return AuthOAuth, nil
	}
	return "", fmt.Errorf("unknown auth kind %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *AuthKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseAuthKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *AuthKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAuthKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// TaskSignal is the structured reading of a task description.
// Empty strings mean the field was not found.
type TaskSignal struct {
	Account    string   `json:"account,omitempty"`
	Region     string   `json:"region,omitempty"`
	TicketID   string   `json:"ticket_id,omitempty"`
	Project    string   `json:"project,omitempty"`
	Services   []string `json:"services"`
	Confidence float64  `json:"confidence"`
}

// HasService reports whether the signal carries the given service tag.
func (s TaskSignal) HasService(tag string) bool {
	for _, svc := range s.Services {
		if svc == tag {
			return true
		}
	}
	return false
}

// CredentialRef names the secret a worker needs.
type CredentialRef struct {
	// Kind prefixes the secret key, e.g. "jira".
	Kind string `yaml:"kind" json:"kind"`
	// IdentityEnv is the environment variable holding the identity part of the key.
	IdentityEnv string `yaml:"identity_env" json:"identity_env,omitempty"`
}

// WorkerDescriptor is a registry entry.
type WorkerDescriptor struct {
	Name         string            `yaml:"name" json:"name"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Command      string            `yaml:"command" json:"command"`
	Args         []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Capabilities []string          `yaml:"capabilities" json:"capabilities"`
	AuthKind     AuthKind          `yaml:"authentication_type" json:"authentication_type"`
	Keywords     []string          `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Env          map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Tools        []string          `yaml:"tools,omitempty" json:"tools,omitempty"`
	Credential   *CredentialRef    `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// WorkerMatch is a scored registry entry.
type WorkerMatch struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// WorkerConfig is the launch configuration derived for one selected worker.
type WorkerConfig struct {
	Name       string            `json:"name"`
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env"`
	AuthKind   AuthKind          `json:"authentication_type"`
	Credential *CredentialRef    `json:"credential,omitempty"`
	Tools      []string          `json:"tools,omitempty"`
}

// HealthReport is the outcome of validating one worker.
type HealthReport struct {
	Name             string   `json:"name"`
	Healthy          bool     `json:"healthy"`
	StartupLatencyMs int64    `json:"startup_time_ms"`
	AvailableTools   []string `json:"tools_available"`
	Error            string   `json:"error,omitempty"`
	Attempts         int      `json:"attempts"`
}

// SnapshotInfo describes a stored config snapshot.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Scope     string    `json:"scope"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
}

// Setup is a recorded pipeline run.
type Setup struct {
	ID              string     `json:"id"`
	TaskDescription string     `json:"task_description"`
	Agent           string     `json:"agent"`
	Scope           string     `json:"scope"`
	Fingerprint     string     `json:"fingerprint"`
	Selected        []string   `json:"selected"`
	SnapshotID      string     `json:"snapshot_id,omitempty"`
	Success         bool       `json:"success"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// WorkerUsage is one worker's outcome within a recorded setup.
type WorkerUsage struct {
	SetupID    string  `json:"setup_id"`
	Worker     string  `json:"worker"`
	Confidence float64 `json:"confidence"`
	Healthy    bool    `json:"healthy"`
	StartupMs  int64   `json:"startup_ms"`
}

// WorkerStatus describes a worker process tracked by the lifecycle manager.
type WorkerStatus struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
}

// WorkerStats aggregates a worker's history.
type WorkerStats struct {
	Worker       string  `json:"worker"`
	Uses         int     `json:"uses"`
	HealthyRuns  int     `json:"healthy_runs"`
	AvgStartupMs float64 `json:"avg_startup_ms"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SetupID    string    `json:"setup_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
