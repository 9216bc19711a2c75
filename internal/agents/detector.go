// Package agents knows the AI agent platforms switchboard configures: where
// their worker config documents live and which of them are installed.
package agents

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Agent is an installed agent platform found by a scan.
type Agent struct {
	Platform   Platform `json:"platform"`
	Name       string   `json:"name"`
	Status     string   `json:"status"` // online, unknown
	Path       string   `json:"path,omitempty"`
	Version    string   `json:"version,omitempty"`
	ConfigPath string   `json:"config_path"`
	Configured bool     `json:"configured"`
}

type probe struct {
	platform Platform
	name     string
	command  string
	paths    []string // relative to home unless absolute
}

var probes = []probe{
	{Cursor, "Cursor", "cursor", []string{"/usr/bin/cursor", "/usr/local/bin/cursor", ".local/bin/cursor", "Applications/Cursor.app", "/Applications/Cursor.app"}},
	{Kiro, "Kiro", "kiro", []string{"/usr/local/bin/kiro", ".local/bin/kiro", "/Applications/Kiro.app"}},
	{ClaudeDesktop, "Claude Desktop", "", []string{"/Applications/Claude.app", "Applications/Claude.app"}},
	{ClaudeCode, "Claude Code", "claude", []string{".claude"}},
}

// Detector scans for installed agent platforms.
type Detector struct {
	paths    Paths
	lookPath func(string) (string, error)
}

// NewDetector creates a detector resolving config paths with paths.
func NewDetector(paths Paths) *Detector {
	return &Detector{paths: paths, lookPath: exec.LookPath}
}

// Scan returns the platforms found on this machine.
func (d *Detector) Scan() []Agent {
	agents := []Agent{}
	for _, p := range probes {
		if agent := d.detect(p); agent != nil {
			agents = append(agents, *agent)
		}
	}
	return agents
}

func (d *Detector) detect(p probe) *Agent {
	configPath, _ := d.paths.ConfigPath(p.platform, ScopeUser, "")
	agent := &Agent{
		Platform:   p.platform,
		Name:       p.name,
		ConfigPath: configPath,
		Configured: fileExists(configPath),
	}

	if p.command != "" {
		if path, err := d.lookPath(p.command); err == nil {
			agent.Status = "online"
			agent.Path = path
			agent.Version = getCommandVersion(path, "--version")
			return agent
		}
	}

	for _, candidate := range p.paths {
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(d.paths.Home, candidate)
		}
		if fileExists(candidate) {
			agent.Status = "online"
			agent.Path = candidate
			return agent
		}
	}

	// A config document without a binary still means the platform was used here.
	if agent.Configured {
		agent.Status = "unknown"
		return agent
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func getCommandVersion(cmd string, flag string) string {
	out, err := exec.Command(cmd, flag).Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(string(out))
	// Take first line only
	if idx := strings.Index(version, "\n"); idx > 0 {
		version = version[:idx]
	}
	if len(version) > 30 {
		version = version[:30]
	}
	return version
}
