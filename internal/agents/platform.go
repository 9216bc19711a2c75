package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Platform is an AI agent whose worker configuration switchboard manages.
type Platform string

const (
	Cursor        Platform = "cursor"
	Kiro          Platform = "kiro"
	ClaudeDesktop Platform = "claude_desktop"
	ClaudeCode    Platform = "claude_code"
	Custom        Platform = "custom"
)

// Platforms lists every supported platform.
var Platforms = []Platform{Cursor, Kiro, ClaudeDesktop, ClaudeCode, Custom}

// Scope selects where a platform's config document lives.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
)

// ConfigFileName is the document name inside a platform's config dir.
const ConfigFileName = "mcp.json"

var configDirs = map[Platform]string{
	Cursor:        ".cursor",
	Kiro:          ".kiro",
	ClaudeDesktop: filepath.Join("Library", "Application Support", "Claude"),
	ClaudeCode:    ".claude",
	Custom:        ".mcp",
}

// ParsePlatform validates a platform name. Hyphens are accepted for underscores.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := configDirs[p]; !ok {
		return "", fmt.Errorf("unknown agent platform %q", s)
	}
	return p, nil
}

// ParseScope validates a scope name. Empty means user scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeUser:
		return ScopeUser, nil
	case ScopeProject:
		return ScopeProject, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Paths resolves config document locations.
type Paths struct {
	// Home is the base for user-scope documents.
	Home string
}

// NewPaths returns Paths rooted at home, or the user's home dir when empty.
func NewPaths(home string) (Paths, error) {
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("getting home dir: %w", err)
		}
		home = h
	}
	return Paths{Home: home}, nil
}

// ConfigPath returns the config document path for a platform and scope.
// Project scope is rooted at projectPath, or the working directory when empty.
func (p Paths) ConfigPath(platform Platform, scope Scope, projectPath string) (string, error) {
	dir, ok := configDirs[platform]
	if !ok {
		return "", fmt.Errorf("unknown agent platform %q", platform)
	}

	var base string
	switch scope {
	case ScopeUser, "":
		base = p.Home
	case ScopeProject:
		base = projectPath
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("getting working dir: %w", err)
			}
			base = wd
		}
	default:
		return "", fmt.Errorf("unknown scope %q", scope)
	}

	return filepath.Join(base, dir, ConfigFileName), nil
}

// DetectFromEnv guesses the calling platform from session environment
// variables. It returns ClaudeCode when nothing matches.
func DetectFromEnv(getenv func(string) string) Platform {
	if getenv == nil {
		getenv = os.Getenv
	}
	switch {
	case getenv("CURSOR_SESSION_ID") != "" || getenv("CURSOR_TRACE_ID") != "":
		return Cursor
	case getenv("KIRO_SESSION_ID") != "":
		return Kiro
	case getenv("CLAUDECODE") != "" || getenv("CLAUDE_CODE_SESSION") != "":
		return ClaudeCode
	}
	return ClaudeCode
}
