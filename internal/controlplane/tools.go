package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Tool names accepted by Call.
const (
	ToolSetup         = "setup_mcp_servers"
	ToolListSnapshots = "list_snapshots"
	ToolRollback      = "rollback_configuration"
)

// Tool describes one callable tool and its JSON input schema.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

var agentProperty = map[string]interface{}{
	"type":        "string",
	"enum":        []string{"cursor", "kiro", "claude_desktop", "claude_code", "custom"},
	"description": "AI agent platform whose configuration is managed",
}

var scopeProperty = map[string]interface{}{
	"type":        "string",
	"enum":        []string{"user", "project"},
	"description": "Configuration scope (default user)",
}

var projectProperty = map[string]interface{}{
	"type":        "string",
	"description": "Absolute path to the project directory",
}

// Tools lists the tools Call accepts.
func Tools() []Tool {
	return []Tool{
		{
			Name:        ToolSetup,
			Description: "Analyze a task and configure the MCP servers it needs",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_description": map[string]interface{}{
						"type":        "string",
						"description": "Natural language description of the task",
					},
					"agent_type":   agentProperty,
					"project_path": projectProperty,
					"scope":        scopeProperty,
					"dry_run": map[string]interface{}{
						"type":        "boolean",
						"description": "Preview changes without applying",
						"default":     false,
					},
				},
				"required": []string{"task_description", "agent_type"},
			},
		},
		{
			Name:        ToolListSnapshots,
			Description: "List configuration snapshots, newest first",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_type":   agentProperty,
					"project_path": projectProperty,
					"scope":        scopeProperty,
					"limit":        map[string]interface{}{"type": "integer", "minimum": 0},
				},
				"required": []string{"agent_type"},
			},
		},
		{
			Name:        ToolRollback,
			Description: "Restore a configuration snapshot (the newest when none is named)",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_type":   agentProperty,
					"project_path": projectProperty,
					"scope":        scopeProperty,
					"snapshot_id":  map[string]interface{}{"type": "string"},
				},
				"required": []string{"agent_type"},
			},
		},
	}
}

// Call dispatches a tool by name with JSON arguments.
func (s *Service) Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error) {
	switch tool {
	case ToolSetup:
		var req SetupRequest
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		return s.Setup(ctx, req)
	case ToolListSnapshots:
		var req ListSnapshotsRequest
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		return s.ListSnapshots(ctx, req)
	case ToolRollback:
		var req RollbackRequest
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		return s.Rollback(ctx, req)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
