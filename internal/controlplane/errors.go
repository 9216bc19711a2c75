package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownTool    = errors.New("unknown tool")
	ErrNotFound       = errors.New("resource not found")
	ErrNoProcesses    = errors.New("process management disabled")
)
