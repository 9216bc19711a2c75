// Package audit provides PDR (Process Decision Record) writing for switchboard.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/switchboard/internal/models"
)

// Actions recorded by the control plane.
const (
	ActionSetup    = "config.setup"
	ActionRollback = "config.rollback"
)

// Sink persists decision records.
type Sink interface {
	WritePDR(action, inputsHash, outcome, setupID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, setupID, details string) (*models.PDREntry, error) {
	return w.sink.WritePDR(action, HashInputs(inputs), outcome, setupID, details)
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
