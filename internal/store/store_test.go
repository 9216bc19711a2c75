package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/switchboard/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRecordAndGetSetup(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	done := time.Now().UTC()
	setup := &models.Setup{
		TaskDescription: "Update Terraform infrastructure",
		Agent:           "cursor",
		Scope:           "user",
		Fingerprint:     ":terraform",
		Selected:        []string{"terraform-registry-mcp"},
		SnapshotID:      "cursor_20260301T090000.000000000",
		Success:         true,
		CompletedAt:     &done,
	}
	usage := []models.WorkerUsage{
		{Worker: "terraform-registry-mcp", Confidence: 0.8, Healthy: true, StartupMs: 120},
	}

	if err := s.RecordSetup(ctx, setup, `{"services":["terraform"]}`, usage); err != nil {
		t.Fatalf("RecordSetup failed: %v", err)
	}
	if setup.ID == "" {
		t.Fatal("Setup ID should be assigned")
	}

	got, err := s.GetSetup(ctx, setup.ID)
	if err != nil {
		t.Fatalf("GetSetup failed: %v", err)
	}
	if got.TaskDescription != setup.TaskDescription {
		t.Errorf("Expected task %q, got %q", setup.TaskDescription, got.TaskDescription)
	}
	if len(got.Selected) != 1 || got.Selected[0] != "terraform-registry-mcp" {
		t.Errorf("Unexpected selected list: %v", got.Selected)
	}
	if !got.Success {
		t.Error("Expected success to round-trip")
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
	if got.SnapshotID != setup.SnapshotID {
		t.Errorf("Expected snapshot %q, got %q", setup.SnapshotID, got.SnapshotID)
	}

	if _, err := s.GetSetup(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListSetups_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, task := range []string{"first", "second", "third"} {
		setup := &models.Setup{
			TaskDescription: task,
			Agent:           "kiro",
			Scope:           "user",
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordSetup(ctx, setup, "", nil); err != nil {
			t.Fatalf("RecordSetup failed: %v", err)
		}
	}

	setups, err := s.ListSetups(ctx, 2)
	if err != nil {
		t.Fatalf("ListSetups failed: %v", err)
	}
	if len(setups) != 2 {
		t.Fatalf("Expected 2 setups, got %d", len(setups))
	}
	if setups[0].TaskDescription != "third" || setups[1].TaskDescription != "second" {
		t.Errorf("Unexpected order: %s, %s", setups[0].TaskDescription, setups[1].TaskDescription)
	}
	if setups[0].Selected == nil {
		t.Error("Selected should decode to an empty list")
	}
}

func TestSuccessfulSelections(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	record := func(fp string, ok bool, selected ...string) {
		t.Helper()
		if err := s.RecordSetup(ctx, &models.Setup{Fingerprint: fp, Success: ok, Selected: selected, Agent: "cursor", Scope: "user"}, "", nil); err != nil {
			t.Fatalf("RecordSetup failed: %v", err)
		}
	}
	record("prod:aws", true, "aws-api-mcp")
	record("prod:aws", true, "aws-api-mcp", "cloudwatch-mcp")
	record("prod:aws", false, "github-mcp")
	record("dev:aws", true, "aws-api-mcp")

	got, err := s.SuccessfulSelections(ctx, "prod:aws", 100)
	if err != nil {
		t.Fatalf("SuccessfulSelections failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 selections, got %d", len(got))
	}
	for _, names := range got {
		for _, n := range names {
			if n == "github-mcp" {
				t.Error("Failed setups must not be returned")
			}
		}
	}
}

func TestWorkerStats(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	usage := [][]models.WorkerUsage{
		{{Worker: "aws-api-mcp", Healthy: true, StartupMs: 100}, {Worker: "github-mcp", Healthy: false, StartupMs: 0}},
		{{Worker: "aws-api-mcp", Healthy: false, StartupMs: 300}},
	}
	for _, u := range usage {
		if err := s.RecordSetup(ctx, &models.Setup{Agent: "cursor", Scope: "user"}, "", u); err != nil {
			t.Fatalf("RecordSetup failed: %v", err)
		}
	}

	stats, err := s.WorkerStats(ctx)
	if err != nil {
		t.Fatalf("WorkerStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("Expected 2 workers, got %d", len(stats))
	}
	aws := stats[0]
	if aws.Worker != "aws-api-mcp" || aws.Uses != 2 || aws.HealthyRuns != 1 || aws.AvgStartupMs != 200 {
		t.Errorf("Unexpected stats: %+v", aws)
	}
}

func TestPDR(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	pdr, err := s.WritePDR("config.update", "abc123", "success", "setup-1", "details")
	if err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}
	if pdr.ID == "" {
		t.Error("PDR ID should not be empty")
	}

	entries, err := s.ListPDR(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "config.update" || entries[0].SetupID != "setup-1" {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
