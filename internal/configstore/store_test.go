package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/switchboard/internal/models"
)

// newTestStore returns a store whose clock advances one second per call.
func newTestStore(t *testing.T, retention int) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Options{
		Agent:       "cursor",
		Scope:       "user",
		Path:        filepath.Join(dir, ".cursor", "mcp.json"),
		SnapshotDir: filepath.Join(dir, "snapshots", "user"),
		Retention:   retention,
	}, nil)
	require.NoError(t, err)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func terraformCfg() models.WorkerConfig {
	return models.WorkerConfig{
		Name:    "terraform-registry-mcp",
		Command: "npx",
		Args:    []string{"-y", "terraform-mcp-server"},
	}
}

func TestUpdate_FirstWriteHasNoSnapshot(t *testing.T) {
	s := newTestStore(t, 0)

	id, err := s.Update([]models.WorkerConfig{terraformCfg()})
	require.NoError(t, err)
	assert.Empty(t, id)

	doc, err := s.Read()
	require.NoError(t, err)
	require.Contains(t, doc.Workers, "terraform-registry-mcp")
	assert.Equal(t, "npx", doc.Workers["terraform-registry-mcp"].Command)
	assert.Equal(t, map[string]string{}, doc.Workers["terraform-registry-mcp"].Env)
}

func TestUpdate_MergesAndPreservesUnknownKeys(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	existing := `{
  "theme": "dark",
  "workers": {
    "custom": {"command": "./custom", "args": [], "env": {}, "disabled": true},
    "terraform-registry-mcp": {"command": "old", "args": [], "env": {}}
  }
}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(existing), 0o644))

	id, err := s.Update([]models.WorkerConfig{terraformCfg()})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "dark", raw["theme"])

	workers := raw["workers"].(map[string]interface{})
	custom := workers["custom"].(map[string]interface{})
	assert.Equal(t, true, custom["disabled"])
	tf := workers["terraform-registry-mcp"].(map[string]interface{})
	assert.Equal(t, "npx", tf["command"])
}

func TestUpdate_EmptyListStillSnapshots(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.Update([]models.WorkerConfig{terraformCfg()})
	require.NoError(t, err)

	id, err := s.Update(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	doc, err := s.Read()
	require.NoError(t, err)
	assert.Len(t, doc.Workers, 1)
}

func TestUpdate_RejectsCorruptDocument(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{oops"), 0o644))

	_, err := s.Update([]models.WorkerConfig{terraformCfg()})
	require.Error(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "{oops", string(data))
}

func TestRestore_RoundTripIsByteIdentical(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	original := []byte("{\"workers\":{\"a\":{\"command\":\"x\",\"args\":[],\"env\":{}}},\"extra\":1}")
	require.NoError(t, os.WriteFile(s.Path(), original, 0o644))

	id, err := s.Update([]models.WorkerConfig{terraformCfg()})
	require.NoError(t, err)

	preRestore, err := s.Restore(id)
	require.NoError(t, err)
	assert.NotEmpty(t, preRestore)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, original, data)

	// The restore itself can be undone.
	_, err = s.Restore(preRestore)
	require.NoError(t, err)
	doc, err := s.Read()
	require.NoError(t, err)
	assert.Contains(t, doc.Workers, "terraform-registry-mcp")
}

func TestRestore_OldestSnapshotAtRetention(t *testing.T) {
	s := newTestStore(t, 2)
	for i := 0; i < 4; i++ {
		_, err := s.Update([]models.WorkerConfig{terraformCfg()})
		require.NoError(t, err)
	}
	infos, err := s.ListSnapshots(0)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	oldest := infos[1].ID
	want, err := os.ReadFile(s.snapshotPath(oldest))
	require.NoError(t, err)

	preRestore, err := s.Restore(oldest)
	require.NoError(t, err)

	// The restore still applies the snapshot's content.
	got, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The pre-restore snapshot pushes the restored one out of retention.
	infos, err = s.ListSnapshots(0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, preRestore, infos[0].ID)
	for _, info := range infos {
		assert.NotEqual(t, oldest, info.ID)
	}
	_, err = s.Restore(oldest)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRestore_InvalidIDs(t *testing.T) {
	s := newTestStore(t, 0)

	for _, id := range []string{
		"",
		"../../etc/passwd",
		"cursor_20260101T000000.000000000/../x",
		"kiro_20260101T000000.000000000",
		"cursor_yesterday",
	} {
		_, err := s.Restore(id)
		assert.ErrorIs(t, err, ErrInvalidSnapshotID, id)
	}

	_, err := s.Restore("cursor_20200101T000000.000000000")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRetention_KeepsNewestN(t *testing.T) {
	const retention = 3
	s := newTestStore(t, retention)

	var ids []string
	for i := 0; i < retention+4; i++ {
		id, err := s.Update([]models.WorkerConfig{terraformCfg()})
		require.NoError(t, err)
		if id != "" {
			ids = append(ids, id)
		}
	}

	infos, err := s.ListSnapshots(0)
	require.NoError(t, err)
	require.Len(t, infos, retention)

	want := ids[len(ids)-retention:]
	got := []string{infos[2].ID, infos[1].ID, infos[0].ID}
	assert.Equal(t, want, got)
	assert.True(t, infos[0].Timestamp.After(infos[1].Timestamp))
}

func TestListSnapshots_LimitAndLatest(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.Latest()
	assert.ErrorIs(t, err, ErrNoSnapshots)

	var last string
	for i := 0; i < 4; i++ {
		id, err := s.Update(nil)
		require.NoError(t, err)
		if id != "" {
			last = id
		}
	}

	infos, err := s.ListSnapshots(2)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	assert.Equal(t, "cursor", infos[0].Agent)
	assert.Equal(t, "user", infos[0].Scope)
	assert.Positive(t, infos[0].Size)

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, last, latest)
}

func TestSnapshotIDs_IgnoreOtherAgents(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.Update(nil)
	require.NoError(t, err)
	_, err = s.Update(nil)
	require.NoError(t, err)

	other := filepath.Join(s.snapshotDir, "claude_code_20260101T000000.000000000.json")
	require.NoError(t, os.WriteFile(other, []byte("{}"), 0o600))

	infos, err := s.ListSnapshots(0)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestSnapshot_CollisionBumpsTimestamp(t *testing.T) {
	s := newTestStore(t, 0)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Update(nil)
	require.NoError(t, err)
	a, err := s.Update(nil)
	require.NoError(t, err)
	b, err := s.Update(nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestNew_RequiresPaths(t *testing.T) {
	_, err := New(Options{Agent: "cursor"}, nil)
	assert.Error(t, err)
}
