// Package configstore owns an agent's worker configuration document and its
// snapshots. Every mutation first copies the current document into a
// snapshot so it can be rolled back.
package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/models"
)

const (
	// DefaultRetention is how many snapshots are kept per agent.
	DefaultRetention = 10

	snapshotExt    = ".json"
	snapshotLayout = "20060102T150405.000000000"
	workersKey     = "workers"
)

var (
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrInvalidSnapshotID = errors.New("invalid snapshot id")
	ErrNoSnapshots       = errors.New("no snapshots available")
)

// WorkerEntry is the persisted form of one worker.
type WorkerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// Document is a parsed view of the configuration file.
type Document struct {
	Workers map[string]WorkerEntry `json:"workers"`
}

// Options binds a Store to one agent and scope.
type Options struct {
	Agent       string
	Scope       string
	Path        string // live document
	SnapshotDir string
	Retention   int
}

// Store serializes all writes to one document.
type Store struct {
	agent       string
	scope       string
	path        string
	snapshotDir string
	retention   int
	now         func() time.Time
	logger      *zap.Logger

	mu sync.Mutex
}

// New creates a store.
func New(opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Agent == "" || opts.Path == "" || opts.SnapshotDir == "" {
		return nil, errors.New("agent, path and snapshot dir are required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		agent:       opts.Agent,
		scope:       opts.Scope,
		path:        opts.Path,
		snapshotDir: opts.SnapshotDir,
		retention:   opts.Retention,
		now:         time.Now,
		logger:      logger.With(zap.String("agent", opts.Agent), zap.String("scope", opts.Scope)),
	}, nil
}

// Path returns the live document path.
func (s *Store) Path() string {
	return s.path
}

// Update snapshots the current document, then overwrites workers[name] for
// each config. Other entries and unknown top-level keys are kept. The
// returned id is empty when no document existed yet.
func (s *Store) Update(cfgs []models.WorkerConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readRaw()
	if err != nil {
		return "", err
	}
	top, workers, err := decode(current)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", s.path, err)
	}

	snapshotID, err := s.snapshot(current)
	if err != nil {
		return "", err
	}

	for _, cfg := range cfgs {
		entry := WorkerEntry{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env}
		if entry.Args == nil {
			entry.Args = []string{}
		}
		if entry.Env == nil {
			entry.Env = map[string]string{}
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return "", fmt.Errorf("encoding worker %s: %w", cfg.Name, err)
		}
		workers[cfg.Name] = raw
	}

	data, err := encode(top, workers)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", s.path, err)
	}

	s.logger.Info("config updated",
		zap.Int("workers", len(cfgs)),
		zap.String("snapshot_id", snapshotID))
	return snapshotID, nil
}

// Restore replaces the live document with the snapshot's exact bytes. The
// pre-restore document is snapshotted first and its id returned, so a
// restore can itself be rolled back.
func (s *Store) Restore(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateID(id); err != nil {
		return "", err
	}
	target, err := os.ReadFile(s.snapshotPath(id))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("reading snapshot %s: %w", id, err)
	}

	current, err := s.readRaw()
	if err != nil {
		return "", err
	}
	preRestoreID, err := s.snapshot(current)
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(s.path, target, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", s.path, err)
	}

	s.logger.Info("config restored",
		zap.String("snapshot_id", id),
		zap.String("pre_restore_id", preRestoreID))
	return preRestoreID, nil
}

// Read returns the parsed document. A missing file reads as empty.
func (s *Store) Read() (*Document, error) {
	s.mu.Lock()
	data, err := s.readRaw()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	doc := &Document{Workers: map[string]WorkerEntry{}}
	if data == nil {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if doc.Workers == nil {
		doc.Workers = map[string]WorkerEntry{}
	}
	return doc, nil
}

// ListSnapshots returns this agent's snapshots, newest first. limit <= 0
// returns all of them.
func (s *Store) ListSnapshots(limit int) ([]models.SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.snapshotIDs()
	if err != nil {
		return nil, err
	}

	infos := make([]models.SnapshotInfo, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(infos) == limit {
			break
		}
		id := ids[i]
		ts, _ := s.parseID(id)
		info := models.SnapshotInfo{
			ID:        id,
			Agent:     s.agent,
			Scope:     s.scope,
			Timestamp: ts,
			Path:      s.snapshotPath(id),
		}
		if fi, err := os.Stat(info.Path); err == nil {
			info.Size = fi.Size()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Latest returns the id of the newest snapshot.
func (s *Store) Latest() (string, error) {
	infos, err := s.ListSnapshots(1)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", ErrNoSnapshots
	}
	return infos[0].ID, nil
}

// readRaw returns nil when the document does not exist.
func (s *Store) readRaw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return data, nil
}

// snapshot writes data as a new snapshot and evicts old ones. It returns ""
// when data is nil.
func (s *Store) snapshot(data []byte) (string, error) {
	if data == nil {
		return "", nil
	}
	if err := os.MkdirAll(s.snapshotDir, 0o700); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}

	ts := s.now().UTC()
	id := s.formatID(ts)
	for {
		if _, err := os.Stat(s.snapshotPath(id)); os.IsNotExist(err) {
			break
		}
		ts = ts.Add(time.Nanosecond)
		id = s.formatID(ts)
	}

	if err := writeFileAtomic(s.snapshotPath(id), data, 0o600); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := s.evict(); err != nil {
		s.logger.Warn("snapshot eviction failed", zap.Error(err))
	}
	return id, nil
}

func (s *Store) evict() error {
	ids, err := s.snapshotIDs()
	if err != nil {
		return err
	}
	if len(ids) <= s.retention {
		return nil
	}
	var errs []error
	for _, id := range ids[:len(ids)-s.retention] {
		if err := os.Remove(s.snapshotPath(id)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("snapshot evicted", zap.String("snapshot_id", id))
	}
	return errors.Join(errs...)
}

// snapshotIDs returns this agent's snapshot ids, oldest first.
func (s *Store) snapshotIDs() ([]string, error) {
	entries, err := os.ReadDir(s.snapshotDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), snapshotExt)
		if _, err := s.parseID(id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) formatID(ts time.Time) string {
	return s.agent + "_" + ts.Format(snapshotLayout)
}

func (s *Store) parseID(id string) (time.Time, error) {
	rest, ok := strings.CutPrefix(id, s.agent+"_")
	if !ok {
		return time.Time{}, ErrInvalidSnapshotID
	}
	ts, err := time.Parse(snapshotLayout, rest)
	if err != nil {
		return time.Time{}, ErrInvalidSnapshotID
	}
	return ts, nil
}

func (s *Store) validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSnapshotID, id)
	}
	if _, err := s.parseID(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSnapshotID, id)
	}
	return nil
}

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.snapshotDir, id+snapshotExt)
}

// decode splits a document into its top-level keys and worker entries.
// A nil document decodes as empty.
func decode(data []byte) (map[string]json.RawMessage, map[string]json.RawMessage, error) {
	top := map[string]json.RawMessage{}
	workers := map[string]json.RawMessage{}
	if data == nil {
		return top, workers, nil
	}
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, err
	}
	if top == nil {
		top = map[string]json.RawMessage{}
	}
	if raw, ok := top[workersKey]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &workers); err != nil {
			return nil, nil, fmt.Errorf("workers: %w", err)
		}
		if workers == nil {
			workers = map[string]json.RawMessage{}
		}
	}
	return top, workers, nil
}

func encode(top, workers map[string]json.RawMessage) ([]byte, error) {
	raw, err := json.Marshal(workers)
	if err != nil {
		return nil, fmt.Errorf("encoding workers: %w", err)
	}
	top[workersKey] = raw
	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return append(data, '\n'), nil
}

// writeFileAtomic replaces path with data via a temp file in the same directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
