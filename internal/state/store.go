package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CurrentSchemaVersion is the document schema written by this build.
// Version 1 predates backlog tracking; it is upgraded in memory on load
// and rewritten at the next save.
const CurrentSchemaVersion = 2

// DefaultStatePath is the project-relative location of the workflow
// document.
const DefaultStatePath = ".specgate/workflow_state.json"

// defaultSaveTimeout bounds the file-system write step of a save. An
// expired save surfaces as ConfigError, never as a silent success.
const defaultSaveTimeout = 5 * time.Second

// ConfigError reports an unreadable or unparsable state document.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workflow state at %s is unusable: %v (repair or remove the file, then rerun)", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConflictError reports that the on-disk document advanced past the
// version the caller loaded. The caller must reload and reapply.
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("workflow state changed concurrently (loaded version %d, on-disk version %d): reload and retry", e.Expected, e.Actual)
}

// Store persists the GlobalState document with optimistic concurrency.
// The mutex serializes Saves within the process; an advisory file lock
// serializes them across processes, since each assistant session runs
// its own store. Both cover only the check-and-replace inside Save and
// are never held across caller logic.
type Store struct {
	mu          sync.Mutex
	filePath    string
	saveTimeout time.Duration
	logger      *zap.Logger
}

// NewStore creates a store for the document at filePath, creating the
// parent directory when missing. An empty filePath uses DefaultStatePath
// relative to the current directory.
func NewStore(filePath string, logger *zap.Logger) (*Store, error) {
	if filePath == "" {
		filePath = DefaultStatePath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, &ConfigError{Path: filePath, Err: fmt.Errorf("create state directory: %w", err)}
		}
	}

	return &Store{
		filePath:    filePath,
		saveTimeout: defaultSaveTimeout,
		logger:      logger,
	}, nil
}

// SetSaveTimeout overrides the bound on the file-system write step.
func (s *Store) SetSaveTimeout(d time.Duration) {
	if d > 0 {
		s.saveTimeout = d
	}
}

// Path returns the document location.
func (s *Store) Path() string { return s.filePath }

// Load reads the document. An absent document is a fresh GlobalState at
// version 0, not an error. Unreadable or unparsable documents surface as
// ConfigError. Older schema versions are upgraded in memory; the upgrade
// is persisted by the next Save.
func (s *Store) Load() (*GlobalState, error) {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return freshState(), nil
		}
		return nil, &ConfigError{Path: s.filePath, Err: err}
	}

	var gs GlobalState
	if err := json.Unmarshal(raw, &gs); err != nil {
		return nil, &ConfigError{Path: s.filePath, Err: fmt.Errorf("parse: %w", err)}
	}

	if gs.Workflows == nil {
		gs.Workflows = make(map[string]*Workflow)
	}
	if gs.ActiveWorkflowID != "" {
		if _, ok := gs.Workflows[gs.ActiveWorkflowID]; !ok {
			return nil, &ConfigError{Path: s.filePath, Err: fmt.Errorf("active workflow %q not present in document", gs.ActiveWorkflowID)}
		}
	}

	migrate(&gs)
	return &gs, nil
}

// Save writes the document atomically. expectedVersion must be the version
// the caller loaded; Save fails with ConflictError when the on-disk
// version has advanced past it. On success the persisted document carries
// expectedVersion+1.
func (s *Store) Save(gs *GlobalState, expectedVersion int64) error {
	if gs == nil {
		return &ConfigError{Path: s.filePath, Err: errors.New("nil state")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockForSave()
	if err != nil {
		return err
	}
	defer unlock()

	onDisk, err := s.diskVersion()
	if err != nil {
		return err
	}
	if onDisk != expectedVersion {
		return &ConflictError{Expected: expectedVersion, Actual: onDisk}
	}

	gs.SchemaVersion = CurrentSchemaVersion
	gs.Version = expectedVersion + 1

	data, err := json.MarshalIndent(gs, "", "  ")
	if err != nil {
		gs.Version = expectedVersion
		return &ConfigError{Path: s.filePath, Err: fmt.Errorf("marshal: %w", err)}
	}

	if err := s.writeAtomic(data); err != nil {
		gs.Version = expectedVersion
		return err
	}

	s.logger.Debug("workflow state saved",
		zap.String("path", s.filePath),
		zap.Int64("version", gs.Version),
	)
	return nil
}

// writeAtomic serializes to a temporary file and renames it over the
// document, bounded by the save timeout. A write that outlives the bound
// still completes atomically; the caller just sees the timeout error and
// the next save resolves the version through the usual conflict check.
func (s *Store) writeAtomic(data []byte) error {
	done := make(chan error, 1)
	go func() {
		tmpPath := s.filePath + ".tmp"
		if err := os.WriteFile(tmpPath, data, 0600); err != nil {
			done <- fmt.Errorf("write state: %w", err)
			return
		}
		if err := os.Rename(tmpPath, s.filePath); err != nil {
			os.Remove(tmpPath)
			done <- fmt.Errorf("replace state: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return &ConfigError{Path: s.filePath, Err: err}
		}
		return nil
	case <-time.After(s.saveTimeout):
		return &ConfigError{Path: s.filePath, Err: errors.New("write timeout")}
	}
}

// lockForSave takes the advisory lock guarding the version check and
// rename against other processes. The lock file is never removed:
// unlinking it would let a concurrent process lock a fresh inode and
// slip past the holder of the old one.
func (s *Store) lockForSave() (func(), error) {
	f, err := os.OpenFile(s.filePath+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, &ConfigError{Path: s.filePath, Err: fmt.Errorf("open lock file: %w", err)}
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, &ConfigError{Path: s.filePath, Err: fmt.Errorf("lock state: %w", err)}
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}

// diskVersion reads only the version counter of the on-disk document.
// An absent document is version 0.
func (s *Store) diskVersion() (int64, error) {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &ConfigError{Path: s.filePath, Err: err}
	}

	var v struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &ConfigError{Path: s.filePath, Err: fmt.Errorf("parse: %w", err)}
	}
	return v.Version, nil
}

func freshState() *GlobalState {
	return &GlobalState{
		SchemaVersion: CurrentSchemaVersion,
		Version:       0,
		Workflows:     make(map[string]*Workflow),
	}
}

// migrate upgrades older schema versions in memory. Version 1 documents
// carried no backlog fields; their status is derived from the phase.
func migrate(gs *GlobalState) {
	if gs.SchemaVersion >= CurrentSchemaVersion {
		return
	}
	for _, w := range gs.Workflows {
		if w.BacklogStatus == "" {
			w.BacklogStatus = w.DerivedBacklogStatus()
			w.BacklogOverride = false
		}
	}
	gs.SchemaVersion = CurrentSchemaVersion
}
