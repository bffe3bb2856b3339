// Package history persists the bounded, newest-first log of completed backup
// runs. The store is deliberately forgiving: a missing or corrupt file reads
// as an empty history, and callers treat write failures as log-and-continue,
// because history bookkeeping must never mask the outcome of the run itself.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/romsteck/homeroute-backup/pkg/plog"
)

// DefaultLimit is the number of runs retained on disk.
const DefaultLimit = 50

// RunStatus classifies how a run ended.
type RunStatus string

const (
	StatusSuccess   RunStatus = "success"
	StatusPartial   RunStatus = "partial"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
)

// TransferOutcome records the result of mirroring one source directory.
type TransferOutcome struct {
	Source           string `json:"source"`
	Success          bool   `json:"success"`
	FilesTransferred int    `json:"filesTransferred"`
	TransferredBytes int64  `json:"transferredBytes"`
	Error            string `json:"error,omitempty"`
}

// BackupRun is one immutable history entry, created once per orchestrator
// invocation.
type BackupRun struct {
	ID               string            `json:"id"`
	Timestamp        time.Time         `json:"timestamp"`
	DurationMs       int64             `json:"durationMs"`
	Status           RunStatus         `json:"status"`
	SourcesCount     int               `json:"sourcesCount"`
	FilesTransferred int               `json:"filesTransferred"`
	TransferredSize  int64             `json:"transferredSize"`
	Results          []TransferOutcome `json:"results"`
	Error            string            `json:"error,omitempty"`
}

// Store reads and writes the history file. The one-run-at-a-time invariant
// upstream guarantees there is never a concurrent writer.
type Store struct {
	path  string
	limit int
}

// NewStore creates a store for the given file path, keeping at most limit
// entries. A non-positive limit falls back to DefaultLimit.
func NewStore(path string, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{path: path, limit: limit}
}

// List returns all recorded runs, newest first. A missing file yields an
// empty history; a malformed file is logged and also yields an empty history.
func (s *Store) List() []BackupRun {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Could not read history file", "path", s.path, "error", err)
		}
		return []BackupRun{}
	}

	var runs []BackupRun
	if err := json.Unmarshal(data, &runs); err != nil {
		plog.Warn("History file is malformed, treating as empty", "path", s.path, "error", err)
		return []BackupRun{}
	}
	return runs
}

// Append prepends the run, truncates to the retention limit and writes the
// file back atomically.
func (s *Store) Append(run BackupRun) error {
	runs := append([]BackupRun{run}, s.List()...)
	if len(runs) > s.limit {
		runs = runs[:s.limit]
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create history directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".~"+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("could not create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("could not write temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not replace history file %s: %w", s.path, err)
	}
	return nil
}
