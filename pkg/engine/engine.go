// Package engine sequences a backup run: validate the source list, mount the
// share, mirror each source in configured order, always unmount, record the
// run in history and publish exactly one terminal notification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/romsteck/homeroute-backup/pkg/events"
	"github.com/romsteck/homeroute-backup/pkg/history"
	"github.com/romsteck/homeroute-backup/pkg/plog"
	"github.com/romsteck/homeroute-backup/pkg/progress"
	"github.com/romsteck/homeroute-backup/pkg/runlock"
	"github.com/romsteck/homeroute-backup/pkg/transfer"
)

// ErrNoValidSources is returned when the configuration holds no source that
// exists on disk. Nothing is mounted and nothing is recorded to history.
var ErrNoValidSources = errors.New("no valid backup sources configured")

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = runlock.ErrRunActive

// Mounter is the mount controller seam.
type Mounter interface {
	EnsureMounted(ctx context.Context) error
	Unmount(ctx context.Context)
}

// TransferRunner is the per-source transfer seam.
type TransferRunner interface {
	Run(ctx context.Context, req transfer.Request) (progress.Stats, error)
}

// HistoryStore is the run-history seam.
type HistoryStore interface {
	Append(run history.BackupRun) error
	List() []history.BackupRun
}

// SourceProvider supplies the configured run inputs.
type SourceProvider interface {
	Sources() []string
	MountPoint() string
}

// Engine drives backup runs. One engine exists per daemon.
type Engine struct {
	cfg     SourceProvider
	mounter Mounter
	runner  TransferRunner
	store   HistoryStore
	token   *runlock.Token
	hub     *events.Hub
}

// New wires an engine from its collaborators.
func New(cfg SourceProvider, mounter Mounter, runner TransferRunner, store HistoryStore, token *runlock.Token, hub *events.Hub) *Engine {
	return &Engine{
		cfg:     cfg,
		mounter: mounter,
		runner:  runner,
		store:   store,
		token:   token,
		hub:     hub,
	}
}

// Event payloads for the notification surface.

type StartedPayload struct {
	Timestamp    time.Time `json:"timestamp"`
	SourcesCount int       `json:"sourcesCount"`
	Sources      []string  `json:"sources"`
}

type SourceStartPayload struct {
	SourceIndex  int    `json:"sourceIndex"`
	SourceName   string `json:"sourceName"`
	SourcePath   string `json:"sourcePath"`
	SourcesCount int    `json:"sourcesCount"`
}

type SourceCompletePayload struct {
	SourceIndex      int    `json:"sourceIndex"`
	SourceName       string `json:"sourceName"`
	FilesTransferred int    `json:"filesTransferred"`
	TransferredSize  int64  `json:"transferredSize"`
}

type CompletePayload struct {
	Success    bool                      `json:"success"`
	Cancelled  bool                      `json:"cancelled"`
	DurationMs int64                     `json:"duration"`
	TotalFiles int                       `json:"totalFiles"`
	TotalSize  int64                     `json:"totalSize"`
	Results    []history.TransferOutcome `json:"results"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// IsRunning reports whether a run is currently in flight.
func (e *Engine) IsRunning() bool {
	return e.token.IsRunning()
}

// Cancel requests cancellation of the running backup.
func (e *Engine) Cancel() error {
	return e.token.Cancel()
}

// History returns the recorded runs, newest first.
func (e *Engine) History() []history.BackupRun {
	return e.store.List()
}

// Execute performs one full backup run. It returns an error only for the
// abort-before-transfer cases (run already active, no valid sources, mount
// failure); any run that reaches the transfer loop returns its history
// entry, including partial and cancelled runs.
func (e *Engine) Execute(ctx context.Context) (*history.BackupRun, error) {
	if err := e.token.Begin(); err != nil {
		return nil, err
	}
	defer e.token.Finish()

	runID := uuid.NewString()
	started := time.Now()
	plog.Info("Backup run starting", "run", runID)

	sources := e.resolveSources()
	if len(sources) == 0 {
		plog.Warn("Backup run aborted: no valid sources", "run", runID)
		e.hub.Publish(events.Event{Event: events.TypeError, Data: ErrorPayload{Error: ErrNoValidSources.Error()}})
		return nil, ErrNoValidSources
	}

	// Unmount is cleanup: it always runs, however the run ends, and its
	// failures are logged inside the controller, never propagated.
	defer e.mounter.Unmount(context.WithoutCancel(ctx))

	if err := e.mounter.EnsureMounted(ctx); err != nil {
		plog.Error("Backup run aborted: mount failed", "run", runID, "error", err)
		failed := history.BackupRun{
			ID:        runID,
			Timestamp: started,
			Status:    history.StatusFailed,
			Results:   []history.TransferOutcome{},
			Error:     err.Error(),
		}
		failed.DurationMs = time.Since(started).Milliseconds()
		e.record(failed)
		e.hub.Publish(events.Event{Event: events.TypeError, Data: ErrorPayload{Error: err.Error()}})
		return nil, err
	}

	e.hub.Publish(events.Event{Event: events.TypeStarted, Data: StartedPayload{
		Timestamp:    started,
		SourcesCount: len(sources),
		Sources:      sources,
	}})

	results := e.syncSources(ctx, sources)

	run := e.buildRun(runID, started, len(sources), results)
	e.record(run)

	e.hub.Publish(events.Event{Event: events.TypeComplete, Data: CompletePayload{
		Success:    run.Status == history.StatusSuccess,
		Cancelled:  run.Status == history.StatusCancelled,
		DurationMs: run.DurationMs,
		TotalFiles: run.FilesTransferred,
		TotalSize:  run.TransferredSize,
		Results:    run.Results,
	}})

	plog.Info("Backup run finished", "run", runID, "status", run.Status,
		"files", run.FilesTransferred, "bytes", run.TransferredSize,
		"duration", time.Duration(run.DurationMs)*time.Millisecond)
	return &run, nil
}

// resolveSources filters the configured list down to directories that exist
// on disk right now. Missing sources are dropped silently (they never appear
// in results); a source inside the mount point would mirror the share into
// itself and is skipped with a warning.
func (e *Engine) resolveSources() []string {
	mountPoint := filepath.Clean(e.cfg.MountPoint())

	var valid []string
	for _, src := range e.cfg.Sources() {
		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			plog.Debug("Skipping missing backup source", "source", src)
			continue
		}
		clean := filepath.Clean(src)
		if clean == mountPoint || strings.HasPrefix(clean+string(filepath.Separator), mountPoint+string(filepath.Separator)) {
			plog.Warn("Skipping source inside the backup mount point", "source", src)
			continue
		}
		valid = append(valid, src)
	}
	return valid
}

// syncSources mirrors each source in configured order. Cancellation is
// checked before each source; a cancelled or failed source leaves later
// sources untouched or continues, respectively.
func (e *Engine) syncSources(ctx context.Context, sources []string) []history.TransferOutcome {
	mountPoint := e.cfg.MountPoint()
	results := make([]history.TransferOutcome, 0, len(sources))

	for i, src := range sources {
		if e.token.IsCancelled() {
			break
		}

		name := filepath.Base(src)
		e.hub.Publish(events.Event{Event: events.TypeSourceStart, Data: SourceStartPayload{
			SourceIndex:  i,
			SourceName:   name,
			SourcePath:   src,
			SourcesCount: len(sources),
		}})

		stats, err := e.runner.Run(ctx, transfer.Request{
			SourcePath:   src,
			DestPath:     filepath.Join(mountPoint, name),
			SourceIndex:  i,
			SourceName:   name,
			SourcesCount: len(sources),
		})

		switch {
		case err == nil:
			results = append(results, history.TransferOutcome{
				Source:           src,
				Success:          true,
				FilesTransferred: stats.FilesTransferred,
				TransferredBytes: stats.TransferredBytes,
			})
			e.hub.Publish(events.Event{Event: events.TypeSourceComplete, Data: SourceCompletePayload{
				SourceIndex:      i,
				SourceName:       name,
				FilesTransferred: stats.FilesTransferred,
				TransferredSize:  stats.TransferredBytes,
			}})
		case errors.Is(err, transfer.ErrCancelled):
			plog.Info("Transfer cancelled", "source", src)
			results = append(results, history.TransferOutcome{
				Source:  src,
				Success: false,
				Error:   "Cancelled",
			})
			return results
		default:
			// One source failing does not abort the batch.
			plog.Error("Transfer failed", "source", src, "error", err)
			results = append(results, history.TransferOutcome{
				Source:  src,
				Success: false,
				Error:   err.Error(),
			})
		}
	}
	return results
}

// buildRun assembles the immutable history entry for this invocation.
func (e *Engine) buildRun(runID string, started time.Time, sourcesCount int, results []history.TransferOutcome) history.BackupRun {
	run := history.BackupRun{
		ID:           runID,
		Timestamp:    started,
		DurationMs:   time.Since(started).Milliseconds(),
		SourcesCount: sourcesCount,
		Results:      results,
	}

	allOK := true
	for _, res := range results {
		run.FilesTransferred += res.FilesTransferred
		run.TransferredSize += res.TransferredBytes
		if !res.Success {
			allOK = false
		}
	}

	switch {
	case e.token.IsCancelled():
		run.Status = history.StatusCancelled
		run.Error = "Cancelled"
	case allOK:
		run.Status = history.StatusSuccess
	default:
		run.Status = history.StatusPartial
	}
	return run
}

// record appends the run to history. Write failures are logged and swallowed
// so history bookkeeping never changes the reported run outcome.
func (e *Engine) record(run history.BackupRun) {
	if err := e.store.Append(run); err != nil {
		plog.Warn("Could not record run history", "error", fmt.Errorf("history write: %w", err))
	}
}
