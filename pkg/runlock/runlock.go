// Package runlock enforces the one-backup-at-a-time invariant and turns an
// external cancel request into signals delivered to the whole subprocess
// tree. The token is process-wide state: at most one run may hold it, and the
// handle of the currently running transfer subprocess is registered here so a
// cancel can reach it.
package runlock

import (
	"errors"
	"sync"

	"github.com/romsteck/homeroute-backup/pkg/events"
	"github.com/romsteck/homeroute-backup/pkg/plog"
)

// ErrRunActive is returned by Begin when another run already holds the token.
var ErrRunActive = errors.New("a backup is already in progress")

// ErrNoRun is returned by Cancel when no transfer subprocess is registered.
var ErrNoRun = errors.New("no backup in progress")

// Token is the process-wide run token. The zero value is not usable; create
// one with NewToken.
type Token struct {
	mu        sync.Mutex
	runActive bool
	pid       int // PID of the active privilege wrapper, 0 when none
	cancelled bool
	hub       *events.Hub
}

// NewToken creates a token publishing cancellation notices to hub.
func NewToken(hub *events.Hub) *Token {
	return &Token{hub: hub}
}

// Begin claims the token for a new run and resets the cancellation flag.
// It fails with ErrRunActive if a run is already in flight; in that case no
// state is mutated.
func (t *Token) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runActive {
		return ErrRunActive
	}
	t.runActive = true
	t.cancelled = false
	return nil
}

// Finish releases the token at the end of a run, whatever the outcome.
func (t *Token) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runActive = false
	t.pid = 0
}

// Register records the PID of the just-spawned transfer subprocess.
func (t *Token) Register(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = pid
}

// Deregister clears the process handle. Called on every exit path of a
// transfer, success or not.
func (t *Token) Deregister() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = 0
}

// IsRunning reports whether a run currently holds the token. The HTTP status
// endpoint and the overlapping-run check both use this.
func (t *Token) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runActive
}

// IsCancelled reports whether a cancel request was issued for the current run.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel requests cancellation of the running backup. It fails with ErrNoRun
// when no transfer subprocess is registered. Otherwise it sets the
// cancellation flag, signals the entire process tree of the registered
// wrapper, and publishes a cancellation notification. Signalling is
// best-effort: a process that raced to completion is not an error.
func (t *Token) Cancel() error {
	t.mu.Lock()
	pid := t.pid
	if pid == 0 {
		t.mu.Unlock()
		return ErrNoRun
	}
	t.cancelled = true
	t.mu.Unlock()

	killTree(pid)

	plog.Info("Backup cancellation requested", "pid", pid)
	t.hub.Publish(events.Event{
		Event: events.TypeCancelled,
		Data:  map[string]string{"reason": "cancelled by user"},
	})
	return nil
}
