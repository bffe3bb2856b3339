// Package mount makes the remote SMB share reachable as a local path. Both
// operations are idempotent and consult the kernel mount table rather than a
// cached flag, so externally performed mounts and unmounts are tolerated.
package mount

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/romsteck/homeroute-backup/pkg/plog"
)

// mountTimeout bounds how long a single mount or unmount attempt may hang on
// an unreachable server.
const mountTimeout = 30 * time.Second

// Error is returned when a mount operation fails, carrying the underlying
// tool's stderr for diagnosis.
type Error struct {
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Controller owns the mount lifecycle for one share/mount-point pair.
type Controller struct {
	remote     string // //host/share
	mountPoint string
	username   string
	password   string

	// commandContext is swapped out in tests.
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
	// mountsPath is the kernel mount table, swapped out in tests.
	mountsPath string
}

// NewController creates a controller for the given share and mount point.
// An empty username selects guest mode.
func NewController(remote, mountPoint, username, password string) *Controller {
	return &Controller{
		remote:         remote,
		mountPoint:     mountPoint,
		username:       username,
		password:       password,
		commandContext: exec.CommandContext,
		mountsPath:     "/proc/self/mounts",
	}
}

// IsMounted reports whether the configured mount point currently appears in
// the kernel mount table.
func (c *Controller) IsMounted() (bool, error) {
	data, err := os.ReadFile(c.mountsPath)
	if err != nil {
		return false, fmt.Errorf("could not read mount table: %w", err)
	}

	want := filepath.Clean(c.mountPoint)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// The mount table octal-escapes spaces in paths.
		point := strings.ReplaceAll(fields[1], `\040`, " ")
		if filepath.Clean(point) == want {
			return true, nil
		}
	}
	return false, nil
}

// EnsureMounted mounts the share if it is not mounted already. It creates the
// mount point directory when absent and mounts with SMB protocol 3.0 and
// NTLM session security, using the configured credentials or guest mode when
// no username is set.
func (c *Controller) EnsureMounted(ctx context.Context) error {
	if c.remote == "" || c.mountPoint == "" {
		return &Error{Op: "mount", Err: fmt.Errorf("share remote and mount point must be configured")}
	}

	mounted, err := c.IsMounted()
	if err != nil {
		return &Error{Op: "mount", Err: err}
	}
	if mounted {
		plog.Debug("Share already mounted", "mountPoint", c.mountPoint)
		return nil
	}

	if err := os.MkdirAll(c.mountPoint, 0755); err != nil {
		return &Error{Op: "mount", Err: fmt.Errorf("could not create mount point: %w", err)}
	}

	options := "vers=3.0,sec=ntlmssp"
	if c.username == "" {
		options += ",guest"
	} else {
		options += ",username=" + c.username + ",password=" + c.password
	}

	command := fmt.Sprintf("sudo mount -t cifs %s %s -o %s",
		quoteShellArg(c.remote), quoteShellArg(c.mountPoint), quoteShellArg(options))

	plog.Info("Mounting backup share", "remote", c.remote, "mountPoint", c.mountPoint)
	if stderr, err := c.runShell(ctx, command); err != nil {
		return &Error{Op: "mount", Stderr: stderr, Err: err}
	}
	return nil
}

// Unmount unmounts the share if mounted. Failures are logged, never
// returned: unmounting is cleanup that runs regardless of how the run ended,
// and must not prevent history recording or the final notification.
func (c *Controller) Unmount(ctx context.Context) {
	mounted, err := c.IsMounted()
	if err != nil {
		plog.Warn("Could not check mount state before unmount", "error", err)
		return
	}
	if !mounted {
		plog.Debug("Share not mounted, nothing to unmount", "mountPoint", c.mountPoint)
		return
	}

	command := "sudo umount " + quoteShellArg(c.mountPoint)
	plog.Info("Unmounting backup share", "mountPoint", c.mountPoint)
	if stderr, err := c.runShell(ctx, command); err != nil {
		plog.Warn("Unmount failed", "mountPoint", c.mountPoint, "error", err, "stderr", strings.TrimSpace(stderr))
	}
}

// runShell executes a shell command under the mount timeout and returns its
// captured stderr.
func (c *Controller) runShell(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, mountTimeout)
	defer cancel()

	cmd := c.commandContext(ctx, "/bin/sh", "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stderr.String(), fmt.Errorf("timed out after %s", mountTimeout)
		}
		return stderr.String(), err
	}
	return stderr.String(), nil
}

// quoteShellArg wraps s in single quotes so that shell metacharacters,
// including embedded single quotes, round-trip exactly.
func quoteShellArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
