package mount

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// writeMountTable writes a fake kernel mount table and points the controller
// at it.
func writeMountTable(t *testing.T, c *Controller, lines ...string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("could not write fake mount table: %v", err)
	}
	c.mountsPath = path
}

// recordingExecutor captures the shell command passed to runShell and runs a
// stand-in process instead.
type recordingExecutor struct {
	commands []string
	fail     bool
}

func (r *recordingExecutor) commandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	if len(args) == 2 && args[0] == "-c" {
		r.commands = append(r.commands, args[1])
	}
	if r.fail {
		return exec.CommandContext(ctx, "/bin/sh", "-c", "echo mount error: permission denied >&2; exit 32")
	}
	return exec.CommandContext(ctx, "true")
}

func newTestController(t *testing.T, username, password string) (*Controller, *recordingExecutor) {
	t.Helper()
	c := NewController("//nas.local/backups", filepath.Join(t.TempDir(), "mnt"), username, password)
	rec := &recordingExecutor{}
	c.commandContext = rec.commandContext
	return c, rec
}

func TestIsMounted(t *testing.T) {
	c, _ := newTestController(t, "", "")

	writeMountTable(t, c,
		"/dev/sda1 / ext4 rw 0 0",
		"//nas.local/backups "+c.mountPoint+" cifs rw 0 0",
	)
	mounted, err := c.IsMounted()
	if err != nil {
		t.Fatalf("IsMounted() failed: %v", err)
	}
	if !mounted {
		t.Error("expected mount point to be reported as mounted")
	}

	writeMountTable(t, c, "/dev/sda1 / ext4 rw 0 0")
	mounted, err = c.IsMounted()
	if err != nil {
		t.Fatalf("IsMounted() failed: %v", err)
	}
	if mounted {
		t.Error("expected mount point to be reported as not mounted")
	}
}

func TestEnsureMountedIsIdempotent(t *testing.T) {
	c, rec := newTestController(t, "admin", "secret")
	writeMountTable(t, c, "//nas.local/backups "+c.mountPoint+" cifs rw 0 0")

	if err := c.EnsureMounted(context.Background()); err != nil {
		t.Fatalf("EnsureMounted() failed: %v", err)
	}
	if len(rec.commands) != 0 {
		t.Errorf("expected no mount command when already mounted, got %v", rec.commands)
	}
}

func TestEnsureMountedWithCredentials(t *testing.T) {
	c, rec := newTestController(t, "admin", "p'ass;word")
	writeMountTable(t, c, "/dev/sda1 / ext4 rw 0 0")

	if err := c.EnsureMounted(context.Background()); err != nil {
		t.Fatalf("EnsureMounted() failed: %v", err)
	}
	if len(rec.commands) != 1 {
		t.Fatalf("expected one mount command, got %d", len(rec.commands))
	}

	cmd := rec.commands[0]
	if !strings.Contains(cmd, "mount -t cifs") {
		t.Errorf("expected a cifs mount command, got %q", cmd)
	}
	if !strings.Contains(cmd, "vers=3.0,sec=ntlmssp") {
		t.Errorf("expected protocol 3.0 with ntlmssp, got %q", cmd)
	}
	if !strings.Contains(cmd, "username=admin") {
		t.Errorf("expected username option, got %q", cmd)
	}
	// The embedded single quote must be escaped so it round-trips exactly.
	if !strings.Contains(cmd, `p'\''ass;word`) {
		t.Errorf("expected escaped password in command, got %q", cmd)
	}
	if strings.Contains(cmd, "guest") {
		t.Errorf("guest mode must not be used with a username, got %q", cmd)
	}

	if _, err := os.Stat(c.mountPoint); err != nil {
		t.Errorf("mount point directory was not created: %v", err)
	}
}

func TestEnsureMountedGuestFallback(t *testing.T) {
	c, rec := newTestController(t, "", "")
	writeMountTable(t, c, "/dev/sda1 / ext4 rw 0 0")

	if err := c.EnsureMounted(context.Background()); err != nil {
		t.Fatalf("EnsureMounted() failed: %v", err)
	}
	if len(rec.commands) != 1 {
		t.Fatalf("expected one mount command, got %d", len(rec.commands))
	}
	if !strings.Contains(rec.commands[0], ",guest") {
		t.Errorf("expected guest option without a username, got %q", rec.commands[0])
	}
}

func TestEnsureMountedFailureCarriesStderr(t *testing.T) {
	c, rec := newTestController(t, "admin", "secret")
	rec.fail = true
	writeMountTable(t, c, "/dev/sda1 / ext4 rw 0 0")

	err := c.EnsureMounted(context.Background())
	if err == nil {
		t.Fatal("expected EnsureMounted() to fail")
	}
	var mountErr *Error
	if !errors.As(err, &mountErr) {
		t.Fatalf("expected *mount.Error, got %T", err)
	}
	if !strings.Contains(mountErr.Stderr, "permission denied") {
		t.Errorf("expected stderr to be captured, got %q", mountErr.Stderr)
	}
}

func TestEnsureMountedRequiresConfiguration(t *testing.T) {
	c := NewController("", "", "", "")
	if err := c.EnsureMounted(context.Background()); err == nil {
		t.Fatal("expected EnsureMounted() to fail with unset share and mount point")
	}
}

func TestUnmountNoopsWhenNotMounted(t *testing.T) {
	c, rec := newTestController(t, "", "")
	writeMountTable(t, c, "/dev/sda1 / ext4 rw 0 0")

	c.Unmount(context.Background())
	if len(rec.commands) != 0 {
		t.Errorf("expected no unmount command when not mounted, got %v", rec.commands)
	}
}

func TestUnmountSwallowsErrors(t *testing.T) {
	c, rec := newTestController(t, "", "")
	rec.fail = true
	writeMountTable(t, c, "//nas.local/backups "+c.mountPoint+" cifs rw 0 0")

	// Must not panic or propagate; failure is logged only.
	c.Unmount(context.Background())
	if len(rec.commands) != 1 {
		t.Errorf("expected one unmount attempt, got %d", len(rec.commands))
	}
}

func TestQuoteShellArg(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := quoteShellArg(tt.in); got != tt.want {
			t.Errorf("quoteShellArg(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
