//go:build !windows

package runlock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/romsteck/homeroute-backup/pkg/plog"
)

// killTree terminates the wrapper process and everything below it. The
// transfer runs as `sudo rsync ...`, and sudo does not forward SIGTERM sent
// to itself by an unprivileged parent, so signalling the wrapper alone would
// leave rsync running. We therefore signal the wrapper's direct children
// explicitly, then the wrapper's process group, then the wrapper itself.
func killTree(pid int) {
	for _, child := range childPIDs(pid) {
		if err := unix.Kill(child, unix.SIGTERM); err != nil && err != unix.ESRCH {
			plog.Debug("Could not signal child process", "pid", child, "error", err)
		}
	}

	// The wrapper was started with Setpgid, so its PGID equals its PID and a
	// negative PID addresses the whole group.
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		plog.Debug("Could not signal process group", "pgid", pid, "error", err)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		plog.Debug("Could not signal wrapper process", "pid", pid, "error", err)
	}
}

// childPIDs enumerates processes whose parent is ppid by scanning /proc.
func childPIDs(ppid int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	var children []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // not a process directory
		}
		stat, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "stat"))
		if err != nil {
			continue // process vanished mid-scan
		}
		if parentOf(string(stat)) == ppid {
			children = append(children, pid)
		}
	}
	return children
}

// parentOf extracts the PPID from a /proc/<pid>/stat line. The comm field is
// parenthesized and may itself contain spaces or parentheses, so fields are
// taken after the last ')'.
func parentOf(stat string) int {
	end := strings.LastIndexByte(stat, ')')
	if end < 0 || end+2 > len(stat) {
		return -1
	}
	fields := strings.Fields(stat[end+1:])
	if len(fields) < 2 {
		return -1
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return -1
	}
	return ppid
}
