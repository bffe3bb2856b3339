//go:build !windows

package transfer

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// setProcessGroup makes the wrapper the leader of a new process group, so a
// cancellation can address the whole subprocess tree with one signal.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}
