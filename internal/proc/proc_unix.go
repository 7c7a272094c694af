//go:build unix

package proc

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts cmd as the leader of a new process group and, for
// context-bound commands, makes cancellation kill the whole group.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	// exec rejects Cancel on commands not created with CommandContext
	if cmd.Cancel == nil {
		return
	}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
