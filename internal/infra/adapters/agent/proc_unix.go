//go:build unix

package agent

import (
	"os/exec"
	"syscall"
)

// killProcessGroupOnCancel puts the child in its own process group and makes
// cancellation SIGKILL the whole group, so shells and tools the agent
// spawned die with it.
func killProcessGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
