//go:build !windows

package supervise

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so it is not torn down with
// the orchestrator and is not reached by terminal signals sent to us.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcess terminates the supervised process; for a detached child the
// whole process group goes, engine worker threads included.
func killProcess(cmd *exec.Cmd, detached bool) error {
	if detached {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return cmd.Process.Kill()
}
