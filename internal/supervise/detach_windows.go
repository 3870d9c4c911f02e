//go:build windows

package supervise

import "os/exec"

// Process-group detachment is a unix concept; on windows the child simply
// keeps the default attributes.
func detach(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd, detached bool) error {
	return cmd.Process.Kill()
}
