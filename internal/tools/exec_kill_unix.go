//go:build !windows

package tools

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killTreeOnCancel makes context cancellation take down the whole process
// group. A shell that spawned background children would otherwise survive
// the kill and hold the output pipes open past the timeout.
func killTreeOnCancel(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// The child becomes its own group leader, so -pid addresses the group.
	cmd.SysProcAttr.Setpgid = true

	cmd.Cancel = func() error {
		proc := cmd.Process
		if proc == nil || proc.Pid <= 0 {
			return nil
		}
		err := syscall.Kill(-proc.Pid, syscall.SIGKILL)
		if err == nil || errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// Group kill failed for some other reason; take the direct child
		// down at least.
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
}
