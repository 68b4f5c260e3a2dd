//go:build windows

package tools

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
)

// killTreeOnCancel makes context cancellation take down the child and its
// descendants. Windows has no process groups in the POSIX sense, so we lean
// on taskkill's tree flag.
func killTreeOnCancel(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	cmd.Cancel = func() error {
		proc := cmd.Process
		if proc == nil || proc.Pid <= 0 {
			return nil
		}
		// Best effort. taskkill fails when the tree is already gone.
		_ = exec.Command("taskkill", "/PID", strconv.Itoa(proc.Pid), "/T", "/F").Run()
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
}
