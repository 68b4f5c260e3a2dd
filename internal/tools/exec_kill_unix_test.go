//go:build !windows

package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func TestExecCommandTimeoutKillsBackgroundChildren(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")

	// The shell records its background child's pid, then waits. The wait
	// outlives the one second timeout, so the tool has to reap the whole
	// group rather than just the shell.
	command := fmt.Sprintf("sleep 10 & echo $! > %s; wait", singleQuote(pidFile))

	start := time.Now()
	out := runExecCommandTool(t, map[string]any{
		"command":         command,
		"use_shell":       true,
		"timeout_seconds": 1,
	})
	elapsed := time.Since(start)

	if elapsed >= 4*time.Second {
		t.Fatalf("timed-out command took %s to return", elapsed)
	}
	if !strings.Contains(out, "timed_out: true") {
		t.Fatalf("expected timed_out flag, got:\n%s", out)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("failed to read child pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("bad child pid %q: %v", raw, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := syscall.Kill(pid, 0)
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the timeout (last kill(0): %v)", pid, err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
