//go:build unix

package engine

import (
	"errors"
	"os/exec"
	"syscall"
)

// killProcessTree runs the child in its own process group so cancellation
// also reaches anything the engine spawned (interpreters, recorders).
func killProcessTree(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err != nil && !errors.Is(err, syscall.ESRCH) {
			return cmd.Process.Kill()
		}
		return nil
	}
}
