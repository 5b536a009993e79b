//go:build !windows

package transport

import (
	"os/exec"
	"syscall"
)

// setupProcessHandling puts the subprocess in its own process group and
// arranges for it to die if the gateway itself dies, so an upstream never
// outlives the connection that owns it.
func setupProcessHandling(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
