//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// setupProcessHandling isolates the worker in its own process group and
// arranges for it to die if the gateway does, mirroring the transport
// package's upstream subprocess handling for the sandbox worker.
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
