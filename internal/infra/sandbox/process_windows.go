//go:build windows

package sandbox

import "os/exec"

func setupProcessHandling(cmd *exec.Cmd) {}
