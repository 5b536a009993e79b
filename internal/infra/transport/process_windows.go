//go:build windows

package transport

import "os/exec"

// setupProcessHandling is a no-op on Windows; process-group semantics
// differ enough that we rely on cmd.Cancel's default (kill) behavior.
func setupProcessHandling(cmd *exec.Cmd) {}
