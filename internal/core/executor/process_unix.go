// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// processTree is the shell's process group. Children join it at fork, so
// there is nothing to attach after start.
type processTree struct{}

// newProcessTree puts the shell in its own process group so that
// cancellation kills everything it spawned, not just the shell.
func newProcessTree(cmd *exec.Cmd) *processTree {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return &processTree{}
}

func (*processTree) attach(*exec.Cmd) error { return nil }

func (*processTree) release() {}
