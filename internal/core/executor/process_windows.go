// SPDX-License-Identifier: Apache-2.0

//go:build windows

package executor

import (
	"fmt"
	"os/exec"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// processTree holds the job object the shell is assigned to. Processes the
// shell starts inherit the job, so terminating it stops the whole tree.
type processTree struct {
	mu  sync.Mutex
	job windows.Handle
}

func newProcessTree(cmd *exec.Cmd) *processTree {
	t := &processTree{}
	cmd.Cancel = func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.job != 0 {
			return windows.TerminateJobObject(t.job, TimeoutExitCode)
		}
		return cmd.Process.Kill()
	}
	return t
}

// attach assigns the started shell to a job that is killed when its last
// handle closes. Children spawned before attach returns are not covered.
func (t *processTree) attach(cmd *exec.Cmd) error {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("create job object: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(job, windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info))); err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("configure job object: %w", err)
	}

	process, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
	if err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("open process %d: %w", cmd.Process.Pid, err)
	}
	defer windows.CloseHandle(process)

	if err := windows.AssignProcessToJobObject(job, process); err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("assign process %d to job: %w", cmd.Process.Pid, err)
	}

	t.mu.Lock()
	t.job = job
	t.mu.Unlock()
	return nil
}

// release closes the job, which kills anything the shell left running
func (t *processTree) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job != 0 {
		windows.CloseHandle(t.job)
		t.job = 0
	}
}
