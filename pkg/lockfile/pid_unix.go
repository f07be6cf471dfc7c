//go:build unix

package lockfile

import (
	"os"
	"syscall"
)

// pidAlive probes a process with signal 0. ESRCH means no such process;
// EPERM means the process exists but belongs to another user, which still
// counts as alive.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
