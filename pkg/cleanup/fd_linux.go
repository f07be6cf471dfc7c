//go:build linux

package cleanup

import (
	"os"
	"syscall"
)

// fdUsageHigh reports whether the process is using more than threshold of
// its soft descriptor limit, by counting /proc/self/fd.
func fdUsageHigh(threshold float64) bool {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return false
	}

	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return false
	}
	if rl.Cur == 0 {
		return false
	}

	return float64(len(entries)) >= threshold*float64(rl.Cur)
}
