package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"
)

// emfileRetryPause is how long to wait after a GC pause before retrying an
// operation that hit the descriptor ceiling.
const emfileRetryPause = 100 * time.Millisecond

// robustRemove deletes a snapshot tree. The fast path is a plain recursive
// removal; EMFILE triggers a GC pause and retry, and a second EMFILE falls
// back to an explicit bottom-up walk. Snapshot trees hold thousands of small
// index files, so hitting the descriptor ceiling mid-delete is an expected
// failure mode, not a corruption signal.
func robustRemove(root string) error {
	err := os.RemoveAll(root)
	if err == nil {
		return nil
	}
	if !isFDExhaustion(err) {
		return err
	}

	runtime.GC()
	time.Sleep(emfileRetryPause)

	if err := os.RemoveAll(root); err == nil {
		return nil
	} else if !isFDExhaustion(err) {
		return err
	}

	return bottomUpRemove(root)
}

// bottomUpRemove walks the tree deleting files first, then directories
// deepest-first, with a GC pause after each directory so descriptors held by
// unreclaimed handles get released as we go.
func bottomUpRemove(root string) error {
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		return removeWithRetry(path)
	})
	if err != nil {
		return fmt.Errorf("bottom-up walk of %s failed: %w", root, err)
	}

	// WalkDir visits parents before children; reverse order empties leaves
	// first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := removeWithRetry(dirs[i]); err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", dirs[i], err)
		}
		runtime.GC()
	}

	// Report partial failure if anything survived, so the caller retries.
	if entries, err := os.ReadDir(root); err == nil {
		return fmt.Errorf("partial deletion: %d entries remain under %s", len(entries), root)
	}
	return nil
}

// removeWithRetry removes one filesystem entry, retrying once after a GC
// pause when the first attempt hits the descriptor ceiling.
func removeWithRetry(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	if !isFDExhaustion(err) {
		return err
	}

	runtime.GC()
	time.Sleep(emfileRetryPause)

	err = os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return err
}

// isFDExhaustion reports whether an error is EMFILE/ENFILE (too many open
// files, process- or system-wide).
func isFDExhaustion(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}
