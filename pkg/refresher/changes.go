package refresher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// localChanges detects modifications in a writer-backed master by comparing
// the newest file mtime against the timestamp embedded in the latest
// snapshot's directory name. No snapshot yet means changed: the first
// refresh bootstraps the initial version.
func (r *Refresher) localChanges(name, master string) (bool, error) {
	_, latest, err := r.lay.LatestVersion(name)
	if err != nil {
		return false, err
	}
	if latest == 0 {
		return true, nil
	}

	newest, err := newestMtime(master)
	if err != nil {
		return false, err
	}
	return newest.After(time.Unix(latest, 0)), nil
}

// newestMtime walks a tree and returns the maximum file modification time,
// skipping hidden entries (dotfiles, the index directory, .git).
func newestMtime(root string) (time.Time, error) {
	var newest time.Time

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newest, nil
}
