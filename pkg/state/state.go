package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// CrashDir and AbortDir return the dump locations under a state dir.
func CrashDir(stateDir string) string { return filepath.Join(stateDir, "crash") }
func AbortDir(stateDir string) string { return filepath.Join(stateDir, "abort") }

// EnsureStateDirs ensures the runtime folder layout exists under stateDir.
// It rejects symlinks and group/other-writable directories, and checks the
// process can write to each one.
func EnsureStateDirs(stateDir string) error {
	for _, p := range []string{CrashDir(stateDir), AbortDir(stateDir)} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", p, err)
		}

		if fi, err := os.Lstat(p); err == nil {
			if err := checkDir(p, fi); err != nil {
				return err
			}
		}

		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", p, err)
		}

		fi, err := os.Lstat(p)
		if err != nil {
			return fmt.Errorf("cannot stat %s: %w", p, err)
		}
		if err := checkDir(p, fi); err != nil {
			return err
		}

		tmp, err := os.CreateTemp(p, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", p, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	return nil
}

func checkDir(p string, fi os.FileInfo) error {
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("path is a symlink: %s", p)
	}
	if !fi.IsDir() {
		return fmt.Errorf("path exists and is not a directory: %s", p)
	}
	if fi.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("path has permissive mode (group/other write): %s", p)
	}
	return nil
}
