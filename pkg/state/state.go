// Package state lays out the on-disk runtime folders under the database
// path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the runtime folders for one database path.
type Paths struct {
	// Store holds the pebble database.
	Store string
	Audit string
	Crash string
	Tmp   string
}

// For returns the layout under dbPath without touching the filesystem.
func For(dbPath string) Paths {
	st := filepath.Join(dbPath, "state")
	return Paths{
		Store: filepath.Join(dbPath, "store"),
		Audit: filepath.Join(st, "audit"),
		Crash: filepath.Join(st, "crash"),
		Tmp:   filepath.Join(st, "tmp"),
	}
}

// Ensure creates the layout under dbPath. Every folder must be a real
// directory, not group or world writable, and writable by this process.
func Ensure(dbPath string) (Paths, error) {
	p := For(dbPath)
	for _, dir := range []string{p.Store, p.Audit, p.Crash, p.Tmp} {
		if err := ensureDir(dir); err != nil {
			return p, err
		}
	}
	return p, nil
}

func ensureDir(p string) error {
	if fi, err := os.Lstat(p); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("path is a symlink: %s", p)
		}
		if !fi.IsDir() {
			return fmt.Errorf("path exists and is not a directory: %s", p)
		}
		if fi.Mode().Perm()&0o022 != 0 {
			return fmt.Errorf("path has permissive mode (group/other write): %s", p)
		}
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return fmt.Errorf("cannot create path %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return fmt.Errorf("path not writable: %s: %w", p, err)
	}
	tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}
