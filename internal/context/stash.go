package context

import (
	"os"
	"path/filepath"
)

// DirName is the name of the directory holding stow data.
const DirName = ".stow"

// FindStowDir returns $STOW_DIR if set, otherwise the nearest .stow
// directory in the working directory or its parents. Returns "" if none.
func FindStowDir() string {
	if dir := os.Getenv("STOW_DIR"); dir != "" {
		return dir
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findStowDirFrom(dir)
}

func findStowDirFrom(startDir string) string {
	dir := startDir
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// DefaultStash returns the default stash name:
// 1. $STOW_DEFAULT environment variable if set
// 2. the only stash if exactly one exists
// 3. "" (requires --stash)
func DefaultStash(stowDir string) string {
	if name := os.Getenv("STOW_DEFAULT"); name != "" {
		return name
	}
	if stowDir == "" {
		return ""
	}
	if stashes := listStashes(stowDir); len(stashes) == 1 {
		return stashes[0]
	}
	return ""
}

// listStashes returns the subdirectories of stowDir that hold a stash
// config. Storage and job directories have none and are skipped.
func listStashes(stowDir string) []string {
	entries, err := os.ReadDir(stowDir)
	if err != nil {
		return nil
	}
	var stashes []string
	for _, entry := range entries {
		if !entry.IsDir() || isHiddenFile(entry.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(stowDir, entry.Name(), "config.json")); err == nil {
			stashes = append(stashes, entry.Name())
		}
	}
	return stashes
}

// isHiddenFile returns true if the filename starts with a dot.
func isHiddenFile(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
