package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/user/stow/internal/model"
)

// ConfigStore keeps each stash's schema in <stash>/config.json so a stash
// directory is self-describing even without the database.
type ConfigStore struct {
	baseDir string // .stow directory
}

// NewConfigStore creates a new config store.
func NewConfigStore(baseDir string) *ConfigStore {
	return &ConfigStore{baseDir: baseDir}
}

func (s *ConfigStore) configPath(stashName string) string {
	return filepath.Join(s.baseDir, stashName, "config.json")
}

// WriteConfig writes a stash configuration atomically.
func (s *ConfigStore) WriteConfig(stash *model.Stash) error {
	data, err := json.MarshalIndent(stash, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	return writeFileAtomic(s.configPath(stash.Name), "config-*.tmp", func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		return nil
	})
}

// ReadConfig reads a stash configuration.
func (s *ConfigStore) ReadConfig(stashName string) (*model.Stash, error) {
	data, err := os.ReadFile(s.configPath(stashName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrStashNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var stash model.Stash
	if err := json.Unmarshal(data, &stash); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &stash, nil
}

// DeleteConfig removes a stash's directory, history included.
func (s *ConfigStore) DeleteConfig(stashName string) error {
	if err := os.RemoveAll(filepath.Join(s.baseDir, stashName)); err != nil {
		return fmt.Errorf("failed to delete stash directory: %w", err)
	}
	return nil
}

// Exists returns true if the stash config exists.
func (s *ConfigStore) Exists(stashName string) bool {
	_, err := os.Stat(s.configPath(stashName))
	return err == nil
}

// ListStashDirs returns the names of directories holding a config.json.
func (s *ConfigStore) ListStashDirs() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read stow directory: %w", err)
	}

	var stashes []string
	for _, entry := range entries {
		if !entry.IsDir() || isHiddenOrMeta(entry.Name()) {
			continue
		}
		if s.Exists(entry.Name()) {
			stashes = append(stashes, entry.Name())
		}
	}
	return stashes, nil
}

// isHiddenOrMeta returns true for hidden or meta directories.
func isHiddenOrMeta(name string) bool {
	return name[0] == '.' || name[0] == '_'
}
