package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/stow/internal/model"
)

// HistoryLog is the append-only JSONL log of every record write. SQLite
// holds current state; the log is the audit trail and the source for
// Rebuild.
type HistoryLog struct {
	baseDir string // .stow directory
	mu      sync.Mutex
}

// NewHistoryLog creates a history log rooted at baseDir.
func NewHistoryLog(baseDir string) *HistoryLog {
	return &HistoryLog{baseDir: baseDir}
}

func (s *HistoryLog) path(stashName string) string {
	return filepath.Join(s.baseDir, stashName, "records.jsonl")
}

// Append writes one entry to the end of the stash's log.
func (s *HistoryLog) Append(stashName string, record *model.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.baseDir, stashName), 0755); err != nil {
		return fmt.Errorf("failed to create stash directory: %w", err)
	}

	// Each entry is written with a single write on an O_APPEND descriptor
	// so concurrent processes never interleave partial lines.
	f, err := os.OpenFile(s.path(stashName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync history: %w", err)
	}
	return f.Close()
}

// ReadAll reads every entry of a stash's log in write order.
// Returns an empty slice if the log doesn't exist.
func (s *HistoryLog) ReadAll(stashName string) ([]*model.Record, error) {
	file, err := os.Open(s.path(stashName))
	if err != nil {
		if os.IsNotExist(err) {
			return []*model.Record{}, nil
		}
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer file.Close()

	var records []*model.Record
	scanner := bufio.NewScanner(file)
	// Attachment columns with deep derivative trees make for long lines.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record model.Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("failed to parse history at line %d: %w", lineNum, err)
		}
		records = append(records, &record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading history: %w", err)
	}
	return records, nil
}

// ForRecord returns the entries for one record, oldest first.
func (s *HistoryLog) ForRecord(stashName, id string) ([]*model.Record, error) {
	all, err := s.ReadAll(stashName)
	if err != nil {
		return nil, err
	}
	var out []*model.Record
	for _, r := range all {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// Compact rewrites the log so it holds one create entry per live record.
func (s *HistoryLog) Compact(stashName string, records []*model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeFileAtomic(s.path(stashName), "records-*.tmp", func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		enc := json.NewEncoder(bw)
		for _, r := range records {
			entry := r.Clone()
			entry.Operation = model.OpCreate
			if err := enc.Encode(entry); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
		return bw.Flush()
	})
}

// Delete removes the log for a stash.
func (s *HistoryLog) Delete(stashName string) error {
	err := os.Remove(s.path(stashName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

// Exists returns true if the stash has a log.
func (s *HistoryLog) Exists(stashName string) bool {
	_, err := os.Stat(s.path(stashName))
	return err == nil
}

// writeFileAtomic writes path through a synced temp file and a rename.
func writeFileAtomic(path, pattern string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if err := write(tmpFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
