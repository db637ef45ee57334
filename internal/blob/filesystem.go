package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileSystem stores blobs as files under a directory of an afero.Fs.
// With afero.NewOsFs it is the on-disk storage; with afero.NewMemMapFs it is
// the in-memory storage used by tests and the "memory" kind.
type FileSystem struct {
	fs        afero.Fs
	dir       string
	urlPrefix string
	perm      os.FileMode
}

// FileSystemOption configures a FileSystem.
type FileSystemOption func(*FileSystem)

// WithURLPrefix makes URL return prefix + "/" + id instead of the file path.
func WithURLPrefix(prefix string) FileSystemOption {
	return func(s *FileSystem) {
		s.urlPrefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithPermissions sets the mode of uploaded files.
func WithPermissions(perm os.FileMode) FileSystemOption {
	return func(s *FileSystem) {
		s.perm = perm
	}
}

// NewFileSystem creates a storage rooted at dir on fs.
func NewFileSystem(fs afero.Fs, dir string, opts ...FileSystemOption) *FileSystem {
	s := &FileSystem{fs: fs, dir: dir, perm: 0644}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDisk is NewFileSystem on the host filesystem.
func NewDisk(dir string, opts ...FileSystemOption) *FileSystem {
	return NewFileSystem(afero.NewOsFs(), dir, opts...)
}

// NewMemory is NewFileSystem on a fresh in-memory filesystem.
func NewMemory(opts ...FileSystemOption) *FileSystem {
	return NewFileSystem(afero.NewMemMapFs(), "/", opts...)
}

// Dir returns the root directory.
func (s *FileSystem) Dir() string {
	return s.dir
}

// path resolves an ID to a file path, refusing IDs that escape the root.
func (s *FileSystem) path(id string) (string, error) {
	clean := path.Clean("/" + id)
	if id == "" || clean == "/" || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

// Upload writes r to id via a temp file and rename so readers never see a
// partial file. Metadata is not stored.
func (s *FileSystem) Upload(ctx context.Context, r io.Reader, id string, _ map[string]interface{}) error {
	dest, err := s.path(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(dest)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := afero.TempFile(s.fs, dir, ".upload-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer s.fs.Remove(tmpPath)

	if _, err := io.Copy(tmpFile, &ctxReader{ctx: ctx, r: r}); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := s.fs.Chmod(tmpPath, s.perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := s.fs.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Open returns a reader for id, or ErrNotFound.
func (s *FileSystem) Open(_ context.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Exists reports whether id is present.
func (s *FileSystem) Exists(_ context.Context, id string) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, p)
}

// Delete removes id. Missing files are ignored.
func (s *FileSystem) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// URL returns the public URL when a prefix is configured, else the file path.
func (s *FileSystem) URL(_ context.Context, id string, _ URLOptions) (string, error) {
	if s.urlPrefix != "" {
		return s.urlPrefix + "/" + strings.TrimPrefix(id, "/"), nil
	}
	return s.path(id)
}

// ctxReader stops a copy once the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
