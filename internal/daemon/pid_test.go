package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPID(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		err     error
	}{
		{"with newline", "12345\n", 12345, nil},
		{"without newline", "12345", 12345, nil},
		{"empty", "", 0, ErrInvalidPID},
		{"not a number", "abc", 0, ErrInvalidPID},
		{"negative", "-1", 0, ErrInvalidPID},
		{"zero", "0", 0, ErrInvalidPID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "daemon.pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			pid, err := ReadPID(path)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(t.TempDir(), "none.pid"))
		assert.ErrorIs(t, err, ErrPIDFileNotFound)
	})
}

func TestWriteAndRemovePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, WritePID(path, 11111))
	require.NoError(t, WritePID(path, 22222))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "22222\n", string(data))

	require.NoError(t, RemovePID(path))
	require.NoError(t, RemovePID(path), "removing twice is fine")
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, IsProcessRunning(os.Getpid()))
	assert.False(t, IsProcessRunning(0))
	assert.False(t, IsProcessRunning(-5))
	assert.False(t, IsProcessRunning(999999999))
}

func TestCleanStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	cleaned, err := CleanStalePID(path)
	require.NoError(t, err)
	assert.False(t, cleaned)

	require.NoError(t, WritePID(path, os.Getpid()))
	cleaned, err = CleanStalePID(path)
	require.NoError(t, err)
	assert.False(t, cleaned)
	assert.FileExists(t, path)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	cleaned, err = CleanStalePID(path)
	require.NoError(t, err)
	assert.True(t, cleaned)
	assert.NoFileExists(t, path)
}

func TestAcquireAndReleasePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	require.NoError(t, AcquirePID(path))
	require.NoError(t, AcquirePID(path), "re-acquiring our own pid file is allowed")
	got, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got)

	require.NoError(t, ReleasePID(path))
	assert.NoFileExists(t, path)

	t.Run("release leaves another process's file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(999999999)), 0644))
		require.NoError(t, ReleasePID(path))
		assert.FileExists(t, path)
	})
}
