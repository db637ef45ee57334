package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stow/internal/model"
)

func TestConfigStore_WriteAndReadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewConfigStore(tmpDir)

	stash := &model.Stash{
		Name:      "photos",
		Prefix:    "ph-",
		Created:   time.Now().Truncate(time.Second),
		CreatedBy: "test-user",
		Columns: model.ColumnList{
			{Name: "title", Desc: "Photo title", Added: time.Now().Truncate(time.Second), AddedBy: "test-user"},
			{Name: "image_data", Kind: model.KindAttachment, Added: time.Now().Truncate(time.Second), AddedBy: "test-user"},
		},
	}

	t.Run("write config", func(t *testing.T) {
		require.NoError(t, store.WriteConfig(stash))
		assert.FileExists(t, filepath.Join(tmpDir, "photos", "config.json"))
	})

	t.Run("read config", func(t *testing.T) {
		retrieved, err := store.ReadConfig("photos")
		require.NoError(t, err)

		assert.Equal(t, stash.Prefix, retrieved.Prefix)
		assert.Equal(t, stash.CreatedBy, retrieved.CreatedBy)
		require.Len(t, retrieved.Columns, 2)
		assert.Equal(t, "Photo title", retrieved.Columns[0].Desc)
		assert.True(t, retrieved.HasAttachment("image"))
	})

	t.Run("overwrite leaves no temp files", func(t *testing.T) {
		require.NoError(t, store.WriteConfig(stash))
		entries, err := os.ReadDir(filepath.Join(tmpDir, "photos"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("read non-existent config", func(t *testing.T) {
		_, err := store.ReadConfig("nonexistent")
		assert.ErrorIs(t, err, model.ErrStashNotFound)
	})
}

func TestConfigStore_DeleteConfig(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewConfigStore(tmpDir)

	require.NoError(t, store.WriteConfig(&model.Stash{Name: "photos", Prefix: "ph-"}))
	require.True(t, store.Exists("photos"))

	require.NoError(t, store.DeleteConfig("photos"))
	assert.False(t, store.Exists("photos"))
	assert.NoDirExists(t, filepath.Join(tmpDir, "photos"))

	t.Run("missing stash is fine", func(t *testing.T) {
		assert.NoError(t, store.DeleteConfig("photos"))
	})
}

func TestConfigStore_ListStashDirs(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewConfigStore(tmpDir)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, store.WriteConfig(&model.Stash{Name: name, Prefix: name[:2] + "-"}))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "no-config"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".hidden"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "_jobs"), 0755))

	dirs, err := store.ListStashDirs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, dirs)

	t.Run("missing base dir", func(t *testing.T) {
		dirs, err := NewConfigStore(filepath.Join(tmpDir, "nope")).ListStashDirs()
		require.NoError(t, err)
		assert.Empty(t, dirs)
	})
}
