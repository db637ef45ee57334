package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stow/internal/model"
)

func newTestSQLite(t *testing.T, columns ...string) *SQLite {
	t.Helper()
	db, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stash := &model.Stash{Name: "photo-album", Prefix: "ph-", Created: time.Now()}
	for _, c := range columns {
		stash.Columns = append(stash.Columns, model.Column{Name: c})
	}
	require.NoError(t, db.CreateStashTable(stash))
	return db
}

func insert(t *testing.T, db *SQLite, id string, fields map[string]string, columns []string) {
	t.Helper()
	now := time.Now().UTC()
	rec := &model.Record{ID: id, CreatedAt: now, CreatedBy: "u", UpdatedAt: now, UpdatedBy: "u", Fields: fields}
	rec.Hash = rec.CalculateHash()
	require.NoError(t, db.InsertRecord(context.Background(), "photo-album", rec, columns))
}

func TestSQLite_CreateStashTable(t *testing.T) {
	db := newTestSQLite(t, "title")

	stash, err := db.GetStash("photo-album")
	require.NoError(t, err)
	assert.Equal(t, "ph-", stash.Prefix)

	stashes, err := db.ListStashes()
	require.NoError(t, err)
	assert.Len(t, stashes, 1)

	_, err = db.GetStash("missing")
	assert.ErrorIs(t, err, model.ErrStashNotFound)

	t.Run("add column is idempotent", func(t *testing.T) {
		require.NoError(t, db.AddColumn("photo-album", "image_data"))
		require.NoError(t, db.AddColumn("photo-album", "IMAGE_DATA"))
	})

	t.Run("base columns are reserved", func(t *testing.T) {
		assert.ErrorIs(t, db.AddColumn("photo-album", "hash"), model.ErrReservedColumn)
	})

	t.Run("drop", func(t *testing.T) {
		require.NoError(t, db.DropStashTable("photo-album"))
		_, err := db.GetStash("photo-album")
		assert.ErrorIs(t, err, model.ErrStashNotFound)
	})
}

func TestSQLite_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	cols := []string{"title", "image_data"}
	db := newTestSQLite(t, cols...)

	insert(t, db, "ph-0001", map[string]string{"title": "Beach"}, cols)

	rec, err := db.GetRecord(ctx, "photo-album", "ph-0001", cols)
	require.NoError(t, err)
	assert.Equal(t, "Beach", rec.Get("title"))
	assert.Empty(t, rec.Get("image_data"))
	_, stored := rec.Fields["image_data"]
	assert.False(t, stored, "NULL columns are absent")

	t.Run("duplicate id", func(t *testing.T) {
		now := time.Now()
		err := db.InsertRecord(ctx, "photo-album", &model.Record{ID: "ph-0001", CreatedAt: now, UpdatedAt: now}, cols)
		assert.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := db.GetRecord(ctx, "photo-album", "ph-9999", cols)
		assert.ErrorIs(t, err, model.ErrRecordNotFound)
	})
}

func TestSQLite_UpdateRecord(t *testing.T) {
	ctx := context.Background()
	cols := []string{"title", "image_data"}
	db := newTestSQLite(t, cols...)
	insert(t, db, "ph-0001", map[string]string{"title": "Beach", "image_data": "old"}, cols)

	t.Run("writes only returned columns", func(t *testing.T) {
		rec, changed, err := db.UpdateRecord(ctx, "photo-album", "ph-0001", "bob", cols, func(fresh map[string]string) (map[string]string, error) {
			assert.Equal(t, "old", fresh["image_data"])
			return map[string]string{"image_data": "new"}, nil
		})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "bob", rec.UpdatedBy)
		assert.Equal(t, "Beach", rec.Get("title"))
		assert.Equal(t, rec.CalculateHash(), rec.Hash)
	})

	t.Run("no changes writes nothing", func(t *testing.T) {
		before, err := db.GetRecord(ctx, "photo-album", "ph-0001", cols)
		require.NoError(t, err)
		_, changed, err := db.UpdateRecord(ctx, "photo-album", "ph-0001", "carol", cols, func(map[string]string) (map[string]string, error) {
			return map[string]string{"image_data": "new"}, nil
		})
		require.NoError(t, err)
		assert.False(t, changed)
		after, err := db.GetRecord(ctx, "photo-album", "ph-0001", cols)
		require.NoError(t, err)
		assert.Equal(t, before.UpdatedBy, after.UpdatedBy)
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := db.UpdateRecord(ctx, "photo-album", "ph-0001", "bob", cols, func(map[string]string) (map[string]string, error) {
			return map[string]string{"title": "ignored"}, boom
		})
		assert.ErrorIs(t, err, boom)
		rec, err := db.GetRecord(ctx, "photo-album", "ph-0001", cols)
		require.NoError(t, err)
		assert.Equal(t, "Beach", rec.Get("title"))
	})

	t.Run("empty value clears", func(t *testing.T) {
		rec, _, err := db.UpdateRecord(ctx, "photo-album", "ph-0001", "bob", cols, func(map[string]string) (map[string]string, error) {
			return map[string]string{"image_data": ""}, nil
		})
		require.NoError(t, err)
		assert.Empty(t, rec.Get("image_data"))
	})

	t.Run("unknown column", func(t *testing.T) {
		_, _, err := db.UpdateRecord(ctx, "photo-album", "ph-0001", "bob", cols, func(map[string]string) (map[string]string, error) {
			return map[string]string{"nope": "x"}, nil
		})
		assert.ErrorIs(t, err, model.ErrColumnNotFound)
	})

	t.Run("missing record", func(t *testing.T) {
		_, _, err := db.UpdateRecord(ctx, "photo-album", "ph-9999", "bob", cols, func(map[string]string) (map[string]string, error) {
			t.Fatal("callback must not run")
			return nil, nil
		})
		assert.ErrorIs(t, err, model.ErrRecordNotFound)
	})
}

// Concurrent read-modify-write transactions must serialize: every increment
// survives.
func TestSQLite_UpdateRecordSerializes(t *testing.T) {
	ctx := context.Background()
	cols := []string{"counter"}
	db := newTestSQLite(t, cols...)
	insert(t, db, "ph-0001", map[string]string{"counter": "0"}, cols)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := db.UpdateRecord(ctx, "photo-album", "ph-0001", "w", cols, func(fresh map[string]string) (map[string]string, error) {
				var n int
				fmt.Sscanf(fresh["counter"], "%d", &n)
				return map[string]string{"counter": fmt.Sprint(n + 1)}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := db.GetRecord(ctx, "photo-album", "ph-0001", cols)
	require.NoError(t, err)
	assert.Equal(t, "10", rec.Get("counter"))
}

func TestSQLite_ListRecords(t *testing.T) {
	ctx := context.Background()
	cols := []string{"title", "image_data"}
	db := newTestSQLite(t, cols...)
	insert(t, db, "ph-0001", map[string]string{"title": "Beach", "image_data": "x"}, cols)
	insert(t, db, "ph-0002", map[string]string{"title": "Bridge"}, cols)
	insert(t, db, "ph-0003", map[string]string{"title": "Cat"}, cols)

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"all", ListOptions{OrderBy: "id"}, []string{"ph-0001", "ph-0002", "ph-0003"}},
		{"descending", ListOptions{OrderBy: "id", Descending: true}, []string{"ph-0003", "ph-0002", "ph-0001"}},
		{"limit offset", ListOptions{OrderBy: "id", Limit: 1, Offset: 1}, []string{"ph-0002"}},
		{"offset only", ListOptions{OrderBy: "id", Offset: 2}, []string{"ph-0003"}},
		{"equals", ListOptions{Where: []WhereCondition{{Field: "TITLE", Operator: "=", Value: "Cat"}}}, []string{"ph-0003"}},
		{"like", ListOptions{OrderBy: "id", Where: []WhereCondition{{Field: "title", Operator: "LIKE", Value: "B%"}}}, []string{"ph-0001", "ph-0002"}},
		{"attached", ListOptions{Where: []WhereCondition{{Field: "image_data", Operator: "IS NOT NULL"}}}, []string{"ph-0001"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := db.ListRecords(ctx, "photo-album", cols, tt.opts)
			require.NoError(t, err)
			var ids []string
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	t.Run("unknown field", func(t *testing.T) {
		_, err := db.ListRecords(ctx, "photo-album", cols, ListOptions{Where: []WhereCondition{{Field: "nope", Operator: "=", Value: "x"}}})
		assert.ErrorIs(t, err, model.ErrColumnNotFound)
	})

	t.Run("count and delete", func(t *testing.T) {
		deleted, err := db.DeleteRecord(ctx, "photo-album", "ph-0002", cols)
		require.NoError(t, err)
		assert.Equal(t, "ph-0002", deleted.ID)
		_, err = db.DeleteRecord(ctx, "photo-album", "ph-0002", cols)
		assert.ErrorIs(t, err, model.ErrRecordNotFound)
		n, err := db.CountRecords("photo-album")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, db.ClearTable("photo-album"))
		n, err = db.CountRecords("photo-album")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSanitizeTableName(t *testing.T) {
	assert.Equal(t, "photo_album", sanitizeTableName("photo-album"))
	assert.Equal(t, "photos", sanitizeTableName("photos"))
}
