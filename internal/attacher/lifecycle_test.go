package attacher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stow/internal/logging"
	"github.com/user/stow/internal/model"
)

func TestReplaceThenDestroy(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *Attacher, *swapRecord, string) {
		f := newFixture(t)
		a, rec := f.attacher(t, "usr-0001")
		_, err := a.Attach(ctx, strings.NewReader("old"))
		require.NoError(t, err)
		require.NoError(t, rec.save(ctx, a, false))
		oldID := a.File().ID

		b, rec2 := f.attacher(t, "usr-0001")
		_, err = b.Attach(ctx, strings.NewReader("new"))
		require.NoError(t, err)
		return f, b, rec2, oldID
	}

	t.Run("committed save deletes the old file", func(t *testing.T) {
		f, b, rec, oldID := setup(t)
		require.NoError(t, rec.save(ctx, b, false))

		live := f.store.live(t)
		assert.Equal(t, []string{b.File().ID}, live)
		assert.NotContains(t, live, oldID)
		assert.False(t, b.Changed())
	})

	t.Run("rolled back save keeps the old file", func(t *testing.T) {
		f, b, rec, oldID := setup(t)
		require.Error(t, rec.save(ctx, b, true))

		assert.Equal(t, []string{oldID}, f.store.live(t))
		stored, ok := columnFile(f.db.get("usr-0001", "avatar_data"))
		require.True(t, ok)
		assert.Equal(t, oldID, stored.ID)
		assert.True(t, b.Changed())
	})
}

func TestAfterSave_CachedPreviousIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) {
		c.PromoteHook = func(context.Context, Job) error { return nil }
	})
	a, rec := f.attacher(t, "usr-0001")
	first, err := a.Attach(ctx, strings.NewReader("one"))
	require.NoError(t, err)
	require.NoError(t, rec.save(ctx, a, false))

	b, rec2 := f.attacher(t, "usr-0001")
	_, err = b.Attach(ctx, strings.NewReader("two"))
	require.NoError(t, err)
	require.NoError(t, rec2.save(ctx, b, false))

	assert.Contains(t, f.cache.live(t), first.ID, "cached previous files are left to cache expiry")
}

func TestBeforeSave_Invalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) {
		c.Validators = []Validator{MaxSize(1)}
	})
	a, rec := f.attacher(t, "usr-0001")
	_, err := a.Attach(ctx, strings.NewReader("too big"))
	require.NoError(t, err)

	err = rec.save(ctx, a, false)
	assert.ErrorIs(t, err, model.ErrInvalidAttachment)
	assert.Contains(t, err.Error(), "size must not be greater than 1 B")
	assert.Empty(t, f.db.get("usr-0001", "avatar_data"))
}

func TestAfterSave_Conflicts(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, ignore bool) error {
		f := newFixture(t, func(c *Config) { c.IgnoreConflicts = ignore })
		a, rec := f.attacher(t, "usr-0001")
		_, err := a.Attach(ctx, strings.NewReader("x"))
		require.NoError(t, err)
		f.store.onUpload = func(string) { f.db.set("usr-0001", "avatar_data", "") }
		return rec.save(ctx, a, false)
	}

	t.Run("returned by default", func(t *testing.T) {
		assert.ErrorIs(t, run(t, false), model.ErrAttachmentChanged)
	})

	t.Run("dropped when ignored", func(t *testing.T) {
		assert.NoError(t, run(t, true))
	})

	t.Run("ignored conflicts are logged", func(t *testing.T) {
		logger, buf := logging.NewBuffer()
		f := newFixture(t, func(c *Config) {
			c.IgnoreConflicts = true
			c.Logger = logger
		})
		a, rec := f.attacher(t, "usr-0001")
		_, err := a.Attach(ctx, strings.NewReader("x"))
		require.NoError(t, err)
		f.store.onUpload = func(string) { f.db.set("usr-0001", "avatar_data", "") }
		require.NoError(t, rec.save(ctx, a, false))
		assert.Contains(t, buf.String(), "attachment changed concurrently")
	})
}

func TestAfterSave_DirtyDerivatives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, rec := f.attacher(t, "usr-0001")
	_, err := a.Attach(ctx, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, rec.save(ctx, a, false))

	_, err = a.AddDerivative(ctx, strings.NewReader("t"), []interface{}{"thumb"})
	require.NoError(t, err)
	assert.False(t, a.Changed())
	assert.True(t, a.Dirty())

	require.NoError(t, rec.save(ctx, a, false))
	assert.False(t, a.Dirty())

	fresh, err := f.att.Attacher(rec)
	require.NoError(t, err)
	assert.NotNil(t, fresh.Derivatives().FileAt("thumb"))
}

func TestAfterDestroy(t *testing.T) {
	ctx := context.Background()

	t.Run("stored file and derivatives are deleted", func(t *testing.T) {
		f := newFixture(t)
		a, rec := f.attacher(t, "usr-0001")
		_, err := a.Attach(ctx, strings.NewReader("x"))
		require.NoError(t, err)
		require.NoError(t, rec.save(ctx, a, false))
		_, err = a.AddDerivative(ctx, strings.NewReader("t"), []interface{}{"thumb"})
		require.NoError(t, err)
		require.NoError(t, a.AtomicPersist(ctx))
		require.Len(t, f.store.live(t), 2)

		f.db.remove("usr-0001")
		require.NoError(t, a.AfterDestroy(ctx))
		assert.Empty(t, f.store.live(t))
	})

	t.Run("cached file is left alone", func(t *testing.T) {
		f := newFixture(t)
		a, _ := f.attacher(t, "usr-0001")
		_, err := a.Attach(ctx, strings.NewReader("x"))
		require.NoError(t, err)
		require.NoError(t, a.AfterDestroy(ctx))
		assert.Len(t, f.cache.live(t), 1)
	})

	t.Run("stored derivatives of a cached file are deleted", func(t *testing.T) {
		f := newFixture(t)
		a, _ := f.attacher(t, "usr-0001")
		cached, err := a.Attach(ctx, strings.NewReader("x"))
		require.NoError(t, err)
		thumb, err := a.AddDerivative(ctx, strings.NewReader("t"), []interface{}{"thumb"})
		require.NoError(t, err)
		require.Equal(t, "store", thumb.Storage)

		require.NoError(t, a.AfterDestroy(ctx))
		assert.Empty(t, f.store.live(t))
		assert.Equal(t, []string{cached.ID}, f.cache.live(t))
	})

	t.Run("failures are swallowed", func(t *testing.T) {
		f := newFixture(t)
		a, rec := f.attacher(t, "usr-0001")
		_, err := a.Attach(ctx, strings.NewReader("x"))
		require.NoError(t, err)
		require.NoError(t, rec.save(ctx, a, false))
		f.store.failOn = func(op, _ string) error {
			if op == "delete" {
				return assert.AnError
			}
			return nil
		}
		assert.NoError(t, a.AfterDestroy(ctx))
		assert.ErrorIs(t, a.Destroy(ctx), assert.AnError)
	})
}

func TestDetach_DeletesAfterSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, rec := f.attacher(t, "usr-0001")
	_, err := a.Attach(ctx, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, rec.save(ctx, a, false))
	require.Len(t, f.store.live(t), 1)

	b, rec2 := f.attacher(t, "usr-0001")
	b.Detach()
	assert.Len(t, f.store.live(t), 1, "nothing deleted before save")
	require.NoError(t, rec2.save(ctx, b, false))
	assert.Empty(t, f.store.live(t))
	assert.Empty(t, f.db.get("usr-0001", "avatar_data"))
}
