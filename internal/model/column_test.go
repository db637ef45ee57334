package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateColumnName(t *testing.T) {
	for _, name := range []string{"title", "Title", "my_column", "Column123", "A", "avatar_data"} {
		t.Run("valid: "+name, func(t *testing.T) {
			assert.NoError(t, ValidateColumnName(name))
		})
	}

	invalid := []struct {
		name string
		err  error
	}{
		{"_id", ErrReservedColumn},
		{"_HASH", ErrReservedColumn},
		{"_updated_by", ErrReservedColumn},
		{"123name", ErrInvalidColumn},
		{"my-column", ErrInvalidColumn},
		{"my column", ErrInvalidColumn},
		{"", ErrInvalidColumn},
	}
	for _, tt := range invalid {
		t.Run("invalid: "+tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateColumnName(tt.name), tt.err)
		})
	}
}

func TestAttachmentColumns(t *testing.T) {
	assert.Equal(t, "avatar_data", AttachmentColumn("avatar"))

	col := Column{Name: AttachmentColumn("avatar"), Kind: KindAttachment}
	assert.True(t, col.IsAttachment())
	assert.Equal(t, "avatar", col.AttachmentName())

	assert.False(t, Column{Name: "title"}.IsAttachment())
}

func TestColumnList(t *testing.T) {
	cols := ColumnList{
		{Name: "Title"},
		{Name: "image_data", Kind: KindAttachment},
		{Name: "notes"},
		{Name: "thumb_data", Kind: KindAttachment},
	}

	t.Run("find is case-insensitive", func(t *testing.T) {
		c := cols.Find("title")
		if assert.NotNil(t, c) {
			assert.Equal(t, "Title", c.Name)
		}
		assert.Nil(t, cols.Find("missing"))
		assert.True(t, cols.Exists("NOTES"))
	})

	t.Run("names keep order", func(t *testing.T) {
		assert.Equal(t, []string{"Title", "image_data", "notes", "thumb_data"}, cols.Names())
	})

	t.Run("attachments", func(t *testing.T) {
		assert.Equal(t, []string{"image", "thumb"}, cols.Attachments())
		assert.Nil(t, ColumnList{{Name: "title"}}.Attachments())
	})
}
