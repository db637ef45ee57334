package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	t.Run("generates valid ID with prefix", func(t *testing.T) {
		id, err := GenerateID("doc-")
		require.NoError(t, err)
		assert.Regexp(t, `^doc-[0-9a-z]{4}$`, id)
		assert.NoError(t, ValidateID(id))
	})

	t.Run("rejects invalid prefix", func(t *testing.T) {
		_, err := GenerateID("invalid")
		assert.ErrorIs(t, err, ErrInvalidPrefix)
	})
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"ab-1234", "doc-ex4j", "abcd-0000"} {
		assert.NoError(t, ValidateID(id), id)
	}
	for _, id := range []string{"", "doc", "doc-", "DOC-ex4j", "doc-ex4j.1", "abcde-1234"} {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, id)
	}
}
