package attacher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/stow/internal/model"
)

func TestValidators(t *testing.T) {
	png := model.NewUploadedFile("cache", "a.png", map[string]interface{}{
		"size":      float64(2048),
		"mime_type": "image/png",
	})
	empty := model.NewDerivatives()

	tests := []struct {
		name   string
		v      Validator
		file   *model.UploadedFile
		errors int
	}{
		{"required with file", Required(), png, 0},
		{"required without file", Required(), nil, 1},
		{"max size ok", MaxSize(4096), png, 0},
		{"max size exceeded", MaxSize(1024), png, 1},
		{"min size ok", MinSize(1024), png, 0},
		{"min size short", MinSize(4096), png, 1},
		{"mime exact", MimeTypeIn("image/png"), png, 0},
		{"mime wildcard", MimeTypeIn("image/*"), png, 0},
		{"mime rejected", MimeTypeIn("application/pdf"), png, 1},
		{"extension ok", ExtensionIn(".PNG", "jpg"), png, 0},
		{"extension rejected", ExtensionIn("pdf"), png, 1},
		{"nil file skips size", MaxSize(1), nil, 0},
		{"nil file skips mime", MimeTypeIn("image/png"), nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.v(tt.file, empty), tt.errors)
		})
	}

	t.Run("messages are readable", func(t *testing.T) {
		assert.Equal(t, []string{"size must not be greater than 1.0 KiB"}, MaxSize(1024)(png, empty))
		assert.Equal(t, []string{"type must be one of: application/pdf, text/plain"}, MimeTypeIn("application/pdf", "text/plain")(png, empty))
	})
}
