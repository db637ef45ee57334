package attacher

import (
	"fmt"
	"mime"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/user/stow/internal/model"
)

// Validator inspects the attachment state and returns error messages.
// Validators must not perform I/O; they only see metadata.
type Validator func(file *model.UploadedFile, derivatives *model.Derivatives) []string

// Required fails when nothing is attached.
func Required() Validator {
	return func(file *model.UploadedFile, _ *model.Derivatives) []string {
		if file == nil {
			return []string{"file is required"}
		}
		return nil
	}
}

// MaxSize rejects files larger than max bytes.
func MaxSize(max int64) Validator {
	return func(file *model.UploadedFile, _ *model.Derivatives) []string {
		if file == nil {
			return nil
		}
		if size := file.Size(); size > max {
			return []string{fmt.Sprintf("size must not be greater than %s", humanize.IBytes(uint64(max)))}
		}
		return nil
	}
}

// MinSize rejects files smaller than min bytes. Unknown sizes fail.
func MinSize(min int64) Validator {
	return func(file *model.UploadedFile, _ *model.Derivatives) []string {
		if file == nil {
			return nil
		}
		if size := file.Size(); size < min {
			return []string{fmt.Sprintf("size must not be less than %s", humanize.IBytes(uint64(min)))}
		}
		return nil
	}
}

// MimeTypeIn accepts only the listed MIME types. Entries like "image/*"
// match a whole top-level type.
func MimeTypeIn(types ...string) Validator {
	return func(file *model.UploadedFile, _ *model.Derivatives) []string {
		if file == nil {
			return nil
		}
		mt, _, err := mime.ParseMediaType(file.MimeType())
		if err != nil {
			mt = strings.ToLower(file.MimeType())
		}
		for _, t := range types {
			t = strings.ToLower(t)
			if t == mt {
				return nil
			}
			if prefix, ok := strings.CutSuffix(t, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
				return nil
			}
		}
		return []string{fmt.Sprintf("type must be one of: %s", strings.Join(types, ", "))}
	}
}

// ExtensionIn accepts only the listed extensions, with or without the dot.
func ExtensionIn(exts ...string) Validator {
	return func(file *model.UploadedFile, _ *model.Derivatives) []string {
		if file == nil {
			return nil
		}
		ext := file.Extension()
		for _, e := range exts {
			if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
				return nil
			}
		}
		return []string{fmt.Sprintf("extension must be one of: %s", strings.Join(exts, ", "))}
	}
}
