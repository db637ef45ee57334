package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/model"
	"github.com/user/stow/internal/storage"
)

type fileView struct {
	ID       string `json:"id"`
	Storage  string `json:"storage"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`
}

func viewFile(f *model.UploadedFile) *fileView {
	if f == nil {
		return nil
	}
	return &fileView{ID: f.ID, Storage: f.Storage, Filename: f.Filename(), MimeType: f.MimeType(), Size: f.Size()}
}

func (f *fileView) String() string {
	s := f.Storage + ":" + f.ID
	var extra []string
	if f.Filename != "" {
		extra = append(extra, f.Filename)
	}
	if f.Size >= 0 {
		extra = append(extra, humanize.Bytes(uint64(f.Size)))
	}
	if f.MimeType != "" {
		extra = append(extra, f.MimeType)
	}
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s
}

type attachmentView struct {
	Name        string               `json:"name"`
	State       string               `json:"state"`
	File        *fileView            `json:"file,omitempty"`
	Derivatives map[string]*fileView `json:"derivatives,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
}

func viewAttachment(name string, a *attacher.Attacher) attachmentView {
	v := attachmentView{Name: name, State: "none", File: viewFile(a.File()), Errors: a.Errors()}
	switch {
	case a.Cached():
		v.State = "cached"
	case a.Stored():
		v.State = "stored"
	}
	_ = a.Derivatives().Walk(func(path []interface{}, f *model.UploadedFile) error {
		if v.Derivatives == nil {
			v.Derivatives = map[string]*fileView{}
		}
		v.Derivatives[model.FormatPath(path)] = viewFile(f)
		return nil
	})
	return v
}

func printAttachment(w io.Writer, v attachmentView) {
	if v.File == nil {
		fmt.Fprintf(w, "%s: (none)\n", v.Name)
	} else {
		fmt.Fprintf(w, "%s: %s [%s]\n", v.Name, v.File, v.State)
	}
	paths := make([]string, 0, len(v.Derivatives))
	for p := range v.Derivatives {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(w, "  %s: %s\n", p, v.Derivatives[p])
	}
	for _, e := range v.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

type recordView struct {
	ID          string            `json:"id"`
	Hash        string            `json:"hash"`
	CreatedAt   time.Time         `json:"created_at"`
	CreatedBy   string            `json:"created_by"`
	UpdatedAt   time.Time         `json:"updated_at"`
	UpdatedBy   string            `json:"updated_by"`
	Fields      map[string]string `json:"fields"`
	Attachments []attachmentView  `json:"attachments"`
}

func viewEntry(e *storage.Entry, attachments []string) recordView {
	rec := e.Record()
	v := recordView{
		ID:          rec.ID,
		Hash:        rec.Hash,
		CreatedAt:   rec.CreatedAt,
		CreatedBy:   rec.CreatedBy,
		UpdatedAt:   rec.UpdatedAt,
		UpdatedBy:   rec.UpdatedBy,
		Fields:      map[string]string{},
		Attachments: []attachmentView{},
	}
	for _, name := range attachments {
		if a := e.Attacher(name); a != nil {
			v.Attachments = append(v.Attachments, viewAttachment(name, a))
		}
		delete(rec.Fields, model.AttachmentColumn(name))
	}
	for k, val := range rec.Fields {
		v.Fields[k] = val
	}
	return v
}

// openUpload opens a local file for attaching.
func openUpload(path string) (*os.File, string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, "", fmt.Errorf("%w: %s", model.ErrFileNotFound, path)
	}
	if err != nil {
		return nil, "", err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, "", err
	}
	if info.IsDir() {
		f.Close()
		return nil, "", usagef("%s is a directory", path)
	}
	return f, filepath.Base(path), nil
}

// splitAssignment parses "key=value".
func splitAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", usagef("invalid assignment %q (expected key=value)", s)
	}
	return key, strings.TrimSpace(value), nil
}
