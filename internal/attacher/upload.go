package attacher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-multierror"

	"github.com/user/stow/internal/blob"
	"github.com/user/stow/internal/model"
)

// sniffLen is how much of an upload is buffered for MIME detection.
const sniffLen = 3072

// UploadOption tunes a single upload.
type UploadOption func(*uploadOptions)

type uploadOptions struct {
	storage  string
	filename string
	location string
	metadata map[string]interface{}
}

// WithStorage uploads to the given storage key.
func WithStorage(key string) UploadOption {
	return func(o *uploadOptions) { o.storage = key }
}

// WithFilename records the original filename. Readers with a Name method
// (such as *os.File) provide one automatically.
func WithFilename(name string) UploadOption {
	return func(o *uploadOptions) { o.filename = name }
}

// WithMetadata merges extra metadata over the extracted values.
func WithMetadata(md map[string]interface{}) UploadOption {
	return func(o *uploadOptions) { o.metadata = md }
}

// WithLocation forces the blob ID instead of generating one.
func WithLocation(id string) UploadOption {
	return func(o *uploadOptions) { o.location = id }
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// upload streams r into the chosen storage under a fresh ID and returns the
// reference with extracted metadata.
func (a *Attacher) upload(ctx context.Context, r io.Reader, o uploadOptions) (*model.UploadedFile, error) {
	store, err := a.att.Storage(o.storage)
	if err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	filename := o.filename
	if filename == "" {
		if named, ok := r.(interface{ Name() string }); ok {
			filename = filepath.Base(named.Name())
		}
	}

	mt := mimetype.Detect(head)
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = mt.Extension()
	}

	id := o.location
	if id == "" {
		id = a.att.cfg.NewID(ext)
	}

	md := map[string]interface{}{
		model.MetaMimeType: baseMimeType(mt.String()),
	}
	if filename != "" {
		md[model.MetaFilename] = filename
	}
	for k, v := range o.metadata {
		md[k] = v
	}

	body := &countingReader{r: io.MultiReader(bytes.NewReader(head), r)}
	if err := store.Upload(ctx, body, id, md); err != nil {
		return nil, blob.Wrap("upload", o.storage, id, err)
	}
	if _, ok := o.metadata[model.MetaSize]; !ok {
		md[model.MetaSize] = body.n
	}

	f := model.NewUploadedFile(o.storage, id, md)
	a.att.cfg.Logger.Debug("uploaded file", "attachment", a.att.cfg.Name, "file", f.String(), "size", body.n)
	return f, nil
}

func baseMimeType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// copyFile re-uploads f to the storage dest under a fresh ID with the same
// extension and metadata.
func (a *Attacher) copyFile(ctx context.Context, f *model.UploadedFile, dest string) (*model.UploadedFile, error) {
	src, err := a.att.Storage(f.Storage)
	if err != nil {
		return nil, err
	}
	dst, err := a.att.Storage(dest)
	if err != nil {
		return nil, err
	}

	ext := ""
	if e := f.Extension(); e != "" {
		ext = "." + e
	}
	id := a.att.cfg.NewID(ext)

	r, err := src.Open(ctx, f.ID)
	if err != nil {
		return nil, blob.Wrap("open", f.Storage, f.ID, err)
	}
	defer r.Close()

	if err := dst.Upload(ctx, r, id, f.Metadata); err != nil {
		return nil, blob.Wrap("upload", dest, id, err)
	}
	return model.NewUploadedFile(dest, id, f.Metadata), nil
}

// deleteFiles deletes every file, collecting all failures.
func (a *Attacher) deleteFiles(ctx context.Context, files []*model.UploadedFile) error {
	var result *multierror.Error
	for _, f := range files {
		if f == nil {
			continue
		}
		store, err := a.att.Storage(f.Storage)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := store.Delete(ctx, f.ID); err != nil {
			result = multierror.Append(result, blob.Wrap("delete", f.Storage, f.ID, err))
		}
	}
	return result.ErrorOrNil()
}

// cleanup deletes files on a best-effort basis. Failures leave orphans and
// are only logged.
func (a *Attacher) cleanup(ctx context.Context, reason string, files []*model.UploadedFile) {
	if len(files) == 0 {
		return
	}
	if err := a.deleteFiles(ctx, files); err != nil {
		a.att.cfg.Logger.Warn("cleanup failed", "attachment", a.att.cfg.Name, "reason", reason, "err", err)
	}
}
