package attacher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/user/stow/internal/blob"
	"github.com/user/stow/internal/model"
)

// state is the (file, derivatives) pair an attacher held before its first change.
type state struct {
	file        *model.UploadedFile
	derivatives *model.Derivatives
}

// Attacher tracks the attachment of one record column. It is not safe for
// concurrent use; concurrent writers are detected through the record column.
type Attacher struct {
	att    *Attachment
	record Record

	file        *model.UploadedFile
	derivatives *model.Derivatives

	// previous is nil until the first change after a load.
	previous *state
	dirty    bool
	pending  []*model.UploadedFile
	errors   []string
}

// Attachment returns the definition this attacher was built from.
func (a *Attacher) Attachment() *Attachment { return a.att }

// Record returns the backing record, or nil for detached attachers.
func (a *Attacher) Record() Record { return a.record }

// File returns the attached file, or nil.
func (a *Attacher) File() *model.UploadedFile { return a.file }

// Derivatives returns the derivative tree. The tree is never nil.
func (a *Attacher) Derivatives() *model.Derivatives { return a.derivatives }

// Attached reports whether a file is set.
func (a *Attacher) Attached() bool { return a.file != nil }

// Cached reports whether the file lives on the cache storage.
func (a *Attacher) Cached() bool {
	return a.file != nil && a.file.Storage == a.att.cfg.Cache
}

// Stored reports whether the file lives on the store storage.
func (a *Attacher) Stored() bool {
	return a.file != nil && a.file.Storage == a.att.cfg.Store
}

// Changed reports whether the file differs from what was loaded.
func (a *Attacher) Changed() bool { return a.previous != nil }

// Dirty reports whether derivatives were modified since the last load.
func (a *Attacher) Dirty() bool { return a.dirty }

// Previous returns the file held before the first change, if any.
func (a *Attacher) Previous() *model.UploadedFile {
	if a.previous == nil {
		return nil
	}
	return a.previous.file
}

// Errors returns the messages collected by the last Validate.
func (a *Attacher) Errors() []string {
	return append([]string(nil), a.errors...)
}

// Pending returns files scheduled for deletion after the next persist.
func (a *Attacher) Pending() []*model.UploadedFile {
	return append([]*model.UploadedFile(nil), a.pending...)
}

// Attach uploads r to the cache storage (or the storage chosen with
// WithStorage) and makes it the attached file.
func (a *Attacher) Attach(ctx context.Context, r io.Reader, opts ...UploadOption) (*model.UploadedFile, error) {
	o := uploadOptions{storage: a.att.cfg.Cache}
	for _, opt := range opts {
		opt(&o)
	}
	f, err := a.upload(ctx, r, o)
	if err != nil {
		return nil, err
	}
	a.change(f)
	a.Validate()
	return f, nil
}

// AttachCached uploads r to the cache storage.
func (a *Attacher) AttachCached(ctx context.Context, r io.Reader, opts ...UploadOption) (*model.UploadedFile, error) {
	return a.Attach(ctx, r, append(opts, WithStorage(a.att.cfg.Cache))...)
}

// Assign accepts what typically arrives from a form field: a reader to
// upload, a cached file reference to adopt again (JSON string, decoded map or
// *model.UploadedFile), or an empty value which detaches.
func (a *Attacher) Assign(ctx context.Context, value interface{}) error {
	switch v := value.(type) {
	case nil:
		a.Detach()
		return nil
	case string:
		return a.assignJSON(ctx, []byte(v))
	case []byte:
		return a.assignJSON(ctx, v)
	case map[string]interface{}:
		return a.assignCached(ctx, v)
	case *model.UploadedFile:
		if v == nil {
			a.Detach()
			return nil
		}
		return a.assignCached(ctx, v.Data())
	case io.Reader:
		_, err := a.Attach(ctx, v)
		return err
	default:
		return fmt.Errorf("%w: cannot assign %T", model.ErrInvalidFile, value)
	}
}

func (a *Attacher) assignJSON(ctx context.Context, data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		a.Detach()
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidFile, err)
	}
	return a.assignCached(ctx, m)
}

// assignCached adopts a file that an earlier request already uploaded to the
// cache. Anything else would let a client point the record at arbitrary
// stored files.
func (a *Attacher) assignCached(ctx context.Context, data map[string]interface{}) error {
	f, err := model.ParseUploadedFile(data)
	if err != nil {
		return err
	}
	if f.Storage != a.att.cfg.Cache {
		return fmt.Errorf("%w: expected cached file, got %s", model.ErrAttachmentChanged, f)
	}

	derivs := model.NewDerivatives()
	if raw, ok := data["derivatives"]; ok {
		derivs, err = model.ParseDerivatives(raw)
		if err != nil {
			return err
		}
		for _, d := range derivs.Files() {
			if d.Storage != a.att.cfg.Cache {
				return fmt.Errorf("%w: expected cached derivative, got %s", model.ErrAttachmentChanged, d)
			}
		}
	}

	store, err := a.att.Storage(f.Storage)
	if err != nil {
		return err
	}
	for _, c := range append([]*model.UploadedFile{f}, derivs.Files()...) {
		ok, err := store.Exists(ctx, c.ID)
		if err != nil {
			return blob.Wrap("exists", c.Storage, c.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrFileNotFound, c)
		}
	}

	a.change(f)
	if !derivs.IsEmpty() {
		a.derivatives = derivs
		a.dirty = true
	}
	a.Validate()
	return nil
}

// Detach clears the attached file. The old file is deleted only after the
// record is saved.
func (a *Attacher) Detach() {
	a.change(nil)
	a.Validate()
}

// change sets file, remembering what was there before the first change.
// Derivatives belong to the file they were made from, so they go with it.
func (a *Attacher) change(file *model.UploadedFile) {
	if model.Same(file, a.file) {
		return
	}
	if a.previous == nil {
		a.previous = &state{file: a.file, derivatives: a.derivatives}
	}
	a.file = file
	a.derivatives = model.NewDerivatives()
}

// Validate reruns all validators over the current state. It never touches
// storage.
func (a *Attacher) Validate() bool {
	a.errors = nil
	for _, v := range a.att.cfg.Validators {
		a.errors = append(a.errors, v(a.file, a.derivatives)...)
	}
	return len(a.errors) == 0
}

// Data returns the JSON-compatible form stored in the column, or nil when
// there is nothing attached.
func (a *Attacher) Data() map[string]interface{} {
	if a.file == nil && a.derivatives.IsEmpty() {
		return nil
	}
	data := map[string]interface{}{}
	if a.file != nil {
		data = a.file.Data()
	}
	if !a.derivatives.IsEmpty() {
		data["derivatives"] = a.derivatives.Data()
	}
	return data
}

// Column returns the serialized column value; empty means NULL.
func (a *Attacher) Column() (string, error) {
	data := a.Data()
	if data == nil {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", a.att.Column(), err)
	}
	return string(b), nil
}

// Load replaces the state with data and forgets any change tracking.
func (a *Attacher) Load(data map[string]interface{}) error {
	file, derivs, err := parseData(data)
	if err != nil {
		return err
	}
	a.file = file
	a.derivatives = derivs
	a.reset()
	return nil
}

// LoadColumn is Load for the serialized column value.
func (a *Attacher) LoadColumn(value string) error {
	file, derivs, err := parseColumn(value)
	if err != nil {
		return fmt.Errorf("load %s: %w", a.att.Column(), err)
	}
	a.file = file
	a.derivatives = derivs
	a.reset()
	return nil
}

// Reload re-reads the record and loads the fresh column.
func (a *Attacher) Reload(ctx context.Context) error {
	if a.record == nil {
		return fmt.Errorf("%w: attacher has no record", model.ErrConfiguration)
	}
	if err := a.record.Reload(ctx); err != nil {
		return err
	}
	return a.LoadColumn(a.record.Column(a.att.Column()))
}

func (a *Attacher) reset() {
	a.previous = nil
	a.dirty = false
	a.pending = nil
	a.errors = nil
}

// URL returns a URL for the attached file, or "" when nothing is attached.
func (a *Attacher) URL(ctx context.Context, opts blob.URLOptions) (string, error) {
	if a.file == nil {
		return "", nil
	}
	return a.fileURL(ctx, a.file, opts)
}

// DerivativeURL returns a URL for the derivative at path.
func (a *Attacher) DerivativeURL(ctx context.Context, opts blob.URLOptions, path ...interface{}) (string, error) {
	f := a.derivatives.FileAt(path...)
	if f == nil {
		return "", fmt.Errorf("%w: %s not found", model.ErrInvalidPath, model.FormatPath(path))
	}
	return a.fileURL(ctx, f, opts)
}

func (a *Attacher) fileURL(ctx context.Context, f *model.UploadedFile, opts blob.URLOptions) (string, error) {
	store, err := a.att.Storage(f.Storage)
	if err != nil {
		return "", err
	}
	url, err := store.URL(ctx, f.ID, opts)
	return url, blob.Wrap("url", f.Storage, f.ID, err)
}

// Open streams the attached file.
func (a *Attacher) Open(ctx context.Context) (io.ReadCloser, error) {
	if a.file == nil {
		return nil, model.ErrNotAttached
	}
	store, err := a.att.Storage(a.file.Storage)
	if err != nil {
		return nil, err
	}
	r, err := store.Open(ctx, a.file.ID)
	if err != nil {
		return nil, blob.Wrap("open", a.file.Storage, a.file.ID, err)
	}
	return r, nil
}

// parseColumn decodes a column value. Empty and "null" mean nothing attached.
func parseColumn(value string) (*model.UploadedFile, *model.Derivatives, error) {
	s := strings.TrimSpace(value)
	if s == "" || s == "null" {
		return nil, model.NewDerivatives(), nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidFile, err)
	}
	return parseData(data)
}

func parseData(data map[string]interface{}) (*model.UploadedFile, *model.Derivatives, error) {
	derivs := model.NewDerivatives()
	if len(data) == 0 {
		return nil, derivs, nil
	}
	var err error
	if raw, ok := data["derivatives"]; ok {
		derivs, err = model.ParseDerivatives(raw)
		if err != nil {
			return nil, nil, err
		}
	}
	_, hasID := data["id"]
	_, hasStorage := data["storage"]
	if !hasID && !hasStorage {
		return nil, derivs, nil
	}
	file, err := model.ParseUploadedFile(data)
	if err != nil {
		return nil, nil, err
	}
	return file, derivs, nil
}

// columnFile returns just the file referenced by a column value. Unparseable
// values count as "some other file".
func columnFile(value string) (*model.UploadedFile, bool) {
	file, _, err := parseColumn(value)
	if err != nil {
		return nil, false
	}
	return file, true
}
