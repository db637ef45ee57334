package model

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Metadata keys written by the uploader.
const (
	MetaFilename = "filename"
	MetaSize     = "size"
	MetaMimeType = "mime_type"
)

// UploadedFile identifies a blob in one of the configured storages.
// It is treated as immutable once created: a replace always allocates a new ID.
type UploadedFile struct {
	ID       string                 `json:"id"`
	Storage  string                 `json:"storage"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewUploadedFile builds a file reference, copying the metadata map.
func NewUploadedFile(storage, id string, metadata map[string]interface{}) *UploadedFile {
	return &UploadedFile{
		ID:       id,
		Storage:  storage,
		Metadata: copyMetadata(metadata),
	}
}

// Same reports whether a and b reference the same blob.
// Only (storage, id) is compared; metadata differences are ignored.
// Two nil files are the same.
func Same(a, b *UploadedFile) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Storage == b.Storage && a.ID == b.ID
}

// Validate checks that the reference names both a storage and an ID.
func (f *UploadedFile) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil file", ErrInvalidFile)
	}
	if f.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFile)
	}
	if f.Storage == "" {
		return fmt.Errorf("%w: missing storage", ErrInvalidFile)
	}
	return nil
}

// String returns "storage:id".
func (f *UploadedFile) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Storage + ":" + f.ID
}

// Filename returns the original filename, if one was recorded.
func (f *UploadedFile) Filename() string {
	s, _ := f.Metadata[MetaFilename].(string)
	return s
}

// MimeType returns the detected MIME type, if one was recorded.
func (f *UploadedFile) MimeType() string {
	s, _ := f.Metadata[MetaMimeType].(string)
	return s
}

// Size returns the recorded size in bytes, or -1 when unknown.
// JSON decoding yields float64, so all numeric kinds are accepted.
func (f *UploadedFile) Size() int64 {
	switch v := f.Metadata[MetaSize].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return n
		}
	}
	return -1
}

// Extension returns the lowercase extension without the dot, taken from the
// ID first and the original filename second.
func (f *UploadedFile) Extension() string {
	ext := path.Ext(f.ID)
	if ext == "" {
		ext = path.Ext(f.Filename())
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// WithMetadata returns a copy carrying the merged metadata.
func (f *UploadedFile) WithMetadata(extra map[string]interface{}) *UploadedFile {
	md := copyMetadata(f.Metadata)
	for k, v := range extra {
		md[k] = v
	}
	return &UploadedFile{ID: f.ID, Storage: f.Storage, Metadata: md}
}

// Data returns the JSON-compatible map form of the file.
func (f *UploadedFile) Data() map[string]interface{} {
	data := map[string]interface{}{
		"id":      f.ID,
		"storage": f.Storage,
	}
	if len(f.Metadata) > 0 {
		data["metadata"] = copyMetadata(f.Metadata)
	}
	return data
}

// ParseUploadedFile accepts the forms a file reference travels in: a JSON
// string, raw JSON bytes, a decoded map, or an *UploadedFile.
func ParseUploadedFile(v interface{}) (*UploadedFile, error) {
	switch val := v.(type) {
	case *UploadedFile:
		if err := val.Validate(); err != nil {
			return nil, err
		}
		return NewUploadedFile(val.Storage, val.ID, val.Metadata), nil
	case string:
		return parseFileJSON([]byte(val))
	case []byte:
		return parseFileJSON(val)
	case map[string]interface{}:
		return fileFromMap(val)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidFile, v)
	}
}

func parseFileJSON(data []byte) (*UploadedFile, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return fileFromMap(m)
}

func fileFromMap(m map[string]interface{}) (*UploadedFile, error) {
	id, _ := m["id"].(string)
	storage, _ := m["storage"].(string)
	f := &UploadedFile{ID: id, Storage: storage}
	if md, ok := m["metadata"].(map[string]interface{}); ok {
		f.Metadata = copyMetadata(md)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// isFileMap reports whether a decoded JSON object looks like a file reference.
func isFileMap(m map[string]interface{}) bool {
	_, hasID := m["id"].(string)
	_, hasStorage := m["storage"].(string)
	return hasID && hasStorage
}

func copyMetadata(md map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
