package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Operation types for JSONL history entries
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Record represents a single row in a stash. User columns live in Fields as
// text; attachment columns hold the serialized attachment JSON.
type Record struct {
	ID        string
	Hash      string
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
	DeletedAt *time.Time
	DeletedBy string
	Operation string
	Fields    map[string]string
}

// IsDeleted returns true if the record has been deleted.
func (r *Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Get returns a column value; missing columns read as "".
func (r *Record) Get(column string) string {
	return r.Fields[column]
}

// Set assigns a column value. An empty value clears the column.
func (r *Record) Set(column, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	if value == "" {
		delete(r.Fields, column)
		return
	}
	r.Fields[column] = value
}

// Clone returns a copy that shares no maps with r.
func (r *Record) Clone() *Record {
	out := *r
	out.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// CalculateHash computes the SHA-256 hash of the record's user fields.
func (r *Record) CalculateHash() string {
	return CalculateHash(r.Fields)
}

// CalculateHash computes a deterministic hash from a map of fields.
// Keys starting with "_" are ignored. Returns the first 12 hex characters.
func CalculateHash(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(":")
		buf.WriteString(fields[k])
		buf.WriteString("\n")
	}

	hash := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(hash[:])[:12]
}

// MarshalJSON flattens Fields next to the "_" prefixed system fields.
func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Fields)+10)
	m["_id"] = r.ID
	m["_hash"] = r.Hash
	m["_op"] = r.Operation
	m["_created_at"] = r.CreatedAt
	m["_created_by"] = r.CreatedBy
	m["_updated_at"] = r.UpdatedAt
	m["_updated_by"] = r.UpdatedBy
	if r.DeletedAt != nil {
		m["_deleted_at"] = r.DeletedAt
		m["_deleted_by"] = r.DeletedBy
	}
	for k, v := range r.Fields {
		m[k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits system fields from user fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	ts := func(key string) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, str(key))
		return t
	}

	r.ID = str("_id")
	r.Hash = str("_hash")
	r.Operation = str("_op")
	r.CreatedAt = ts("_created_at")
	r.CreatedBy = str("_created_by")
	r.UpdatedAt = ts("_updated_at")
	r.UpdatedBy = str("_updated_by")
	r.DeletedAt = nil
	r.DeletedBy = str("_deleted_by")
	if str("_deleted_at") != "" {
		t := ts("_deleted_at")
		r.DeletedAt = &t
	}

	r.Fields = make(map[string]string)
	for k, v := range m {
		if strings.HasPrefix(k, "_") {
			continue
		}
		switch val := v.(type) {
		case string:
			r.Fields[k] = val
		case nil:
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				return err
			}
			r.Fields[k] = string(raw)
		}
	}
	return nil
}
