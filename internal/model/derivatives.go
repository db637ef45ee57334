package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Derivatives is a tree of processed variants of an attached file.
// A node is exactly one of: a leaf (File set), an ordered list (Items set),
// or a map (Children). The root of a tree is always a map.
type Derivatives struct {
	File     *UploadedFile
	Children map[string]*Derivatives
	Items    []*Derivatives
}

// NewDerivatives returns an empty tree.
func NewDerivatives() *Derivatives {
	return &Derivatives{Children: map[string]*Derivatives{}}
}

func newLeaf(f *UploadedFile) *Derivatives {
	return &Derivatives{File: f}
}

// IsLeaf reports whether the node holds a file.
func (d *Derivatives) IsLeaf() bool { return d != nil && d.File != nil }

// IsList reports whether the node is an ordered list.
func (d *Derivatives) IsList() bool { return d != nil && d.File == nil && d.Items != nil }

// IsEmpty reports whether the tree holds no files at all.
func (d *Derivatives) IsEmpty() bool {
	return len(d.Files()) == 0
}

// ParsePath turns "thumbnail.small" or "pages.0" into path segments.
// Purely numeric segments become list indices.
func ParsePath(s string) ([]interface{}, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(s, ".")
	path := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, s)
		}
		if n, err := strconv.Atoi(p); err == nil {
			if n < 0 {
				return nil, fmt.Errorf("%w: negative index in %q", ErrInvalidPath, s)
			}
			path = append(path, n)
			continue
		}
		path = append(path, p)
	}
	return path, nil
}

// FormatPath is the inverse of ParsePath.
func FormatPath(path []interface{}) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".")
}

// Get returns the node at path, or nil.
func (d *Derivatives) Get(path ...interface{}) *Derivatives {
	node := d
	for _, key := range path {
		node = node.child(key)
		if node == nil {
			return nil
		}
	}
	return node
}

// FileAt returns the leaf file at path, or nil.
func (d *Derivatives) FileAt(path ...interface{}) *UploadedFile {
	node := d.Get(path...)
	if node == nil {
		return nil
	}
	return node.File
}

// Set stores file at path, creating intermediate maps or lists as the next
// key type requires. The replaced subtree, if any, is returned so the caller
// can schedule its files for deletion.
func (d *Derivatives) Set(file *UploadedFile, path ...interface{}) (*Derivatives, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}

	node := d
	for i, key := range path[:len(path)-1] {
		next := node.child(key)
		if next.IsLeaf() {
			return nil, fmt.Errorf("%w: %s holds a file", ErrInvalidPath, FormatPath(path[:i+1]))
		}
		if next == nil {
			if _, isIndex := path[i+1].(int); isIndex {
				next = &Derivatives{Items: []*Derivatives{}}
			} else {
				next = NewDerivatives()
			}
			if err := node.put(key, next); err != nil {
				return nil, err
			}
		}
		node = next
	}

	last := path[len(path)-1]
	replaced := node.child(last)
	if err := node.put(last, newLeaf(file)); err != nil {
		return nil, err
	}
	return replaced, nil
}

// Remove deletes the subtree at path and returns it.
func (d *Derivatives) Remove(path ...interface{}) (*Derivatives, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parent := d.Get(path[:len(path)-1]...)
	if parent == nil {
		return nil, fmt.Errorf("%w: %s not found", ErrInvalidPath, FormatPath(path))
	}
	last := path[len(path)-1]
	removed := parent.child(last)
	if removed == nil {
		return nil, fmt.Errorf("%w: %s not found", ErrInvalidPath, FormatPath(path))
	}

	switch key := last.(type) {
	case string:
		delete(parent.Children, key)
	case int:
		parent.Items = append(parent.Items[:key], parent.Items[key+1:]...)
	}
	return removed, nil
}

// Walk visits every file in deterministic order (sorted map keys, list order).
func (d *Derivatives) Walk(fn func(path []interface{}, f *UploadedFile) error) error {
	return d.walk(nil, fn)
}

func (d *Derivatives) walk(prefix []interface{}, fn func([]interface{}, *UploadedFile) error) error {
	if d == nil {
		return nil
	}
	if d.File != nil {
		return fn(prefix, d.File)
	}
	if d.Items != nil {
		for i, item := range d.Items {
			if err := item.walk(appendPath(prefix, i), fn); err != nil {
				return err
			}
		}
		return nil
	}
	for _, k := range sortedKeys(d.Children) {
		if err := d.Children[k].walk(appendPath(prefix, k), fn); err != nil {
			return err
		}
	}
	return nil
}

// Files returns every file in the tree in Walk order.
func (d *Derivatives) Files() []*UploadedFile {
	var files []*UploadedFile
	_ = d.Walk(func(_ []interface{}, f *UploadedFile) error {
		files = append(files, f)
		return nil
	})
	return files
}

// Map builds a tree of the same shape with every file passed through fn.
func (d *Derivatives) Map(fn func(path []interface{}, f *UploadedFile) (*UploadedFile, error)) (*Derivatives, error) {
	if d == nil {
		return NewDerivatives(), nil
	}
	return d.mapNode(nil, fn)
}

func (d *Derivatives) mapNode(prefix []interface{}, fn func([]interface{}, *UploadedFile) (*UploadedFile, error)) (*Derivatives, error) {
	if d.File != nil {
		f, err := fn(prefix, d.File)
		if err != nil {
			return nil, err
		}
		return newLeaf(f), nil
	}
	if d.Items != nil {
		out := &Derivatives{Items: make([]*Derivatives, len(d.Items))}
		for i, item := range d.Items {
			mapped, err := item.mapNode(appendPath(prefix, i), fn)
			if err != nil {
				return nil, err
			}
			out.Items[i] = mapped
		}
		return out, nil
	}
	out := NewDerivatives()
	for k, child := range d.Children {
		mapped, err := child.mapNode(appendPath(prefix, k), fn)
		if err != nil {
			return nil, err
		}
		out.Children[k] = mapped
	}
	return out, nil
}

// Clone returns a deep copy of the tree structure. Files are shared since
// they are immutable.
func (d *Derivatives) Clone() *Derivatives {
	out, _ := d.Map(func(_ []interface{}, f *UploadedFile) (*UploadedFile, error) {
		return f, nil
	})
	return out
}

// Merge returns a new tree holding d deep-merged with other. Maps merge
// key by key; on any other collision other wins.
func (d *Derivatives) Merge(other *Derivatives) *Derivatives {
	if other == nil {
		return d.Clone()
	}
	if d == nil {
		return other.Clone()
	}
	if d.File != nil || d.Items != nil || other.File != nil || other.Items != nil {
		return other.Clone()
	}
	out := d.Clone()
	for k, child := range other.Children {
		if existing, ok := out.Children[k]; ok {
			out.Children[k] = existing.Merge(child)
		} else {
			out.Children[k] = child.Clone()
		}
	}
	return out
}

// Data returns the JSON-compatible form: maps, slices and file maps.
func (d *Derivatives) Data() interface{} {
	if d == nil {
		return map[string]interface{}{}
	}
	if d.File != nil {
		return d.File.Data()
	}
	if d.Items != nil {
		items := make([]interface{}, len(d.Items))
		for i, item := range d.Items {
			items[i] = item.Data()
		}
		return items
	}
	m := make(map[string]interface{}, len(d.Children))
	for k, child := range d.Children {
		m[k] = child.Data()
	}
	return m
}

// MarshalJSON encodes the tree in the persisted column shape.
func (d *Derivatives) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data())
}

// UnmarshalJSON decodes the persisted column shape. The root must be an object.
func (d *Derivatives) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseDerivatives(v)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// ParseDerivatives builds a tree from decoded JSON. nil yields an empty tree.
func ParseDerivatives(v interface{}) (*Derivatives, error) {
	if v == nil {
		return NewDerivatives(), nil
	}
	root, ok := v.(map[string]interface{})
	if !ok || isFileMap(root) {
		return nil, fmt.Errorf("%w: derivatives root must be an object", ErrInvalidPath)
	}
	return parseNode(root)
}

func parseNode(v interface{}) (*Derivatives, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if isFileMap(val) {
			f, err := fileFromMap(val)
			if err != nil {
				return nil, err
			}
			return newLeaf(f), nil
		}
		node := NewDerivatives()
		for k, child := range val {
			parsed, err := parseNode(child)
			if err != nil {
				return nil, err
			}
			node.Children[k] = parsed
		}
		return node, nil
	case []interface{}:
		node := &Derivatives{Items: make([]*Derivatives, 0, len(val))}
		for _, child := range val {
			parsed, err := parseNode(child)
			if err != nil {
				return nil, err
			}
			node.Items = append(node.Items, parsed)
		}
		return node, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %T in derivatives", ErrInvalidFile, v)
	}
}

// child returns the direct child for key, or nil.
func (d *Derivatives) child(key interface{}) *Derivatives {
	if d == nil || d.File != nil {
		return nil
	}
	switch k := key.(type) {
	case string:
		if d.Items != nil {
			return nil
		}
		return d.Children[k]
	case int:
		if d.Items == nil || k < 0 || k >= len(d.Items) {
			return nil
		}
		return d.Items[k]
	}
	return nil
}

// put stores child under key. List indices may replace an item or append
// at len(Items); gaps are rejected.
func (d *Derivatives) put(key interface{}, child *Derivatives) error {
	if d.File != nil {
		return fmt.Errorf("%w: cannot descend into a file", ErrInvalidPath)
	}
	switch k := key.(type) {
	case string:
		if d.Items != nil {
			return fmt.Errorf("%w: key %q used on a list", ErrInvalidPath, k)
		}
		if d.Children == nil {
			d.Children = map[string]*Derivatives{}
		}
		d.Children[k] = child
		return nil
	case int:
		if d.Items == nil {
			return fmt.Errorf("%w: index %d used on a map", ErrInvalidPath, k)
		}
		switch {
		case k >= 0 && k < len(d.Items):
			d.Items[k] = child
		case k == len(d.Items):
			d.Items = append(d.Items, child)
		default:
			return fmt.Errorf("%w: index %d out of range", ErrInvalidPath, k)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrInvalidPath, key)
	}
}

func appendPath(prefix []interface{}, key interface{}) []interface{} {
	out := make([]interface{}, len(prefix), len(prefix)+1)
	copy(out, prefix)
	return append(out, key)
}

func sortedKeys(m map[string]*Derivatives) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
