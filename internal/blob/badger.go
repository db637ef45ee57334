package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v3"
)

// BadgerPrefix namespaces blob keys inside the KV store.
const BadgerPrefix = "blob:"

// Badger stores blobs as values in an embedded badger database. Each blob is
// held in memory while uploading, so it suits small files such as derivatives.
type Badger struct {
	db     *badger.DB
	prefix string
	owned  bool
}

// OpenBadger opens (or creates) a badger database at dir.
// An empty dir opens an in-memory database.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db, prefix: BadgerPrefix, owned: true}, nil
}

// NewBadger wraps an already open database. The caller keeps ownership.
func NewBadger(db *badger.DB, prefix string) *Badger {
	if prefix == "" {
		prefix = BadgerPrefix
	}
	return &Badger{db: db, prefix: prefix}
}

func (s *Badger) key(id string) []byte {
	return []byte(s.prefix + id)
}

// Upload stores the full contents of r under id. Metadata is not stored.
func (s *Badger) Upload(ctx context.Context, r io.Reader, id string, _ map[string]interface{}) error {
	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: r})
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(id), data)
	})
}

// Open returns the stored bytes, or ErrNotFound.
func (s *Badger) Open(_ context.Context, id string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether id is stored.
func (s *Badger) Exists(_ context.Context, id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.key(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes id. Deleting a missing key is a no-op in badger.
func (s *Badger) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(id))
	})
}

// URL is not supported: badger blobs are only reachable through Open.
func (s *Badger) URL(_ context.Context, _ string, _ URLOptions) (string, error) {
	return "", nil
}

// Close closes the database if this storage opened it.
func (s *Badger) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
