package attacher

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/stow/internal/blob"
	"github.com/user/stow/internal/logging"
	"github.com/user/stow/internal/model"
)

// fakeDB is a table of rows keyed by record ID.
type fakeDB struct {
	mu   sync.Mutex
	rows map[string]map[string]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: map[string]map[string]string{}}
}

func (db *fakeDB) insert(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rows[id] = map[string]string{}
}

func (db *fakeDB) set(id, col, value string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rows[id][col] = value
}

func (db *fakeDB) get(id, col string) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rows[id][col]
}

func (db *fakeDB) remove(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.rows, id)
}

// fakeRecord is an in-memory copy of one row without Swap support.
type fakeRecord struct {
	db   *fakeDB
	id   string
	cols map[string]string
}

func (r *fakeRecord) RecordID() string             { return r.id }
func (r *fakeRecord) Column(name string) string    { return r.cols[name] }
func (r *fakeRecord) SetColumn(name, value string) { r.cols[name] = value }

func (r *fakeRecord) Reload(_ context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	row, ok := r.db.rows[r.id]
	if !ok {
		return model.ErrRecordNotFound
	}
	r.cols = copyRow(row)
	return nil
}

func (r *fakeRecord) Persist(_ context.Context, columns ...string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	row, ok := r.db.rows[r.id]
	if !ok {
		return model.ErrRecordNotFound
	}
	for _, c := range columns {
		row[c] = r.cols[c]
	}
	return nil
}

// save mimics a record bridge save: hooks around a full-row write.
// fail simulates a rolled back transaction.
func (r *fakeRecord) save(ctx context.Context, h Hooks, fail bool) error {
	if err := h.BeforeSave(ctx); err != nil {
		return err
	}
	if fail {
		return io.ErrUnexpectedEOF
	}
	r.db.mu.Lock()
	r.db.rows[r.id] = copyRow(r.cols)
	r.db.mu.Unlock()
	return h.AfterSave(ctx)
}

// swapRecord adds Swap to fakeRecord.
type swapRecord struct {
	*fakeRecord
	swaps int
}

func (r *swapRecord) Swap(_ context.Context, fn func(map[string]string) (map[string]string, error)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.swaps++
	row, ok := r.db.rows[r.id]
	if !ok {
		return model.ErrRecordNotFound
	}
	updates, err := fn(copyRow(row))
	if err != nil {
		return err
	}
	for k, v := range updates {
		row[k] = v
		r.cols[k] = v
	}
	return nil
}

func copyRow(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func newRecord(db *fakeDB, id string) *fakeRecord {
	if _, ok := db.rows[id]; !ok {
		db.insert(id)
	}
	return &fakeRecord{db: db, id: id, cols: map[string]string{}}
}

func newSwapRecord(db *fakeDB, id string) *swapRecord {
	return &swapRecord{fakeRecord: newRecord(db, id)}
}

// finderFunc adapts a function to Finder.
type finderFunc func(ctx context.Context, kind, id string) (Record, error)

func (f finderFunc) FindRecord(ctx context.Context, kind, id string) (Record, error) {
	return f(ctx, kind, id)
}

// trackingStorage counts calls and remembers every ID it was given.
type trackingStorage struct {
	blob.Storage
	mu       sync.Mutex
	ids      map[string]bool
	metadata map[string]map[string]interface{}
	calls    atomic.Int64
	onUpload func(id string)
	failOn   func(op, id string) error
}

func newTrackingStorage() *trackingStorage {
	return &trackingStorage{Storage: blob.NewMemory(), ids: map[string]bool{}, metadata: map[string]map[string]interface{}{}}
}

func (s *trackingStorage) fail(op, id string) error {
	if s.failOn == nil {
		return nil
	}
	return s.failOn(op, id)
}

func (s *trackingStorage) Upload(ctx context.Context, r io.Reader, id string, md map[string]interface{}) error {
	s.calls.Add(1)
	if err := s.fail("upload", id); err != nil {
		return err
	}
	if err := s.Storage.Upload(ctx, r, id, md); err != nil {
		return err
	}
	s.mu.Lock()
	s.ids[id] = true
	s.metadata[id] = copyMetadata(md)
	hook := s.onUpload
	s.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return nil
}

func (s *trackingStorage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	s.calls.Add(1)
	return s.Storage.Open(ctx, id)
}

func (s *trackingStorage) Exists(ctx context.Context, id string) (bool, error) {
	s.calls.Add(1)
	return s.Storage.Exists(ctx, id)
}

func (s *trackingStorage) Delete(ctx context.Context, id string) error {
	s.calls.Add(1)
	if err := s.fail("delete", id); err != nil {
		return err
	}
	return s.Storage.Delete(ctx, id)
}

func (s *trackingStorage) URL(ctx context.Context, id string, opts blob.URLOptions) (string, error) {
	s.calls.Add(1)
	return s.Storage.URL(ctx, id, opts)
}

func copyMetadata(md map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// uploadedMetadata returns the metadata Upload was given for id.
func (s *trackingStorage) uploadedMetadata(id string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[id]
}

// live returns the IDs that still exist, sorted.
func (s *trackingStorage) live(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var out []string
	for _, id := range ids {
		ok, err := s.Storage.Exists(context.Background(), id)
		require.NoError(t, err)
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

type fixture struct {
	att   *Attachment
	cache *trackingStorage
	store *trackingStorage
	db    *fakeDB
}

func newFixture(t *testing.T, mods ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		cache: newTrackingStorage(),
		store: newTrackingStorage(),
		db:    newFakeDB(),
	}
	cfg := Config{
		Name: "avatar",
		Kind: "users",
		Storages: map[string]blob.Storage{
			"cache": f.cache,
			"store": f.store,
		},
		Logger: logging.Discard(),
	}
	for _, m := range mods {
		m(&cfg)
	}
	att, err := New(cfg)
	require.NoError(t, err)
	f.att = att
	return f
}

// attacher builds an attacher over a Swap-capable record.
func (f *fixture) attacher(t *testing.T, id string) (*Attacher, *swapRecord) {
	t.Helper()
	rec := newSwapRecord(f.db, id)
	require.NoError(t, rec.Reload(context.Background()))
	a, err := f.att.Attacher(rec)
	require.NoError(t, err)
	return a, rec
}
