package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	w, err := NewWatcher(dir, func() { calls.Add(1) }, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)
	return &calls
}

func TestWatcher_SignalsNewJobs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	calls := startWatcher(t, dir)
	assert.DirExists(t, dir)

	s := NewSpool(dir, 0)
	require.NoError(t, s.Enqueue(context.Background(), testJob("a", time.Now())))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 20*time.Millisecond)
}

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	calls := startWatcher(t, dir)

	s := NewSpool(dir, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(context.Background(), testJob(string(rune('a'+i)), time.Now())))
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(3 * DefaultDebounceInterval)

	n := calls.Load()
	assert.GreaterOrEqual(t, n, int32(1))
	assert.LessOrEqual(t, n, int32(2), "a burst of jobs is one signal, got %d", n)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	calls := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, failedDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1-a.json.working"), []byte("{}"), 0644))
	time.Sleep(3 * DefaultDebounceInterval)

	assert.Zero(t, calls.Load())
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), func() {}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Close()
	w.Close()
}
