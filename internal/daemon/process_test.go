package daemon

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProcess_DrainsEnqueuedJobs(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	f := newWorkerFixture(t)
	f.spool = NewSpool(filepath.Join(baseDir, DefaultSpoolDir), 0)
	require.NoError(t, f.store.Upload(ctx, strings.NewReader("x"), "old.png", nil))

	out := &syncBuffer{}
	p := NewProcess(baseDir, ProcessConfig{Spool: f.spool, Resolve: f.resolver, Concurrency: 2, Output: out})
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(New(baseDir).PIDFile())
		return err == nil
	}, time.Second, 10*time.Millisecond)

	job := testJob("destroy-old", time.Now())
	job.File = map[string]interface{}{"id": "old.png", "storage": "store"}
	require.NoError(t, f.spool.Enqueue(ctx, job))

	assert.Eventually(t, func() bool {
		ok, err := f.store.Exists(ctx, "old.png")
		return err == nil && !ok
	}, 2*time.Second, 20*time.Millisecond)

	p.Stop()
	require.NoError(t, <-done)

	status, err := New(baseDir).readStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Jobs.Done)
	assert.Zero(t, status.Pending)
	assert.Contains(t, out.String(), "daemon starting")
	assert.NoFileExists(t, New(baseDir).PIDFile(), "pid file is released on exit")
}

func TestProcess_RefusesSecondInstance(t *testing.T) {
	baseDir := t.TempDir()
	d := New(baseDir)
	other := exec.Command("sleep", "30")
	require.NoError(t, other.Start())
	defer func() {
		_ = other.Process.Kill()
		_ = other.Wait()
	}()
	require.NoError(t, WritePID(d.PIDFile(), other.Process.Pid))

	p := NewProcess(baseDir, ProcessConfig{Spool: NewSpool(t.TempDir(), 0), Output: &syncBuffer{}})
	err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestProcess_RotateLog(t *testing.T) {
	baseDir := t.TempDir()
	p := NewProcess(baseDir, ProcessConfig{Spool: NewSpool(t.TempDir(), 0)})
	require.NoError(t, p.setupLogging())
	defer p.closeLogging()

	p.logger.Info("before rotation")
	require.NoError(t, p.rotateLog())
	p.logger.Info("after rotation")

	old, err := os.ReadFile(p.daemon.LogFile() + ".1")
	require.NoError(t, err)
	assert.Contains(t, string(old), "before rotation")

	lines, err := TailLog(p.daemon.LogFile(), 10)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "after rotation")
}

func TestTailLog(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	tests := []struct {
		name string
		path string
		n    int
		want []string
	}{
		{"missing file", filepath.Join(dir, "nope.log"), 10, nil},
		{"empty file", write("empty.log", ""), 10, nil},
		{"fewer lines than asked", write("short.log", "a\nb\nc\n"), 10, []string{"a", "b", "c"}},
		{"last n lines", write("long.log", "1\n2\n3\n4\n5\n"), 3, []string{"3", "4", "5"}},
		{"no trailing newline", write("open.log", "a\nb"), 10, []string{"a", "b"}},
		{"blank lines kept", write("gaps.log", "a\n\nb\n"), 10, []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := TailLog(tt.path, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lines)
		})
	}
}
