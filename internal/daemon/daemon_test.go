package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	d := New("/tmp/project/.stow")
	assert.Equal(t, "/tmp/project/.stow", d.BaseDir())
	assert.Equal(t, filepath.Join("/tmp/project/.stow", "daemon.pid"), d.PIDFile())
	assert.Equal(t, filepath.Join("/tmp/project/.stow", "daemon.log"), d.LogFile())
	assert.Equal(t, filepath.Join("/tmp/project/.stow", "daemon.status"), d.StatusFile())
}

func TestDaemon_IsRunning(t *testing.T) {
	tests := []struct {
		name    string
		pidFile string
		running bool
	}{
		{"no pid file", "", false},
		{"garbage", "invalid", false},
		{"stale pid", "999999999", false},
		{"live pid", strconv.Itoa(os.Getpid()), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(t.TempDir())
			if tt.pidFile != "" {
				require.NoError(t, os.WriteFile(d.PIDFile(), []byte(tt.pidFile), 0644))
			}
			running, pid := d.IsRunning()
			assert.Equal(t, tt.running, running)
			if tt.running {
				assert.Equal(t, os.Getpid(), pid)
				return
			}
			assert.Zero(t, pid)
			assert.NoFileExists(t, d.PIDFile())
		})
	}
}

func TestDaemon_StopWhenNotRunning(t *testing.T) {
	d := New(t.TempDir())
	require.NoError(t, d.Stop())

	require.NoError(t, os.WriteFile(d.PIDFile(), []byte("999999999"), 0644))
	require.NoError(t, d.Stop())
	assert.NoFileExists(t, d.PIDFile())
}

func TestDaemon_Status(t *testing.T) {
	d := New(t.TempDir())

	status, err := d.GetStatus()
	require.NoError(t, err)
	assert.False(t, status.Running)

	require.NoError(t, WritePID(d.PIDFile(), os.Getpid()))
	status, err = d.GetStatus()
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)

	lastDrain := time.Now()
	require.NoError(t, d.UpdateStatus(lastDrain, Stats{Done: 3, DeadLettered: 1}, 2))
	require.NoError(t, d.UpdateStatus(lastDrain, Stats{Done: 4, DeadLettered: 1}, 0))

	status, err = d.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 4, status.Jobs.Done)
	assert.Equal(t, 1, status.Jobs.DeadLettered)
	assert.Zero(t, status.Pending)
	assert.WithinDuration(t, lastDrain, status.LastDrain, time.Second)

	data, err := os.ReadFile(d.StatusFile())
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "last_drain")
	assert.NoFileExists(t, d.StatusFile()+".tmp")
}

func TestDaemon_LogExists(t *testing.T) {
	d := New(t.TempDir())
	assert.False(t, d.LogExists())
	require.NoError(t, os.WriteFile(d.LogFile(), []byte("x\n"), 0644))
	assert.True(t, d.LogExists())
}
