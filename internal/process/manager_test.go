package process

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_PID(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	assert.Zero(t, m.ReadPID())
	assert.False(t, m.IsRunning())

	require.NoError(t, m.WritePID())
	assert.Equal(t, os.Getpid(), m.ReadPID())
	assert.True(t, m.IsRunning())

	m.CleanupPID()
	assert.NoFileExists(t, filepath.Join(dir, PIDFilename))
}

func TestManager_StalePIDRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PIDFilename)

	// PIDs above the kernel maximum never exist.
	require.NoError(t, os.WriteFile(path, []byte("99999999"), 0o600))

	m := NewManager(dir, nil)
	assert.False(t, m.IsRunning())
	assert.NoFileExists(t, path)
}

func TestManager_References(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	assert.Equal(t, 1, m.IncrementRef())
	assert.Equal(t, 2, m.IncrementRef())
	assert.Equal(t, 2, m.ReadRef())

	assert.Equal(t, 1, m.DecrementRef())
	assert.Equal(t, 0, m.DecrementRef())
	assert.Equal(t, 0, m.DecrementRef(), "the count never goes negative")

	m.CleanupRef()
	assert.Zero(t, m.ReadRef())
}

func TestManager_WaitForHealthy(t *testing.T) {
	ready := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-ready:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	m := NewManager(t.TempDir(), nil)

	assert.False(t, m.WaitForHealthy(context.Background(), server.URL, 250*time.Millisecond))

	close(ready)
	assert.True(t, m.WaitForHealthy(context.Background(), server.URL, 2*time.Second))
}

func TestManager_StopService(t *testing.T) {
	t.Run("stale files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, PIDFilename), []byte("99999999"), 0o600))

		m := NewManager(dir, nil)
		m.IncrementRef()
		m.IncrementRef()

		running, err := m.StopService()
		require.NoError(t, err)
		assert.False(t, running)
		assert.NoFileExists(t, filepath.Join(dir, PIDFilename))
		assert.NoFileExists(t, filepath.Join(dir, RefFilename))
	})

	t.Run("running process", func(t *testing.T) {
		child := exec.Command("sleep", "30")
		require.NoError(t, child.Start())

		exited := make(chan struct{})
		go func() {
			_ = child.Wait()
			close(exited)
		}()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, PIDFilename), []byte(strconv.Itoa(child.Process.Pid)), 0o600))

		m := NewManager(dir, nil)
		m.IncrementRef()

		running, err := m.StopService()
		require.NoError(t, err)
		assert.True(t, running)
		assert.Zero(t, m.ReadRef())
		assert.NoFileExists(t, filepath.Join(dir, PIDFilename))

		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			_ = child.Process.Kill()
			t.Fatal("process was not stopped")
		}
	})
}
