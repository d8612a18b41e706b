package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPIDFile(t *testing.T) *PIDFile {
	t.Helper()
	return NewPIDFile(filepath.Join(t.TempDir(), "run", "trackwatch.pid"))
}

func TestPIDFile_WriteAndRead(t *testing.T) {
	pf := newTestPIDFile(t)

	require.NoError(t, pf.WritePID(12345))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestPIDFile_Read_InvalidContent(t *testing.T) {
	pf := newTestPIDFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(pf.Path), 0o755))
	require.NoError(t, os.WriteFile(pf.Path, []byte("not-a-number\n"), 0o644))

	_, err := pf.Read()
	assert.ErrorContains(t, err, "invalid PID file content")
}

func TestPIDFile_Acquire(t *testing.T) {
	pf := newTestPIDFile(t)

	require.NoError(t, pf.Acquire())
	pid, running := pf.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	// Re-acquiring from the same process is allowed.
	assert.NoError(t, pf.Acquire())
}

func TestPIDFile_Acquire_ReplacesStaleFile(t *testing.T) {
	pf := newTestPIDFile(t)
	// A very high PID that almost certainly doesn't exist.
	require.NoError(t, pf.WritePID(999999))

	require.NoError(t, pf.Acquire())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Acquire_LiveProcess(t *testing.T) {
	pf := newTestPIDFile(t)
	parent := os.Getppid()
	require.NoError(t, pf.WritePID(parent))
	if _, running := pf.IsRunning(); !running {
		t.Skip("parent process not signalable")
	}

	err := pf.Acquire()
	var are *AlreadyRunningError
	require.True(t, errors.As(err, &are), "got %v", err)
	assert.Equal(t, parent, are.PID)
}

func TestPIDFile_Release(t *testing.T) {
	pf := newTestPIDFile(t)

	// Nothing to release.
	assert.NoError(t, pf.Release())

	require.NoError(t, pf.Acquire())
	require.NoError(t, pf.Release())
	_, err := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_Release_KeepsOtherOwner(t *testing.T) {
	pf := newTestPIDFile(t)
	require.NoError(t, pf.WritePID(999999))

	require.NoError(t, pf.Release())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 999999, pid)
}

func TestPIDFile_IsRunning_DeadProcess(t *testing.T) {
	pf := newTestPIDFile(t)
	require.NoError(t, pf.WritePID(999999))

	pid, running := pf.IsRunning()
	assert.Equal(t, 999999, pid)
	assert.False(t, running)
}

func TestPIDFile_IsRunning_NoFile(t *testing.T) {
	pid, running := newTestPIDFile(t).IsRunning()
	assert.Equal(t, 0, pid)
	assert.False(t, running)
}

func TestPIDFile_Signal(t *testing.T) {
	pf := newTestPIDFile(t)
	require.NoError(t, pf.Write())

	// Signal 0 only checks that the process exists.
	assert.NoError(t, pf.Signal(syscall.Signal(0)))
}

func TestPIDFile_Signal_NoFile(t *testing.T) {
	err := newTestPIDFile(t).Signal(syscall.Signal(0))
	assert.ErrorContains(t, err, "read PID file")
}
