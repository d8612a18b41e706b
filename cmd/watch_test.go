package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/trackwatch/internal/daemon"
	"github.com/joescharf/trackwatch/internal/poller"
)

func TestPidFile_Path(t *testing.T) {
	dir := testEnv(t)

	pf := pidFile()
	assert.Equal(t, filepath.Join(dir, "trackwatch-watch.pid"), pf.Path)
}

func TestWatchLogPath(t *testing.T) {
	dir := testEnv(t)
	viper.Set("state_dir", filepath.Join(dir, "state"))

	assert.Equal(t, filepath.Join(dir, "state", "trackwatch-watch.log"), watchLogPath())
}

func TestWatchStatusRun_NotRunning(t *testing.T) {
	testEnv(t)

	// No PID file exists, so status should show "not running" without error.
	require.NoError(t, watchStatusRun())
	assert.Contains(t, uiOut(t), "not running")
}

func TestWatchStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	err := watchStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestWatchStartRun_AlreadyRunning(t *testing.T) {
	dir := testEnv(t)

	// The test process is alive, so its PID marks a running watcher.
	pf := daemon.NewPIDFile(filepath.Join(dir, "trackwatch-watch.pid"))
	require.NoError(t, pf.Write())
	t.Cleanup(func() { _ = os.Remove(pf.Path) })

	err := watchStartRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestWatchStartRun_InvalidConfig(t *testing.T) {
	testEnv(t)

	err := watchStartRun()
	require.Error(t, err)
	assert.True(t, poller.IsFatal(err))
}

func TestWatchRun_StopsOnCancel(t *testing.T) {
	_, wh := pollEnv(t)
	viper.Set("metrics.addr", "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- watchRun(ctx) }()

	require.Eventually(t, func() bool { return wh.posts.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	_, running := pidFile().IsRunning()
	assert.True(t, running, "watch holds the PID file")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	_, err := os.Stat(pidFile().Path)
	assert.True(t, os.IsNotExist(err), "PID file released")
}

func TestMetricsServer(t *testing.T) {
	m := poller.NewMetrics("trackwatch")
	srv := httptest.NewServer(metricsServer(":0", m).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
