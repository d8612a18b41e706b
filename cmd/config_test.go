package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/trackwatch/internal/output"
)

// testEnv sets up isolated config dir, viper, store and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	setDefaults(dir)

	// Fresh store per test
	dataStore = nil
	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
			dataStore = nil
		}
	})

	// Initialize output
	ui = &output.UI{Out: &bytes.Buffer{}, ErrOut: &bytes.Buffer{}}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	return dir
}

// uiOut returns everything written to the test UI's stdout.
func uiOut(t *testing.T) string {
	t.Helper()
	return ui.Out.(*bytes.Buffer).String()
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "trackwatch configuration")
	assert.Contains(t, string(data), "webhook_url")
	assert.Contains(t, string(data), "window: 72h0m0s")
}

func TestConfigInit_RoundTrip(t *testing.T) {
	dir := testEnv(t)
	viper.Set("tracker.base_url", "https://youtrack.example.com")
	viper.Set("tracker.projects", []string{"ABC", "OPS"})
	viper.Set("tracker.username", "bot")
	viper.Set("slack.channel", "#tracker")

	require.NoError(t, configInitRun())

	viper.Reset()
	setDefaults(dir)
	viper.SetConfigFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, viper.ReadInConfig())

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, "https://youtrack.example.com", s.BaseURL)
	assert.Equal(t, []string{"ABC", "OPS"}, s.Projects)
	assert.Equal(t, "bot", s.Username)
	assert.Equal(t, "#tracker", s.Channel)
	assert.Equal(t, "1m0s", s.Interval.String())
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	t.Cleanup(func() { configForce = false })
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "trackwatch configuration")
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	testEnv(t)
	viper.Set("tracker.password", "hunter2")
	viper.Set("slack.webhook_url", "https://hooks.slack.com/services/T0/B0/secret")

	require.NoError(t, configShowRun())

	out := uiOut(t)
	assert.Contains(t, out, "Config file: (none)")
	assert.Contains(t, out, "tracker.password")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "B0/secret")
	assert.Contains(t, out, "poll.window")
}

func TestConfigKeys_EnvVars(t *testing.T) {
	envs := map[string]string{}
	for _, k := range configKeys {
		envs[k.Key] = k.EnvVar
	}
	assert.Equal(t, "TRACKWATCH_TRACKER_BASE_URL", envs["tracker.base_url"])
	assert.Equal(t, "TRACKWATCH_TRACKER_OAUTH_CLIENT_SECRET", envs["tracker.oauth.client_secret"])
	assert.Equal(t, "TRACKWATCH_DB_PATH", envs["db_path"])
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)
	t.Setenv("EDITOR", "")
	t.Setenv("VISUAL", "")

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)
	t.Setenv("EDITOR", "echo") // harmless command

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"slack.channel": true}

	t.Setenv("TRACKWATCH_TEST_KEY", "val")
	assert.Contains(t, detectSource("test_key", "TRACKWATCH_TEST_KEY", fileValues), "env")
	assert.Contains(t, detectSource("slack.channel", "TRACKWATCH_SLACK_CHANNEL_NONEXISTENT", fileValues), "file")
	assert.Contains(t, detectSource("poll.window", "TRACKWATCH_POLL_WINDOW_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"db_path": "val",
		"tracker": map[string]any{
			"base_url": "https://youtrack.example.com",
			"oauth":    map[string]any{"client_id": "x"},
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["db_path"])
	assert.True(t, result["tracker.base_url"])
	assert.True(t, result["tracker.oauth.client_id"])
	assert.False(t, result["tracker"])
}
