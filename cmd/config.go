package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// envKeyReplacer maps nested keys such as tracker.base_url to
// TRACKWATCH_TRACKER_BASE_URL.
var envKeyReplacer = strings.NewReplacer(".", "_")

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "trackwatch"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage trackwatch configuration.

Running bare 'trackwatch config' is the same as 'trackwatch config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# trackwatch configuration
# See: trackwatch config show (for effective values and sources)

# State/data directory (default: ~/.config/trackwatch)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/trackwatch/trackwatch.db)
# db_path: {{ .DBPath }}

tracker:
  # YouTrack base URL, e.g. https://youtrack.example.com
  base_url: "{{ .BaseURL }}"

  # Project short names to watch
  projects:{{ if .Projects }}{{ range .Projects }}
    - {{ . }}{{ end }}{{ else }} []{{ end }}

  # basic, oauth or none
  auth: "{{ .Auth }}"
  username: "{{ .Username }}"
  # Prefer TRACKWATCH_TRACKER_PASSWORD over storing the password here
  # password: ""

  # OAuth2 client credentials (auth: oauth)
  # oauth:
  #   token_url: ""
  #   client_id: ""
  #   client_secret: ""
  #   scope: ""

  # Request timeout
  timeout: {{ .Timeout }}

slack:
  # Incoming webhook URL; empty logs sessions instead of posting
  webhook_url: "{{ .WebhookURL }}"
  # Override the webhook's default channel
  channel: "{{ .Channel }}"

poll:
  # Delay between polling rounds
  interval: {{ .Interval }}
  # Never look further back than this
  window: {{ .Window }}

metrics:
  # Prometheus /metrics listen address for 'trackwatch watch' ("" disables)
  addr: "{{ .MetricsAddr }}"
`

type configTemplateData struct {
	StateDir    string
	DBPath      string
	BaseURL     string
	Projects    []string
	Auth        string
	Username    string
	Timeout     string
	WebhookURL  string
	Channel     string
	Interval    string
	Window      string
	MetricsAddr string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:    viper.GetString("state_dir"),
		DBPath:      viper.GetString("db_path"),
		BaseURL:     viper.GetString("tracker.base_url"),
		Projects:    projectList(viper.GetStringSlice("tracker.projects")),
		Auth:        viper.GetString("tracker.auth"),
		Username:    viper.GetString("tracker.username"),
		Timeout:     viper.GetDuration("tracker.timeout").String(),
		WebhookURL:  viper.GetString("slack.webhook_url"),
		Channel:     viper.GetString("slack.channel"),
		Interval:    viper.GetDuration("poll.interval").String(),
		Window:      viper.GetDuration("poll.window").String(),
		MetricsAddr: viper.GetString("metrics.addr"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	// Secret values are masked by config show.
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir"},
	{Key: "db_path"},
	{Key: "tracker.base_url"},
	{Key: "tracker.projects"},
	{Key: "tracker.feed_path"},
	{Key: "tracker.changes_path"},
	{Key: "tracker.attachments_path"},
	{Key: "tracker.issue_path"},
	{Key: "tracker.auth"},
	{Key: "tracker.username"},
	{Key: "tracker.password", Secret: true},
	{Key: "tracker.oauth.token_url"},
	{Key: "tracker.oauth.client_id"},
	{Key: "tracker.oauth.client_secret", Secret: true},
	{Key: "tracker.oauth.scope"},
	{Key: "tracker.timeout"},
	{Key: "slack.webhook_url", Secret: true},
	{Key: "slack.channel"},
	{Key: "poll.interval"},
	{Key: "poll.window"},
	{Key: "metrics.addr"},
}

func init() {
	for i := range configKeys {
		configKeys[i].EnvVar = "TRACKWATCH_" + strings.ToUpper(envKeyReplacer.Replace(configKeys[i].Key))
	}
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'trackwatch config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
