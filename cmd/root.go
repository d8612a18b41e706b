package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/trackwatch/internal/output"
	"github.com/joescharf/trackwatch/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "trackwatch",
	Short: "Watch an issue tracker feed and post edit sessions to Slack",
	Long: `trackwatch polls a YouTrack project feed, groups every change,
comment and attachment into per-author edit sessions and posts each
session to a Slack incoming webhook. A per-project watermark keeps
restarts from re-announcing what was already delivered.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/trackwatch/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRACKWATCH")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	defaultConfigDir, _ := configDirFunc()
	setDefaults(defaultConfigDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "trackwatch.db"))
	viper.SetDefault("tracker.base_url", "")
	viper.SetDefault("tracker.projects", []string{})
	viper.SetDefault("tracker.feed_path", "/_rss/issues?q=project:{project}")
	viper.SetDefault("tracker.changes_path", "/rest/issue/{issue}/changes")
	viper.SetDefault("tracker.attachments_path", "/rest/issue/{issue}/attachment")
	viper.SetDefault("tracker.issue_path", "/issue/{issue}")
	viper.SetDefault("tracker.auth", authBasic)
	viper.SetDefault("tracker.username", "")
	viper.SetDefault("tracker.password", "")
	viper.SetDefault("tracker.oauth.token_url", "")
	viper.SetDefault("tracker.oauth.client_id", "")
	viper.SetDefault("tracker.oauth.client_secret", "")
	viper.SetDefault("tracker.oauth.scope", "")
	viper.SetDefault("tracker.timeout", "30s")
	viper.SetDefault("slack.webhook_url", "")
	viper.SetDefault("slack.channel", "")
	viper.SetDefault("poll.interval", "1m")
	viper.SetDefault("poll.window", "72h")
	viper.SetDefault("metrics.addr", ":9310")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
	logger = newLogger(verbose)
	slog.SetDefault(logger)

	// The store opens lazily so config/version run without a database.
}

// newLogger returns the stderr text logger; verbose enables debug records.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
