package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/trackwatch/internal/daemon"
	"github.com/joescharf/trackwatch/internal/output"
	"github.com/joescharf/trackwatch/internal/poller"
	"github.com/joescharf/trackwatch/internal/watermark"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll every configured project until interrupted",
	Long: `Poll every configured project in turn, post new edit sessions and
wait poll.interval before the next round. Rounds never overlap.

When metrics.addr is set, Prometheus metrics are served on /metrics and a
liveness probe on /healthz.

Use 'trackwatch watch start' to run in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun(cmd.Context())
	},
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStartRun()
	},
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStopRun()
	},
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background watcher is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStatusRun()
	},
}

func init() {
	watchCmd.AddCommand(watchStartCmd)
	watchCmd.AddCommand(watchStopCmd)
	watchCmd.AddCommand(watchStatusCmd)
	rootCmd.AddCommand(watchCmd)
}

// pidFile returns the PID file tracking the watcher.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "trackwatch-watch.pid"))
}

// watchLogPath returns the log file of a background watcher.
func watchLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "trackwatch-watch.log")
}

func watchRun(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	s, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := getStore()
	if err != nil {
		return err
	}
	projects, err := s.pollProjects(s.Projects, logger)
	if err != nil {
		return err
	}

	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	ctx, stop := signal.NotifyContext(parent, shutdownSignals()...)
	defer stop()

	metrics := poller.NewMetrics("trackwatch")
	if s.MetricsAddr != "" {
		srv := metricsServer(s.MetricsAddr, metrics)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", s.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", s.MetricsAddr)
	}

	sched := &poller.Scheduler{
		Cycle: &poller.Cycle{
			Watermark: watermark.New(st, clock.WallClock, s.Window),
			Sink:      s.sink(logger),
			Runs:      st,
			Metrics:   metrics,
			Clock:     clock.WallClock,
			Logger:    logger,
		},
		Projects: projects,
		Interval: s.Interval,
		Clock:    clock.WallClock,
		Logger:   logger,
		OnResult: func(res *poller.Result, err error) {
			if err == nil {
				logger.Debug("cycle finished", "project", res.Project, "sessions", res.Sessions,
					"delivered", res.Delivered, "advanced", res.Advanced)
			}
		},
	}

	logger.Info("watching", "projects", s.Projects, "interval", s.Interval, "window", s.Window, "pid", os.Getpid())
	if err := sched.Run(ctx); err != nil {
		return err
	}
	logger.Info("watch stopped")
	return nil
}

// metricsServer serves /metrics and /healthz.
func metricsServer(addr string, m *poller.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

func watchStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("watcher already running (PID %d)", pid)
	}
	if _, err := loadSettings(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would start watcher in the background (log: %s)", watchLogPath())
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	logPath := watchLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	args := []string{"watch"}
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		args = append([]string{"--config", cfg}, args...)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	// The child writes its own PID file; record it now so status works at once.
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Watcher started (PID %d)", child.Process.Pid)
	ui.Info("Log: %s", logPath)
	return nil
}

func watchStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("watcher is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop watcher (PID %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal watcher: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			_ = pf.Remove()
			ui.Success("Watcher stopped (PID %d)", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	ui.Warning("Watcher did not exit, killing PID %d", pid)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill watcher: %w", err)
	}
	_ = pf.Remove()
	return nil
}

func watchStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Watcher: %s", output.Yellow("not running"))
		return nil
	}
	ui.Info("Watcher: %s (PID %d)", output.Green("running"), pid)
	ui.Info("Log: %s", watchLogPath())
	if addr := viper.GetString("metrics.addr"); addr != "" {
		ui.Info("Metrics: %s/metrics", addr)
	}
	return nil
}
