package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/trackwatch/internal/models"
	"github.com/joescharf/trackwatch/internal/output"
	"github.com/joescharf/trackwatch/internal/store"
	"github.com/joescharf/trackwatch/internal/watermark"
)

var watermarkCmd = &cobra.Command{
	Use:     "watermark",
	Aliases: []string{"wm"},
	Short:   "Show or change per-project sync positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watermarkShowRun(cmd.Context())
	},
}

var watermarkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the sync position of every project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watermarkShowRun(cmd.Context())
	},
}

var watermarkSetCmd = &cobra.Command{
	Use:   "set <project> <RFC3339 time>",
	Short: "Move a project's sync position",
	Long: `Move a project's sync position, e.g. to replay a day of edits:

  trackwatch watermark set ABC 2014-07-14T00:00:00Z

The next cycle still never looks further back than poll.window.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watermarkSetRun(cmd.Context(), args[0], args[1])
	},
}

var watermarkClearCmd = &cobra.Command{
	Use:   "clear <project>",
	Short: "Forget a project's sync position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watermarkClearRun(cmd.Context(), args[0])
	},
}

func init() {
	watermarkCmd.AddCommand(watermarkShowCmd)
	watermarkCmd.AddCommand(watermarkSetCmd)
	watermarkCmd.AddCommand(watermarkClearCmd)
	rootCmd.AddCommand(watermarkCmd)
}

func watermarkShowRun(ctx context.Context) error {
	st, err := getStore()
	if err != nil {
		return err
	}
	marks, err := st.ListWatermarks(ctx)
	if err != nil {
		return err
	}

	byProject := make(map[string]*models.Watermark, len(marks))
	for _, m := range marks {
		byProject[m.Project] = m
	}
	names := projectList(viper.GetStringSlice("tracker.projects"))
	for _, m := range marks {
		if !slices.Contains(names, m.Project) {
			names = append(names, m.Project)
		}
	}
	if len(names) == 0 {
		ui.Info("No projects configured and no watermarks stored")
		return nil
	}

	window := windowSetting()
	now := time.Now()
	table := ui.Table([]string{"PROJECT", "SYNCED", "AGE", "LAST EVENT"})
	for _, name := range names {
		m, ok := byProject[name]
		if !ok {
			_ = table.Append([]string{output.Cyan(name), "-", output.Yellow("never"), "-"})
			continue
		}
		last := m.LastEventKey
		if last == "" {
			last = "-"
		}
		_ = table.Append([]string{
			output.Cyan(name),
			m.SyncedAt.UTC().Format(time.RFC3339),
			output.AgeColor(m.SyncedAt, now, window),
			last,
		})
	}
	_ = table.Render()
	return nil
}

func watermarkSetRun(ctx context.Context, project, value string) error {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fmt.Errorf("invalid time %q (want RFC3339, e.g. 2014-07-14T16:00:00Z): %w", value, err)
	}
	st, err := getStore()
	if err != nil {
		return err
	}
	wm := watermark.New(st, clock.WallClock, windowSetting())

	if dryRun {
		ui.DryRunMsg("Would set %s watermark to %s", project, t.UTC().Format(time.RFC3339))
		return nil
	}

	// Save only moves forward, so clear first to allow rewinding.
	if err := wm.Clear(ctx, project); err != nil {
		return err
	}
	if _, err := wm.Save(ctx, project, t, ""); err != nil {
		return err
	}
	ui.Success("Set %s watermark to %s", output.Cyan(project), t.UTC().Format(time.RFC3339))
	if floor := wm.ResolveMinimumAllowedDate(nil); t.Before(floor) {
		ui.Warning("Older than poll.window; the next cycle starts at %s", floor.Format(time.RFC3339))
	}
	return nil
}

func watermarkClearRun(ctx context.Context, project string) error {
	st, err := getStore()
	if err != nil {
		return err
	}
	if _, err := st.GetWatermark(ctx, project); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("project %s has no watermark", project)
		}
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would clear %s watermark", project)
		return nil
	}
	if err := watermark.New(st, clock.WallClock, windowSetting()).Clear(ctx, project); err != nil {
		return err
	}
	ui.Success("Cleared %s watermark", output.Cyan(project))
	return nil
}

// windowSetting returns poll.window, or the default when it is unset or invalid.
func windowSetting() time.Duration {
	if w := viper.GetDuration("poll.window"); w > 0 {
		return w
	}
	return watermark.DefaultWindow
}
