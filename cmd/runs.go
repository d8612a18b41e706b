package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/trackwatch/internal/output"
)

var (
	runsLimit   int
	runsProject string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent polling cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsRun(cmd.Context())
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "l", 20, "Maximum number of runs to show")
	runsCmd.Flags().StringVarP(&runsProject, "project", "p", "", "Only show runs for this project")
	rootCmd.AddCommand(runsCmd)
}

func runsRun(ctx context.Context) error {
	st, err := getStore()
	if err != nil {
		return err
	}
	runs, err := st.ListPollRuns(ctx, runsProject, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No polling cycles recorded")
		return nil
	}

	table := ui.Table([]string{"STARTED", "PROJECT", "SINCE", "SESSIONS", "DELIVERED", "DURATION", "STATUS", "ERROR"})
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		_ = table.Append([]string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			output.Cyan(r.Project),
			r.MinDate.UTC().Format(time.RFC3339),
			strconv.Itoa(r.Sessions),
			strconv.Itoa(r.Delivered),
			duration,
			output.StatusColor(string(r.Status)),
			truncate(r.Error, 60),
		})
	}
	_ = table.Render()
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
