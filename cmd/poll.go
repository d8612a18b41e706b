package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/joescharf/trackwatch/internal/models"
	"github.com/joescharf/trackwatch/internal/output"
	"github.com/joescharf/trackwatch/internal/poller"
	"github.com/joescharf/trackwatch/internal/watermark"
)

var pollProject string

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one polling cycle per project and exit",
	Long: `Run one polling cycle for every configured project (or just --project):
assemble the edit sessions since the watermark, post them and advance the
watermark when every session was delivered.

With --dry-run the sessions are listed instead. Nothing is posted and
neither the watermark nor the run history changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pollRun(cmd.Context())
	},
}

func init() {
	pollCmd.Flags().StringVarP(&pollProject, "project", "p", "", "Poll only this configured project")
	rootCmd.AddCommand(pollCmd)
}

func pollRun(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	names, err := s.selectProjects(pollProject)
	if err != nil {
		return err
	}
	st, err := getStore()
	if err != nil {
		return err
	}
	projects, err := s.pollProjects(names, logger)
	if err != nil {
		return err
	}

	cycle := &poller.Cycle{
		Watermark: watermark.New(st, clock.WallClock, s.Window),
		Sink:      s.sink(logger),
		Runs:      st,
		Clock:     clock.WallClock,
		Logger:    logger,
		DryRun:    dryRun,
	}

	var results []*poller.Result
	var firstErr error
	for _, p := range projects {
		res, err := cycle.Run(ctx, p)
		results = append(results, res)
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		if poller.IsFatal(err) {
			break
		}
		ui.Error("%s: %v", p.Name, err)
	}

	printPollResults(results)
	if dryRun {
		printSessionPreview(results)
	}
	return firstErr
}

func printPollResults(results []*poller.Result) {
	table := ui.Table([]string{"PROJECT", "SINCE", "TOUCHED", "SESSIONS", "DELIVERED", "WATERMARK", "STATUS"})
	for _, r := range results {
		moved := "-"
		if r.Advanced {
			moved = output.Green("advanced")
		}
		_ = table.Append([]string{
			output.Cyan(r.Project),
			r.MinDate.UTC().Format(time.RFC3339),
			strconv.Itoa(r.Touched),
			strconv.Itoa(r.Sessions),
			strconv.Itoa(r.Delivered),
			moved,
			output.StatusColor(string(r.Status)),
		})
	}
	_ = table.Render()
}

func printSessionPreview(results []*poller.Result) {
	var sessions []models.EditSession
	for _, r := range results {
		sessions = append(sessions, r.Edits...)
	}
	if len(sessions) == 0 {
		ui.DryRunMsg("No new edit sessions")
		return
	}

	ui.DryRunMsg("Would post %d edit session(s)", len(sessions))
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"ISSUE", "UPDATED", "BY", "SUMMARY"})
	for _, sess := range sessions {
		_ = table.Append([]string{
			output.Cyan(sess.Issue.Key()),
			sess.Updated.UTC().Format(time.RFC3339),
			sess.Updater,
			sess.Summary(),
		})
	}
	_ = table.Render()
}
