// Package poller runs polling cycles: read the watermark, assemble the
// project's new edit sessions, deliver them and advance the watermark.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/joescharf/trackwatch/internal/assembler"
	"github.com/joescharf/trackwatch/internal/models"
	"github.com/joescharf/trackwatch/internal/notify"
	"github.com/joescharf/trackwatch/internal/watermark"
)

// EditSource produces the sessions recorded after minDate.
type EditSource interface {
	GetLatestEdits(ctx context.Context, minDate *time.Time, lastKey string) (*assembler.Edits, error)
}

// RunRecorder persists cycle history.
type RunRecorder interface {
	CreatePollRun(ctx context.Context, run *models.PollRun) error
	FinishPollRun(ctx context.Context, run *models.PollRun) error
}

// Project is one tracker project to poll.
type Project struct {
	Name   string
	Source EditSource
}

// Result holds the outcome of one cycle for one project.
type Result struct {
	Project   string           `json:"project"`
	RunID     string           `json:"run_id,omitempty"`
	MinDate   time.Time        `json:"min_date"`
	Touched   int              `json:"touched"`
	Sessions  int              `json:"sessions"`
	Delivered int              `json:"delivered"`
	Advanced  bool             `json:"advanced"`
	Status    models.RunStatus `json:"status"`
	Error     string           `json:"error,omitempty"`

	// Edits are the assembled sessions, kept for previews.
	Edits []models.EditSession `json:"-"`
}

// Cycle runs one poll for a project. Runs and Metrics are optional.
type Cycle struct {
	Watermark *watermark.Watermark
	Sink      notify.Sink
	Runs      RunRecorder
	Metrics   *Metrics
	Clock     clock.Clock
	Logger    *slog.Logger
	// DryRun assembles sessions without delivering them or touching state.
	DryRun bool
}

func (c *Cycle) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Cycle) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// Run polls p once. The watermark advances only when every assembled
// session was delivered; a failed cycle is retried in full by the next one.
// Issues the source skipped as unusable do not hold the watermark back.
// The returned Result is never nil; err carries the cycle's failure.
func (c *Cycle) Run(ctx context.Context, p Project) (*Result, error) {
	start := c.now()
	res := &Result{Project: p.Name, Status: models.RunStatusRunning}

	pos, err := c.Watermark.Position(ctx, p.Name)
	if err != nil {
		return c.fail(ctx, res, nil, start, err)
	}
	var synced *time.Time
	var lastKey string
	if pos != nil {
		synced = &pos.SyncedAt
		lastKey = pos.LastEventKey
	}
	minDate := c.Watermark.ResolveMinimumAllowedDate(synced)
	res.MinDate = minDate

	run := &models.PollRun{Project: p.Name, StartedAt: start.UTC(), MinDate: minDate}
	if c.Runs != nil && !c.DryRun {
		if err := c.Runs.CreatePollRun(ctx, run); err != nil {
			return c.fail(ctx, res, nil, start, err)
		}
		res.RunID = run.ID
	}

	edits, assembleErr := p.Source.GetLatestEdits(ctx, &minDate, lastKey)
	if edits != nil {
		res.Touched = edits.Touched
		res.Sessions = len(edits.Sessions)
		res.Edits = edits.Sessions
	}
	if edits == nil || edits.Partial {
		if assembleErr == nil {
			assembleErr = fmt.Errorf("assemble %s: incomplete", p.Name)
		}
		return c.fail(ctx, res, run, start, assembleErr)
	}

	log := c.logger().With("project", p.Name)
	log.Debug("edits assembled", "min_date", minDate, "touched", edits.Touched, "sessions", len(edits.Sessions))
	if assembleErr != nil {
		log.Warn("issues skipped", "skipped", edits.Skipped, "error", assembleErr)
	}

	if c.DryRun {
		return c.complete(res, assembleErr)
	}

	var deliveryErr error
	if len(edits.Sessions) > 0 {
		results := c.Sink.Deliver(ctx, edits.Sessions)
		res.Delivered = notify.Delivered(results)
		deliveryErr = notify.Errors(results)
	}
	if deliveryErr != nil {
		res.Status = models.RunStatusPartial
		res.Error = deliveryErr.Error()
		c.finish(ctx, res, run, start)
		return res, errors.Join(assembleErr, fmt.Errorf("deliver %s: %d of %d sessions failed: %w",
			p.Name, res.Sessions-res.Delivered, res.Sessions, deliveryErr))
	}

	if !edits.Empty() {
		moved, err := c.Watermark.Save(ctx, p.Name, edits.Latest, edits.LastEventKey)
		if err != nil {
			return c.fail(ctx, res, run, start, errors.Join(assembleErr, err))
		}
		res.Advanced = moved
		if moved {
			c.Metrics.setWatermark(p.Name, edits.Latest)
		}
	} else if pos != nil {
		c.Metrics.setWatermark(p.Name, pos.SyncedAt)
	}

	out, err := c.complete(res, assembleErr)
	c.finish(ctx, res, run, start)
	if res.Sessions > 0 {
		log.Info("sessions delivered", "sessions", res.Sessions, "watermark", edits.Latest)
	}
	return out, err
}

// complete marks res ok, or partial when assembly skipped issues.
func (c *Cycle) complete(res *Result, assembleErr error) (*Result, error) {
	if assembleErr != nil {
		res.Status = models.RunStatusPartial
		res.Error = assembleErr.Error()
		return res, assembleErr
	}
	res.Status = models.RunStatusOK
	return res, nil
}

func (c *Cycle) fail(ctx context.Context, res *Result, run *models.PollRun, start time.Time, err error) (*Result, error) {
	res.Status = models.RunStatusFailed
	res.Error = err.Error()
	c.finish(ctx, res, run, start)
	return res, err
}

// finish records the run and its metrics. Recording failures are logged so
// they never mask the cycle's own outcome.
func (c *Cycle) finish(ctx context.Context, res *Result, run *models.PollRun, start time.Time) {
	elapsed := c.now().Sub(start)
	c.Metrics.observe(res, elapsed)

	if run == nil || run.ID == "" || c.Runs == nil {
		return
	}
	finished := c.now().UTC()
	run.FinishedAt = &finished
	run.Sessions = res.Sessions
	run.Delivered = res.Delivered
	run.Status = res.Status
	run.Error = res.Error
	// The run row is written even when the cycle was cancelled.
	if err := c.Runs.FinishPollRun(context.WithoutCancel(ctx), run); err != nil {
		c.logger().Warn("record poll run failed", "project", res.Project, "run", run.ID, "error", err)
	}
}
