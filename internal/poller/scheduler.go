package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// DefaultInterval is the delay between the end of one round and the start
// of the next.
const DefaultInterval = time.Minute

// Scheduler polls every project in turn, then waits Interval before the
// next round. Rounds never overlap.
type Scheduler struct {
	Cycle    *Cycle
	Projects []Project
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger

	// OnResult, when set, is called after every cycle.
	OnResult func(*Result, error)
}

// Run polls until ctx is cancelled or a cycle fails fatally. Cancellation
// returns nil; a fatal error is returned as is. Other cycle errors are
// logged and polling continues.
func (s *Scheduler) Run(ctx context.Context) error {
	clk := s.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	for {
		for _, p := range s.Projects {
			if ctx.Err() != nil {
				return nil
			}
			res, err := s.Cycle.Run(ctx, p)
			if s.OnResult != nil {
				s.OnResult(res, err)
			}
			if err == nil {
				continue
			}
			if IsFatal(err) {
				logger.Error("polling stopped", "project", p.Name, "error", err)
				return err
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			logger.Error("poll cycle failed", "project", p.Name, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-clk.After(interval):
		}
	}
}
