// Package watermark tracks how far each project's feed has been processed.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/joescharf/trackwatch/internal/models"
	"github.com/joescharf/trackwatch/internal/store"
)

// DefaultWindow is the furthest back a cycle ever looks.
const DefaultWindow = 72 * time.Hour

// Store is the persistence the watermark needs.
type Store interface {
	GetWatermark(ctx context.Context, project string) (*models.Watermark, error)
	AdvanceWatermark(ctx context.Context, project string, syncedAt time.Time, lastEventKey string) (bool, error)
	DeleteWatermark(ctx context.Context, project string) error
}

// Watermark reads and advances per-project sync positions. Stored positions
// never move backwards except through Clear.
type Watermark struct {
	store  Store
	clock  clock.Clock
	window time.Duration
}

// New returns a Watermark backed by s. A nil clk uses the wall clock and a
// non-positive window uses DefaultWindow.
func New(s Store, clk clock.Clock, window time.Duration) *Watermark {
	if clk == nil {
		clk = clock.WallClock
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Watermark{store: s, clock: clk, window: window}
}

// Window returns the lookback limit.
func (w *Watermark) Window() time.Duration { return w.window }

// Position returns the stored watermark for project, or nil when the project
// has never been synced.
func (w *Watermark) Position(ctx context.Context, project string) (*models.Watermark, error) {
	wm, err := w.store.GetWatermark(ctx, project)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load watermark %s: %w", project, err)
	}
	return wm, nil
}

// Load returns the last synced time for project, or nil when absent.
func (w *Watermark) Load(ctx context.Context, project string) (*time.Time, error) {
	wm, err := w.Position(ctx, project)
	if err != nil || wm == nil {
		return nil, err
	}
	t := wm.SyncedAt
	return &t, nil
}

// LastEventKey returns the key of the newest event already processed for
// project, or "" when absent.
func (w *Watermark) LastEventKey(ctx context.Context, project string) (string, error) {
	wm, err := w.Position(ctx, project)
	if err != nil || wm == nil {
		return "", err
	}
	return wm.LastEventKey, nil
}

// Save records t and lastEventKey for project when t is after the stored
// value. It reports whether the watermark moved.
func (w *Watermark) Save(ctx context.Context, project string, t time.Time, lastEventKey string) (bool, error) {
	moved, err := w.store.AdvanceWatermark(ctx, project, t.UTC(), lastEventKey)
	if err != nil {
		return false, fmt.Errorf("save watermark %s: %w", project, err)
	}
	return moved, nil
}

// Clear forgets the position for project; the next cycle starts from the
// window limit.
func (w *Watermark) Clear(ctx context.Context, project string) error {
	if err := w.store.DeleteWatermark(ctx, project); err != nil {
		return fmt.Errorf("clear watermark %s: %w", project, err)
	}
	return nil
}

// ResolveMinimumAllowedDate returns t, or now minus the window when t is nil
// or older than that.
func (w *Watermark) ResolveMinimumAllowedDate(t *time.Time) time.Time {
	floor := w.clock.Now().UTC().Add(-w.window)
	if t == nil || t.Before(floor) {
		return floor
	}
	return t.UTC()
}
