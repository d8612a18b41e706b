package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/trackwatch/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for trackwatch.
type Store interface {
	// Watermarks
	GetWatermark(ctx context.Context, project string) (*models.Watermark, error)
	ListWatermarks(ctx context.Context) ([]*models.Watermark, error)
	// AdvanceWatermark stores syncedAt for project only when it is later than
	// the stored value, and reports whether it did.
	AdvanceWatermark(ctx context.Context, project string, syncedAt time.Time, lastEventKey string) (bool, error)
	DeleteWatermark(ctx context.Context, project string) error

	// Poll runs
	CreatePollRun(ctx context.Context, run *models.PollRun) error
	FinishPollRun(ctx context.Context, run *models.PollRun) error
	ListPollRuns(ctx context.Context, project string, limit int) ([]*models.PollRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
