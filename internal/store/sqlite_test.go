package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/trackwatch/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

// --- Watermarks ---

func TestGetWatermark_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWatermark(context.Background(), "ABC")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdvanceWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2014, 7, 14, 16, 0, 0, 0, time.UTC)

	advanced, err := s.AdvanceWatermark(ctx, "ABC", first, "ABC-10|2014-07-14T16:00:00Z")
	require.NoError(t, err)
	assert.True(t, advanced)

	w, err := s.GetWatermark(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, "ABC", w.Project)
	assert.True(t, first.Equal(w.SyncedAt))
	assert.Equal(t, "ABC-10|2014-07-14T16:00:00Z", w.LastEventKey)
	assert.False(t, w.UpdatedAt.IsZero())

	// Later value moves it forward
	later := first.Add(time.Hour)
	advanced, err = s.AdvanceWatermark(ctx, "ABC", later, "ABC-11|2014-07-14T17:00:00Z")
	require.NoError(t, err)
	assert.True(t, advanced)

	w, err = s.GetWatermark(ctx, "ABC")
	require.NoError(t, err)
	assert.True(t, later.Equal(w.SyncedAt))
	assert.Equal(t, "ABC-11|2014-07-14T17:00:00Z", w.LastEventKey)
}

func TestAdvanceWatermark_NeverMovesBackwards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2014, 7, 14, 16, 0, 0, 0, time.UTC)
	_, err := s.AdvanceWatermark(ctx, "ABC", at, "key-1")
	require.NoError(t, err)

	for _, candidate := range []time.Time{at, at.Add(-time.Minute)} {
		advanced, err := s.AdvanceWatermark(ctx, "ABC", candidate, "key-2")
		require.NoError(t, err)
		assert.False(t, advanced)
	}

	w, err := s.GetWatermark(ctx, "ABC")
	require.NoError(t, err)
	assert.True(t, at.Equal(w.SyncedAt))
	assert.Equal(t, "key-1", w.LastEventKey)
}

func TestListAndDeleteWatermarks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2014, 7, 14, 16, 0, 0, 0, time.UTC)
	_, err := s.AdvanceWatermark(ctx, "XYZ", at, "")
	require.NoError(t, err)
	_, err = s.AdvanceWatermark(ctx, "ABC", at, "")
	require.NoError(t, err)

	all, err := s.ListWatermarks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ABC", all[0].Project)
	assert.Equal(t, "XYZ", all[1].Project)

	require.NoError(t, s.DeleteWatermark(ctx, "ABC"))
	_, err = s.GetWatermark(ctx, "ABC")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op
	assert.NoError(t, s.DeleteWatermark(ctx, "ABC"))

	// After a clear any value is accepted again
	advanced, err := s.AdvanceWatermark(ctx, "ABC", at.Add(-24*time.Hour), "")
	require.NoError(t, err)
	assert.True(t, advanced)
}

// --- Poll runs ---

func TestPollRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	minDate := time.Date(2014, 7, 11, 16, 0, 0, 0, time.UTC)
	run := &models.PollRun{Project: "ABC", MinDate: minDate}
	require.NoError(t, s.CreatePollRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.Len(t, run.ID, 26, "ULID")
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())

	runs, err := s.ListPollRuns(ctx, "ABC", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, models.RunStatusRunning, runs[0].Status)
	assert.True(t, minDate.Equal(runs[0].MinDate))

	run.Sessions = 4
	run.Delivered = 3
	run.Status = models.RunStatusPartial
	run.Error = "deliver ABC-10: webhook status 500"
	require.NoError(t, s.FinishPollRun(ctx, run))
	require.NotNil(t, run.FinishedAt)

	runs, err = s.ListPollRuns(ctx, "ABC", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 4, got.Sessions)
	assert.Equal(t, 3, got.Delivered)
	assert.Equal(t, models.RunStatusPartial, got.Status)
	assert.Equal(t, "deliver ABC-10: webhook status 500", got.Error)
}

func TestFinishPollRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.FinishPollRun(context.Background(), &models.PollRun{ID: "missing", Status: models.RunStatusOK})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPollRuns_FilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2014, 7, 14, 16, 0, 0, 0, time.UTC)
	for i, project := range []string{"ABC", "XYZ", "ABC", "ABC"} {
		run := &models.PollRun{Project: project, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreatePollRun(ctx, run))
	}

	all, err := s.ListPollRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	abc, err := s.ListPollRuns(ctx, "ABC", 2)
	require.NoError(t, err)
	require.Len(t, abc, 2)
	assert.True(t, abc[0].StartedAt.After(abc[1].StartedAt), "newest first")
	for _, r := range abc {
		assert.Equal(t, "ABC", r.Project)
	}
}
