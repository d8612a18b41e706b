package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/trackwatch/internal/models"
)

func TestWatermarkSetRun_AllowsRewind(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	require.NoError(t, watermarkSetRun(ctx, "ABC", "2014-07-14T16:00:00Z"))
	require.NoError(t, watermarkSetRun(ctx, "ABC", "2014-07-14T12:00:00+02:00"))

	st, err := getStore()
	require.NoError(t, err)
	wm, err := st.GetWatermark(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2014, 7, 14, 10, 0, 0, 0, time.UTC), wm.SyncedAt)
	assert.Contains(t, ui.ErrOut.(*bytes.Buffer).String(), "Older than poll.window")
}

func TestWatermarkSetRun_InvalidTime(t *testing.T) {
	testEnv(t)

	err := watermarkSetRun(context.Background(), "ABC", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RFC3339")
}

func TestWatermarkSetRun_DryRun(t *testing.T) {
	testEnv(t)
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() { dryRun = false })
	ctx := context.Background()

	require.NoError(t, watermarkSetRun(ctx, "ABC", "2014-07-14T16:00:00Z"))

	st, err := getStore()
	require.NoError(t, err)
	marks, err := st.ListWatermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, marks)
}

func TestWatermarkClearRun(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	err := watermarkClearRun(ctx, "ABC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no watermark")

	require.NoError(t, watermarkSetRun(ctx, "ABC", "2014-07-14T16:00:00Z"))
	require.NoError(t, watermarkClearRun(ctx, "ABC"))

	st, err := getStore()
	require.NoError(t, err)
	marks, err := st.ListWatermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, marks)
}

func TestWatermarkShowRun(t *testing.T) {
	testEnv(t)
	viper.Set("tracker.projects", []string{"ABC", "OPS"})
	ctx := context.Background()

	st, err := getStore()
	require.NoError(t, err)
	_, err = st.AdvanceWatermark(ctx, "ABC", time.Now().Add(-2*time.Minute), "ABC-10|2014-07-14T16:45:00Z")
	require.NoError(t, err)
	_, err = st.AdvanceWatermark(ctx, "OLD", time.Now().Add(-time.Hour), "")
	require.NoError(t, err)

	require.NoError(t, watermarkShowRun(ctx))

	out := uiOut(t)
	assert.Contains(t, out, "ABC-10|2014-07-14T16:45:00Z")
	assert.Contains(t, out, "2m ago")
	assert.Contains(t, out, "OPS")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "OLD")
}

func TestRunsRun(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	require.NoError(t, runsRun(ctx))
	assert.Contains(t, uiOut(t), "No polling cycles recorded")

	st, err := getStore()
	require.NoError(t, err)
	start := time.Date(2014, 7, 14, 16, 0, 0, 0, time.UTC)
	for i, project := range []string{"ABC", "OPS", "ABC"} {
		run := &models.PollRun{Project: project, StartedAt: start.Add(time.Duration(i) * time.Minute), MinDate: start}
		require.NoError(t, st.CreatePollRun(ctx, run))
		run.Status = models.RunStatusFailed
		run.Error = "GET https://tracker.example.com/_rss/issues: status 502"
		require.NoError(t, st.FinishPollRun(ctx, run))
	}

	runsProject = "OPS"
	t.Cleanup(func() { runsProject = "" })
	require.NoError(t, runsRun(ctx))

	out := uiOut(t)
	assert.Contains(t, out, "OPS")
	assert.Contains(t, out, "status 502")
	assert.NotContains(t, out, "ABC")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
