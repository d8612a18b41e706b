package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/trackwatch/internal/models"
)

func testIssue(t *testing.T, number int) models.Issue {
	t.Helper()
	i, err := models.NewIssue("ABC", number, "Fix login", "Login fails on Safari", "https://tracker.example.com/issue/ABC-10")
	require.NoError(t, err)
	return i
}

func changeSession(t *testing.T, number int) models.EditSession {
	ts := time.Date(2014, 7, 14, 16, 10, 0, 0, time.UTC)
	fc, err := models.NewFieldChange("State", "Open", "Fixed", "Alice", ts)
	require.NoError(t, err)
	return models.EditSession{Issue: testIssue(t, number), Updater: "Alice", Updated: ts, Changes: []models.FieldChange{fc}}
}

func TestNewMessage_Change(t *testing.T) {
	msg := NewMessage(changeSession(t, 10))

	assert.Equal(t, "Alice updated ABC-10", msg.Text)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "ABC-10 Fix login", att.Title)
	assert.Equal(t, "https://tracker.example.com/issue/ABC-10", att.TitleLink)
	assert.Equal(t, int64(1405354200), att.Timestamp)
	require.Len(t, att.Fields, 1)
	assert.Equal(t, Field{Title: "State", Value: "Open → Fixed", Short: true}, att.Fields[0])
}

func TestNewMessage_PrefersExternalLink(t *testing.T) {
	sess := changeSession(t, 10)
	sess.Issue = sess.Issue.WithExternalLink("https://youtrack.example.com/issue/ABC-10")

	msg := NewMessage(sess)
	assert.Equal(t, "https://youtrack.example.com/issue/ABC-10", msg.Attachments[0].TitleLink)
}

func TestNewMessage_Kinds(t *testing.T) {
	created := time.Date(2014, 7, 14, 15, 0, 0, 0, time.UTC)
	issue := testIssue(t, 11).WithCreation("Erin", created)

	msg := NewMessage(models.EditSession{Issue: issue, Updater: "Erin", Updated: created})
	assert.Equal(t, "Erin created ABC-11", msg.Text)
	assert.Equal(t, "Login fails on Safari", msg.Attachments[0].Text)

	commented := time.Date(2014, 7, 14, 16, 20, 0, 0, time.UTC)
	msg = NewMessage(models.EditSession{
		Issue: testIssue(t, 11), Updater: "Carol", Updated: commented,
		Comments: []models.Comment{
			{Author: "Dave", Created: commented.Add(-time.Minute), Text: "first"},
			{Author: "Carol", Created: commented, Text: "Looks good\nnow"},
		},
	})
	assert.Equal(t, "Carol commented on ABC-11", msg.Text)
	assert.Equal(t, "> Looks good\n> now", msg.Attachments[0].Text)

	msg = NewMessage(models.EditSession{
		Issue: testIssue(t, 12), Updater: "alice", Updated: commented,
		Attachments: []models.Attachment{{Name: "trace.txt", FileURL: "https://tracker.example.com/f/1", Author: "alice", Created: commented}},
	})
	assert.Equal(t, "alice attached files to ABC-12", msg.Text)
	assert.Equal(t, "trace.txt", msg.Attachments[0].Fields[0].Title)

	msg = NewMessage(models.EditSession{Issue: testIssue(t, 13), Updated: commented})
	assert.Equal(t, "Someone touched ABC-13", msg.Text)
}

func TestChangeValue(t *testing.T) {
	assert.Equal(t, "alice", changeValue(models.FieldChange{Current: "alice"}))
	assert.Equal(t, "~triage~", changeValue(models.FieldChange{Prior: "triage"}))
	assert.Equal(t, "1.0 → 1.1, 2.0", changeValue(models.FieldChange{Prior: "1.0", Current: "1.1, 2.0"}))
}

func TestWebhookSink_DeliversEachSession(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var msg Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "#tracker", srv.Client(), nil)
	results := sink.Deliver(context.Background(), []models.EditSession{changeSession(t, 10), changeSession(t, 11)})

	require.Len(t, results, 2)
	assert.Equal(t, 2, Delivered(results))
	assert.NoError(t, Errors(results))

	require.Len(t, received, 2)
	assert.Equal(t, "#tracker", received[0].Channel)
	assert.Equal(t, "Alice updated ABC-10", received[0].Text)
	assert.Equal(t, "Alice updated ABC-11", received[1].Text)
}

func TestWebhookSink_PerSessionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		if strings.Contains(msg.Text, "ABC-11") {
			http.Error(w, "channel_not_found", http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "", srv.Client(), nil)
	results := sink.Deliver(context.Background(), []models.EditSession{
		changeSession(t, 10), changeSession(t, 11), changeSession(t, 12),
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, 2, Delivered(results))

	var we *WebhookError
	require.True(t, errors.As(results[1].Err, &we))
	assert.Equal(t, "ABC-11", we.Issue)
	assert.Equal(t, http.StatusNotFound, we.Code)
	assert.Equal(t, "channel_not_found", we.Body)
	assert.ErrorContains(t, Errors(results), "ABC-11")
}

func TestWebhookSink_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewWebhookSink(srv.URL, "", srv.Client(), nil).Deliver(ctx, []models.EditSession{changeSession(t, 10)})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	results := sink.Deliver(context.Background(), []models.EditSession{changeSession(t, 10)})
	require.Len(t, results, 1)
	assert.Equal(t, 1, Delivered(results))
	assert.Contains(t, buf.String(), "issue=ABC-10")
	assert.Contains(t, buf.String(), "updater=Alice")
	assert.Contains(t, buf.String(), `summary="changed State"`)
}
