// Package assembler builds the ordered list of edit sessions for one project
// from its feed and the per-issue change and attachment documents.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/trackwatch/internal/attachments"
	"github.com/joescharf/trackwatch/internal/changes"
	"github.com/joescharf/trackwatch/internal/feed"
	"github.com/joescharf/trackwatch/internal/models"
	"github.com/joescharf/trackwatch/internal/tracker"
)

// Edits is the outcome of one assembly pass.
type Edits struct {
	Sessions []models.EditSession
	// Touched is the number of distinct issues found in the feed.
	Touched int
	// LastEventKey and Latest identify the newest feed event read. Both are
	// zero when the feed had nothing new.
	LastEventKey string
	Latest       time.Time
	// Partial is set when an issue failure stopped the pass. Sessions then
	// miss the issues after it and the pass must be retried in full.
	Partial bool
	// Skipped lists issues whose documents are permanently unusable; the pass
	// went on without them.
	Skipped []string
}

// Empty reports whether the pass covered no feed events.
func (e *Edits) Empty() bool { return e.Latest.IsZero() }

// Assembler fetches and parses tracker documents for one project.
type Assembler struct {
	fetcher   tracker.Fetcher
	endpoints tracker.Endpoints
	logger    *slog.Logger
}

// New returns an Assembler reading through f with URLs from e.
func New(f tracker.Fetcher, e tracker.Endpoints, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{fetcher: f, endpoints: e, logger: logger}
}

// GetLatestEdits returns the sessions recorded after minDate, issue by issue
// in feed order. lastKey is the newest event key seen by the previous pass.
//
// A feed failure returns no Edits. An issue whose document is malformed or
// gone is skipped and reported in the returned error. Any other issue failure
// stops the pass and marks the result Partial.
func (a *Assembler) GetLatestEdits(ctx context.Context, minDate *time.Time, lastKey string) (*Edits, error) {
	events, err := a.readFeed(ctx, minDate, lastKey)
	if err != nil {
		return nil, err
	}

	out := &Edits{}
	if len(events) == 0 {
		return out, nil
	}
	newest := events[len(events)-1]
	out.LastEventKey = newest.Key()
	out.Latest = newest.Published

	var skipped []error
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		key := ev.Issue.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if !strings.EqualFold(ev.Issue.Prefix, a.endpoints.Project()) {
			a.logger.Debug("feed item outside project skipped", "issue", key, "project", a.endpoints.Project())
			continue
		}
		out.Touched++

		ev.Issue = ev.Issue.WithExternalLink(a.endpoints.IssueURL(ev.Issue))
		sessions, err := a.issueSessions(ctx, ev, minDate)
		if err != nil {
			err = fmt.Errorf("assemble %s: %w", key, err)
			if permanent(err) {
				a.logger.Warn("issue skipped", "issue", key, "error", err)
				out.Skipped = append(out.Skipped, key)
				skipped = append(skipped, err)
				continue
			}
			out.Partial = true
			return out, errors.Join(append(skipped, err)...)
		}
		a.logger.Debug("issue assembled", "issue", key, "sessions", len(sessions))
		out.Sessions = append(out.Sessions, sessions...)
	}
	return out, errors.Join(skipped...)
}

// permanent reports whether retrying err cannot succeed: the document is
// malformed, or the issue no longer exists.
func permanent(err error) bool {
	var cme *changes.MalformedDocumentError
	var ame *attachments.MalformedDocumentError
	var se *tracker.StatusError
	switch {
	case errors.As(err, &cme), errors.As(err, &ame):
		return true
	case errors.As(err, &se):
		return se.Code == http.StatusNotFound || se.Code == http.StatusGone
	}
	return false
}

func (a *Assembler) readFeed(ctx context.Context, minDate *time.Time, lastKey string) ([]models.TouchEvent, error) {
	rc, err := a.fetcher.Open(ctx, a.endpoints.FeedURL())
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer func() { _ = rc.Close() }()

	events, err := feed.Read(rc, feed.ReadOptions{MinDate: minDate, LastKey: lastKey})
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return events, nil
}

// issueSessions parses one issue's change document and substitutes
// attachment sessions for empty ones on issues created before minDate.
func (a *Assembler) issueSessions(ctx context.Context, ev models.TouchEvent, minDate *time.Time) ([]models.EditSession, error) {
	res, err := a.parseChanges(ctx, ev, minDate)
	if err != nil {
		return nil, err
	}
	if !needsFallback(res, minDate) {
		return res.Sessions, nil
	}

	files, err := a.parseAttachments(ctx, res.Issue, minDate)
	if err != nil {
		return nil, err
	}

	var out []models.EditSession
	substituted := false
	for _, s := range res.Sessions {
		if !s.IsEmpty() {
			out = append(out, s)
			continue
		}
		if !substituted {
			out = append(out, attachmentSessions(res.Issue, files)...)
			substituted = true
		}
	}
	if !substituted {
		out = append(out, attachmentSessions(res.Issue, files)...)
	}
	return out, nil
}

// needsFallback reports whether res contains an empty session, or none at
// all, for an issue created before minDate. An unknown creation time counts
// as before.
func needsFallback(res *changes.Result, minDate *time.Time) bool {
	if minDate == nil {
		return false
	}
	if !res.Issue.Created.IsZero() && models.After(res.Issue.Created, minDate) {
		return false
	}
	if len(res.Sessions) == 0 {
		return true
	}
	for _, s := range res.Sessions {
		if s.IsEmpty() {
			return true
		}
	}
	return false
}

func attachmentSessions(issue models.Issue, files []models.Attachment) []models.EditSession {
	out := make([]models.EditSession, 0, len(files))
	for _, f := range files {
		out = append(out, models.EditSession{
			Issue:       issue,
			Updater:     f.Author,
			Updated:     f.Created,
			Attachments: []models.Attachment{f},
		})
	}
	return out
}

func (a *Assembler) parseChanges(ctx context.Context, ev models.TouchEvent, minDate *time.Time) (*changes.Result, error) {
	rc, err := a.open(ctx, a.endpoints.ChangesURL(ev.Issue))
	if err != nil {
		return nil, fmt.Errorf("open changes: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return changes.Parse(rc, ev, minDate)
}

func (a *Assembler) parseAttachments(ctx context.Context, issue models.Issue, minDate *time.Time) ([]models.Attachment, error) {
	rc, err := a.open(ctx, a.endpoints.AttachmentsURL(issue))
	if err != nil {
		return nil, fmt.Errorf("open attachments: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return attachments.Parse(rc, minDate)
}

func (a *Assembler) open(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.fetcher.Open(ctx, url)
}
