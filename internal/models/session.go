package models

import (
	"fmt"
	"strings"
	"time"
)

// FieldChange records one field moving from Prior to Current.
// Prior is empty, never absent, when the field had no value.
type FieldChange struct {
	Field     string
	Prior     string
	Current   string
	Actor     string
	Timestamp time.Time
}

// NewFieldChange builds a FieldChange with every string trimmed.
func NewFieldChange(field, prior, current, actor string, ts time.Time) (FieldChange, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return FieldChange{}, fmt.Errorf("field name is required")
	}
	return FieldChange{
		Field:     field,
		Prior:     strings.TrimSpace(prior),
		Current:   strings.TrimSpace(current),
		Actor:     strings.TrimSpace(actor),
		Timestamp: ts,
	}, nil
}

// Comment is a comment posted on an issue. Identity is ID.
type Comment struct {
	ID      string
	Author  string
	Created time.Time
	Text    string
	Deleted bool
}

// Attachment is a file attached to an issue.
type Attachment struct {
	Name    string
	Created time.Time
	Author  string
	FileURL string
}

// EditSession is one actor's changes, comments or attachments on one issue
// at one recorded timestamp. All Changes share Updater and Updated.
type EditSession struct {
	Issue       Issue
	Updater     string
	Updated     time.Time
	Changes     []FieldChange
	Comments    []Comment
	Attachments []Attachment
}

// IsEmpty reports whether the session carries no changes, comments or attachments.
func (s EditSession) IsEmpty() bool {
	return len(s.Changes) == 0 && len(s.Comments) == 0 && len(s.Attachments) == 0
}

// IsNewIssue reports whether the session announces the issue's creation.
func (s EditSession) IsNewIssue() bool {
	return s.IsEmpty() && !s.Issue.Created.IsZero() && s.Updated.Equal(s.Issue.Created)
}

// Summary is a short one-line description used by logs and tables.
func (s EditSession) Summary() string {
	switch {
	case s.IsNewIssue():
		return "created"
	case len(s.Changes) > 0:
		fields := make([]string, len(s.Changes))
		for i, c := range s.Changes {
			fields[i] = c.Field
		}
		return "changed " + strings.Join(fields, ", ")
	case len(s.Comments) > 0:
		return fmt.Sprintf("commented (%d)", len(s.Comments))
	case len(s.Attachments) > 0:
		names := make([]string, len(s.Attachments))
		for i, a := range s.Attachments {
			names[i] = a.Name
		}
		return "attached " + strings.Join(names, ", ")
	default:
		return "touched"
	}
}
