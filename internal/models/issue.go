package models

import (
	"fmt"
	"strings"
	"time"
)

// Issue identifies a tracker issue by project prefix and number, e.g. ABC-10.
// Values are immutable once built; compare identity with SameAs.
type Issue struct {
	Prefix       string
	Number       int
	Title        string
	Description  string
	Link         string
	ExternalLink string
	Creator      string
	Created      time.Time
}

// NewIssue builds an Issue with trimmed attributes. Prefix and a positive
// number are required.
func NewIssue(prefix string, number int, title, description, link string) (Issue, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Issue{}, fmt.Errorf("issue prefix is required")
	}
	if number <= 0 {
		return Issue{}, fmt.Errorf("issue number must be positive: %d", number)
	}
	return Issue{
		Prefix:      prefix,
		Number:      number,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Link:        strings.TrimSpace(link),
	}, nil
}

// Key returns the display key, PREFIX-NUMBER.
func (i Issue) Key() string {
	return fmt.Sprintf("%s-%d", i.Prefix, i.Number)
}

// SameAs reports whether both values refer to the same tracker issue.
func (i Issue) SameAs(other Issue) bool {
	return i.Prefix == other.Prefix && i.Number == other.Number
}

// WithCreation returns a copy carrying the given creator and creation time.
func (i Issue) WithCreation(creator string, created time.Time) Issue {
	i.Creator = strings.TrimSpace(creator)
	i.Created = created
	return i
}

// WithExternalLink returns a copy carrying the given external link.
func (i Issue) WithExternalLink(link string) Issue {
	i.ExternalLink = strings.TrimSpace(link)
	return i
}

// TouchEvent is one feed row saying an issue was modified. It only lives
// for the duration of a polling cycle.
type TouchEvent struct {
	Issue       Issue
	Title       string
	Description string
	Published   time.Time
	Link        string
}

// EventKeySeparator joins the issue key and publish time in a TouchEvent key.
const EventKeySeparator = "|"

// eventKeyLayout formats publish times to the second.
const eventKeyLayout = "2006-01-02T15:04:05Z"

// Key identifies the event across polling cycles.
func (e TouchEvent) Key() string {
	return e.Issue.Key() + EventKeySeparator + e.Published.UTC().Format(eventKeyLayout)
}
