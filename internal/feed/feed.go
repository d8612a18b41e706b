// Package feed reads the tracker's RSS item feed into chronological touch events.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/trackwatch/internal/models"
)

// PubDateLayout is the feed's publish date format once the zone token is removed.
const PubDateLayout = "Mon, 02 Jan 2006 15:04:05"

// ReadOptions bound which feed items are returned.
type ReadOptions struct {
	// MinDate keeps only items published strictly after it.
	MinDate *time.Time
	// LastKey is the key of the newest event returned by the previous cycle.
	// Reading stops when an item with this key is reached.
	LastKey string
}

// MalformedFeedError reports a feed that could not be decoded. Raw holds the
// complete payload that was received.
type MalformedFeedError struct {
	Raw []byte
	Err error
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("malformed feed: %v\npayload:\n%s", e.Err, e.Raw)
}

func (e *MalformedFeedError) Unwrap() error { return e.Err }

// MalformedEventError reports a single feed item that cannot be turned into
// a touch event.
type MalformedEventError struct {
	Title  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed feed item %q: %s", e.Title, e.Reason)
}

// rawItem collects the text of one <item>.
type rawItem struct {
	title       strings.Builder
	link        strings.Builder
	description strings.Builder
	pubDate     strings.Builder
}

func (it *rawItem) target(name string) *strings.Builder {
	switch name {
	case "title":
		return &it.title
	case "link":
		return &it.link
	case "description":
		return &it.description
	case "pubDate":
		return &it.pubDate
	}
	return nil
}

// Read decodes the feed in r, newest item first, and returns the touch
// events oldest first. The whole payload is buffered so it can be attached
// to a MalformedFeedError.
func Read(r io.Reader, opts ReadOptions) ([]models.TouchEvent, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = xml.HTMLEntity

	var (
		events []models.TouchEvent
		item   *rawItem
		text   *strings.Builder
		depth  int // element depth below <item>
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedFeedError{Raw: raw, Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if item == nil {
				if t.Name.Local == "item" {
					item = &rawItem{}
					depth = 0
				}
				continue
			}
			depth++
			if depth == 1 {
				text = item.target(t.Name.Local)
			}
		case xml.CharData:
			if text != nil {
				text.Write(t)
			}
		case xml.EndElement:
			if item == nil {
				continue
			}
			if depth > 0 {
				depth--
				if depth == 0 {
					text = nil
				}
				continue
			}
			// </item>
			ev, err := toEvent(item)
			item = nil
			if err != nil {
				return nil, err
			}
			if opts.LastKey != "" && ev.Key() == opts.LastKey {
				slices.Reverse(events)
				return events, nil
			}
			if opts.MinDate == nil || ev.Published.After(*opts.MinDate) {
				events = append(events, ev)
			}
		}
	}

	if item != nil {
		return nil, &MalformedFeedError{Raw: raw, Err: fmt.Errorf("unterminated item")}
	}

	slices.Reverse(events)
	return events, nil
}

func toEvent(it *rawItem) (models.TouchEvent, error) {
	title := strings.TrimSpace(it.title.String())
	prefix, number, text, err := SplitTitle(title)
	if err != nil {
		return models.TouchEvent{}, err
	}

	published, err := ParsePubDate(it.pubDate.String())
	if err != nil {
		return models.TouchEvent{}, &MalformedEventError{Title: title, Reason: err.Error()}
	}

	link := strings.TrimSpace(it.link.String())
	description := strings.TrimSpace(it.description.String())
	issue, err := models.NewIssue(prefix, number, text, description, link)
	if err != nil {
		return models.TouchEvent{}, &MalformedEventError{Title: title, Reason: err.Error()}
	}

	return models.TouchEvent{
		Issue:       issue,
		Title:       issue.Title,
		Description: issue.Description,
		Published:   published,
		Link:        issue.Link,
	}, nil
}

// SplitTitle splits "PREFIX-NUMBER: text" on the first '-' and first ':'.
func SplitTitle(title string) (prefix string, number int, text string, err error) {
	dash := strings.Index(title, "-")
	colon := strings.Index(title, ":")
	if dash < 0 || colon < 0 {
		return "", 0, "", &MalformedEventError{Title: title, Reason: "expected PREFIX-NUMBER: text"}
	}
	if colon < dash {
		return "", 0, "", &MalformedEventError{Title: title, Reason: "':' before '-'"}
	}

	prefix = strings.TrimSpace(title[:dash])
	number, convErr := strconv.Atoi(strings.TrimSpace(title[dash+1 : colon]))
	if convErr != nil {
		return "", 0, "", &MalformedEventError{Title: title, Reason: "issue number is not numeric"}
	}
	if prefix == "" {
		return "", 0, "", &MalformedEventError{Title: title, Reason: "empty project prefix"}
	}
	return prefix, number, strings.TrimSpace(title[colon+1:]), nil
}

// ParsePubDate parses an RSS pubDate in UTC, ignoring any trailing zone token
// such as "GMT" or "+0000".
func ParsePubDate(s string) (time.Time, error) {
	fields := strings.Fields(s)
	// PubDateLayout has five space-separated fields.
	if len(fields) > 5 {
		fields = fields[:5]
	}
	t, err := time.ParseInLocation(PubDateLayout, strings.Join(fields, " "), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse pubDate %q: %w", s, err)
	}
	return t, nil
}
