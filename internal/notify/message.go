package notify

import (
	"fmt"
	"strings"

	"github.com/joescharf/trackwatch/internal/models"
)

// Message is a Slack incoming-webhook payload.
type Message struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a Slack message attachment.
type Attachment struct {
	Fallback  string  `json:"fallback,omitempty"`
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	TitleLink string  `json:"title_link,omitempty"`
	Text      string  `json:"text,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Timestamp int64   `json:"ts,omitempty"`
}

// Field is one short key/value row inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

const (
	colorCreated = "#36a64f"
	colorChanged = "#439fe0"
	colorComment = "#aaaaaa"
	colorFile    = "#e0a040"
)

// NewMessage renders sess as a webhook payload.
func NewMessage(sess models.EditSession) Message {
	issue := sess.Issue
	head := issue.Key()
	if issue.Title != "" {
		head += " " + issue.Title
	}

	att := Attachment{
		Title:     head,
		TitleLink: issueLink(issue),
		Timestamp: sess.Updated.Unix(),
	}

	var text string
	switch {
	case sess.IsNewIssue():
		text = fmt.Sprintf("%s created %s", actor(sess.Updater), issue.Key())
		att.Color = colorCreated
		att.Text = issue.Description
	case len(sess.Changes) > 0:
		text = fmt.Sprintf("%s updated %s", actor(sess.Updater), issue.Key())
		att.Color = colorChanged
		for _, c := range sess.Changes {
			att.Fields = append(att.Fields, Field{Title: c.Field, Value: changeValue(c), Short: true})
		}
	case len(sess.Comments) > 0:
		text = fmt.Sprintf("%s commented on %s", actor(sess.Updater), issue.Key())
		att.Color = colorComment
		att.Text = commentText(sess)
	case len(sess.Attachments) > 0:
		text = fmt.Sprintf("%s attached files to %s", actor(sess.Updater), issue.Key())
		att.Color = colorFile
		for _, a := range sess.Attachments {
			att.Fields = append(att.Fields, Field{Title: a.Name, Value: a.FileURL})
		}
	default:
		text = fmt.Sprintf("%s touched %s", actor(sess.Updater), issue.Key())
	}
	att.Fallback = text

	return Message{Text: text, Attachments: []Attachment{att}}
}

func actor(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

func changeValue(c models.FieldChange) string {
	switch {
	case c.Prior == "":
		return c.Current
	case c.Current == "":
		return "~" + c.Prior + "~"
	default:
		return c.Prior + " → " + c.Current
	}
}

// commentText quotes the comment authored at the session's timestamp, or
// every carried comment when none matches.
func commentText(sess models.EditSession) string {
	for _, c := range sess.Comments {
		if c.Author == sess.Updater && c.Created.Equal(sess.Updated) && !c.Deleted {
			return quote(c.Text)
		}
	}
	var parts []string
	for _, c := range sess.Comments {
		if c.Deleted {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", c.Author, quote(c.Text)))
	}
	return strings.Join(parts, "\n")
}

func quote(s string) string {
	return "> " + strings.ReplaceAll(s, "\n", "\n> ")
}

// issueLink prefers the link built from the configured base URL over the
// one the feed reported.
func issueLink(issue models.Issue) string {
	if issue.ExternalLink != "" {
		return issue.ExternalLink
	}
	return issue.Link
}
