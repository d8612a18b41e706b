// Package changes turns one issue's change-history document into edit sessions.
//
// The document is read in a single forward-only pass. A parser state value
// holds the open change block, the field being read, the issue's creation
// metadata and the retained comments; element handlers are looked up in a
// dispatch table keyed by phase (top level or inside a change block) and
// element name.
//
// Sessions come out in document order: change blocks first, then the
// synthetic "issue created" session, then one session per retained comment.
package changes

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/joescharf/trackwatch/internal/models"
)

// Field names with special meaning.
const (
	FieldUpdaterName     = "updaterName"
	FieldUpdated         = "updated"
	FieldCreated         = "created"
	FieldUpdaterFullName = "updaterFullName"
	FieldResolved        = "resolved"
)

// changeFieldType is the xsi:type of fields carrying oldValue/newValue pairs.
const changeFieldType = "ChangeField"

// ResolvedLayout renders the "resolved" field's epoch value for display.
const ResolvedLayout = "Mon Jan 02 15:04:05 MST 2006"

// Result is the outcome of parsing one change document.
type Result struct {
	// Issue is the touch event's issue with the parsed creator and creation
	// time applied. Created is zero when the document did not carry it.
	Issue    models.Issue
	Sessions []models.EditSession
}

// MalformedDocumentError reports a change document that is structurally
// invalid. It fails the whole document.
type MalformedDocumentError struct {
	Issue  string
	Reason string
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed change document for %s: %s: %v", e.Issue, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed change document for %s: %s", e.Issue, e.Reason)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// Parse reads the change document in r for the issue named by event. Only
// activity after minDate is kept; a nil minDate keeps everything.
func Parse(r io.Reader, event models.TouchEvent, minDate *time.Time) (*Result, error) {
	st := newState(event, minDate)
	dec := xml.NewDecoder(r)
	dec.Entity = xml.HTMLEntity

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, st.malformed("invalid XML", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if h, ok := startHandlers[st.phase()][t.Name.Local]; ok {
				if err := h(st, t); err != nil {
					return nil, err
				}
			}
		case xml.CharData:
			if st.text != nil {
				st.text.Write(t)
			}
		case xml.EndElement:
			if h, ok := endHandlers[st.phase()][t.Name.Local]; ok {
				if err := h(st); err != nil {
					return nil, err
				}
			}
		}
	}

	if st.inChange {
		return nil, st.malformed("unterminated change block", nil)
	}
	return st.finish(), nil
}

// FormatResolved renders an epoch-millisecond "resolved" value for display.
func FormatResolved(raw string) (string, error) {
	t, err := models.ParseMillis(raw)
	if err != nil {
		return "", err
	}
	return t.Format(ResolvedLayout), nil
}

type phase int

const (
	phaseTop phase = iota
	phaseChange
)

type startHandler func(*state, xml.StartElement) error
type endHandler func(*state) error

var startHandlers = map[phase]map[string]startHandler{
	phaseTop: {
		"change":  (*state).beginChange,
		"field":   (*state).beginField,
		"value":   (*state).beginValue,
		"comment": (*state).readComment,
	},
	phaseChange: {
		"change":   (*state).nestedChange,
		"field":    (*state).beginField,
		"value":    (*state).beginValue,
		"oldValue": (*state).beginOldValue,
		"newValue": (*state).beginNewValue,
		"comment":  (*state).readComment,
	},
}

var endHandlers = map[phase]map[string]endHandler{
	phaseTop: {
		"field": (*state).endTopField,
		"value": (*state).endValue,
	},
	phaseChange: {
		"field":    (*state).endChangeField,
		"value":    (*state).endValue,
		"oldValue": (*state).endValue,
		"newValue": (*state).endValue,
		"change":   (*state).endChange,
	},
}

// fieldState is the <field> element currently open.
type fieldState struct {
	open      bool
	name      string
	isChange  bool
	values    []string
	oldValues []string
	newValues []string
	hasNew    bool
}

// pendingChange is a change-field read inside the open change block.
type pendingChange struct {
	field, prior, current string
}

type state struct {
	event   models.TouchEvent
	minDate *time.Time

	inChange bool
	field    fieldState

	// text collects character data for the value element being read;
	// target receives it when the element closes.
	text   *strings.Builder
	target *[]string

	actor      string
	updated    time.Time
	hasUpdated bool
	pending    []pendingChange

	creator    string
	created    time.Time
	hasCreated bool

	sessions []models.EditSession
	comments []models.Comment
}

func newState(event models.TouchEvent, minDate *time.Time) *state {
	return &state{event: event, minDate: minDate}
}

func (s *state) phase() phase {
	if s.inChange {
		return phaseChange
	}
	return phaseTop
}

func (s *state) malformed(reason string, err error) error {
	return &MalformedDocumentError{Issue: s.event.Issue.Key(), Reason: reason, Err: err}
}

func (s *state) beginChange(xml.StartElement) error {
	s.inChange = true
	s.actor = ""
	s.updated = time.Time{}
	s.hasUpdated = false
	s.pending = s.pending[:0]
	return nil
}

func (s *state) nestedChange(xml.StartElement) error {
	return s.malformed("nested change block", nil)
}

func (s *state) beginField(el xml.StartElement) error {
	name, ok := attr(el, "name")
	if !ok || strings.TrimSpace(name) == "" {
		return s.malformed("field without name", nil)
	}
	xsiType, _ := attr(el, "type")
	s.field = fieldState{
		open:     true,
		name:     strings.TrimSpace(name),
		isChange: strings.HasSuffix(xsiType, changeFieldType),
	}
	return nil
}

func (s *state) beginValue(xml.StartElement) error {
	if s.field.open {
		s.collect(&s.field.values)
	}
	return nil
}

func (s *state) beginOldValue(xml.StartElement) error {
	if s.field.open {
		s.collect(&s.field.oldValues)
	}
	return nil
}

func (s *state) beginNewValue(xml.StartElement) error {
	if s.field.open {
		s.field.hasNew = true
		s.collect(&s.field.newValues)
	}
	return nil
}

func (s *state) collect(target *[]string) {
	s.text = &strings.Builder{}
	s.target = target
}

func (s *state) endValue() error {
	if s.text != nil && s.target != nil {
		*s.target = append(*s.target, strings.TrimSpace(s.text.String()))
	}
	s.text = nil
	s.target = nil
	return nil
}

// readComment captures a self-contained <comment> element from its attributes.
func (s *state) readComment(el xml.StartElement) error {
	author, ok := attr(el, "authorFullName")
	if !ok {
		return s.malformed("comment without authorFullName", nil)
	}
	rawCreated, ok := attr(el, "created")
	if !ok {
		return s.malformed("comment without created", nil)
	}
	created, err := models.ParseMillis(rawCreated)
	if err != nil {
		return s.malformed("comment created", err)
	}
	if !models.After(created, s.minDate) {
		return nil
	}

	id, _ := attr(el, "id")
	text, _ := attr(el, "text")
	deleted, _ := attr(el, "deleted")
	s.comments = append(s.comments, models.Comment{
		ID:      strings.TrimSpace(id),
		Author:  strings.TrimSpace(author),
		Created: created,
		Text:    strings.TrimSpace(text),
		Deleted: strings.EqualFold(strings.TrimSpace(deleted), "true"),
	})
	return nil
}

// endTopField records the issue's creation metadata.
func (s *state) endTopField() error {
	f := s.field
	s.field = fieldState{}

	switch f.name {
	case FieldCreated:
		v, ok := single(f.values)
		if !ok {
			return nil
		}
		t, err := models.ParseMillis(v)
		if err != nil {
			return s.malformed("created", err)
		}
		s.created = t
		s.hasCreated = true
	case FieldUpdaterFullName:
		if v, ok := single(f.values); ok {
			s.creator = v
		}
	}
	return nil
}

// endChangeField applies one field of the open change block.
func (s *state) endChangeField() error {
	f := s.field
	s.field = fieldState{}

	if f.isChange {
		if !f.hasNew {
			return nil
		}
		current := strings.Join(f.newValues, ", ")
		if f.name == FieldResolved && current != "" {
			display, err := FormatResolved(current)
			if err != nil {
				return s.malformed("resolved", err)
			}
			current = display
		}
		s.pending = append(s.pending, pendingChange{
			field:   f.name,
			prior:   strings.Join(f.oldValues, ", "),
			current: current,
		})
		return nil
	}

	switch f.name {
	case FieldUpdaterName:
		if v, ok := single(f.values); ok {
			s.actor = v
		}
	case FieldUpdated:
		v, ok := single(f.values)
		if !ok {
			return s.malformed("updated field without value", nil)
		}
		t, err := models.ParseMillis(v)
		if err != nil {
			return s.malformed("updated", err)
		}
		s.updated = t
		s.hasUpdated = true
	}
	return nil
}

// endChange turns the open change block into a session when it falls after
// minDate. The pending list is cleared either way.
func (s *state) endChange() error {
	s.inChange = false
	defer func() { s.pending = s.pending[:0] }()

	if !s.hasUpdated {
		return s.malformed("change block without updated field", nil)
	}
	if !models.After(s.updated, s.minDate) {
		return nil
	}

	changes := make([]models.FieldChange, 0, len(s.pending))
	for _, p := range s.pending {
		fc, err := models.NewFieldChange(p.field, p.prior, p.current, s.actor, s.updated)
		if err != nil {
			return s.malformed("field change", err)
		}
		changes = append(changes, fc)
	}

	s.sessions = append(s.sessions, models.EditSession{
		Updater: strings.TrimSpace(s.actor),
		Updated: s.updated,
		Changes: changes,
	})
	return nil
}

func (s *state) finish() *Result {
	issue := s.event.Issue
	if s.hasCreated {
		issue = issue.WithCreation(s.creator, s.created)
		if models.After(s.created, s.minDate) {
			s.sessions = append(s.sessions, models.EditSession{
				Issue:   issue,
				Updater: issue.Creator,
				Updated: s.created,
			})
		}
	}

	for _, c := range s.comments {
		s.sessions = append(s.sessions, models.EditSession{
			Updater:  c.Author,
			Updated:  c.Created,
			Comments: slices.Clone(s.comments),
		})
	}

	// Change blocks close before the creation header may be known.
	for i := range s.sessions {
		s.sessions[i].Issue = issue
	}
	return &Result{Issue: issue, Sessions: s.sessions}
}

func attr(el xml.StartElement, local string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// single returns the first non-empty value.
func single(values []string) (string, bool) {
	for _, v := range values {
		if v != "" {
			return v, true
		}
	}
	return "", false
}
