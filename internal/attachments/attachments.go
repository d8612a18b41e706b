// Package attachments reads an issue's attachment list.
package attachments

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joescharf/trackwatch/internal/models"
)

// MalformedDocumentError reports an attachment list that cannot be read.
type MalformedDocumentError struct {
	Reason string
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed attachment list: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed attachment list: %s", e.Reason)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// Parse returns the attachments in r created strictly after minDate, in
// document order. A nil minDate returns every attachment.
func Parse(r io.Reader, minDate *time.Time) ([]models.Attachment, error) {
	dec := xml.NewDecoder(r)
	dec.Entity = xml.HTMLEntity

	var out []models.Attachment
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, &MalformedDocumentError{Reason: "invalid XML", Err: err}
		}

		el, ok := tok.(xml.StartElement)
		if !ok || el.Name.Local != "fileUrl" {
			continue
		}

		a, err := fromElement(el)
		if err != nil {
			return nil, err
		}
		if models.After(a.Created, minDate) {
			out = append(out, a)
		}
	}
}

func fromElement(el xml.StartElement) (models.Attachment, error) {
	attrs := make(map[string]string, len(el.Attr))
	for _, a := range el.Attr {
		attrs[a.Name.Local] = strings.TrimSpace(a.Value)
	}

	for _, required := range []string{"url", "name", "created"} {
		if attrs[required] == "" {
			return models.Attachment{}, &MalformedDocumentError{Reason: "fileUrl without " + required}
		}
	}

	created, err := models.ParseMillis(attrs["created"])
	if err != nil {
		return models.Attachment{}, &MalformedDocumentError{Reason: "created", Err: err}
	}

	return models.Attachment{
		Name:    attrs["name"],
		Created: created,
		Author:  attrs["authorLogin"],
		FileURL: attrs["url"],
	}, nil
}
