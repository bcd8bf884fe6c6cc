package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Priority is the closed set of event priorities. The zero value means
// "not chosen" and is never a valid priority on its own.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Priorities lists the valid priorities in display order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is one of High, Medium or Low.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// CalendarEvent is a single scheduled item as known by the remote store.
//
// ID is empty for drafts; the remote store assigns it on creation. The
// store keys records by "_id" on the wire.
type CalendarEvent struct {
	ID          string    `json:"_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       Timestamp `json:"start"`
	End         Timestamp `json:"end"`
	Priority    Priority  `json:"priority"`

	// BackgroundColor is derived from Priority. It is carried because the
	// remote store echoes it back, but it is never treated as authoritative.
	BackgroundColor string `json:"backgroundColor,omitempty"`
	TextColor       string `json:"textColor,omitempty"`
}

// Persisted reports whether the event carries a server-assigned id.
func (e CalendarEvent) Persisted() bool {
	return e.ID != ""
}

// Duration returns End - Start.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start.Time)
}

// Draft holds the raw create-form values before they are parsed into a
// CalendarEvent. All values are kept as entered.
type Draft struct {
	ID          string `json:"id"`
	Title       string `json:"title" validate:"required"`
	Start       string `json:"start" validate:"required"`
	End         string `json:"end" validate:"required"`
	Description string `json:"description" validate:"required"`
	Priority    string `json:"priority" validate:"required,oneof=High Medium Low"`
}

// Field names used by the create form and by validation errors.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldStart       = "start"
	FieldEnd         = "end"
	FieldDescription = "description"
	FieldPriority    = "priority"
)

// ErrUnknownField is returned by Draft.Set for names outside the form.
var ErrUnknownField = errors.New("unknown form field")

// Set assigns a form value by field name.
func (d *Draft) Set(name, value string) error {
	switch name {
	case FieldID:
		d.ID = value
	case FieldTitle:
		d.Title = value
	case FieldStart:
		d.Start = value
	case FieldEnd:
		d.End = value
	case FieldDescription:
		d.Description = value
	case FieldPriority:
		d.Priority = value
	default:
		return ErrUnknownField
	}
	return nil
}

// Timestamp wraps time.Time with lenient JSON decoding. The remote store
// and the browser widget exchange a mix of RFC 3339 values and
// datetime-local strings without seconds or zone.
type Timestamp struct {
	time.Time
}

// layouts accepted by ParseTimestamp, tried in order.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses s using the accepted layouts. Values without a
// zone are interpreted in loc (time.Local if nil).
func ParseTimestamp(s string, loc *time.Location) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.Local
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return Timestamp{Time: t}, nil
		}
		lastErr = err
	}
	return Timestamp{}, lastErr
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// UnmarshalJSON reads zone-less values in time.Local. Code that knows the
// calendar's zone decodes the raw string and calls ParseTimestamp instead.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s, time.Local)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
