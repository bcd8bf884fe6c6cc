// Package ics renders the cached events as an iCalendar feed so they can
// be subscribed to from other calendar clients.
package ics

import (
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventcal/internal/color"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

const (
	ProductID = "-//eventcal//calendar export//EN"

	propertyColor = ical.ComponentProperty("COLOR")
)

// ExportOptions controls how events are serialized.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME when non-empty.
	Name string
	// Now stamps DTSTAMP. Zero uses time.Now.
	Now time.Time
}

// Export serializes events into a VCALENDAR. Events without an id or
// without a start are skipped; drafts have no stable UID.
func Export(events []model.CalendarEvent, opts ExportOptions) (string, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	written := 0
	for _, ev := range events {
		if ev.ID == "" || ev.Start.IsZero() {
			continue
		}
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		ve.SetStartAt(ev.Start.UTC())
		end := ev.End
		if end.IsZero() || end.Before(ev.Start.Time) {
			end = ev.Start
		}
		ve.SetEndAt(end.UTC())
		if ev.Priority != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, string(ev.Priority))
		}
		ve.SetProperty(propertyColor, color.For(ev.Priority))
		written++
	}

	if written == 0 && len(events) > 0 {
		appLog.Warn("ics export skipped every event", "count", len(events))
	}

	out := cal.Serialize()
	if out == "" {
		return "", errors.New("ics: empty serialization")
	}
	return out, nil
}
