// Package reschedule turns drop notifications from the calendar widget
// into update requests against the remote store.
package reschedule

import (
	"context"
	"errors"
	"fmt"

	appLog "eventcal/internal/log"
	"eventcal/internal/metric"
	"eventcal/internal/model"
	"eventcal/internal/remote"
)

var (
	// ErrEventNotFound is returned for a drop whose id is not cached. The
	// drop is ignored: nothing is sent and nothing is stored.
	ErrEventNotFound = errors.New("reschedule: event not in cache")

	// ErrInvalidRange is returned when the new bounds are missing or end
	// before they start.
	ErrInvalidRange = errors.New("reschedule: invalid time range")

	// ErrBusy is returned when a drop arrives while another is reconciling.
	ErrBusy = errors.New("reschedule: another drop is in flight")

	// ErrNotReconciling is returned by Finish without a matching Begin.
	ErrNotReconciling = errors.New("reschedule: no drop in flight")
)

// State is the phase of the current drag gesture.
type State int

const (
	StateIdle State = iota
	StateDropped
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDropped:
		return "dropped"
	case StateReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Drop is the widget's notification that an event was dragged to a new
// time range. NewEnd may be zero when the widget has no end for the event.
type Drop struct {
	ID       string
	NewStart model.Timestamp
	NewEnd   model.Timestamp
}

// Events is the part of the event cache the rescheduler needs.
type Events interface {
	Get(id string) (model.CalendarEvent, bool)
	Upsert(ev model.CalendarEvent) error
}

// Rescheduler runs Idle -> Dropped -> Reconciling -> Idle for each drop.
// It is not safe for concurrent use; callers confine it with the cache.
type Rescheduler struct {
	events Events
	client remote.Client
	state  State
}

// New constructs a Rescheduler.
func New(events Events, client remote.Client) *Rescheduler {
	return &Rescheduler{events: events, client: client}
}

// State returns the current phase.
func (r *Rescheduler) State() State {
	return r.state
}

// HandleDrop reschedules the cached event d.ID to the dropped bounds.
// Every field except start and end is preserved from the cached record.
// On success the store's answer replaces the cached record; on any error
// the cache is left unchanged.
func (r *Rescheduler) HandleDrop(ctx context.Context, d Drop) (model.CalendarEvent, error) {
	next, err := r.Begin(d)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	updated, err := r.client.Update(ctx, next)
	return r.Finish(next, updated, err)
}

// Begin validates d against the cache and moves to Reconciling, returning
// the record to send. The outcome of the update must be reported through
// Finish. A drop that arrives while another is reconciling gets ErrBusy.
func (r *Rescheduler) Begin(d Drop) (model.CalendarEvent, error) {
	if r.state != StateIdle {
		return model.CalendarEvent{}, ErrBusy
	}
	r.transition(StateDropped, d.ID)

	prior, ok := r.events.Get(d.ID)
	if !ok {
		r.transition(StateIdle, d.ID)
		metric.ObserveDrop("unknown_id")
		appLog.Warn("drop for unknown event ignored", "id", d.ID)
		return model.CalendarEvent{}, ErrEventNotFound
	}

	next, err := moved(prior, d)
	if err != nil {
		r.transition(StateIdle, d.ID)
		metric.ObserveDrop("invalid_range")
		return model.CalendarEvent{}, err
	}

	r.transition(StateReconciling, d.ID)
	return next, nil
}

// Finish applies the store's answer to the update started by Begin and
// returns to Idle. The cached id is kept even if the store answers with
// another one, so the cache never holds the event twice.
func (r *Rescheduler) Finish(sent, updated model.CalendarEvent, err error) (model.CalendarEvent, error) {
	if r.state != StateReconciling {
		return model.CalendarEvent{}, ErrNotReconciling
	}
	defer r.transition(StateIdle, sent.ID)

	if err != nil {
		metric.ObserveDrop("transport_error")
		appLog.Error("reschedule update failed", err, "id", sent.ID)
		return model.CalendarEvent{}, fmt.Errorf("reschedule %s: %w", sent.ID, err)
	}

	if updated.ID != sent.ID {
		appLog.Warn("store answered update with another id", "id", sent.ID, "got", updated.ID)
		updated.ID = sent.ID
	}
	if err := r.events.Upsert(updated); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("reschedule %s: %w", sent.ID, err)
	}
	metric.ObserveDrop("rescheduled")
	appLog.Info("event rescheduled",
		"id", updated.ID,
		"start", updated.Start.Format("2006-01-02T15:04"),
		"end", updated.End.Format("2006-01-02T15:04"),
	)
	return updated, nil
}

// moved returns prior with its bounds replaced. A drop without an end
// keeps the prior duration.
func moved(prior model.CalendarEvent, d Drop) (model.CalendarEvent, error) {
	if d.NewStart.IsZero() {
		return model.CalendarEvent{}, ErrInvalidRange
	}
	end := d.NewEnd
	if end.IsZero() {
		dur := prior.Duration()
		if prior.Start.IsZero() || prior.End.IsZero() || dur < 0 {
			dur = 0
		}
		end = model.NewTimestamp(d.NewStart.Add(dur))
	}
	if end.Before(d.NewStart.Time) {
		return model.CalendarEvent{}, ErrInvalidRange
	}

	next := prior
	next.Start = d.NewStart
	next.End = end
	return next, nil
}

func (r *Rescheduler) transition(to State, id string) {
	appLog.Debug("reschedule state", "from", r.state.String(), "to", to.String(), "id", id)
	r.state = to
}
