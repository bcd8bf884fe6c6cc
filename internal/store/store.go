// Package store keeps the client-side cache of known calendar events.
//
// A Store is the single source of truth for what the calendar displays.
// It has no locking of its own: the owner confines it to one goroutine
// (see internal/web, which serializes all access).
package store

import (
	"errors"

	"eventcal/internal/model"
)

// ErrMissingID is returned when a record without a server id is stored.
var ErrMissingID = errors.New("store: event has no id")

// Store is an id-keyed, insertion-ordered set of CalendarEvents.
type Store struct {
	order []string
	byID  map[string]model.CalendarEvent
}

// New returns an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]model.CalendarEvent)}
}

// All returns the cached events in insertion order. The slice is a copy.
func (s *Store) All() []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of cached events.
func (s *Store) Len() int {
	return len(s.order)
}

// Get looks up an event by id.
func (s *Store) Get(id string) (model.CalendarEvent, bool) {
	ev, ok := s.byID[id]
	return ev, ok
}

// Load replaces the whole cache with events. Records without an id are
// skipped; a later duplicate id replaces the earlier one in place.
// It returns the number of records skipped.
func (s *Store) Load(events []model.CalendarEvent) int {
	s.order = make([]string, 0, len(events))
	s.byID = make(map[string]model.CalendarEvent, len(events))

	skipped := 0
	for _, ev := range events {
		if err := s.Upsert(ev); err != nil {
			skipped++
		}
	}
	return skipped
}

// Upsert inserts ev if its id is unseen, otherwise replaces the existing
// record in place so display order stays stable.
func (s *Store) Upsert(ev model.CalendarEvent) error {
	if ev.ID == "" {
		return ErrMissingID
	}
	if _, ok := s.byID[ev.ID]; !ok {
		s.order = append(s.order, ev.ID)
	}
	s.byID[ev.ID] = ev
	return nil
}
