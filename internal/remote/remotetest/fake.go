// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eventcal/internal/color"
	"eventcal/internal/model"
	"eventcal/internal/remote"
)

// Fake stores events in memory and assigns ids "e1", "e2", ... in
// creation order. Set Fail to make the next calls return a TransportError.
//
// The Hold channels, when set, delay a call's answer: the store is
// updated immediately but the call returns only once the channel yields
// or is closed. Set them before the call starts.
type Fake struct {
	mu     sync.Mutex
	events []model.CalendarEvent
	nextID int

	// Fail, when non-nil, is wrapped in a TransportError by every call.
	Fail error

	HoldList   chan struct{}
	HoldCreate chan struct{}
	HoldUpdate chan struct{}

	Creates []model.CalendarEvent
	Updates []model.CalendarEvent
	Lists   int
}

var _ remote.Client = (*Fake)(nil)

// NewFake returns a Fake seeded with events.
func NewFake(seed ...model.CalendarEvent) *Fake {
	return &Fake{events: append([]model.CalendarEvent(nil), seed...)}
}

func (f *Fake) fail(op string) error {
	if f.Fail == nil {
		return nil
	}
	return &remote.TransportError{Op: op, Method: "FAKE", URL: "fake://", Err: f.Fail}
}

func (f *Fake) ListAll(_ context.Context) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	f.Lists++
	hold := f.HoldList
	err := f.fail("list")
	out := append([]model.CalendarEvent{}, f.events...)
	f.mu.Unlock()

	wait(hold)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fake) Create(_ context.Context, draft model.CalendarEvent) (model.CalendarEvent, error) {
	f.mu.Lock()
	hold := f.HoldCreate
	created, err := f.create(draft)
	f.mu.Unlock()

	wait(hold)
	return created, err
}

func (f *Fake) create(draft model.CalendarEvent) (model.CalendarEvent, error) {
	f.Creates = append(f.Creates, draft)
	if err := f.fail("create"); err != nil {
		return model.CalendarEvent{}, err
	}
	f.nextID++
	draft.ID = fmt.Sprintf("e%d", f.nextID)
	draft.TextColor = color.TextColor
	draft.BackgroundColor = color.For(draft.Priority)
	f.events = append(f.events, draft)
	return draft, nil
}

func (f *Fake) Update(_ context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	f.mu.Lock()
	hold := f.HoldUpdate
	updated, err := f.update(ev)
	f.mu.Unlock()

	wait(hold)
	return updated, err
}

func (f *Fake) update(ev model.CalendarEvent) (model.CalendarEvent, error) {
	f.Updates = append(f.Updates, ev)
	if err := f.fail("update"); err != nil {
		return model.CalendarEvent{}, err
	}
	for i := range f.events {
		if f.events[i].ID == ev.ID {
			ev.BackgroundColor = color.For(ev.Priority)
			f.events[i] = ev
			return ev, nil
		}
	}
	return model.CalendarEvent{}, &remote.TransportError{Op: "update", Method: "FAKE", URL: "fake://", Status: 404, Err: errors.New("not found")}
}

// ListCount returns how many lists were received.
func (f *Fake) ListCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Lists
}

// UpdateCount returns how many updates were received.
func (f *Fake) UpdateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Updates)
}

func wait(hold chan struct{}) {
	if hold != nil {
		<-hold
	}
}
