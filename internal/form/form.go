// Package form drives the create-event dialog: field state, validation
// and submission to the remote store.
package form

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"eventcal/internal/color"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
	"eventcal/internal/remote"
	"eventcal/internal/validation"
)

var (
	ErrNotOpen = errors.New("form: dialog is not open")
	ErrInvalid = errors.New("form: draft has validation errors")
	ErrBusy    = errors.New("form: submission in flight")

	ErrNotSubmitting = errors.New("form: no submission in flight")
)

const (
	MsgInvalidTime = "Invalid date"
	MsgEndBefore   = "End is before start"

	// FieldSubmit keys a failed submission in Errors.
	FieldSubmit = "submit"
)

// State is the dialog lifecycle phase.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateValidating
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Events is the part of the event cache the form needs.
type Events interface {
	Len() int
	Upsert(ev model.CalendarEvent) error
}

// Controller runs Closed -> Open -> Validating -> Submitting -> Closed.
// It is not safe for concurrent use.
type Controller struct {
	events Events
	client remote.Client
	loc    *time.Location

	state     State
	values    model.Draft
	errs      validation.Errors
	submitErr error
}

// New constructs a Controller. Form times without a zone are read in loc
// (time.Local if nil).
func New(events Events, client remote.Client, loc *time.Location) *Controller {
	if loc == nil {
		loc = time.Local
	}
	return &Controller{
		events: events,
		client: client,
		loc:    loc,
		errs:   validation.Errors{},
	}
}

func (c *Controller) State() State { return c.state }

// Values returns the current field values.
func (c *Controller) Values() model.Draft { return c.values }

// Errors returns a copy of the errors currently shown on the form. A
// failed submission is reported under FieldSubmit.
func (c *Controller) Errors() validation.Errors {
	out := make(validation.Errors, len(c.errs)+1)
	for k, v := range c.errs {
		out[k] = v
	}
	if c.submitErr != nil {
		out[FieldSubmit] = c.submitErr.Error()
	}
	return out
}

// CanSubmit reports whether the submit action is enabled.
func (c *Controller) CanSubmit() bool {
	return (c.state == StateOpen || c.state == StateValidating) && c.errs.Empty()
}

// PreviewColor is the color the current priority selection would get.
func (c *Controller) PreviewColor() string {
	return color.ForString(c.values.Priority)
}

// Open shows the dialog. The id field is pre-filled with a hint; the
// remote store assigns the real id.
func (c *Controller) Open() {
	if c.state != StateClosed {
		return
	}
	if c.values.ID == "" {
		c.values.ID = strconv.Itoa(c.events.Len() + 1)
	}
	c.transition(StateOpen)
}

// Close hides the dialog. Entered values are kept for the next Open.
func (c *Controller) Close() error {
	if c.state == StateSubmitting {
		return ErrBusy
	}
	c.transition(StateClosed)
	return nil
}

// ChangeField sets one form value. After a failed submit the errors are
// recomputed so they clear as the user fixes fields.
func (c *Controller) ChangeField(name, value string) error {
	switch c.state {
	case StateClosed:
		return ErrNotOpen
	case StateSubmitting:
		return ErrBusy
	}
	if err := c.values.Set(name, value); err != nil {
		return fmt.Errorf("form: %q: %w", name, err)
	}
	if c.state == StateValidating {
		c.errs, _ = c.check()
		if c.errs.Empty() {
			c.transition(StateOpen)
		}
	}
	return nil
}

// Submit validates the draft and, when clean, creates it remotely. On
// success the returned record is stored, the form is reset and the dialog
// closes. Validation failures leave the form in Validating and return
// ErrInvalid. A transport failure returns the form to Open with a
// "submit" error and keeps the entered values.
func (c *Controller) Submit(ctx context.Context) (model.CalendarEvent, error) {
	draft, err := c.BeginSubmit()
	if err != nil {
		return model.CalendarEvent{}, err
	}
	created, err := c.client.Create(ctx, draft)
	return c.FinishSubmit(created, err)
}

// BeginSubmit validates the draft and, when clean, moves the form to
// Submitting and returns the record to create. Callers that run the
// create themselves must report its outcome through FinishSubmit. While
// Submitting, Close, ChangeField and BeginSubmit return ErrBusy.
func (c *Controller) BeginSubmit() (model.CalendarEvent, error) {
	switch c.state {
	case StateClosed:
		return model.CalendarEvent{}, ErrNotOpen
	case StateSubmitting:
		return model.CalendarEvent{}, ErrBusy
	}

	c.submitErr = nil
	c.transition(StateValidating)
	errs, draft := c.check()
	c.errs = errs
	if !errs.Empty() {
		appLog.Debug("form submit refused", "fields", errs.Fields())
		return model.CalendarEvent{}, ErrInvalid
	}

	c.transition(StateSubmitting)
	return draft, nil
}

// FinishSubmit applies the outcome of the create started by BeginSubmit.
func (c *Controller) FinishSubmit(created model.CalendarEvent, err error) (model.CalendarEvent, error) {
	if c.state != StateSubmitting {
		return model.CalendarEvent{}, ErrNotSubmitting
	}
	if err != nil {
		appLog.Error("form create failed", err, "title", c.values.Title)
		c.submitErr = err
		c.transition(StateOpen)
		return model.CalendarEvent{}, err
	}

	if err := c.events.Upsert(created); err != nil {
		c.submitErr = err
		c.transition(StateOpen)
		return model.CalendarEvent{}, err
	}

	appLog.Info("event created", "id", created.ID, "title", created.Title, "priority", created.Priority)
	c.values = model.Draft{}
	c.errs = validation.Errors{}
	c.submitErr = nil
	c.transition(StateClosed)
	return created, nil
}

// check runs field validation and, when that passes, parses the draft.
func (c *Controller) check() (validation.Errors, model.CalendarEvent) {
	errs := validation.Validate(c.values)
	if !errs.Empty() {
		return errs, model.CalendarEvent{}
	}

	start, err := model.ParseTimestamp(c.values.Start, c.loc)
	if err != nil {
		errs[model.FieldStart] = MsgInvalidTime
	}
	end, err := model.ParseTimestamp(c.values.End, c.loc)
	if err != nil {
		errs[model.FieldEnd] = MsgInvalidTime
	}
	if !errs.Empty() {
		return errs, model.CalendarEvent{}
	}
	if end.Before(start.Time) {
		errs[model.FieldEnd] = MsgEndBefore
		return errs, model.CalendarEvent{}
	}

	priority := model.Priority(c.values.Priority)
	return errs, model.CalendarEvent{
		Title:           c.values.Title,
		Description:     c.values.Description,
		Start:           start,
		End:             end,
		Priority:        priority,
		BackgroundColor: color.For(priority),
		TextColor:       color.TextColor,
	}
}

func (c *Controller) transition(to State) {
	if c.state == to {
		return
	}
	appLog.Debug("form state", "from", c.state.String(), "to", to.String())
	c.state = to
}
