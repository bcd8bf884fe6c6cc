// Package remote talks to the remote event store over HTTP/JSON.
//
// Each call is a single attempt: no retries and no idempotency key. A
// timeout only applies when one is configured or the caller's context
// carries a deadline.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventcal/internal/color"
	appLog "eventcal/internal/log"
	"eventcal/internal/metric"
	"eventcal/internal/model"
)

const (
	pathAll   = "/api/eventCalendar/all"
	pathEvent = "/api/eventCalendar"

	opList   = "list"
	opCreate = "create"
	opUpdate = "update"

	// maxErrorBody bounds how much of a failed response is kept for the error.
	maxErrorBody = 512
)

// Client is the client-side view of the remote event store.
type Client interface {
	// ListAll returns every event known to the store.
	ListAll(ctx context.Context) ([]model.CalendarEvent, error)
	// Create submits a draft and returns the stored record with its id.
	Create(ctx context.Context, draft model.CalendarEvent) (model.CalendarEvent, error)
	// Update replaces a persisted record and returns the stored result.
	Update(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error)
}

// Options configures an HTTPClient.
type Options struct {
	// BaseURL is the store address, e.g. "http://localhost:4040".
	BaseURL string
	// Timeout bounds each request. Zero means no client-side timeout.
	Timeout time.Duration
	// TextColor is sent with every create/update. Empty uses color.TextColor.
	TextColor string
	// Location is used for stored times that carry no zone, such as the
	// store echoing a datetime-local value. Nil means time.Local.
	Location *time.Location
	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// HTTPClient implements Client against the /api/eventCalendar endpoints.
type HTTPClient struct {
	baseURL   string
	textColor string
	loc       *time.Location
	client    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(opts Options) *HTTPClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	tc := opts.TextColor
	if tc == "" {
		tc = color.TextColor
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		textColor: tc,
		loc:       loc,
		client:    hc,
	}
}

// eventPayload is the request shape for create and update.
type eventPayload struct {
	ID              string          `json:"_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Start           model.Timestamp `json:"start"`
	End             model.Timestamp `json:"end"`
	TextColor       string          `json:"textColor"`
	BackgroundColor string          `json:"backgroundColor"`
	Priority        model.Priority  `json:"priority"`
}

type eventEnvelope struct {
	EventCalendar eventPayload `json:"eventCalendar"`
}

// storedEvent is the response shape. Times stay raw until the client's
// location is known.
type storedEvent struct {
	ID              string         `json:"_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Start           string         `json:"start"`
	End             string         `json:"end"`
	Priority        model.Priority `json:"priority"`
	BackgroundColor string         `json:"backgroundColor"`
	TextColor       string         `json:"textColor"`
}

func (c *HTTPClient) event(se storedEvent) (model.CalendarEvent, error) {
	ev := model.CalendarEvent{
		ID:              se.ID,
		Title:           se.Title,
		Description:     se.Description,
		Priority:        se.Priority,
		BackgroundColor: se.BackgroundColor,
		TextColor:       se.TextColor,
	}
	var err error
	if ev.Start, err = c.parseTime(se.Start); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("event %q start: %w", se.ID, err)
	}
	if ev.End, err = c.parseTime(se.End); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("event %q end: %w", se.ID, err)
	}
	return ev, nil
}

func (c *HTTPClient) parseTime(s string) (model.Timestamp, error) {
	if strings.TrimSpace(s) == "" {
		return model.Timestamp{}, nil
	}
	return model.ParseTimestamp(s, c.loc)
}

// ListAll fetches GET /api/eventCalendar/all.
func (c *HTTPClient) ListAll(ctx context.Context) ([]model.CalendarEvent, error) {
	var stored []storedEvent
	if err := c.do(ctx, opList, http.MethodGet, pathAll, nil, &stored); err != nil {
		return nil, err
	}
	events := make([]model.CalendarEvent, 0, len(stored))
	for _, se := range stored {
		ev, err := c.event(se)
		if err != nil {
			return nil, c.transportErr(opList, http.MethodGet, pathAll, http.StatusOK, fmt.Errorf("decode response: %w", err))
		}
		ev.BackgroundColor = color.For(ev.Priority)
		events = append(events, ev)
	}
	return events, nil
}

// Create sends POST /api/eventCalendar. Any id on draft is not sent; the
// store assigns one.
func (c *HTTPClient) Create(ctx context.Context, draft model.CalendarEvent) (model.CalendarEvent, error) {
	draft.ID = ""
	draft.TextColor = c.textColor
	body := c.envelope(draft)

	var stored storedEvent
	if err := c.do(ctx, opCreate, http.MethodPost, pathEvent, body, &stored); err != nil {
		return model.CalendarEvent{}, err
	}
	got, err := c.event(stored)
	if err != nil {
		return model.CalendarEvent{}, c.transportErr(opCreate, http.MethodPost, pathEvent, http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	if got.ID == "" {
		return model.CalendarEvent{}, c.transportErr(opCreate, http.MethodPost, pathEvent, 0, ErrMissingID)
	}
	return Reconcile(draft, got), nil
}

// Update sends PUT /api/eventCalendar with the record's id. The returned
// record always carries the id that was sent.
func (c *HTTPClient) Update(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	if !ev.Persisted() {
		return model.CalendarEvent{}, ErrNotPersisted
	}
	ev.TextColor = c.textColor
	body := c.envelope(ev)

	var stored storedEvent
	if err := c.do(ctx, opUpdate, http.MethodPut, pathEvent, body, &stored); err != nil {
		return model.CalendarEvent{}, err
	}
	got, err := c.event(stored)
	if err != nil {
		return model.CalendarEvent{}, c.transportErr(opUpdate, http.MethodPut, pathEvent, http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	if got.ID != "" && got.ID != ev.ID {
		appLog.Warn("store answered update with another id", "id", ev.ID, "got", got.ID)
		got.ID = ev.ID
	}
	return Reconcile(ev, got), nil
}

// envelope builds the request body. The background color is derived from
// the priority being sent, never copied from the record.
func (c *HTTPClient) envelope(ev model.CalendarEvent) eventEnvelope {
	return eventEnvelope{EventCalendar: eventPayload{
		ID:              ev.ID,
		Title:           ev.Title,
		Description:     ev.Description,
		Start:           ev.Start,
		End:             ev.End,
		TextColor:       ev.TextColor,
		BackgroundColor: color.For(ev.Priority),
		Priority:        ev.Priority,
	}}
}

// Reconcile merges the store's answer over the record that was sent.
// Fields the store left empty keep the sent value; the background color
// is recomputed from the resulting priority.
func Reconcile(sent, got model.CalendarEvent) model.CalendarEvent {
	out := sent
	if got.ID != "" {
		out.ID = got.ID
	}
	if got.Title != "" {
		out.Title = got.Title
	}
	if got.Description != "" {
		out.Description = got.Description
	}
	if !got.Start.IsZero() {
		out.Start = got.Start
	}
	if !got.End.IsZero() {
		out.End = got.End
	}
	if got.Priority != "" {
		out.Priority = got.Priority
	}
	if got.TextColor != "" {
		out.TextColor = got.TextColor
	}
	out.BackgroundColor = color.For(out.Priority)
	return out
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	url := c.baseURL + path
	started := time.Now()
	defer func() {
		metric.ObserveSync(op, time.Since(started), err)
	}()

	var body io.Reader
	if in != nil {
		data, merr := json.Marshal(in)
		if merr != nil {
			return fmt.Errorf("remote %s: encode request: %w", op, merr)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return c.transportErr(op, method, url, 0, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	appLog.Debug("remote request start", "op", op, "method", method, "url", url, "request_id", reqID)

	resp, err := c.client.Do(req)
	if err != nil {
		appLog.Error("remote request failed", err, "op", op, "request_id", reqID)
		return c.transportErr(op, method, url, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := errors.New(resp.Status)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			statusErr = fmt.Errorf("%s: %s", resp.Status, s)
		}
		appLog.Error("remote request non-2xx", statusErr, "op", op, "status", resp.StatusCode, "request_id", reqID)
		return c.transportErr(op, method, url, resp.StatusCode, statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		appLog.Error("remote response decode failed", err, "op", op, "request_id", reqID)
		return c.transportErr(op, method, url, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	appLog.Info("remote request done",
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(started),
		"request_id", reqID,
	)
	return nil
}

func (c *HTTPClient) transportErr(op, method, url string, status int, err error) *TransportError {
	if !strings.HasPrefix(url, "http") {
		url = c.baseURL + url
	}
	return &TransportError{Op: op, Method: method, URL: url, Status: status, Err: err}
}
