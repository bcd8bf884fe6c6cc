package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/config"
	"eventcal/internal/form"
	"eventcal/internal/model"
	"eventcal/internal/remote/remotetest"
	"eventcal/internal/reschedule"
	"eventcal/internal/store"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, fake *remotetest.Fake) (*Server, http.Handler) {
	t.Helper()
	cfg := config.DefaultConfig()
	s := NewServer(cfg, store.New(), fake, time.UTC)
	require.NoError(t, s.Reload(context.Background()))
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func seed() model.CalendarEvent {
	return model.CalendarEvent{
		ID:              "e1",
		Title:           "Standup",
		Description:     "daily",
		Start:           model.NewTimestamp(t0),
		End:             model.NewTimestamp(t0.Add(30 * time.Minute)),
		Priority:        model.PriorityHigh,
		BackgroundColor: "purple",
	}
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, remotetest.NewFake())
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEventsRecomputesColor(t *testing.T) {
	_, h := newTestServer(t, remotetest.NewFake(seed()))

	rec := do(t, h, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	events := decode[[]eventDTO](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "green", events[0].BackgroundColor)
	assert.Equal(t, "#ffffff", events[0].TextColor)
}

func TestEventsEmpty(t *testing.T) {
	_, h := newTestServer(t, remotetest.NewFake())
	rec := do(t, h, http.MethodGet, "/api/events", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestFormFlow(t *testing.T) {
	fake := remotetest.NewFake()
	s, h := newTestServer(t, fake)

	rec := do(t, h, http.MethodPost, "/api/form/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[formResponse](t, rec)
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, "1", snap.Values.ID)

	// Submitting an empty form is refused with one error per field.
	rec = do(t, h, http.MethodPost, "/api/form/submit", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	snap = decode[formResponse](t, rec)
	assert.Equal(t, "validating", snap.State)
	assert.Len(t, snap.Errors, 5)
	assert.False(t, snap.CanSubmit)

	for _, f := range [][2]string{
		{"title", "Standup"},
		{"start", "2024-01-01T09:00"},
		{"end", "2024-01-01T09:30"},
		{"description", "daily"},
		{"priority", "Medium"},
	} {
		rec = do(t, h, http.MethodPatch, "/api/form", `{"name":"`+f[0]+`","value":"`+f[1]+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	snap = decode[formResponse](t, rec)
	assert.Equal(t, "orange", snap.PreviewColor)
	assert.True(t, snap.CanSubmit)

	rec = do(t, h, http.MethodPost, "/api/form/submit", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[eventDTO](t, rec)
	assert.Equal(t, "e1", created.ID)
	assert.Equal(t, "orange", created.BackgroundColor)

	rec = do(t, h, http.MethodGet, "/api/events", "")
	events := decode[[]eventDTO](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "Standup", events[0].Title)

	rec = do(t, h, http.MethodGet, "/api/form", "")
	snap = decode[formResponse](t, rec)
	assert.Equal(t, "closed", snap.State)
	assert.Empty(t, snap.Values.Title)

	assert.Equal(t, 1, s.store.Len())
}

func TestFormSubmitTransportFailure(t *testing.T) {
	fake := remotetest.NewFake()
	_, h := newTestServer(t, fake)
	fake.Fail = errors.New("down")

	do(t, h, http.MethodPost, "/api/form/open", "")
	for _, f := range [][2]string{
		{"title", "T"}, {"start", "2024-01-01T09:00"}, {"end", "2024-01-01T10:00"},
		{"description", "d"}, {"priority", "Low"},
	} {
		do(t, h, http.MethodPatch, "/api/form", `{"name":"`+f[0]+`","value":"`+f[1]+`"}`)
	}

	rec := do(t, h, http.MethodPost, "/api/form/submit", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	snap := decode[formResponse](t, rec)
	assert.Equal(t, "open", snap.State)
	assert.Contains(t, snap.Errors, "submit")
	assert.Equal(t, "T", snap.Values.Title)
}

func TestFormChangeWhileClosed(t *testing.T) {
	_, h := newTestServer(t, remotetest.NewFake())
	rec := do(t, h, http.MethodPatch, "/api/form", `{"name":"title","value":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	do(t, h, http.MethodPost, "/api/form/open", "")
	rec = do(t, h, http.MethodPatch, "/api/form", `{"name":"colour","value":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/form/close", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decode[formResponse](t, rec).State)
}

func TestDrop(t *testing.T) {
	fake := remotetest.NewFake(seed())
	_, h := newTestServer(t, fake)

	rec := do(t, h, http.MethodPost, "/api/events/drop",
		`{"id":"e1","newStart":"2024-01-02T09:00:00Z","newEnd":"2024-01-02T09:30:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[eventDTO](t, rec)
	assert.True(t, got.Start.Equal(t0.Add(24*time.Hour)))
	assert.Equal(t, 30*time.Minute, got.End.Sub(got.Start.Time))
	assert.Equal(t, "Standup", got.Title)

	rec = do(t, h, http.MethodGet, "/api/events", "")
	events := decode[[]eventDTO](t, rec)
	require.Len(t, events, 1)
	assert.True(t, events[0].Start.Equal(t0.Add(24*time.Hour)))
}

func TestDropErrors(t *testing.T) {
	fake := remotetest.NewFake(seed())
	s, h := newTestServer(t, fake)

	rec := do(t, h, http.MethodPost, "/api/events/drop", `{"id":"ghost","newStart":"2024-01-02T09:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/events/drop",
		`{"id":"e1","newStart":"2024-01-02T09:00:00Z","newEnd":"2024-01-01T09:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/events/drop", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fake.Fail = errors.New("down")
	rec = do(t, h, http.MethodPost, "/api/events/drop", `{"id":"e1","newStart":"2024-01-02T09:00:00Z"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	got, ok := s.store.Get("e1")
	require.True(t, ok)
	assert.True(t, got.Start.Equal(t0))
}

func TestReloadFailureKeepsCache(t *testing.T) {
	fake := remotetest.NewFake(seed())
	s, _ := newTestServer(t, fake)

	fake.Fail = errors.New("down")
	assert.Error(t, s.Reload(context.Background()))
	assert.Equal(t, 1, s.store.Len())
}

func TestPriorities(t *testing.T) {
	_, h := newTestServer(t, remotetest.NewFake())
	rec := do(t, h, http.MethodGet, "/api/priorities", "")
	assert.JSONEq(t, `[
		{"priority":"High","color":"green"},
		{"priority":"Medium","color":"orange"},
		{"priority":"Low","color":"blue"}
	]`, rec.Body.String())
}

func TestICSExport(t *testing.T) {
	_, h := newTestServer(t, remotetest.NewFake(seed()))
	rec := do(t, h, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "UID:e1")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Standup")
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	h := NewServer(cfg, store.New(), remotetest.NewFake(), time.UTC).Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func fillForm(t *testing.T, h http.Handler, start, end string) {
	t.Helper()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/form/open", "").Code)
	for _, f := range [][2]string{
		{"title", "Standup"}, {"start", start}, {"end", end},
		{"description", "daily"}, {"priority", "Medium"},
	} {
		rec := do(t, h, http.MethodPatch, "/api/form", `{"name":"`+f[0]+`","value":"`+f[1]+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func (s *Server) formState() form.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.State()
}

func (s *Server) dropState() reschedule.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops.State()
}

func TestServerAnswersWhileCreateInFlight(t *testing.T) {
	existing := seed()
	existing.ID = "a1"
	fake := remotetest.NewFake(existing)
	s, h := newTestServer(t, fake)
	fillForm(t, h, "2024-01-01T09:00", "2024-01-01T09:30")

	fake.HoldCreate = make(chan struct{})
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- do(t, h, http.MethodPost, "/api/form/submit", "") }()
	require.Eventually(t, func() bool { return s.formState() == form.StateSubmitting },
		2*time.Second, 10*time.Millisecond)

	rec := do(t, h, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]eventDTO](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/form", "")
	assert.Equal(t, "submitting", decode[formResponse](t, rec).State)

	// The dialog refuses input until the create is answered.
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/form/close", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPatch, "/api/form", `{"name":"title","value":"x"}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/form/submit", "").Code)

	// The pending event is not cached yet, so dragging it is ignored.
	rec = do(t, h, http.MethodPost, "/api/events/drop", `{"id":"e1","newStart":"2024-01-02T09:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, fake.UpdateCount())

	// Other events can still be moved.
	rec = do(t, h, http.MethodPost, "/api/events/drop", `{"id":"a1","newStart":"2024-01-02T09:00:00Z"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	close(fake.HoldCreate)
	rec = <-done
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "e1", decode[eventDTO](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/api/events", "")
	assert.Len(t, decode[[]eventDTO](t, rec), 2)
	assert.Equal(t, form.StateClosed, s.formState())
}

func TestSecondDropWhileReconcilingIsConflict(t *testing.T) {
	fake := remotetest.NewFake(seed())
	s, h := newTestServer(t, fake)

	fake.HoldUpdate = make(chan struct{})
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, h, http.MethodPost, "/api/events/drop", `{"id":"e1","newStart":"2024-01-02T09:00:00Z"}`)
	}()
	require.Eventually(t, func() bool { return s.dropState() == reschedule.StateReconciling },
		2*time.Second, 10*time.Millisecond)

	rec := do(t, h, http.MethodPost, "/api/events/drop", `{"id":"e1","newStart":"2024-01-03T09:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]eventDTO](t, rec)
	require.Len(t, events, 1)
	assert.True(t, events[0].Start.Equal(t0))

	close(fake.HoldUpdate)
	rec = <-done
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fake.UpdateCount())

	got, ok := s.store.Get("e1")
	require.True(t, ok)
	assert.True(t, got.Start.Equal(t0.Add(24*time.Hour)))
}

func TestZonelessTimesUseServerLocation(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	fake := remotetest.NewFake()
	s := NewServer(config.DefaultConfig(), store.New(), fake, kst)
	h := s.Handler()

	fillForm(t, h, "2024-01-01T09:00", "2024-01-01T09:30")
	rec := do(t, h, http.MethodPost, "/api/form/submit", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[eventDTO](t, rec)
	assert.True(t, created.Start.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, kst)))

	rec = do(t, h, http.MethodPost, "/api/events/drop",
		`{"id":"e1","newStart":"2024-01-02T09:00","newEnd":"2024-01-02T09:30"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got, ok := s.store.Get("e1")
	require.True(t, ok)
	assert.True(t, got.Start.Equal(time.Date(2024, 1, 2, 9, 0, 0, 0, kst)))
	assert.True(t, got.End.Equal(time.Date(2024, 1, 2, 9, 30, 0, 0, kst)))

	rec = do(t, h, http.MethodPost, "/api/events/drop", `{"id":"e1","newStart":"someday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDuringReloadIsKept(t *testing.T) {
	existing := seed()
	existing.ID = "a1"
	fake := remotetest.NewFake(existing)
	s, h := newTestServer(t, fake)

	fake.HoldList = make(chan struct{})
	reloaded := make(chan error, 1)
	go func() { reloaded <- s.Reload(context.Background()) }()
	require.Eventually(t, func() bool { return fake.ListCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	fillForm(t, h, "2024-01-01T09:00", "2024-01-01T09:30")
	rec := do(t, h, http.MethodPost, "/api/form/submit", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	close(fake.HoldList)
	require.NoError(t, <-reloaded)

	assert.Equal(t, 2, s.store.Len())
	_, ok := s.store.Get("e1")
	assert.True(t, ok)
}
