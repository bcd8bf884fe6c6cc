package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"eventcal/internal/color"
	"eventcal/internal/config"
	"eventcal/internal/form"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/metric"
	"eventcal/internal/model"
	"eventcal/internal/remote"
	"eventcal/internal/reschedule"
	"eventcal/internal/store"
	"eventcal/internal/validation"
)

// Server is the boundary the browser calendar widget talks to. It renders
// the cached events, accepts drop notifications and drives the create
// dialog.
//
// The cache, the form and the rescheduler are single-threaded by
// contract, so every touch of them happens with mu held. mu is never held
// across a remote call: the form and the rescheduler sit in Submitting or
// Reconciling meanwhile and refuse re-entry with ErrBusy, so a hung store
// stalls only the operation waiting on it.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux
	loc *time.Location

	mu     sync.Mutex
	store  *store.Store
	client remote.Client
	form   *form.Controller
	drops  *reschedule.Rescheduler

	// reloads counts lists in flight. Records written locally meanwhile
	// are kept in touched and re-applied over the listed snapshot.
	reloads int
	touched []model.CalendarEvent
}

// NewServer constructs a Server around an event cache and a remote client.
// loc is used to read form and drop times without an offset.
func NewServer(cfg *config.Config, st *store.Store, client remote.Client, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		loc:    loc,
		store:  st,
		client: client,
		form:   form.New(st, client, loc),
		drops:  reschedule.New(st, client),
	}
	s.registerRoutes()
	return s
}

// Reload replaces the cache with the remote store's full list. On failure
// the current cache is kept and the error is returned. Creates and drops
// that complete while the list is in flight survive the replacement.
func (s *Server) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.reloads++
	s.mu.Unlock()

	events, err := s.client.ListAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads--
	touched := s.touched
	if s.reloads == 0 {
		s.touched = nil
	}
	if err != nil {
		return err
	}

	skipped := s.store.Load(events)
	if skipped > 0 {
		appLog.Warn("events without _id skipped on load", "skipped", skipped)
	}
	for _, ev := range touched {
		_ = s.store.Upsert(ev)
	}
	metric.SetCachedEvents(s.store.Len())
	appLog.Info("event cache loaded", "count", s.store.Len(), "kept_local", len(touched))
	return nil
}

// wrote records a local cache write. Must be called with mu held.
func (s *Server) wrote(ev model.CalendarEvent) {
	if s.reloads > 0 {
		s.touched = append(s.touched, ev)
	}
	metric.SetCachedEvents(s.store.Len())
}

// Handler returns the http.Handler with CORS and, when configured, basic
// auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func StartServer(ctx context.Context, s *Server) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/events/drop", s.handleDrop)
	s.mux.HandleFunc("GET /api/priorities", s.handlePriorities)
	s.mux.HandleFunc("GET /api/form", s.handleForm)
	s.mux.HandleFunc("POST /api/form/open", s.handleFormOpen)
	s.mux.HandleFunc("POST /api/form/close", s.handleFormClose)
	s.mux.HandleFunc("PATCH /api/form", s.handleFormChange)
	s.mux.HandleFunc("POST /api/form/submit", s.handleFormSubmit)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
	s.mux.Handle("GET /metrics", metric.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is what the widget renders. The color is always recomputed from
// the priority.
type eventDTO struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Start           model.Timestamp `json:"start"`
	End             model.Timestamp `json:"end"`
	Priority        model.Priority  `json:"priority"`
	BackgroundColor string          `json:"backgroundColor"`
	TextColor       string          `json:"textColor"`
}

func (s *Server) toDTO(ev model.CalendarEvent) eventDTO {
	tc := ev.TextColor
	if tc == "" {
		tc = s.cfg.TextColor
	}
	return eventDTO{
		ID:              ev.ID,
		Title:           ev.Title,
		Description:     ev.Description,
		Start:           ev.Start,
		End:             ev.End,
		Priority:        ev.Priority,
		BackgroundColor: color.For(ev.Priority),
		TextColor:       tc,
	}
}

// handleEvents returns the cached events in display order.
//
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	events := s.store.All()
	s.mu.Unlock()

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, s.toDTO(ev))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// dropRequest carries the widget's raw times; zone-less values are read
// in the server's location.
type dropRequest struct {
	ID       string `json:"id"`
	NewStart string `json:"newStart"`
	NewEnd   string `json:"newEnd"`
}

func (s *Server) parseDrop(req dropRequest) (reschedule.Drop, error) {
	d := reschedule.Drop{ID: req.ID}
	var err error
	if req.NewStart != "" {
		if d.NewStart, err = model.ParseTimestamp(req.NewStart, s.loc); err != nil {
			return reschedule.Drop{}, err
		}
	}
	if req.NewEnd != "" {
		if d.NewEnd, err = model.ParseTimestamp(req.NewEnd, s.loc); err != nil {
			return reschedule.Drop{}, err
		}
	}
	return d, nil
}

// handleDrop applies a reschedule gesture reported by the widget.
//
// POST /api/events/drop {"id":"...","newStart":"...","newEnd":"..."}
//   - 404: id not in the cache, drop ignored
//   - 400: missing start or end before start
//   - 409: another drop is still reconciling
//   - 502: remote store failed; the widget should revert the drag
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	var req dropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid drop body")
		return
	}
	d, err := s.parseDrop(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time")
		return
	}

	s.mu.Lock()
	next, err := s.drops.Begin(d)
	s.mu.Unlock()

	var updated model.CalendarEvent
	if err == nil {
		updated, err = s.client.Update(r.Context(), next)

		s.mu.Lock()
		updated, err = s.drops.Finish(next, updated, err)
		if err == nil {
			s.wrote(updated)
		}
		s.mu.Unlock()
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.toDTO(updated))
	case errors.Is(err, reschedule.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, reschedule.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid time range")
	case errors.Is(err, reschedule.ErrBusy):
		writeError(w, http.StatusConflict, "reschedule in progress")
	case remote.IsTransport(err):
		writeError(w, http.StatusBadGateway, "event store unavailable")
	default:
		appLog.Error("drop failed", err, "id", d.ID)
		writeError(w, http.StatusInternalServerError, "reschedule failed")
	}
}

type priorityDTO struct {
	Priority model.Priority `json:"priority"`
	Color    string         `json:"color"`
}

// handlePriorities lists the selectable priorities with their colors.
func (s *Server) handlePriorities(w http.ResponseWriter, _ *http.Request) {
	out := make([]priorityDTO, 0, len(model.Priorities))
	for _, p := range model.Priorities {
		out = append(out, priorityDTO{Priority: p, Color: color.For(p)})
	}
	writeJSON(w, http.StatusOK, out)
}

// formResponse is the create dialog as the widget shows it.
type formResponse struct {
	State        string            `json:"state"`
	Values       model.Draft       `json:"values"`
	Errors       validation.Errors `json:"errors"`
	PreviewColor string            `json:"previewColor"`
	CanSubmit    bool              `json:"canSubmit"`
}

// formSnapshot must be called with mu held.
func (s *Server) formSnapshot() formResponse {
	return formResponse{
		State:        s.form.State().String(),
		Values:       s.form.Values(),
		Errors:       s.form.Errors(),
		PreviewColor: s.form.PreviewColor(),
		CanSubmit:    s.form.CanSubmit(),
	}
}

func (s *Server) handleForm(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	resp := s.formSnapshot()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFormOpen(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.form.Open()
	resp := s.formSnapshot()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFormClose(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	err := s.form.Close()
	resp := s.formSnapshot()
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type fieldChange struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// handleFormChange sets one field.
//
// PATCH /api/form {"name":"title","value":"Standup"}
func (s *Server) handleFormChange(w http.ResponseWriter, r *http.Request) {
	var fc fieldChange
	if err := json.NewDecoder(r.Body).Decode(&fc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid field body")
		return
	}

	s.mu.Lock()
	err := s.form.ChangeField(fc.Name, fc.Value)
	resp := s.formSnapshot()
	s.mu.Unlock()

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, model.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

// handleFormSubmit validates and creates the drafted event.
//
// POST /api/form/submit
//   - 201: created record
//   - 422: form snapshot with field errors
//   - 409: dialog closed or a submission already in flight
//   - 502: form snapshot with a "submit" error; values are kept
func (s *Server) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	draft, err := s.form.BeginSubmit()
	resp := s.formSnapshot()
	s.mu.Unlock()

	switch {
	case errors.Is(err, form.ErrInvalid):
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	created, err := s.client.Create(r.Context(), draft)

	s.mu.Lock()
	created, err = s.form.FinishSubmit(created, err)
	if err == nil {
		s.wrote(created)
	}
	resp = s.formSnapshot()
	s.mu.Unlock()

	if err != nil {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusCreated, s.toDTO(created))
}

// handleICS exports the cache as an iCalendar feed.
func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	events := s.store.All()
	s.mu.Unlock()

	body, err := ics.Export(events, ics.ExportOptions{Name: s.cfg.CalendarName})
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
