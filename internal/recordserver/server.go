// Package recordserver exposes a RecordStore over HTTP and announces every
// accepted write on the realtime channel.
package recordserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/metrics"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/realtime"
	"github.com/fentz26/callqueue/internal/store"
	"github.com/fentz26/callqueue/internal/store/httpstore"
)

// Server provides the HTTP record API.
type Server struct {
	store     store.RecordStore
	addr      string
	publisher realtime.Publisher
	hub       *realtime.Hub
	logger    *logging.Logger
	metrics   *metrics.Metrics
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHub serves /events from hub and publishes to it.
func WithHub(h *realtime.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithPublisher adds a publisher next to the hub, such as a redis channel.
func WithPublisher(p realtime.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics serves /metrics and counts requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server for st listening on addr.
func New(st store.RecordStore, addr string, opts ...Option) *Server {
	s := &Server{
		store:     st,
		addr:      addr,
		publisher: realtime.Nop{},
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("recordserver")
	return s
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Route("/records", func(r chi.Router) {
		r.Get("/", s.listRecords)
		r.Post("/", s.createRecord)
		r.Get("/{id}", s.getRecord)
		r.Patch("/{id}", s.patchRecord)
	})
	if s.hub != nil {
		r.Get("/events", s.hub.Handler())
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Start listens until Shutdown. There is no write timeout because /events
// holds its response open.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}
	s.logger.Info("record server listening", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// observe logs each request and counts it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		s.metrics.HTTPRequest(route, strconv.Itoa(code))
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", code,
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Time   string `json:"time"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok", Time: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, resp)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.Filter
	for _, raw := range q["status"] {
		st := models.TaskStatus(raw)
		if !st.Valid() {
			respondError(w, http.StatusBadRequest, "invalid status "+strconv.Quote(raw))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	filter.Assignee = q.Get("assignee")
	if v := q.Get("unassigned"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid unassigned flag")
			return
		}
		filter.IncludeUnassigned = b
	}

	records, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list records", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	creator, ok := s.store.(store.Creator)
	if !ok {
		respondError(w, http.StatusMethodNotAllowed, "store does not accept new records")
		return
	}

	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(rec.ContactName) == "" {
		respondError(w, http.StatusBadRequest, "contact_name is required")
		return
	}
	if err := validateEnums(rec.Status, rec.Priority); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := creator.Create(r.Context(), rec)
	if err != nil {
		s.logger.Error("create record", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publish(r.Context(), realtime.NewEvent(realtime.TypeUpdate, created.ID, r.Header.Get(httpstore.ActorHeader)))
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) patchRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var upd models.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if upd.Empty() {
		respondError(w, http.StatusBadRequest, "update changes nothing")
		return
	}
	var status, priority string
	if upd.Status != nil {
		status = string(*upd.Status)
	}
	if upd.Priority != nil {
		priority = string(*upd.Priority)
	}
	if err := validateEnums(status, priority); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	before, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if before == nil {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}

	if err := s.store.Update(r.Context(), id, upd); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("update record", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publish(r.Context(), changeEvent(*before, upd, r.Header.Get(httpstore.ActorHeader)))
	w.WriteHeader(http.StatusNoContent)
}

// changeEvent derives the event type from how the assignee moved.
func changeEvent(before models.Record, upd models.Update, actor string) realtime.Event {
	if upd.Assignee == nil || *upd.Assignee == before.Assignee {
		return realtime.NewEvent(realtime.TypeUpdate, before.ID, actor)
	}
	next := *upd.Assignee
	switch {
	case next == "":
		ev := realtime.NewEvent(realtime.TypeUnassign, before.ID, actor)
		ev.Payload.FromUser = before.Assignee
		return ev
	case before.Assignee == "":
		// a claim
		return realtime.NewEvent(realtime.TypeUpdate, before.ID, actor)
	default:
		ev := realtime.NewEvent(realtime.TypeTransfer, before.ID, actor)
		ev.Payload.FromUser = before.Assignee
		ev.Payload.ToUser = next
		return ev
	}
}

func (s *Server) publish(ctx context.Context, ev realtime.Event) {
	if s.hub != nil {
		_ = s.hub.Publish(ctx, ev)
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event", "type", ev.Payload.Type, "task_id", ev.Payload.TaskID, "error", err)
	}
}

func validateEnums(status, priority string) error {
	if status != "" && !models.TaskStatus(status).Valid() {
		return errors.New("invalid status " + strconv.Quote(status))
	}
	if priority != "" && !models.Priority(priority).Valid() {
		return errors.New("invalid priority " + strconv.Quote(priority))
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
