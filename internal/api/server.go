// Package api exposes the engine over HTTP. Routes are instance-scoped
// verbs over the executor plus an SSE event stream and the metrics
// endpoint.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stepline/stepline/internal/engine"
	"github.com/stepline/stepline/internal/registry"
	"github.com/stepline/stepline/internal/scheduler"
	"github.com/stepline/stepline/internal/streaming"
	"github.com/stepline/stepline/pkg/schema"
)

// Server wires the engine service into an HTTP handler.
type Server struct {
	service  *engine.Service
	registry *registry.Registry
	hub      streaming.EventHub
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

// NewServer creates a Server. hub may be nil; the events route then
// reports 501. sched may be nil; the job routes then report 501.
func NewServer(service *engine.Service, reg *registry.Registry, hub streaming.EventHub, sched *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: service, registry: reg, hub: hub, sched: sched, logger: logger}
}

// Handler builds the chi router.
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/workflows", s.listWorkflows)
		r.Post("/workflows", s.registerWorkflow)
		r.Get("/workflows/{name}/hierarchy", s.hierarchy)

		r.Post("/instances", s.startInstance)
		r.Get("/instances", s.listInstances)
		r.Get("/instances/{id}", s.getInstance)
		r.Post("/instances/{id}/step", s.step)
		r.Post("/instances/{id}/input", s.submitInput)
		r.Post("/instances/{id}/pause", s.pause)
		r.Post("/instances/{id}/resume", s.resume)
		r.Delete("/instances/{id}", s.reset)

		r.Get("/events", s.events)

		r.Get("/jobs", s.listJobs)
		r.Post("/jobs", s.addJob)
		r.Delete("/jobs/{id}", s.removeJob)
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// --- workflow routes ---

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflows": s.registry.Names()})
}

func (s *Server) registerWorkflow(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := s.registry.RegisterRaw(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": def.Name, "steps": len(def.Steps)})
}

func (s *Server) hierarchy(w http.ResponseWriter, r *http.Request) {
	node, err := s.service.Hierarchy(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// --- instance routes ---

type startRequest struct {
	Workflow string         `json:"workflow"`
	Inputs   map[string]any `json:"inputs,omitempty"`
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %v", err))
		return
	}
	if body.Workflow == "" {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "workflow is required"))
		return
	}

	instanceID, err := s.service.StartInstance(r.Context(), body.Workflow, body.Inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"instance_id": instanceID})
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	ids, err := s.service.Instances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": ids})
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.State(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) step(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Step(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type inputRequest struct {
	StepIndex int `json:"stepIndex"`
	Value     any `json:"value"`
}

func (s *Server) submitInput(w http.ResponseWriter, r *http.Request) {
	var body inputRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %v", err))
		return
	}

	res, err := s.service.SubmitInput(r.Context(), chi.URLParam(r, "id"), body.StepIndex, body.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resumed": true})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// events streams hub events over SSE, optionally filtered by
// ?instance_id=.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event streaming not configured", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	filter := streaming.EventFilter{InstanceID: r.URL.Query().Get("instance_id")}
	events, cancel, err := s.hub.Subscribe(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, payload)
			flusher.Flush()
		}
	}
}

// --- scheduled job routes ---

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.Error(w, "scheduler not configured", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.sched.Jobs()})
}

func (s *Server) addJob(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.Error(w, "scheduler not configured", http.StatusNotImplemented)
		return
	}
	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %v", err))
		return
	}
	if err := s.sched.AddJob(&job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.Error(w, "scheduler not configured", http.StatusNotImplemented)
		return
	}
	s.sched.RemoveJob(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

const maxBodyBytes = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	raw, err := json.RawMessage(nil), error(nil)
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err = dec.Decode(&raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %v", err)
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := schema.CodeOf(err)
	switch code {
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeDefinition, schema.ErrCodeExpression:
		status = http.StatusBadRequest
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		status = http.StatusConflict
	case schema.ErrCodeInputRejected:
		status = http.StatusUnprocessableEntity
	case schema.ErrCodeCycleDetected:
		status = http.StatusBadRequest
	}

	body := map[string]any{"error": err.Error()}
	if code != "" {
		body["code"] = code
		if se, ok := err.(*schema.SteplineError); ok && se.Details != nil {
			body["details"] = se.Details
		}
	}
	writeJSON(w, status, body)
}
