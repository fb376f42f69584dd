// Package api exposes the HTTP surface: task management for both
// schedulers, subscription and hub administration, the WebSub callback
// endpoints and an admin event feed. All handlers answer JSON
// envelopes; lifecycle mutations travel through the event bus.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/repost/internal/eventbus"
	"github.com/GoCodeAlone/repost/internal/logging"
	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/scheduler"
	"github.com/GoCodeAlone/repost/internal/store"
	"github.com/GoCodeAlone/repost/internal/subscriber"
)

// Deps collects everything the HTTP surface needs.
type Deps struct {
	AppToken      string
	Bus           *eventbus.Bus
	Downloads     scheduler.Repository
	Uploads       scheduler.Repository
	DownloadSched *scheduler.Scheduler
	UploadSched   *scheduler.Scheduler
	WebSub        *subscriber.WebSub
	RSS           *subscriber.RSS
	Hubs          *store.Hubs
	Subs          *store.Subscriptions
	Logger        logging.Logger
}

// Server is the assembled HTTP API.
type Server struct {
	deps   Deps
	logger logging.Logger
}

// New builds the API server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Nop{}
	}
	return &Server{deps: deps, logger: deps.Logger}
}

// Router assembles the chi routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	download := &taskResource{
		kind:        "download",
		repo:        s.deps.Downloads,
		sched:       s.deps.DownloadSched,
		bus:         s.deps.Bus,
		topics:      scheduler.DownloadTopics(),
		decodeTask:  decodeDownloadTask,
		decodePatch: decodeDownloadPatch,
	}
	upload := &taskResource{
		kind:        "upload",
		repo:        s.deps.Uploads,
		sched:       s.deps.UploadSched,
		bus:         s.deps.Bus,
		topics:      scheduler.UploadTopics(),
		decodeTask:  decodeUploadTask,
		decodePatch: decodeUploadPatch,
	}
	subscription := &subscriptionResource{
		websub: s.deps.WebSub,
		rss:    s.deps.RSS,
		hubs:   s.deps.Hubs,
		subs:   s.deps.Subs,
	}

	// Hub callbacks arrive unauthenticated.
	r.Route("/subscription", func(r chi.Router) {
		r.Group(subscription.callbackRoutes)
		r.Group(func(r chi.Router) {
			r.Use(tokenAuth(s.deps.AppToken))
			subscription.routes(r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(tokenAuth(s.deps.AppToken))
		r.Route("/download", download.routes)
		r.Route("/upload", upload.routes)
		r.Get("/events/recent", s.recentEvents)
	})
	return r
}

// recentEvents exports the bus history as CloudEvents for operators.
func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errBadLimit)
			return
		}
		limit = parsed
	}
	events := s.deps.Bus.RecentCloudEvents(limit)
	w.Header().Set("Content-Type", "application/cloudevents-batch+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(events)
}

// taskProgress pairs an in-flight task with its worker's progress.
type taskProgress struct {
	Task     model.Item `json:"task"`
	Progress float64    `json:"progress"`
}

// current reports the tasks a scheduler is actively processing.
func (t *taskResource) current(w http.ResponseWriter, _ *http.Request) {
	tasks := t.sched.CurrentTasks()
	out := make([]taskProgress, 0, len(tasks))
	for _, task := range tasks {
		progress, _ := t.sched.Progress(task.Meta().ID)
		out = append(out, taskProgress{Task: task, Progress: progress})
	}
	writePayloads(w, out)
}

// settingsRequest carries the live-tunable scheduler knobs.
type settingsRequest struct {
	MaxConcurrent     *int `json:"max_concurrent,omitempty"`
	RetryDelayMinutes *int `json:"retry_delay_minutes,omitempty"`
}

// settings applies live concurrency and retry-delay changes. Resizing
// waits for in-flight workers to drain, bounded by the request context.
func (t *taskResource) settings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.MaxConcurrent != nil {
		if err := t.sched.SetConcurrent(r.Context(), *req.MaxConcurrent); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.RetryDelayMinutes != nil {
		t.sched.SetRetryDelay(time.Duration(*req.RetryDelayMinutes) * time.Minute)
	}
	writeOK(w, t.kind+" settings applied")
}
