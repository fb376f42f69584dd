package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/GoCodeAlone/repost/internal/model"
	"github.com/GoCodeAlone/repost/internal/store"
	"github.com/GoCodeAlone/repost/internal/subscriber"
)

const maxCallbackBody = 1 << 20

// subscriptionResource serves subscription management, hub CRUD and the
// WebSub callback endpoints.
type subscriptionResource struct {
	websub *subscriber.WebSub
	rss    *subscriber.RSS
	hubs   *store.Hubs
	subs   *store.Subscriptions
}

func (s *subscriptionResource) routes(r chi.Router) {
	r.Get("/", s.list)
	r.Post("/", s.subscribe)
	r.Post("/sync", s.subscribeSync)
	r.Delete("/", s.unsubscribe)

	r.Route("/hub", func(r chi.Router) {
		r.Get("/", s.listHubs)
		r.Post("/", s.addHub)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getHub)
			r.Put("/", s.editHub)
			r.Delete("/", s.deleteHub)
		})
	})
}

// callbackRoutes are mounted outside the auth middleware; hubs call
// them without the app token.
func (s *subscriptionResource) callbackRoutes(r chi.Router) {
	r.Get("/callback/{site}/{id}", s.validate)
	r.Post("/callback/{site}/{id}", s.receiveUpdate)
}

type subscribeRequest struct {
	Site            string `json:"site"`
	HubID           int64  `json:"hub_id"`
	TopicURI        string `json:"topic_uri"`
	PollingInterval int    `json:"polling_interval,omitempty"`
}

func (s *subscriptionResource) decodeSubscribe(body io.Reader) (*model.Subscription, error) {
	var req subscribeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, err
	}
	return &model.Subscription{
		Site:            req.Site,
		HubID:           req.HubID,
		TopicURI:        req.TopicURI,
		PollingInterval: req.PollingInterval,
	}, nil
}

func (s *subscriptionResource) list(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.GetMultiple(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePayloads(w, subs)
}

// subscribe runs the handshake in the background and acknowledges; the
// outcome lands on the bus.
func (s *subscriptionResource) subscribe(w http.ResponseWriter, r *http.Request) {
	sub, err := s.decodeSubscribe(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	go func() {
		if _, err := s.websub.Subscribe(context.Background(), sub); err == nil && sub.PollingInterval > 0 && s.rss != nil {
			_ = s.rss.Watch(sub)
		}
	}()
	writeOK(w, "subscription requested")
}

// subscribeSync waits for the hub validation before answering.
func (s *subscriptionResource) subscribeSync(w http.ResponseWriter, r *http.Request) {
	sub, err := s.decodeSubscribe(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := s.websub.Subscribe(r.Context(), sub)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}
	if created.PollingInterval > 0 && s.rss != nil {
		if err := s.rss.Watch(created); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writePayload(w, created)
}

func (s *subscriptionResource) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.rss != nil {
		s.rss.Unwatch(req.ID)
	}
	if err := s.websub.Unsubscribe(r.Context(), req.ID); err != nil {
		writeSubscriptionError(w, err)
		return
	}
	writeOK(w, "unsubscribed")
}

// validate answers the hub's challenge during the handshake.
func (s *subscriptionResource) validate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	query := r.URL.Query()
	challenge, err := s.websub.Validate(id, query.Get("hub.verify_token"), query.Get("hub.challenge"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, baseResponse{Success: false, Message: "Invalid"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// receiveUpdate ingests a signed content notification.
func (s *subscriptionResource) receiveUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	site := chi.URLParam(r, "site")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	signature := r.Header.Get("X-Hub-Signature")
	if err := s.websub.ReceiveUpdate(r.Context(), site, id, body, signature); err != nil {
		writeSubscriptionError(w, err)
		return
	}
	writeOK(w, "update accepted")
}

func (s *subscriptionResource) listHubs(w http.ResponseWriter, r *http.Request) {
	hubs, err := s.hubs.GetMultiple(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePayloads(w, hubs)
}

func (s *subscriptionResource) getHub(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	hub, err := s.hubs.Get(r.Context(), id)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}
	writePayload(w, hub)
}

func (s *subscriptionResource) addHub(w http.ResponseWriter, r *http.Request) {
	var hub model.Hub
	if err := json.NewDecoder(r.Body).Decode(&hub); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := s.hubs.Create(r.Context(), &hub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePayload(w, created)
}

func (s *subscriptionResource) editHub(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var hub model.Hub
	if err := json.NewDecoder(r.Body).Decode(&hub); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	hub.ID = id
	updated, err := s.hubs.Update(r.Context(), &hub)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}
	writePayload(w, updated)
}

func (s *subscriptionResource) deleteHub(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	found, err := s.hubs.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	writeOK(w, "hub deleted")
}

func writeSubscriptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, subscriber.ErrSignatureInvalid):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, subscriber.ErrMalformedFeed), errors.Is(err, subscriber.ErrUnknownSite):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, subscriber.ErrSubscribeTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
