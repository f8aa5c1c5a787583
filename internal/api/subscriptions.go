package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/cache"
	"github.com/Eldrago12/webhook-delivery-service/internal/domain"
	"github.com/Eldrago12/webhook-delivery-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type SubscriptionHandler struct {
	store    store.SubscriptionStore
	cache    *cache.SubscriptionCache
	validate *validator.Validate
	ttl      time.Duration
}

func NewSubscriptionHandler(s store.SubscriptionStore, c *cache.SubscriptionCache, cacheTTL time.Duration) *SubscriptionHandler {
	return &SubscriptionHandler{store: s, cache: c, validate: validator.New(), ttl: cacheTTL}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		respondError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	h.cache.Put(r.Context(), sub.ID, cache.Entry{
		TargetURL:       sub.TargetURL,
		Secret:          sub.Secret,
		EventTypeFilter: sub.EventTypeFilter,
	}, h.ttl)

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !isJSONContentType(r) {
		respondError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	h.cache.Put(r.Context(), sub.ID, cache.Entry{
		TargetURL:       sub.TargetURL,
		Secret:          sub.Secret,
		EventTypeFilter: sub.EventTypeFilter,
	}, h.ttl)

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.store.DeleteSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	h.cache.Invalidate(r.Context(), id)

	respondJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
