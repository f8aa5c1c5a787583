package api

import (
	"net/http"

	"github.com/Eldrago12/webhook-delivery-service/internal/store"
	"github.com/go-chi/chi/v5"
)

// recentAttemptsLimit is the fixed page size spec.md §4.7 mandates for
// the subscription-attempts projection: up to 20 most recent attempts,
// not a caller-configurable window.
const recentAttemptsLimit = 20

// StatusHandler implements C7: read-only projections over tasks and
// attempts.
type StatusHandler struct {
	subStore  store.SubscriptionStore
	taskStore store.TaskStore
}

func NewStatusHandler(subStore store.SubscriptionStore, taskStore store.TaskStore) *StatusHandler {
	return &StatusHandler{subStore: subStore, taskStore: taskStore}
}

func (h *StatusHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.taskStore.GetTaskWithAttempts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load delivery task")
		return
	}
	if task == nil {
		respondError(w, http.StatusNotFound, "delivery task not found")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

func (h *StatusHandler) ListSubscriptionAttempts(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "id")

	sub, err := h.subStore.GetSubscription(r.Context(), subscriptionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to look up subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	attempts, err := h.taskStore.ListRecentAttemptsForSubscription(r.Context(), subscriptionID, recentAttemptsLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load delivery attempts")
		return
	}

	respondJSON(w, http.StatusOK, attempts)
}
