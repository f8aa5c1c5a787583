package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/cache"
	"github.com/Eldrago12/webhook-delivery-service/internal/queue"
	"github.com/Eldrago12/webhook-delivery-service/internal/store"
	"github.com/go-chi/chi/v5"
)

// Metrics is the capability set the ingestion handler reports
// accepted events through. Satisfied by internal/metrics.Recorder.
type Metrics interface {
	RecordIngested()
}

type noopMetrics struct{}

func (noopMetrics) RecordIngested() {}

// IngestHandler implements C3: validate, verify, filter, persist,
// enqueue.
type IngestHandler struct {
	subStore     store.SubscriptionStore
	taskStore    store.TaskStore
	cache        *cache.SubscriptionCache
	queue        *queue.Queue
	cacheExpiry  time.Duration
	secretHeader string
	eventHeader  string
	logger       *slog.Logger
	metrics      Metrics
}

func NewIngestHandler(
	subStore store.SubscriptionStore,
	taskStore store.TaskStore,
	subCache *cache.SubscriptionCache,
	q *queue.Queue,
	cacheExpiry time.Duration,
	secretHeader, eventHeader string,
	logger *slog.Logger,
	metrics Metrics,
) *IngestHandler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &IngestHandler{
		subStore:     subStore,
		taskStore:    taskStore,
		cache:        subCache,
		queue:        q,
		cacheExpiry:  cacheExpiry,
		secretHeader: secretHeader,
		eventHeader:  eventHeader,
		logger:       logger,
		metrics:      metrics,
	}
}

type ingestResponse struct {
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		respondError(w, http.StatusUnsupportedMediaType, "body is not valid JSON")
		return
	}

	entry, err := h.resolveSubscription(r, subscriptionID)
	if err != nil {
		h.logger.Error("failed to resolve subscription", "subscription_id", subscriptionID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to resolve subscription")
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	if entry.Secret != "" {
		status, ok := h.verifySignature(r, body, entry.Secret)
		if !ok {
			respondError(w, status, signatureErrorMessage(status))
			return
		}
	}

	if entry.EventTypeFilter != nil && *entry.EventTypeFilter != "" {
		eventType := r.Header.Get(h.eventHeader)
		if eventType != *entry.EventTypeFilter {
			respondJSON(w, http.StatusAccepted, ingestResponse{Message: "event type does not match subscription filter, not enqueued"})
			return
		}
	}

	task, err := h.taskStore.CreateTask(r.Context(), subscriptionID, body)
	if err != nil {
		h.logger.Error("failed to create delivery task", "subscription_id", subscriptionID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to persist delivery task")
		return
	}

	if err := h.queue.Publish(r.Context(), task.ID); err != nil {
		// The task row is already committed; the orphan-rescue sweep
		// will pick it up if this publish never lands.
		h.logger.Error("failed to enqueue delivery task", "task_id", task.ID, "error", err)
	}

	h.metrics.RecordIngested()
	respondJSON(w, http.StatusAccepted, ingestResponse{TaskID: task.ID})
}

func (h *IngestHandler) resolveSubscription(r *http.Request, subscriptionID string) (*cache.Entry, error) {
	ctx := r.Context()

	if entry, ok := h.cache.Get(ctx, subscriptionID); ok {
		return entry, nil
	}

	sub, err := h.subStore.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	entry := cache.Entry{
		TargetURL:       sub.TargetURL,
		Secret:          sub.Secret,
		EventTypeFilter: sub.EventTypeFilter,
	}
	h.cache.Put(ctx, subscriptionID, entry, h.cacheExpiry)
	return &entry, nil
}

// verifySignature enforces the X-Hub-Signature-256-style header
// required when the subscription has a secret. Returns the HTTP
// status to use on failure and false; (200, true) on success.
func (h *IngestHandler) verifySignature(r *http.Request, body []byte, secret string) (int, bool) {
	header := r.Header.Get(h.secretHeader)
	if header == "" {
		return http.StatusUnauthorized, false
	}

	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 {
		return http.StatusBadRequest, false
	}
	algorithm, signature := parts[0], parts[1]
	if algorithm != "sha256" {
		return http.StatusBadRequest, false
	}

	if !verifySignature(body, secret, signature) {
		return http.StatusUnauthorized, false
	}
	return http.StatusOK, true
}

func signatureErrorMessage(status int) string {
	if status == http.StatusUnauthorized {
		return "signature verification failed"
	}
	return "malformed signature header"
}
