package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/cache"
	"github.com/Eldrago12/webhook-delivery-service/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type memorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]domain.Subscription
}

func newMemorySubscriptionStore() *memorySubscriptionStore {
	return &memorySubscriptionStore{subs: make(map[string]domain.Subscription)}
}

func (m *memorySubscriptionStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := domain.Subscription{
		ID:              uuid.New().String(),
		TargetURL:       req.TargetURL,
		EventTypeFilter: req.EventTypeFilter,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if req.Secret != nil {
		sub.Secret = *req.Secret
	}
	m.subs[sub.ID] = sub
	return &sub, nil
}

func (m *memorySubscriptionStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *memorySubscriptionStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func (m *memorySubscriptionStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, nil
	}
	if req.TargetURL != nil {
		sub.TargetURL = *req.TargetURL
	}
	if req.Secret != nil {
		sub.Secret = *req.Secret
	}
	if req.EventTypeFilter != nil {
		sub.EventTypeFilter = req.EventTypeFilter
	}
	sub.UpdatedAt = time.Now().UTC()
	m.subs[id] = sub
	return &sub, nil
}

func (m *memorySubscriptionStore) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return false, nil
	}
	delete(m.subs, id)
	return true, nil
}

func setupSubscriptionHandler(t *testing.T) (*SubscriptionHandler, *memorySubscriptionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	subStore := newMemorySubscriptionStore()
	subCache := cache.New(client, logger)

	return NewSubscriptionHandler(subStore, subCache, time.Hour), subStore
}

func routeWithSubscriptions(h *SubscriptionHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
	return r
}

func TestSubscriptionHandler_CreateThenGet(t *testing.T) {
	h, _ := setupSubscriptionHandler(t)
	router := routeWithSubscriptions(h)

	body, _ := json.Marshal(domain.CreateSubscriptionRequest{TargetURL: "http://example.com/hook"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created domain.Subscription
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/"+created.ID, nil)
	getW := httptest.NewRecorder()
	router.ServeHTTP(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getW.Code)
	}
}

func TestSubscriptionHandler_CreateMissingTargetURL_400(t *testing.T) {
	h, _ := setupSubscriptionHandler(t)
	router := routeWithSubscriptions(h)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubscriptionHandler_GetUnknown_404(t *testing.T) {
	h, _ := setupSubscriptionHandler(t)
	router := routeWithSubscriptions(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/no-such-id", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSubscriptionHandler_UpdateRefreshesCache(t *testing.T) {
	h, subStore := setupSubscriptionHandler(t)
	router := routeWithSubscriptions(h)

	sub, _ := subStore.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{TargetURL: "http://a"})
	h.cache.Put(context.Background(), sub.ID, cache.Entry{TargetURL: "http://a"}, time.Hour)

	newURL := "http://b"
	body, _ := json.Marshal(domain.UpdateSubscriptionRequest{TargetURL: &newURL})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/subscriptions/"+sub.ID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var updated domain.Subscription
	json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.TargetURL != newURL {
		t.Errorf("expected target_url %q, got %q", newURL, updated.TargetURL)
	}

	cached, ok := h.cache.Get(context.Background(), sub.ID)
	if !ok || cached.TargetURL != newURL {
		t.Errorf("expected cached target_url %q after update, got %+v", newURL, cached)
	}
}

func TestSubscriptionHandler_Delete(t *testing.T) {
	h, subStore := setupSubscriptionHandler(t)
	router := routeWithSubscriptions(h)

	sub, _ := subStore.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{TargetURL: "http://a"})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/subscriptions/"+sub.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/"+sub.ID, nil)
	getW := httptest.NewRecorder()
	router.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", getW.Code)
	}
}
