package worker

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/cache"
	"github.com/Eldrago12/webhook-delivery-service/internal/config"
	"github.com/Eldrago12/webhook-delivery-service/internal/domain"
	"github.com/Eldrago12/webhook-delivery-service/internal/queue"
	"github.com/Eldrago12/webhook-delivery-service/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeSubscriptionStore and fakeTaskStore are in-memory capability-set
// implementations used to exercise the worker without a database.

type fakeSubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]domain.Subscription
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{subs: make(map[string]domain.Subscription)}
}

func (f *fakeSubscriptionStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (f *fakeSubscriptionStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionStore) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	return false, nil
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.DeliveryTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[string]*domain.DeliveryTask)}
}

func (f *fakeTaskStore) CreateTask(ctx context.Context, subscriptionID string, payload []byte) (*domain.DeliveryTask, error) {
	return nil, nil
}

func (f *fakeTaskStore) LoadTask(ctx context.Context, id string) (*domain.DeliveryTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return false, nil
	}
	if t.Status != domain.TaskPending && t.Status != domain.TaskRetrying {
		return false, nil
	}
	t.Status = domain.TaskProcessing
	return true, nil
}

func (f *fakeTaskStore) UpdateTaskAfterAttempt(ctx context.Context, taskID string, httpStatus *int, errorDetails *string, success bool, maxRetries int, backoff store.BackoffFunc) (*domain.DeliveryTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[taskID]
	t.AttemptsCount++
	now := time.Now().UTC()
	t.LastAttemptAt = &now
	t.LastHTTPStatus = httpStatus
	t.LastError = errorDetails

	switch {
	case success:
		t.Status = domain.TaskSucceeded
		t.NextAttemptAt = nil
	case t.AttemptsCount >= maxRetries:
		t.Status = domain.TaskFailed
		t.NextAttemptAt = nil
	default:
		t.Status = domain.TaskRetrying
		at := now.Add(backoff(t.AttemptsCount))
		t.NextAttemptAt = &at
	}

	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) MarkTerminal(ctx context.Context, taskID string, errorDetails string) (*domain.DeliveryTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[taskID]
	t.Status = domain.TaskFailed
	t.LastError = &errorDetails
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) GetTaskWithAttempts(ctx context.Context, taskID string) (*domain.TaskWithAttempts, error) {
	return nil, nil
}

func (f *fakeTaskStore) ListRecentAttemptsForSubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	return nil, nil
}

func (f *fakeTaskStore) ListOrphans(ctx context.Context, before time.Time, limit int) ([]domain.DeliveryTask, error) {
	return nil, nil
}

func (f *fakeTaskStore) RequeueOrphan(ctx context.Context, id string) error {
	return nil
}

func (f *fakeTaskStore) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return 0, nil
}

func (f *fakeTaskStore) DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return 0, nil
}

func testDeliverer(t *testing.T, targetURL string) (*Deliverer, *fakeSubscriptionStore, *fakeTaskStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	subStore := newFakeSubscriptionStore()
	subStore.subs["sub-1"] = domain.Subscription{ID: "sub-1", TargetURL: targetURL, Secret: "s3cr3t"}

	taskStore := newFakeTaskStore()

	cfg := &config.Config{
		DeliveryTimeout: 2 * time.Second,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
		RetryFactor:     2,
		MaxRetryDelay:   time.Minute,
		CacheExpiry:     time.Hour,
	}

	subCache := cache.New(client, logger)
	q := queue.New(client)

	d := NewDeliverer(subStore, taskStore, subCache, q, cfg, logger, nil)
	return d, subStore, taskStore
}

func TestDeliverer_SuccessMarksTaskSucceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _, taskStore := testDeliverer(t, srv.URL)
	taskStore.tasks["task-1"] = &domain.DeliveryTask{ID: "task-1", SubscriptionID: "sub-1", Status: domain.TaskPending, Payload: []byte(`{}`)}

	d.Deliver(context.Background(), "task-1")

	task := taskStore.tasks["task-1"]
	if task.Status != domain.TaskSucceeded {
		t.Errorf("expected status succeeded, got %s", task.Status)
	}
	if task.AttemptsCount != 1 {
		t.Errorf("expected 1 attempt, got %d", task.AttemptsCount)
	}
}

func TestDeliverer_FailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _, taskStore := testDeliverer(t, srv.URL)
	taskStore.tasks["task-1"] = &domain.DeliveryTask{ID: "task-1", SubscriptionID: "sub-1", Status: domain.TaskPending, Payload: []byte(`{}`)}

	d.Deliver(context.Background(), "task-1")

	task := taskStore.tasks["task-1"]
	if task.Status != domain.TaskRetrying {
		t.Errorf("expected status retrying, got %s", task.Status)
	}
	if task.NextAttemptAt == nil {
		t.Error("expected next_attempt_at to be set")
	}
}

func TestDeliverer_ExhaustedRetriesGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _, taskStore := testDeliverer(t, srv.URL)
	taskStore.tasks["task-1"] = &domain.DeliveryTask{ID: "task-1", SubscriptionID: "sub-1", Status: domain.TaskPending, Payload: []byte(`{}`), AttemptsCount: 2}

	d.Deliver(context.Background(), "task-1")

	task := taskStore.tasks["task-1"]
	if task.Status != domain.TaskFailed {
		t.Errorf("expected status failed, got %s", task.Status)
	}
}

func TestDeliverer_MissingSubscriptionMarksTerminal(t *testing.T) {
	d, _, taskStore := testDeliverer(t, "http://unused")
	taskStore.tasks["task-1"] = &domain.DeliveryTask{ID: "task-1", SubscriptionID: "no-such-sub", Status: domain.TaskPending, Payload: []byte(`{}`)}

	d.Deliver(context.Background(), "task-1")

	task := taskStore.tasks["task-1"]
	if task.Status != domain.TaskFailed {
		t.Errorf("expected status failed, got %s", task.Status)
	}
}

func TestDeliverer_AlreadyClaimedTaskIsSkipped(t *testing.T) {
	d, _, taskStore := testDeliverer(t, "http://unused")
	taskStore.tasks["task-1"] = &domain.DeliveryTask{ID: "task-1", SubscriptionID: "sub-1", Status: domain.TaskProcessing, Payload: []byte(`{}`)}

	d.Deliver(context.Background(), "task-1")

	task := taskStore.tasks["task-1"]
	if task.Status != domain.TaskProcessing {
		t.Errorf("expected status to remain processing, got %s", task.Status)
	}
}
