package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/metrics"
	store "taskblitz-backend/storage/marketplace"
)

const (
	defaultRetryCount     = 3
	defaultTimeoutSeconds = 10
)

// Dispatcher fans lifecycle events out to subscribed webhook endpoints.
// Delivery failures are recorded but never propagate to the caller: a dead
// endpoint must not block or fail a settlement.
type Dispatcher struct {
	store  store.Store
	http   *http.Client
	sleep  func(time.Duration)
	logger *log.Logger
	async  bool
}

// NewDispatcher creates a dispatcher that delivers in the background.
func NewDispatcher(s store.Store, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		store:  s,
		http:   &http.Client{},
		sleep:  time.Sleep,
		logger: logger,
		async:  true,
	}
}

// Emit implements the lifecycle event sink. Delivery happens off the calling
// goroutine with a fresh context so the triggering request can complete.
func (d *Dispatcher) Emit(ctx context.Context, event string, payload map[string]interface{}) {
	if d.async {
		go d.Dispatch(context.Background(), event, payload)
		return
	}
	d.Dispatch(ctx, event, payload)
}

// Dispatch delivers the event to every active subscribed webhook. Endpoints
// are delivered concurrently; retries for a single endpoint stay sequential.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, payload map[string]interface{}) {
	hooks, err := d.store.ListWebhooksForEvent(ctx, event)
	if err != nil {
		d.logger.Printf("webhooks: list subscribers for %s: %v", event, err)
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		d.logger.Printf("webhooks: marshal %s payload: %v", event, err)
		return
	}

	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(h core.Webhook) {
			defer wg.Done()
			d.deliver(ctx, h, event, body)
		}(hook)
	}
	wg.Wait()
}

// deliver attempts one webhook with bounded retries and exponential backoff.
// Every attempt writes its own immutable delivery record; last_triggered_at is
// stamped once after the final attempt regardless of outcome.
func (d *Dispatcher) deliver(ctx context.Context, hook core.Webhook, event string, body []byte) {
	retries := hook.RetryCount
	if retries <= 0 {
		retries = defaultRetryCount
	}
	timeout := time.Duration(hook.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}
	signature := SignBody(hook.Secret, body)

	var succeeded bool
	for attempt := 1; attempt <= retries; attempt++ {
		status, attemptErr := d.post(ctx, hook.URL, event, signature, body, timeout)
		rec := core.WebhookDelivery{
			ID:             uuid.NewString(),
			WebhookID:      hook.ID,
			EventType:      event,
			Payload:        string(body),
			ResponseStatus: status,
			Attempt:        attempt,
			Success:        attemptErr == nil,
			CreatedAt:      time.Now(),
		}
		if attemptErr != nil {
			rec.Error = attemptErr.Error()
		}
		if err := d.store.RecordDelivery(ctx, rec); err != nil {
			d.logger.Printf("webhooks: record delivery for %s: %v", hook.ID, err)
		}

		if attemptErr == nil {
			succeeded = true
			break
		}
		if attempt < retries {
			d.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}

	if succeeded {
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	} else {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		d.logger.Printf("webhooks: %s exhausted %d attempts for %s", hook.ID, retries, event)
	}
	if err := d.store.TouchWebhook(ctx, hook.ID, time.Now()); err != nil {
		d.logger.Printf("webhooks: touch %s: %v", hook.ID, err)
	}
}

// post issues one signed delivery attempt. Any non-2xx response is a failure.
func (d *Dispatcher) post(ctx context.Context, url, event, signature string, body []byte, timeout time.Duration) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderSignature, signature)

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
