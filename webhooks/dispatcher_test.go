package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	core "taskblitz-backend/core/marketplace"
	store "taskblitz-backend/storage/marketplace"
)

func testDispatcher(t *testing.T) (*Dispatcher, store.Store, *[]time.Duration) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(st.Close)

	var slept []time.Duration
	d := NewDispatcher(st, log.New(io.Discard, "", 0))
	d.async = false
	d.sleep = func(dur time.Duration) { slept = append(slept, dur) }
	return d, st, &slept
}

func registerHook(t *testing.T, st store.Store, url string, retries int) core.Webhook {
	t.Helper()
	hook := core.Webhook{
		ID:             "hook-1",
		URL:            url,
		Secret:         "hook-secret",
		Events:         []string{core.EventTaskCreated},
		RetryCount:     retries,
		TimeoutSeconds: 5,
		Active:         true,
		CreatedAt:      time.Now(),
	}
	if err := st.CreateWebhook(context.Background(), hook); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	return hook
}

func TestDispatchSuccess(t *testing.T) {
	d, st, _ := testDispatcher(t)

	var gotEvent, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get(HeaderEvent)
		gotSig = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := registerHook(t, st, srv.URL, 3)
	d.Emit(context.Background(), core.EventTaskCreated, map[string]interface{}{"task_id": "t1"})

	if gotEvent != core.EventTaskCreated {
		t.Fatalf("event header %q, want %q", gotEvent, core.EventTaskCreated)
	}
	if !VerifySignature("hook-secret", gotBody, gotSig) {
		t.Fatalf("delivery signature does not verify over the body")
	}

	var payload struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload.Event != core.EventTaskCreated || payload.Data["task_id"] != "t1" {
		t.Fatalf("payload %+v, want task.created with task_id t1", payload)
	}

	deliveries, err := st.ListDeliveries(context.Background(), hook.ID)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(deliveries) != 1 || !deliveries[0].Success || deliveries[0].Attempt != 1 {
		t.Fatalf("deliveries %+v, want one successful first attempt", deliveries)
	}

	stored, _ := st.GetWebhook(context.Background(), hook.ID)
	if stored.LastTriggeredAt == nil {
		t.Fatalf("last_triggered_at not stamped after delivery")
	}
}

func TestDispatchRetriesThenGivesUp(t *testing.T) {
	d, st, slept := testDispatcher(t)

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := registerHook(t, st, srv.URL, 3)
	d.Emit(context.Background(), core.EventTaskCreated, map[string]interface{}{"task_id": "t1"})

	if attempts != 3 {
		t.Fatalf("endpoint hit %d times, want 3", attempts)
	}

	deliveries, err := st.ListDeliveries(context.Background(), hook.ID)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(deliveries) != 3 {
		t.Fatalf("got %d delivery records, want 3", len(deliveries))
	}
	for i, rec := range deliveries {
		if rec.Success {
			t.Fatalf("delivery %d marked success", i+1)
		}
		if rec.Attempt != i+1 {
			t.Fatalf("delivery %d has attempt %d", i+1, rec.Attempt)
		}
		if rec.ResponseStatus != http.StatusInternalServerError {
			t.Fatalf("delivery %d status %d, want 500", i+1, rec.ResponseStatus)
		}
		if rec.Error == "" {
			t.Fatalf("delivery %d has no error recorded", i+1)
		}
	}

	// Exponential backoff between attempts, none after the last.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("backoff %d was %v, want %v", i+1, (*slept)[i], want[i])
		}
	}

	stored, _ := st.GetWebhook(context.Background(), hook.ID)
	if stored.LastTriggeredAt == nil {
		t.Fatalf("last_triggered_at not stamped after exhausted retries")
	}
}

func TestDispatchUnsubscribedEvent(t *testing.T) {
	d, st, _ := testDispatcher(t)

	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	registerHook(t, st, srv.URL, 3)
	d.Emit(context.Background(), core.EventPaymentSent, map[string]interface{}{"task_id": "t1"})

	if hit {
		t.Fatalf("webhook received an event it never subscribed to")
	}
}
