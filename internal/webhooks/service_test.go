package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/events"
)

func newTestService(urls ...string) (*Service, *MemoryLog) {
	svc := NewService(urls, "topsecret", zap.NewNop())
	svc.delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	log := NewMemoryLog(10)
	svc.SetDeliveryLog(log)
	return svc, log
}

func TestPublish_SignsPayload(t *testing.T) {
	var gotSig string
	var gotEvent events.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		if gotSig != Sign(body, "topsecret") {
			t.Errorf("signature mismatch: %q", gotSig)
		}
		json.Unmarshal(body, &gotEvent) //nolint:errcheck
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	svc, log := newTestService(srv.URL)
	svc.Publish(context.Background(), events.RequestCreated, map[string]string{"request_id": "r1"})
	svc.Wait()

	if gotEvent.Type != events.RequestCreated || gotEvent.Payload["request_id"] != "r1" {
		t.Errorf("event = %+v", gotEvent)
	}
	deliveries, _ := log.ListDeliveries(context.Background(), 10)
	if len(deliveries) != 1 || !deliveries[0].Success || deliveries[0].RequestID != "r1" {
		t.Errorf("deliveries = %+v", deliveries)
	}
}

func TestPublish_RetriesThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var failures atomic.Int32
	svc, log := newTestService(srv.URL)
	svc.SetMetricsRecorder(func(success bool) {
		if !success {
			failures.Add(1)
		}
	})
	svc.Publish(context.Background(), events.RequestExpired, map[string]string{"request_id": "r2"})
	svc.Wait()

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if failures.Load() != 3 {
		t.Errorf("failures = %d, want 3", failures.Load())
	}
	deliveries, _ := log.ListDeliveries(context.Background(), 10)
	if len(deliveries) != 3 || deliveries[0].Attempt != 3 || deliveries[0].ErrorMessage != "HTTP 502" {
		t.Errorf("deliveries = %+v", deliveries)
	}
}

func TestPublish_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, _ := newTestService(srv.URL)
	svc.Publish(context.Background(), events.ReminderSent, nil)
	svc.Wait()

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestMemoryLog_Capacity(t *testing.T) {
	log := NewMemoryLog(2)
	for i := 1; i <= 3; i++ {
		log.RecordDelivery(context.Background(), &Delivery{Attempt: i}) //nolint:errcheck
	}
	got, _ := log.ListDeliveries(context.Background(), 10)
	if len(got) != 2 || got[0].Attempt != 3 || got[1].Attempt != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestHandler_ListDeliveries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := NewMemoryLog(10)
	log.RecordDelivery(context.Background(), &Delivery{URL: "http://x", Success: true}) //nolint:errcheck

	r := gin.New()
	NewHandler(log, zap.NewNop()).Register(r.Group("/api/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/deliveries", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &body) //nolint:errcheck
	if body.Count != 1 {
		t.Errorf("count = %d", body.Count)
	}
}
