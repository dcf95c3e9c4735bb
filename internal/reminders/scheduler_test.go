package reminders

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/config"
	"github.com/jmerrifield20/docchaser/internal/messaging"
	"github.com/jmerrifield20/docchaser/internal/requests"
	"github.com/jmerrifield20/docchaser/internal/storage"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type sent struct {
	channel, to, subject, body string
}

type stubSender struct {
	mu        sync.Mutex
	failSMSTo map[string]bool
	failEmail bool
	calls     []sent
}

func (s *stubSender) SendSMS(_ context.Context, to, body string) messaging.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sent{channel: "sms", to: to, body: body})
	if s.failSMSTo[to] {
		return messaging.Result{Error: "INVALID_RECIPIENT", Kind: messaging.KindRejected}
	}
	return messaging.Result{Success: true}
}

func (s *stubSender) SendEmail(_ context.Context, to, subject, body string) messaging.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sent{channel: "email", to: to, subject: subject, body: body})
	if s.failEmail {
		return messaging.Result{Error: "Email failed", Kind: messaging.KindRejected}
	}
	return messaging.Result{Success: true}
}

func (s *stubSender) to(addr string) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, c := range s.calls {
		if c.to == addr {
			out = append(out, c)
		}
	}
	return out
}

type failingStore struct {
	*requests.MemoryStore
	listErr error
}

func (f *failingStore) ListDue(ctx context.Context) ([]*requests.DocumentRequest, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryStore.ListDue(ctx)
}

type blockingStore struct {
	*requests.MemoryStore
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingStore) ListDue(ctx context.Context) ([]*requests.DocumentRequest, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.MemoryStore.ListDue(ctx)
}

func newBlockingStore(mem *requests.MemoryStore) *blockingStore {
	return &blockingStore{MemoryStore: mem, started: make(chan struct{}), release: make(chan struct{})}
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context) (func(), bool, error) { return nil, false, nil }

var broker = config.BrokerConfig{Phone: "555-000-0000", Email: "broker@example.com"}

func seed(t *testing.T, store *requests.MemoryStore, phone string, mod func(*requests.DocumentRequest)) *requests.DocumentRequest {
	t.Helper()
	req := &requests.DocumentRequest{
		ClientName:   "Jane Doe",
		ClientPhone:  phone,
		DocumentType: "Pay Stub",
		UploadToken:  uuid.NewString(),
		CreatedAt:    now.Add(-72 * time.Hour),
	}
	if mod != nil {
		mod(req)
	}
	last := req.LastReminderAt
	req.LastReminderAt = nil
	if err := store.Create(context.Background(), req); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if last != nil {
		if err := store.TouchReminder(context.Background(), req.ID, nil, *last); err != nil {
			t.Fatalf("seed touch: %v", err)
		}
	}
	req.LastReminderAt = last
	return req
}

func newScheduler(store Store, gw messaging.Sender) *Scheduler {
	return New(store, gw, Config{Concurrency: 4, BaseURL: "https://app.example.com", Broker: broker}, zap.NewNop())
}

func get(t *testing.T, store *requests.MemoryStore, id uuid.UUID) *requests.DocumentRequest {
	t.Helper()
	req, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return req
}

// ── Sweep ────────────────────────────────────────────────────────────────

func TestSweep_ExpiresWithoutReminding(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{}
	req := seed(t, store, "555-111-1111", func(r *requests.DocumentRequest) {
		r.Deadline = ago(time.Hour)
	})

	res, err := newScheduler(store, gw).RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Processed != 1 || res.Expired != 1 || res.RemindersSent != 0 {
		t.Errorf("result = %+v", res)
	}
	if got := get(t, store, req.ID); got.Status != requests.StatusExpired || got.LastReminderAt != nil {
		t.Errorf("stored = %+v", got)
	}
	if calls := gw.to("555-111-1111"); len(calls) != 0 {
		t.Errorf("client must not be reminded when expiring: %+v", calls)
	}

	brokerSMS := gw.to(broker.Phone)
	brokerEmail := gw.to(broker.Email)
	if len(brokerSMS) != 1 || !strings.Contains(brokerSMS[0].body, "was not uploaded by deadline") {
		t.Errorf("broker sms = %+v", brokerSMS)
	}
	if len(brokerEmail) != 1 || brokerEmail[0].subject != "Request Expired: Pay Stub" {
		t.Errorf("broker email = %+v", brokerEmail)
	}
}

func TestSweep_BrokerExpiryChannelsIndependent(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{failSMSTo: map[string]bool{broker.Phone: true}}
	seed(t, store, "555-111-1111", func(r *requests.DocumentRequest) { r.Deadline = ago(time.Hour) })

	res, err := newScheduler(store, gw).RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 1 || len(res.Errors) != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(gw.to(broker.Email)) != 1 {
		t.Error("broker email must still be attempted when the sms fails")
	}
}

func TestSweep_FirstReminderAfter48h(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{}
	old := seed(t, store, "555-111-1111", nil)
	fresh := seed(t, store, "555-222-2222", func(r *requests.DocumentRequest) { r.CreatedAt = now.Add(-47 * time.Hour) })

	res, err := newScheduler(store, gw).RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Processed != 2 || res.RemindersSent != 1 {
		t.Errorf("result = %+v", res)
	}

	sms := gw.to("555-111-1111")
	if len(sms) != 1 || !strings.Contains(sms[0].body, "Friendly reminder") {
		t.Fatalf("reminder sms = %+v", sms)
	}
	if !strings.Contains(sms[0].body, "https://app.example.com/upload/"+old.UploadToken) {
		t.Errorf("reminder missing derived link: %q", sms[0].body)
	}
	if got := get(t, store, old.ID); got.LastReminderAt == nil || !got.LastReminderAt.Equal(now) {
		t.Errorf("last_reminder_at = %v", got.LastReminderAt)
	}
	if len(gw.to("555-222-2222")) != 0 || get(t, store, fresh.ID).LastReminderAt != nil {
		t.Error("request younger than 48h must not be reminded")
	}
}

func TestSweep_AntiSpamUnlessUrgent(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{}
	seed(t, store, "555-111-1111", func(r *requests.DocumentRequest) { r.LastReminderAt = ago(10 * time.Hour) })
	urgent := seed(t, store, "555-222-2222", func(r *requests.DocumentRequest) {
		r.LastReminderAt = ago(10 * time.Hour)
		r.Deadline = in(5 * time.Hour)
	})

	res, err := newScheduler(store, gw).RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.RemindersSent != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(gw.to("555-111-1111")) != 0 {
		t.Error("reminder sent before 24h elapsed")
	}
	sms := gw.to("555-222-2222")
	if len(sms) != 1 || !strings.Contains(sms[0].body, "Quick reminder") {
		t.Errorf("urgent sms = %+v", sms)
	}
	if got := get(t, store, urgent.ID); !got.LastReminderAt.Equal(now) {
		t.Errorf("last_reminder_at = %v", got.LastReminderAt)
	}
}

func TestSweep_FailedSMSLeavesLastReminderUnchanged(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{failSMSTo: map[string]bool{"555-111-1111": true}}
	email := "jane@example.com"
	req := seed(t, store, "555-111-1111", func(r *requests.DocumentRequest) {
		r.ClientEmail = &email
		r.LastReminderAt = ago(30 * time.Hour)
	})
	before := get(t, store, req.ID).LastReminderAt

	res, err := newScheduler(store, gw).RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.RemindersSent != 0 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Errors[0], req.ID.String()) {
		t.Errorf("error should name the request: %q", res.Errors[0])
	}
	if after := get(t, store, req.ID).LastReminderAt; !after.Equal(*before) {
		t.Errorf("last_reminder_at moved from %v to %v", before, after)
	}
	if len(gw.to(email)) != 0 {
		t.Error("email must not be attempted after the sms fails")
	}

	// Same condition re-fires once the provider recovers.
	gw.failSMSTo = nil
	res, _ = newScheduler(store, gw).RunSweep(context.Background(), now.Add(time.Minute))
	if res.RemindersSent != 1 {
		t.Errorf("retry result = %+v", res)
	}
}

func TestSweep_FailedEmailStillAdvances(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{failEmail: true}
	email := "jane@example.com"
	req := seed(t, store, "555-111-1111", func(r *requests.DocumentRequest) { r.ClientEmail = &email })

	res, err := newScheduler(store, gw).RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.RemindersSent != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v", res)
	}
	if got := get(t, store, req.ID); got.LastReminderAt == nil {
		t.Error("last_reminder_at should advance when the sms was delivered")
	}
}

func TestSweep_StoppedRequestsIgnored(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{}
	req := seed(t, store, "555-111-1111", nil)
	if err := store.StopReminders(context.Background(), req.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	res, _ := newScheduler(store, gw).RunSweep(context.Background(), now)
	if res.Processed != 0 || len(gw.calls) != 0 {
		t.Errorf("result = %+v calls = %d", res, len(gw.calls))
	}
}

func TestSweep_FetchFailure(t *testing.T) {
	store := &failingStore{MemoryStore: requests.NewMemoryStore(), listErr: errors.New("connection refused")}
	var recorded error
	s := newScheduler(store, &stubSender{})
	s.SetMetricsRecord(func(_ SweepResult, _ time.Duration, err error) { recorded = err })

	_, err := s.RunSweep(context.Background(), now)
	if err == nil || !strings.Contains(err.Error(), "list due requests") {
		t.Fatalf("err = %v", err)
	}
	if recorded == nil {
		t.Error("metrics callback should see the error")
	}
}

func TestSweep_SkippedWhenLockHeld(t *testing.T) {
	store := requests.NewMemoryStore()
	seed(t, store, "555-111-1111", nil)
	gw := &stubSender{}
	s := newScheduler(store, gw)
	s.SetLocker(heldLocker{})

	res, err := s.RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !res.Skipped || res.Processed != 0 || len(gw.calls) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestSweep_OverlappingCallsShareOneSweep(t *testing.T) {
	mem := requests.NewMemoryStore()
	seed(t, mem, "555-111-1111", nil)
	store := newBlockingStore(mem)
	gw := &stubSender{}
	s := newScheduler(store, gw)

	var wg sync.WaitGroup
	results := make([]SweepResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.RunSweep(context.Background(), now)
	}()
	<-store.started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = s.RunSweep(context.Background(), now)
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	if n := store.calls.Load(); n != 1 {
		t.Errorf("ListDue called %d times, want 1", n)
	}
	if len(gw.to("555-111-1111")) != 1 {
		t.Errorf("client reminded %d times, want 1", len(gw.to("555-111-1111")))
	}
	if results[0].RemindersSent != 1 || results[1].RemindersSent != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestSweep_CallerCancelDoesNotAbortSharedSweep(t *testing.T) {
	mem := requests.NewMemoryStore()
	req := seed(t, mem, "555-111-1111", nil)
	store := newBlockingStore(mem)
	gw := &stubSender{}
	s := newScheduler(store, gw)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := s.RunSweep(leaderCtx, now)
		leaderErr <- err
	}()
	<-store.started

	type result struct {
		res SweepResult
		err error
	}
	follower := make(chan result, 1)
	go func() {
		res, err := s.RunSweep(context.Background(), now)
		follower <- result{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	select {
	case err := <-leaderErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("leader err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(store.release)
	got := <-follower
	if got.err != nil {
		t.Fatalf("follower err = %v", got.err)
	}
	if got.res.RemindersSent != 1 || len(got.res.Errors) != 0 {
		t.Errorf("follower result = %+v", got.res)
	}
	if n := len(gw.to("555-111-1111")); n != 1 {
		t.Errorf("client reminded %d times, want 1", n)
	}
	if get(t, mem, req.ID).LastReminderAt == nil {
		t.Error("last_reminder_at not recorded")
	}
}

func TestWait_CoversAbandonedSweep(t *testing.T) {
	mem := requests.NewMemoryStore()
	req := seed(t, mem, "555-111-1111", nil)
	store := newBlockingStore(mem)
	s := newScheduler(store, &stubSender{})

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		s.RunSweep(ctx, now) //nolint:errcheck
		close(returned)
	}()
	<-store.started
	cancel()
	<-returned

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while the sweep was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the sweep finished")
	}
	if get(t, mem, req.ID).LastReminderAt == nil {
		t.Error("abandoned sweep did not record the reminder")
	}
}

func TestSweep_ParallelRecordsIsolated(t *testing.T) {
	store := requests.NewMemoryStore()
	gw := &stubSender{failSMSTo: map[string]bool{"555-100-0013": true}}
	for i := 0; i < 25; i++ {
		seed(t, store, "555-100-00"+twoDigits(i), nil)
	}

	res, err := newScheduler(store, gw).RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Processed != 25 || res.RemindersSent != 24 || len(res.Errors) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func twoDigits(i int) string {
	return string([]byte{byte('0' + i/10), byte('0' + i%10)})
}

// A completed request never re-enters pending and is ignored by every
// later sweep.
func TestRoundTrip_CompletedExcludedFromSweeps(t *testing.T) {
	ctx := context.Background()
	store := requests.NewMemoryStore()
	svc := requests.NewService(store, "https://app.example.com", zap.NewNop())
	svc.SetBlobStore(storage.NewLocalStore(t.TempDir(), "https://app.example.com/files"))

	created, err := svc.Create(ctx, requests.CreateRequest{
		ClientName:   "Jane Doe",
		ClientPhone:  "555-123-4567",
		DocumentType: "Proof of Income",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Upload(ctx, created.Request.UploadToken, requests.File{
		Name: "income.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF"),
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	gw := &stubSender{}
	s := newScheduler(store, gw)
	later := time.Now().UTC()
	for i := 0; i < 5; i++ {
		later = later.Add(72 * time.Hour)
		res, err := s.RunSweep(ctx, later)
		if err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		if res.Processed != 0 {
			t.Fatalf("sweep %d processed a completed request: %+v", i, res)
		}
	}
	if len(gw.calls) != 0 {
		t.Errorf("messages sent for completed request: %+v", gw.calls)
	}
	got, _ := store.GetByID(ctx, created.Request.ID)
	if got.Status != requests.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if err := store.MarkExpired(ctx, got.ID); !errors.Is(err, requests.ErrConflict) {
		t.Errorf("expire completed err = %v", err)
	}
}

// ── Handler ──────────────────────────────────────────────────────────────

func serveRun(s *Scheduler, secret, auth string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(s, secret, zap.NewNop()).Register(r.Group(""))
	req := httptest.NewRequest(http.MethodGet, "/reminders/run", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Run(t *testing.T) {
	s := newScheduler(requests.NewMemoryStore(), &stubSender{})

	if w := serveRun(s, "cron", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no auth status = %d, want 401", w.Code)
	}
	w := serveRun(s, "cron", "Bearer cron")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "No pending requests to process") {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}

	failing := newScheduler(&failingStore{MemoryStore: requests.NewMemoryStore(), listErr: errors.New("db down")}, &stubSender{})
	if w := serveRun(failing, "", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("fetch failure status = %d, want 500", w.Code)
	}

	held := newScheduler(requests.NewMemoryStore(), &stubSender{})
	held.SetLocker(heldLocker{})
	if w := serveRun(held, "", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "sweep already in progress") {
		t.Errorf("skipped status = %d body = %s", w.Code, w.Body.String())
	}
}
