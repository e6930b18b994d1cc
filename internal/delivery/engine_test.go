package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/signature"
)

type fakeRegistry struct {
	subs []model.Subscription
	err  error
}

func (f *fakeRegistry) ListActive(context.Context) ([]model.Subscription, error) {
	return f.subs, f.err
}

type memAudit struct {
	mu   sync.Mutex
	rows []model.DeliveryAttempt
}

func (m *memAudit) Append(_ context.Context, a model.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}

func (m *memAudit) bySubscription(id int64) []model.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeliveryAttempt
	for _, r := range m.rows {
		if r.SubscriptionID == id {
			out = append(out, r)
		}
	}
	return out
}

func (m *memAudit) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		MaxAttempts:       3,
		Timeout:           2 * time.Second,
		Backoff:           []time.Duration{time.Second, 5 * time.Second, 25 * time.Second},
		UserAgent:         "BizHub-Webhooks/1.0",
		ResponseBodyLimit: 2048,
	}
}

// statusServer answers with the given statuses in order, repeating the last.
func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
		_, _ = w.Write([]byte("ack"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestEngine(t *testing.T, subs []model.Subscription, cfg config.DeliveryConfig, opts ...Option) (*Engine, *memAudit, *sleepRecorder) {
	t.Helper()
	audit := &memAudit{}
	rec := &sleepRecorder{}
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	e := NewEngine(&fakeRegistry{subs: subs}, audit, cfg, zaptest.NewLogger(t), opts...)
	t.Cleanup(e.Close)
	return e, audit, rec
}

func sub(id int64, url string, events ...string) model.Subscription {
	return model.Subscription{ID: id, URL: url, Events: events, IsActive: true}
}

func payload() model.EventPayload {
	return model.EventPayload{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		EntityID:  "inv-1",
		Actor:     "system",
		Data:      map[string]any{"amount": 1200},
	}
}

func assertMonotonic(t *testing.T, rows []model.DeliveryAttempt) {
	t.Helper()
	require.NotEmpty(t, rows)
	for i, r := range rows {
		assert.Equal(t, i+1, r.AttemptNumber)
		assert.Equal(t, rows[0].DeliveryID, r.DeliveryID)
		if i < len(rows)-1 {
			assert.Nil(t, r.DeliveredAt, "only the last attempt may be delivered")
		}
	}
	assert.LessOrEqual(t, len(rows), 3)
}

func TestEngine_ClientErrorIsTerminal(t *testing.T) {
	srv, hits := statusServer(t, http.StatusNotFound)
	e, audit, sleeps := newTestEngine(t, []model.Subscription{sub(1, srv.URL, "invoice.paid")}, testConfig())

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	rows := audit.bySubscription(1)
	require.Len(t, rows, 1)
	assert.Equal(t, 404, *rows[0].ResponseStatus)
	assert.Nil(t, rows[0].DeliveredAt)
	assert.Equal(t, "http 404", *rows[0].Error)
	assert.EqualValues(t, 1, hits.Load())
	assert.Empty(t, sleeps.delays)
}

func TestEngine_ServerErrorExhaustsAttempts(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable)
	e, audit, sleeps := newTestEngine(t, []model.Subscription{sub(1, srv.URL, "invoice.paid")}, testConfig())

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	rows := audit.bySubscription(1)
	require.Len(t, rows, 3)
	assertMonotonic(t, rows)
	for _, r := range rows {
		assert.Nil(t, r.DeliveredAt)
		assert.Equal(t, 503, *r.ResponseStatus)
	}
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, sleeps.delays)
}

func TestEngine_RetryThenSuccess(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		want     int
	}{
		{name: "5xx then ok", statuses: []int{500, 200}, want: 2},
		{name: "429 is retried", statuses: []int{429, 429, 204}, want: 3},
		{name: "first try", statuses: []int{201}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := statusServer(t, tt.statuses...)
			e, audit, _ := newTestEngine(t, []model.Subscription{sub(1, srv.URL, "invoice.paid")}, testConfig())

			e.DeliverToSubscribers("invoice.paid", payload())
			e.Wait()

			rows := audit.bySubscription(1)
			require.Len(t, rows, tt.want)
			assertMonotonic(t, rows)
			assert.NotNil(t, rows[len(rows)-1].DeliveredAt)
			assert.Nil(t, rows[len(rows)-1].Error)
		})
	}
}

func TestEngine_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, audit, _ := newTestEngine(t, []model.Subscription{sub(1, url, "*")}, testConfig())

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	rows := audit.bySubscription(1)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Nil(t, r.ResponseStatus)
		require.NotNil(t, r.Error)
		assert.NotEmpty(t, *r.Error)
	}
}

func TestEngine_SubscriberIsolation(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)
	t.Cleanup(unblock)
	good, _ := statusServer(t, http.StatusOK)

	e, audit, _ := newTestEngine(t, []model.Subscription{
		sub(1, bad.URL, "invoice.paid"),
		sub(2, good.URL, "invoice.paid"),
	}, testConfig())

	e.DeliverToSubscribers("invoice.paid", payload())

	require.Eventually(t, func() bool { return len(audit.bySubscription(2)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, audit.bySubscription(1), "stalled endpoint is still on its first attempt")

	unblock()
	e.Wait()

	assert.Len(t, audit.bySubscription(1), 3)
	okRows := audit.bySubscription(2)
	require.Len(t, okRows, 1)
	assert.NotNil(t, okRows[0].DeliveredAt)
	assert.Equal(t, int64(2), audit.rows[0].SubscriptionID)
	assert.NotEqual(t, audit.bySubscription(1)[0].DeliveryID, okRows[0].DeliveryID)
}

func TestEngine_Matching(t *testing.T) {
	srv, hits := statusServer(t, http.StatusOK)

	inactive := sub(4, srv.URL, "*")
	inactive.IsActive = false

	e, audit, _ := newTestEngine(t, []model.Subscription{
		sub(1, srv.URL, "*"),
		sub(2, srv.URL, "invoice.paid", "proposal.accepted"),
		sub(3, srv.URL, "proposal.accepted"),
		inactive,
	}, testConfig())

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	var got []int64
	for _, r := range audit.rows {
		got = append(got, r.SubscriptionID)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []int64{1, 2}, got)
	assert.EqualValues(t, 2, hits.Load())
}

func TestEngine_RequestShape(t *testing.T) {
	type captured struct {
		header http.Header
		body   []byte
	}
	var (
		mu   sync.Mutex
		reqs = map[string]captured{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs[r.URL.Path] = captured{header: r.Header.Clone(), body: b}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	secret := "whsec_client"
	signed := sub(1, srv.URL+"/signed", "invoice.paid")
	signed.Secret = &secret

	e, audit, _ := newTestEngine(t, []model.Subscription{signed, sub(2, srv.URL+"/plain", "invoice.paid")}, testConfig())

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	s := reqs["/signed"]
	require.NotNil(t, s.body)
	assert.Equal(t, "application/json", s.header.Get("Content-Type"))
	assert.Equal(t, "BizHub-Webhooks/1.0", s.header.Get("User-Agent"))
	assert.Equal(t, "invoice.paid", s.header.Get(HeaderEventType))
	assert.Equal(t, audit.bySubscription(1)[0].DeliveryID, s.header.Get(HeaderDeliveryID))
	assert.Equal(t, signature.Header(secret, s.body), s.header.Get(HeaderSignature))
	assert.Equal(t, string(s.body), string(audit.bySubscription(1)[0].Payload), "stored payload is the signed body")

	p := reqs["/plain"]
	require.NotNil(t, p.body)
	assert.Empty(t, p.header.Get(HeaderSignature))
	assert.Equal(t, s.body, p.body)

	var decoded struct {
		Event     string         `json:"event"`
		Timestamp string         `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(s.body, &decoded))
	assert.Equal(t, "invoice.paid", decoded.Event)
	assert.Equal(t, "2024-03-01T12:00:00.000Z", decoded.Timestamp)
	assert.Equal(t, "inv-1", decoded.Data["entityId"])
	assert.Equal(t, "system", decoded.Data["actor"])
	assert.EqualValues(t, 1200, decoded.Data["amount"])
}

func TestEngine_ResponseBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("this body is longer than the limit"))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.ResponseBodyLimit = 8
	e, audit, _ := newTestEngine(t, []model.Subscription{sub(1, srv.URL, "*")}, cfg)

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	rows := audit.bySubscription(1)
	require.Len(t, rows, 1)
	assert.Equal(t, "this bod", *rows[0].ResponseBody)
}

// clockedSleep advances clk instead of blocking.
func clockedSleep(clk *fakeClock, rec *sleepRecorder) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		clk.advance(d)
		return rec.sleep(ctx, d)
	}
}

func newBreakerEngine(t *testing.T, url string, br config.BreakerConfig) (*Engine, *memAudit, *sleepRecorder) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &sleepRecorder{}
	audit := &memAudit{}

	cfg := testConfig()
	cfg.Breaker = br
	e := NewEngine(&fakeRegistry{subs: []model.Subscription{sub(1, url, "*")}}, audit, cfg, zaptest.NewLogger(t),
		WithSleep(clockedSleep(clk, rec)), WithClock(clk.now))
	t.Cleanup(e.Close)
	return e, audit, rec
}

func TestEngine_OpenCircuitHoldsAttempt(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
	e, audit, sleeps := newBreakerEngine(t, srv.URL, config.BreakerConfig{FailThreshold: 2, OpenFor: 30 * time.Second})

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	rows := audit.bySubscription(1)
	require.Len(t, rows, 3)
	assertMonotonic(t, rows)
	for _, r := range rows {
		require.NotNil(t, r.ResponseStatus, "every row is a request that went out")
	}
	assert.NotNil(t, rows[2].DeliveredAt)
	assert.EqualValues(t, 3, hits.Load())
	// the third attempt waits out the rest of the cooldown
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}, sleeps.delays)

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	assert.Len(t, audit.rows, 4)
	assert.NotNil(t, audit.rows[3].DeliveredAt)
	assert.EqualValues(t, 4, hits.Load())
}

func TestEngine_OpenCircuitDoesNotDropRecoveredEndpoint(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadGateway)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)

	e, audit, sleeps := newBreakerEngine(t, srv.URL, config.BreakerConfig{
		FailThreshold: 2,
		OpenFor:       time.Hour,
		MaxWait:       time.Minute,
	})

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	rows := audit.bySubscription(1)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.NotNil(t, r.ResponseStatus)
		assert.Equal(t, 502, *r.ResponseStatus)
	}
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, time.Minute}, sleeps.delays)

	// breaker is still open; the endpoint is healthy again
	status.Store(http.StatusOK)
	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	rows = audit.bySubscription(1)
	require.Len(t, rows, 4)
	assert.Equal(t, 1, rows[3].AttemptNumber)
	assert.Equal(t, 200, *rows[3].ResponseStatus)
	assert.NotNil(t, rows[3].DeliveredAt)
	assert.EqualValues(t, 4, hits.Load())
}

func TestEngine_CloseWhileCircuitOpen(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable)

	cfg := testConfig()
	cfg.Backoff = []time.Duration{0}
	cfg.Breaker = config.BreakerConfig{FailThreshold: 1, OpenFor: time.Hour}
	audit := &memAudit{}
	e := NewEngine(&fakeRegistry{subs: []model.Subscription{sub(1, srv.URL, "*")}}, audit, cfg, zaptest.NewLogger(t))

	e.DeliverToSubscribers("invoice.paid", payload())
	require.Eventually(t, func() bool { return audit.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	e.Close()
	e.Wait()

	assert.Equal(t, 1, audit.len(), "held attempt writes no row")
	assert.EqualValues(t, 1, hits.Load())
}

func TestEngine_CloseAbandonsBackoff(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable)

	cfg := testConfig()
	cfg.Backoff = []time.Duration{time.Hour}
	audit := &memAudit{}
	e := NewEngine(&fakeRegistry{subs: []model.Subscription{sub(1, srv.URL, "*")}}, audit, cfg, zaptest.NewLogger(t))

	e.DeliverToSubscribers("invoice.paid", payload())
	require.Eventually(t, func() bool { return audit.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	e.Close()
	e.Wait()

	assert.Equal(t, 1, audit.len())
	assert.EqualValues(t, 1, hits.Load())

	// deliveries after close are dropped
	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()
	assert.Equal(t, 1, audit.len())
}

func TestEngine_RegistryErrorDeliversNothing(t *testing.T) {
	audit := &memAudit{}
	e := NewEngine(&fakeRegistry{err: assert.AnError}, audit, testConfig(), zaptest.NewLogger(t))
	t.Cleanup(e.Close)

	e.DeliverToSubscribers("invoice.paid", payload())
	e.Wait()

	assert.Zero(t, audit.len())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   verdict
	}{
		{0, verdictRetry},
		{200, verdictDelivered},
		{299, verdictDelivered},
		{301, verdictFailed},
		{400, verdictFailed},
		{404, verdictFailed},
		{429, verdictRetry},
		{500, verdictRetry},
		{503, verdictRetry},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.status), "status %d", tt.status)
	}
}

func TestEncodeBody(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	p := model.EventPayload{
		EventType: "git.push",
		EntityID:  "acme/api",
		Actor:     "octocat",
		Data:      map[string]any{"ref": "refs/heads/main", "actor": "override"},
	}

	b1, err := encodeBody(p, now)
	require.NoError(t, err)
	b2, err := encodeBody(p, now)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	assert.JSONEq(t, `{
		"event": "git.push",
		"timestamp": "2024-01-02T03:04:05.000Z",
		"data": {"entityId": "acme/api", "actor": "override", "ref": "refs/heads/main"}
	}`, string(b1))
}

func TestEngine_ShutdownDrainsThenCancels(t *testing.T) {
	srv, _ := statusServer(t, http.StatusServiceUnavailable)

	cfg := testConfig()
	cfg.Backoff = []time.Duration{time.Hour}
	audit := &memAudit{}
	e := NewEngine(&fakeRegistry{subs: []model.Subscription{sub(1, srv.URL, "*")}}, audit, cfg, zaptest.NewLogger(t))

	e.DeliverToSubscribers("invoice.paid", payload())
	require.Eventually(t, func() bool { return audit.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	e.Shutdown(ctx)

	assert.Equal(t, 1, audit.len())
}
