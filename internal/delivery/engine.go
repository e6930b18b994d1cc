// Package delivery sends business events to subscribed client endpoints.
//
// Each (event, subscription) pair is delivered by its own goroutine with a
// bounded number of attempts. Every attempt is appended to the audit log
// before the retry decision is made, so the log is the only completion signal.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/signature"
	"github.com/jmehdipour/webhook-gateway/internal/util"
)

const (
	HeaderEventType  = "X-Event-Type"
	HeaderDeliveryID = "X-Delivery-ID"
	HeaderSignature  = signature.HeaderGenericAlt

	auditTimeout = 5 * time.Second
)

// Registry lists subscriptions eligible for delivery.
type Registry interface {
	ListActive(ctx context.Context) ([]model.Subscription, error)
}

// AuditLog persists delivery attempts.
type AuditLog interface {
	Append(ctx context.Context, a model.DeliveryAttempt) error
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Engine)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithSleep replaces the backoff wait; tests pass a no-op.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	registry Registry
	audit    AuditLog
	client   *http.Client
	cfg      config.DeliveryConfig
	breakers *breakers
	log      *zap.Logger
	sleep    SleepFunc
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func NewEngine(registry Registry, audit AuditLog, cfg config.DeliveryConfig, log *zap.Logger, opts ...Option) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}
	}
	if cfg.ResponseBodyLimit <= 0 {
		cfg.ResponseBodyLimit = 2048
	}
	if cfg.Breaker.MaxWait <= 0 {
		cfg.Breaker.MaxWait = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		registry: registry,
		audit:    audit,
		client:   &http.Client{},
		cfg:      cfg,
		log:      logger.OrNop(log),
		sleep:    sleepCtx,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.breakers = newBreakers(cfg.Breaker.FailThreshold, cfg.Breaker.OpenFor, e.now)

	return e
}

// DeliverToSubscribers fans eventType out to every active matching
// subscription and returns immediately. Failures are visible only in the
// audit log and the logs.
func (e *Engine) DeliverToSubscribers(eventType string, payload model.EventPayload) {
	if e.ctx.Err() != nil {
		e.log.Warn("delivery dropped, engine closed", zap.String("event_type", eventType))
		return
	}
	payload.EventType = eventType

	e.spawn("fanout", func() { e.fanOut(eventType, payload) })
}

// Close cancels in-flight backoff waits and requests. Deliveries started
// afterwards are dropped.
func (e *Engine) Close() { e.cancel() }

// Wait blocks until all spawned deliveries have returned.
func (e *Engine) Wait() { e.wg.Wait() }

// Shutdown lets in-flight deliveries finish until ctx is done, then cancels
// whatever is left. Callers stop producing events before calling it.
func (e *Engine) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("delivery drain timed out, abandoning retries")
		e.Close()
		<-done
	}
	e.Close()
}

func (e *Engine) spawn(what string, fn func()) {
	e.wg.Go(func() {
		var pc panics.Catcher
		pc.Try(fn)
		if r := pc.Recovered(); r != nil {
			e.log.Error("delivery goroutine panicked",
				zap.String("stage", what),
				zap.Any("panic", r.Value),
				zap.ByteString("stack", r.Stack),
			)
		}
	})
}

func (e *Engine) fanOut(eventType string, payload model.EventPayload) {
	subs, err := e.registry.ListActive(e.ctx)
	if err != nil {
		e.log.Error("list subscriptions", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	var targets []model.Subscription
	for _, s := range subs {
		if s.Wants(eventType) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		e.log.Debug("no subscribers", zap.String("event_type", eventType))
		return
	}

	raw, err := encodeBody(payload, e.now())
	if err != nil {
		e.log.Error("encode delivery body", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	for _, sub := range targets {
		sub := sub // per-iteration copy; module targets go 1.21 loop semantics
		e.spawn("deliver", func() { e.deliver(sub, eventType, raw) })
	}
}

type verdict int

const (
	verdictDelivered verdict = iota
	verdictRetry
	verdictFailed
)

func (v verdict) String() string {
	switch v {
	case verdictDelivered:
		return "delivered"
	case verdictRetry:
		return "retry"
	default:
		return "failed"
	}
}

// classify maps an attempt result to the retry policy: 2xx succeeds, 429 and
// 5xx retry, every other status is terminal. status 0 is a transport failure.
func classify(status int) verdict {
	switch {
	case status == 0:
		return verdictRetry
	case status >= 200 && status < 300:
		return verdictDelivered
	case status == http.StatusTooManyRequests, status >= 500:
		return verdictRetry
	default:
		return verdictFailed
	}
}

func (e *Engine) deliver(sub model.Subscription, eventType string, raw []byte) {
	deliveryID := util.NewID()
	br := e.breakers.get(sub.ID)
	log := e.log.With(
		zap.Int64("subscription_id", sub.ID),
		zap.String("event_type", eventType),
		zap.String("delivery_id", deliveryID),
	)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := e.admit(br); err != nil {
			log.Info("delivery abandoned while circuit open", zap.Int("attempt", attempt), zap.Error(err))
			return
		}
		rec := e.attempt(sub, eventType, deliveryID, attempt, raw, br)

		if err := e.record(rec); err != nil {
			log.Error("append delivery attempt", zap.Int("attempt", attempt), zap.Error(err))
		}

		v := verdictRetry
		if rec.ResponseStatus != nil {
			v = classify(*rec.ResponseStatus)
		}
		if v == verdictRetry && attempt == e.cfg.MaxAttempts {
			v = verdictFailed
		}

		metrics.DeliveryAttemptsTotal.WithLabelValues(eventType, v.String()).Inc()

		switch v {
		case verdictDelivered:
			log.Debug("delivered", zap.Int("attempt", attempt))
			return
		case verdictFailed:
			log.Warn("delivery failed", zap.Int("attempt", attempt), zap.Stringp("error", rec.Error))
			return
		}

		if err := e.sleep(e.ctx, e.backoff(attempt)); err != nil {
			log.Info("delivery abandoned", zap.Int("attempt", attempt), zap.Error(err))
			return
		}
	}
}

// backoff is the wait after failed attempt n (1-based). Attempts past the
// configured schedule reuse its last entry.
func (e *Engine) backoff(n int) time.Duration {
	i := n - 1
	if i >= len(e.cfg.Backoff) {
		i = len(e.cfg.Backoff) - 1
	}
	return e.cfg.Backoff[i]
}

// admit holds the next attempt while br is open. The hold is bounded by
// Breaker.MaxWait, after which the attempt goes out regardless.
func (e *Engine) admit(br *breaker) error {
	if br == nil {
		return nil
	}
	deadline := e.now().Add(e.cfg.Breaker.MaxWait)
	for {
		wait, ok := br.TryAcquire()
		if ok {
			return nil
		}
		left := deadline.Sub(e.now())
		if left <= 0 {
			return nil
		}
		if wait > left {
			wait = left
		}
		metrics.DeliveryBreakerHolds.Inc()
		if err := e.sleep(e.ctx, wait); err != nil {
			return err
		}
	}
}

func (e *Engine) attempt(sub model.Subscription, eventType, deliveryID string, n int, raw []byte, br *breaker) model.DeliveryAttempt {
	rec := model.DeliveryAttempt{
		ID:             util.NewID(),
		DeliveryID:     deliveryID,
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Payload:        raw,
		AttemptNumber:  n,
	}

	start := e.now()
	status, respBody, err := e.post(sub, eventType, deliveryID, raw)
	elapsed := e.now().Sub(start)

	rec.DurationMs = elapsed.Milliseconds()
	rec.CreatedAt = e.now().UTC()
	metrics.DeliveryLatency.WithLabelValues(eventType).Observe(elapsed.Seconds())

	if err != nil {
		rec.Error = strptr(err.Error())
		if br != nil {
			br.OnFailure()
		}
		return rec
	}

	rec.ResponseStatus = &status
	rec.ResponseBody = &respBody

	switch classify(status) {
	case verdictDelivered:
		at := rec.CreatedAt
		rec.DeliveredAt = &at
		if br != nil {
			br.OnSuccess()
		}
	case verdictRetry:
		rec.Error = strptr(fmt.Sprintf("http %d", status))
		if br != nil {
			br.OnFailure()
		}
	default:
		rec.Error = strptr(fmt.Sprintf("http %d", status))
		// the endpoint answered; a terminal client error says nothing about availability
		if br != nil {
			br.OnSuccess()
		}
	}
	return rec
}

func (e *Engine) post(sub model.Subscription, eventType, deliveryID string, raw []byte) (int, string, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(raw))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, eventType)
	req.Header.Set(HeaderDeliveryID, deliveryID)
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	if sub.Secret != nil && *sub.Secret != "" {
		req.Header.Set(HeaderSignature, signature.Header(*sub.Secret, raw))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.cfg.ResponseBodyLimit)))
	if err != nil {
		// status is known; a short read only loses the excerpt
		e.log.Debug("read response body", zap.Int64("subscription_id", sub.ID), zap.Error(err))
	}
	return resp.StatusCode, strings.ToValidUTF8(string(b), ""), nil
}

func (e *Engine) record(a model.DeliveryAttempt) error {
	// the last attempt is still written while the engine shuts down
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), auditTimeout)
	defer cancel()
	return e.audit.Append(ctx, a)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func strptr(s string) *string { return &s }
