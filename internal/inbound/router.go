// Package inbound receives provider webhooks: it verifies them, writes one log
// row per request and hands trusted events to the provider's handler.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/util"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrPayloadTooLarge  = errors.New("payload too large")
)

type Verifier interface {
	Verify(p model.Provider, rawBody []byte, headers http.Header) bool
}

// Event is what a provider handler sees. Payload is nil when the body is
// valid JSON but not an object.
type Event struct {
	Provider model.Provider
	Type     string
	ID       string
	Payload  map[string]any
	Headers  http.Header
}

type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// Handlers holds the per-provider handlers. A nil entry means the provider's
// events are logged but never processed.
type Handlers struct {
	Stripe Handler
	GitHub Handler
}

// Outcome summarizes a handled request for the HTTP layer.
type Outcome struct {
	LogID          string
	EventType      string
	SignatureValid bool
	Processed      bool
	Error          string
}

type Router struct {
	verifier Verifier
	logs     repository.InboundLogsRepository
	handlers Handlers
	log      *zap.Logger
	now      func() time.Time
}

func NewRouter(v Verifier, logs repository.InboundLogsRepository, handlers Handlers, log *zap.Logger) *Router {
	return &Router{
		verifier: v,
		logs:     logs,
		handlers: handlers,
		log:      logger.OrNop(log),
		now:      time.Now,
	}
}

func (r *Router) handlerFor(p model.Provider) Handler {
	switch p {
	case model.ProviderStripe:
		return r.handlers.Stripe
	case model.ProviderGitHub:
		return r.handlers.GitHub
	default:
		return nil
	}
}

// Handle processes one inbound request. It returns ErrMalformedPayload when
// the body is not JSON, and a wrapped storage error when the log row could
// not be written. Handler failures are recorded, never returned.
func (r *Router) Handle(ctx context.Context, p model.Provider, rawBody []byte, headers http.Header) (Outcome, error) {
	if !p.Valid() {
		return Outcome{}, model.ErrUnknownProvider
	}

	entry := model.InboundWebhookLog{
		ID:             util.NewID(),
		Provider:       p,
		Headers:        captureHeaders(headers),
		SignatureValid: r.verifier.Verify(p, rawBody, headers),
		CreatedAt:      r.now().UTC(),
	}

	var doc any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		entry.Error = optional(fmt.Sprintf("%s: %v", ErrMalformedPayload, err))
		out, insErr := r.persist(ctx, entry, "malformed")
		if insErr != nil {
			return out, insErr
		}
		return out, ErrMalformedPayload
	}
	entry.Payload = json.RawMessage(rawBody)

	obj, _ := doc.(map[string]any)
	ev := Event{
		Provider: p,
		Type:     eventType(p, obj, headers),
		ID:       externalID(p, obj, headers),
		Payload:  obj,
		Headers:  headers,
	}
	entry.EventType = optional(ev.Type)
	entry.ExternalID = optional(ev.ID)

	outcome := "unprocessed"
	h := r.handlerFor(p)
	switch {
	case !entry.SignatureValid:
		outcome = "invalid_signature"
		r.log.Warn("inbound webhook signature invalid",
			zap.String("provider", p.String()),
			zap.String("event_type", ev.Type),
		)
	case h != nil:
		if err := safeHandle(ctx, h, ev); err != nil {
			outcome = "handler_error"
			entry.Error = optional(err.Error())
			r.log.Error("inbound handler failed",
				zap.String("provider", p.String()),
				zap.String("event_type", ev.Type),
				zap.Error(err),
			)
		} else {
			outcome = "processed"
			entry.Processed = true
		}
	}

	return r.persist(ctx, entry, outcome)
}

// Reject logs a request refused before its body was read. The row has no
// payload and an unverified signature; header-derived fields are still kept.
func (r *Router) Reject(ctx context.Context, p model.Provider, headers http.Header, reason error) (Outcome, error) {
	if !p.Valid() {
		return Outcome{}, model.ErrUnknownProvider
	}

	entry := model.InboundWebhookLog{
		ID:         util.NewID(),
		Provider:   p,
		EventType:  optional(eventType(p, nil, headers)),
		ExternalID: optional(externalID(p, nil, headers)),
		Headers:    captureHeaders(headers),
		Error:      optional(reason.Error()),
		CreatedAt:  r.now().UTC(),
	}
	r.log.Warn("inbound webhook rejected",
		zap.String("provider", p.String()),
		zap.Error(reason),
	)
	return r.persist(ctx, entry, "rejected")
}

func (r *Router) persist(ctx context.Context, entry model.InboundWebhookLog, outcome string) (Outcome, error) {
	out := Outcome{
		LogID:          entry.ID,
		SignatureValid: entry.SignatureValid,
		Processed:      entry.Processed,
	}
	if entry.EventType != nil {
		out.EventType = *entry.EventType
	}
	if entry.Error != nil {
		out.Error = *entry.Error
	}

	if err := r.logs.Insert(ctx, entry); err != nil {
		metrics.InboundTotal.WithLabelValues(entry.Provider.String(), "error").Inc()
		return out, fmt.Errorf("insert inbound log: %w", err)
	}
	metrics.InboundTotal.WithLabelValues(entry.Provider.String(), outcome).Inc()
	return out, nil
}

func safeHandle(ctx context.Context, h Handler, ev Event) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = h.Handle(ctx, ev) })
	if rec := pc.Recovered(); rec != nil {
		return fmt.Errorf("handler panic: %v", rec.Value)
	}
	return err
}
