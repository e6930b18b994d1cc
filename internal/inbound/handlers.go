package inbound

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
)

// Emitter hands business events to outbound delivery. It must not block.
type Emitter interface {
	DeliverToSubscribers(eventType string, payload model.EventPayload)
}

const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventGitPush              = "git.push"
	EventGitPullRequest       = "git.pull_request"
)

// StripeHandler applies payment events to invoices. The invoice is matched by
// the fm_invoice_id metadata key set when the checkout was created.
type StripeHandler struct {
	invoices repository.InvoicesRepository
	emit     Emitter
	log      *zap.Logger
	now      func() time.Time
}

func NewStripeHandler(invoices repository.InvoicesRepository, emit Emitter, log *zap.Logger) *StripeHandler {
	return &StripeHandler{invoices: invoices, emit: emit, log: logger.OrNop(log), now: time.Now}
}

var _ Handler = (*StripeHandler)(nil)

func (h *StripeHandler) Handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case "invoice.paid", "invoice.payment_succeeded", "checkout.session.completed":
		return h.apply(ctx, ev, EventInvoicePaid, h.invoices.MarkPaid)
	case "invoice.payment_failed":
		return h.apply(ctx, ev, EventInvoicePaymentFailed, h.invoices.MarkPaymentFailed)
	default:
		return nil
	}
}

func (h *StripeHandler) apply(ctx context.Context, ev Event, emitAs string, transition func(context.Context, string) (bool, error)) error {
	invoiceID := str(ev.Payload, "data", "object", "metadata", "fm_invoice_id")
	if invoiceID == "" {
		h.log.Debug("stripe event without invoice reference", zap.String("event_type", ev.Type), zap.String("event_id", ev.ID))
		return nil
	}

	changed, err := transition(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("%s invoice %s: %w", ev.Type, invoiceID, err)
	}
	if !changed {
		return nil
	}

	data := map[string]any{
		"invoiceId":     invoiceID,
		"source":        "stripe",
		"stripeEventId": ev.ID,
	}
	obj, _ := lookup(ev.Payload, "data", "object").(map[string]any)
	for _, k := range []string{"amount_paid", "amount_total", "amount_due", "currency"} {
		if v, ok := obj[k]; ok {
			data[k] = v
		}
	}

	h.emit.DeliverToSubscribers(emitAs, model.EventPayload{
		Timestamp: h.now().UTC(),
		EntityID:  invoiceID,
		Actor:     "stripe",
		Data:      data,
	})
	return nil
}

// GitHubHandler forwards repository activity to subscribers. It keeps no state.
type GitHubHandler struct {
	emit Emitter
	now  func() time.Time
}

func NewGitHubHandler(emit Emitter) *GitHubHandler {
	return &GitHubHandler{emit: emit, now: time.Now}
}

var _ Handler = (*GitHubHandler)(nil)

func (h *GitHubHandler) Handle(_ context.Context, ev Event) error {
	switch ev.Type {
	case "push":
		h.emit.DeliverToSubscribers(EventGitPush, h.payload(ev, map[string]any{
			"ref":    str(ev.Payload, "ref"),
			"before": str(ev.Payload, "before"),
			"after":  str(ev.Payload, "after"),
		}))
	case "pull_request":
		data := map[string]any{
			"action": str(ev.Payload, "action"),
			"title":  str(ev.Payload, "pull_request", "title"),
			"url":    str(ev.Payload, "pull_request", "html_url"),
		}
		if n, ok := lookup(ev.Payload, "number").(float64); ok {
			data["number"] = int64(n)
		}
		if merged, ok := lookup(ev.Payload, "pull_request", "merged").(bool); ok {
			data["merged"] = merged
		}
		h.emit.DeliverToSubscribers(EventGitPullRequest, h.payload(ev, data))
	}
	// ping and everything else: nothing to do
	return nil
}

func (h *GitHubHandler) payload(ev Event, data map[string]any) model.EventPayload {
	data["deliveryId"] = ev.ID
	return model.EventPayload{
		Timestamp: h.now().UTC(),
		EntityID:  str(ev.Payload, "repository", "full_name"),
		Actor:     str(ev.Payload, "sender", "login"),
		Data:      data,
	}
}
