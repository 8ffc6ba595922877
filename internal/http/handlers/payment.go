package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"stickerpack/internal/domain"
	"stickerpack/internal/payment"
)

const maxWebhookBytes = 1 << 20

type checkoutRequest struct {
	JobID string `json:"jobId"`
}

// Checkout opens a payment session for a job. Paid jobs short-circuit to
// their generation page.
func (a *App) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeBody(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid payload")
		return
	}
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "Job ID is required")
		return
	}
	ctx := r.Context()
	job, err := a.Jobs.GetByID(ctx, jobID)
	if err != nil {
		a.fail(w, r, err, "Failed to load job")
		return
	}

	existing, err := a.Orders.GetByJob(ctx, job.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.fail(w, r, err, "Failed to load order")
		return
	}
	if existing.Paid() {
		a.json(w, http.StatusOK, map[string]any{"success": true, "url": "/generate/" + job.ID})
		return
	}

	pack, ok := a.catalog().PackForStyle(job.StyleKey)
	if !ok {
		pack = a.catalog().DefaultPack()
	}
	if a.Payments == nil {
		a.fail(w, r, fmt.Errorf("checkout client missing: %w", domain.ErrNotConfigured), "Payments are not configured")
		return
	}
	session, err := a.Payments.CreateCheckout(ctx, payment.CheckoutRequest{
		JobID:       job.ID,
		PackName:    pack.Name,
		AmountCents: pack.PriceCents,
	})
	if err != nil {
		a.fail(w, r, err, "Failed to create checkout")
		return
	}
	if _, err := a.Orders.UpsertPending(ctx, &domain.Order{JobID: job.ID, AmountCents: pack.PriceCents, Currency: "USD"}); err != nil {
		a.fail(w, r, err, "Failed to record order")
		return
	}

	a.logger().Info().Str("job_id", job.ID).Str("checkout_id", session.ID).Str("pack_id", pack.ID).Msg("checkout: session created")
	a.json(w, http.StatusOK, map[string]any{"success": true, "checkoutUrl": session.URL})
}

// PaymentWebhook authenticates a provider callback and marks the job's order
// paid. It never generates; paid jobs are kicked to workers when a queue is
// configured and otherwise advance on status polls.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "Failed to read body")
		return
	}
	verifier := a.Verifier
	if verifier == nil {
		verifier = payment.NewVerifier("")
	}
	if err := verifier.Verify(body, r.Header.Get(payment.SignatureHeader)); err != nil {
		a.logger().Warn().Err(err).Msg("webhook: signature rejected")
		a.error(w, http.StatusUnauthorized, "invalid_signature", "Invalid signature")
		return
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		a.logger().Warn().Err(err).Str("event", event.Name).Msg("webhook: malformed payload")
		a.error(w, http.StatusBadRequest, "bad_request", "Malformed webhook")
		return
	}
	log := a.logger().With().Str("event", event.Name).Str("job_id", event.JobID).Logger()
	if !event.OrderCreated() {
		log.Info().Msg("webhook: event ignored")
		a.json(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	ctx := r.Context()
	if _, err := a.Jobs.GetByID(ctx, event.JobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("webhook: order for unknown job")
		}
		a.fail(w, r, err, "Failed to load job")
		return
	}
	order, err := a.Orders.MarkPaid(ctx, event.JobID, event.ProviderOrderID, event.AmountCents, event.Currency)
	if err != nil {
		a.fail(w, r, err, "Failed to record payment")
		return
	}
	log.Info().Str("order_id", order.ID).Str("provider_order_id", event.ProviderOrderID).Msg("webhook: order paid")

	if a.Kicks != nil {
		if err := a.Kicks.Publish(ctx, event.JobID); err != nil {
			log.Warn().Err(err).Msg("webhook: kick not published")
		}
	}
	a.json(w, http.StatusOK, map[string]any{"received": true})
}
