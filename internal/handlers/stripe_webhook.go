package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/hangtight/bookingd/internal/storage"
)

// StripeWebhook handles Stripe payment-intent events (no JWT auth; the
// signature verification is the auth). Events carry the booking id in intent
// metadata and feed the same reconciliation mapping the poll path uses, so
// webhook and poll converge on identical state.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("stripe event received",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	// Idempotency: ignore replayed deliveries.
	if err := h.repo.InsertProviderEvent(r.Context(), evt.ID, evtType, body); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("stripe event duplicate ignored", "provider_event_id", evt.ID)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.canceled",
		"payment_intent.amount_capturable_updated",
		"payment_intent.processing":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		bookingID := strings.TrimSpace(intent.Metadata["booking_id"])
		if bookingID == "" {
			h.logger.Warn("stripe: payment intent without booking_id metadata", "intent_id", intent.ID)
			break
		}
		result, err := h.coordinator.Reconcile(r.Context(), bookingID, intent.ID)
		if err != nil {
			// 200 regardless: Stripe retries on 5xx and the periodic sweep
			// covers whatever this delivery could not fix.
			h.logger.Error("webhook reconcile failed", "booking_id", bookingID, "intent_id", intent.ID, "err", err)
			break
		}
		if !result.Consistent {
			h.logger.Info("webhook reconciled drift",
				"booking_id", bookingID,
				"fixes", strings.Join(result.FixesApplied, ", "),
			)
			h.publishPaymentChanged(r, bookingID, 0)
		}
	default:
		h.logger.Info("stripe event ignored", "event_type", evtType)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
