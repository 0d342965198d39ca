package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hangtight/bookingd/internal/model"
	"github.com/hangtight/bookingd/internal/outbox"
	"github.com/hangtight/bookingd/internal/payments"
	"github.com/hangtight/bookingd/internal/reconcile"
	"github.com/hangtight/bookingd/internal/storage"
)

type authorizeRequest struct {
	BookingID     string `json:"booking_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

type authorizeResponse struct {
	Success         bool   `json:"success"`
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	TransactionID   string `json:"transaction_id"`
}

func (h *Handler) AuthorizePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	res, err := h.lifecycle.Authorize(r.Context(), strings.TrimSpace(req.BookingID), req.AmountCents, req.Currency, req.PaymentMethod)
	if err != nil {
		h.writePaymentError(w, r, "authorize", req.BookingID, err)
		return
	}
	h.publishPaymentChanged(r, req.BookingID, req.AmountCents)
	writeJSON(w, http.StatusOK, authorizeResponse{
		Success:         true,
		PaymentIntentID: res.PaymentIntentID,
		ClientSecret:    res.ClientSecret,
		TransactionID:   res.TransactionID,
	})
}

type captureRequest struct {
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
}

type captureResponse struct {
	Success bool `json:"success"`
	// AmountCaptured is in cents, like every amount on this API.
	AmountCaptured int64 `json:"amount_captured"`
	NoOp           bool  `json:"no_op,omitempty"`
}

func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	res, err := h.lifecycle.Capture(r.Context(), strings.TrimSpace(req.BookingID), req.AmountCents)
	if err != nil {
		h.writePaymentError(w, r, "capture", req.BookingID, err)
		return
	}
	h.publishPaymentChanged(r, req.BookingID, res.AmountCapturedCents)
	writeJSON(w, http.StatusOK, captureResponse{
		Success:        true,
		AmountCaptured: res.AmountCapturedCents,
		NoOp:           res.NoOp,
	})
}

type cancelRequest struct {
	BookingID string `json:"booking_id"`
}

type cancelResponse struct {
	Success  bool `json:"success"`
	Refunded bool `json:"refunded"`
	NoOp     bool `json:"no_op,omitempty"`
}

func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	res, err := h.lifecycle.CancelAuthorization(r.Context(), strings.TrimSpace(req.BookingID))
	if err != nil {
		h.writePaymentError(w, r, "cancel", req.BookingID, err)
		return
	}
	h.publishPaymentChanged(r, req.BookingID, 0)
	writeJSON(w, http.StatusOK, cancelResponse{Success: true, Refunded: res.Refunded, NoOp: res.NoOp})
}

type reconcileRequest struct {
	BookingID       string `json:"booking_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	bookingID := strings.TrimSpace(req.BookingID)

	result, err := h.coordinator.Reconcile(r.Context(), bookingID, strings.TrimSpace(req.PaymentIntentID))
	if err != nil {
		h.writePaymentError(w, r, "reconcile", bookingID, err)
		return
	}

	// Integrity repair piggybacks on the consistency check: a booking that
	// lost its line items gets one back, and a missing customer email is
	// flagged for manual follow-up.
	if repaired, err := h.repo.EnsureLineItems(r.Context(), bookingID); err != nil {
		h.logger.Warn("line item repair failed", "booking_id", bookingID, "err", err)
	} else if repaired {
		h.logger.Info("line item synthesized during reconcile", "booking_id", bookingID)
	}
	if b, err := h.repo.GetBooking(r.Context(), bookingID); err == nil && b.CustomerEmail == "" {
		_ = h.notifier.AdminAlert(r.Context(), "booking missing customer email",
			"booking "+bookingID+" has no customer email; payment notifications cannot be delivered")
	}

	if !result.Consistent {
		h.publishPaymentChanged(r, bookingID, 0)
	}
	writeJSON(w, http.StatusOK, result)
}

// writePaymentError maps lifecycle errors onto HTTP statuses, always in the
// {success:false, error} envelope. A timeout is 202: the operation may still
// land and reconciliation will converge it.
func (h *Handler) writePaymentError(w http.ResponseWriter, r *http.Request, op, bookingID string, err error) {
	fail := func(code int, msg string) {
		writeJSON(w, code, map[string]any{"success": false, "error": msg})
	}
	var conflict *payments.StateConflictError
	switch {
	case errors.Is(err, payments.ErrStillProcessing):
		h.logger.Warn("payment call exceeded budget", "op", op, "booking_id", bookingID)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": false,
			"status":  "processing",
			"message": payments.ErrStillProcessing.Error(),
		})
	case errors.Is(err, payments.ErrInvalidAmount), errors.Is(err, model.ErrInvalidBookingID):
		fail(http.StatusBadRequest, err.Error())
	case errors.Is(err, payments.ErrNoPaymentIntent), errors.Is(err, reconcile.ErrNoPaymentIntent):
		fail(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, reconcile.ErrUnknownExternalState):
		fail(http.StatusBadGateway, err.Error())
	case errors.As(err, &conflict):
		fail(http.StatusConflict, conflict.Error())
	case storage.IsNotFound(err):
		fail(http.StatusNotFound, "booking not found")
	default:
		h.logger.Error("payment operation failed", "op", op, "booking_id", bookingID, "err", err)
		fail(http.StatusInternalServerError, "payment operation failed")
	}
}

func (h *Handler) publishPaymentChanged(r *http.Request, bookingID string, amountCents int64) {
	b, err := h.repo.GetBooking(r.Context(), bookingID)
	if err != nil {
		return
	}
	if err := h.outboxRepo.InsertStandalone(r.Context(), outbox.PaymentChanged(b, amountCents)); err != nil {
		h.logger.Warn("payment event not written", "booking_id", bookingID, "err", err)
	}
}
