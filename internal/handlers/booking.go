package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hangtight/bookingd/internal/geo"
	"github.com/hangtight/bookingd/internal/model"
	"github.com/hangtight/bookingd/internal/outbox"
	"github.com/hangtight/bookingd/internal/storage"
)

type createBookingRequest struct {
	CustomerID      string `json:"customer_id"`
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
	CustomerPhone   string `json:"customer_phone"`
	ServiceID       string `json:"service_id"`
	Address         string `json:"address"`
	Zip             string `json:"zip"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	AmountCents     int64  `json:"amount_cents"`
}

type createBookingResponse struct {
	BookingID       string   `json:"booking_id"`
	Status          string   `json:"status"`
	AssignedWorkers []string `json:"assigned_workers"`
	OffersSent      int      `json:"offers_sent,omitempty"`
	Message         string   `json:"message,omitempty"`
}

func (h *Handler) Bookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createBooking(w, r)
	case http.MethodGet:
		h.getBooking(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Address = strings.TrimSpace(req.Address)
	req.Zip = strings.TrimSpace(req.Zip)

	if req.CustomerName == "" || req.ServiceID == "" || req.Address == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	if !geo.ValidZip(req.Zip) {
		http.Error(w, "invalid zip", http.StatusBadRequest)
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}

	booking := &model.Booking{
		CustomerID:      strings.TrimSpace(req.CustomerID),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		ServiceID:       req.ServiceID,
		Address:         req.Address,
		Zip:             req.Zip,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Status:          model.BookingPending,
		PaymentStatus:   model.PaymentPending,
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Guests are keyed by email so a retry without an account still hits
	// the same idempotency row.
	customerKey := booking.CustomerID
	if customerKey == "" {
		customerKey = strings.ToLower(booking.CustomerEmail)
	}
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && customerKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, customerKey, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.BookingID != "" && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			if len(rec.ResponsePayload) > 0 {
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			_ = json.NewEncoder(w).Encode(createBookingResponse{BookingID: rec.BookingID})
			return
		}
	}

	id, err := h.repo.CreateBooking(ctx, tx, booking)
	if err != nil {
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}
	booking.ID = id

	if err := h.repo.InsertLineItem(ctx, tx, storage.LineItem{
		BookingID:   id,
		ServiceID:   booking.ServiceID,
		Name:        "service " + booking.ServiceID,
		AmountCents: req.AmountCents,
	}); err != nil {
		http.Error(w, "failed to record line item", http.StatusInternalServerError)
		return
	}

	if err := h.outboxRepo.Insert(ctx, tx, outbox.BookingChanged(*booking)); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	// The stored replay response carries only the booking id and status;
	// assignment happens after commit and replays can GET the booking for
	// the rest. Finalizing here keeps creation exactly-once under retries.
	if idempotencyKey != "" && customerKey != "" {
		replay, _ := json.Marshal(createBookingResponse{BookingID: id, Status: string(booking.Status)})
		if err := h.repo.FinalizeIdempotency(ctx, tx, customerKey, idempotencyKey, id, http.StatusCreated, replay); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	// Assignment runs after commit: it uses conditional writes of its own
	// and a failure here must not lose the booking.
	assignRes, err := h.assigner.Assign(ctx, *booking)
	if err != nil {
		h.logger.Error("worker assignment failed", "booking_id", id, "err", err)
		assignRes.AssignedWorkers = []string{}
		assignRes.Message = "assignment pending"
	}
	if assignRes.OffersSent > 0 {
		if err := h.outboxRepo.InsertStandalone(ctx, outbox.CoverageOffered(*booking, assignRes.OffersSent)); err != nil {
			h.logger.Warn("coverage offer event not written", "booking_id", id, "err", err)
		}
	}

	writeJSON(w, http.StatusCreated, createBookingResponse{
		BookingID:       id,
		Status:          string(booking.Status),
		AssignedWorkers: assignRes.AssignedWorkers,
		OffersSent:      assignRes.OffersSent,
		Message:         assignRes.Message,
	})
}

type bookingResponse struct {
	BookingID     string `json:"booking_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	WorkerID      string `json:"worker_id,omitempty"`
	Zip           string `json:"zip"`
	ScheduledAt   string `json:"scheduled_at"`
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if err := model.ValidateBookingID(id); err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	b, err := h.repo.GetBooking(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{
		BookingID:     b.ID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		WorkerID:      b.WorkerID,
		Zip:           b.Zip,
		ScheduledAt:   b.ScheduledAt.Format(time.RFC3339),
	})
}
