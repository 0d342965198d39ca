// Package handlers exposes the HTTP surface: booking creation, the payment
// lifecycle, coverage queries and offers, reconciliation, and the admin
// cleanup trigger.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hangtight/bookingd/internal/assign"
	"github.com/hangtight/bookingd/internal/cleanup"
	"github.com/hangtight/bookingd/internal/coverage"
	"github.com/hangtight/bookingd/internal/geo"
	"github.com/hangtight/bookingd/internal/notify"
	"github.com/hangtight/bookingd/internal/outbox"
	"github.com/hangtight/bookingd/internal/payments"
	"github.com/hangtight/bookingd/internal/reconcile"
	"github.com/hangtight/bookingd/internal/storage"
)

type Handler struct {
	repo         *storage.Repository
	coverageRepo *coverage.Repository
	geoResolver  *geo.Resolver
	assigner     *assign.Assigner
	lifecycle    *payments.Lifecycle
	coordinator  *reconcile.Coordinator
	outboxRepo   *outbox.Repository
	notifier     *notify.Notifier
	sweepers     []*cleanup.Sweeper
	logger       *slog.Logger

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

func New(
	repo *storage.Repository,
	coverageRepo *coverage.Repository,
	geoResolver *geo.Resolver,
	assigner *assign.Assigner,
	lifecycle *payments.Lifecycle,
	coordinator *reconcile.Coordinator,
	outboxRepo *outbox.Repository,
	notifier *notify.Notifier,
	sweepers []*cleanup.Sweeper,
	logger *slog.Logger,
	cfg Config,
) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 5 * time.Minute
	}
	return &Handler{
		repo:                   repo,
		coverageRepo:           coverageRepo,
		geoResolver:            geoResolver,
		assigner:               assigner,
		lifecycle:              lifecycle,
		coordinator:            coordinator,
		outboxRepo:             outboxRepo,
		notifier:               notifier,
		sweepers:               sweepers,
		logger:                 logger,
		stripeWebhookSecret:    cfg.StripeWebhookSecret,
		stripeWebhookTolerance: cfg.StripeWebhookTolerance,
	}
}

// Register mounts every route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/bookings", h.Bookings)
	mux.HandleFunc("/api/v1/payments/authorize", h.AuthorizePayment)
	mux.HandleFunc("/api/v1/payments/capture", h.CapturePayment)
	mux.HandleFunc("/api/v1/payments/cancel", h.CancelPayment)
	mux.HandleFunc("/api/v1/payments/reconcile", h.ReconcilePayment)
	mux.HandleFunc("/api/v1/coverage/query", h.CoverageQuery)
	mux.HandleFunc("/api/v1/coverage/offers/accept", h.AcceptOffer)
	mux.HandleFunc("/api/v1/coverage/offers/decline", h.DeclineOffer)
	mux.HandleFunc("/api/v1/admin/cleanup", h.TriggerCleanup)
	mux.HandleFunc("/api/v1/webhooks/stripe", h.StripeWebhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
