package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	kafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hangtight/bookingd/libs/config"
	"github.com/hangtight/bookingd/libs/db"
	"github.com/hangtight/bookingd/libs/httpx"
	"github.com/hangtight/bookingd/libs/kafkax"
	otelx "github.com/hangtight/bookingd/libs/otel"
	"github.com/hangtight/bookingd/libs/runtime"

	"github.com/hangtight/bookingd/internal/assign"
	"github.com/hangtight/bookingd/internal/cleanup"
	"github.com/hangtight/bookingd/internal/coverage"
	"github.com/hangtight/bookingd/internal/feed"
	"github.com/hangtight/bookingd/internal/geo"
	"github.com/hangtight/bookingd/internal/handlers"
	"github.com/hangtight/bookingd/internal/model"
	"github.com/hangtight/bookingd/internal/notify"
	"github.com/hangtight/bookingd/internal/outbox"
	"github.com/hangtight/bookingd/internal/payments"
	"github.com/hangtight/bookingd/internal/reconcile"
	"github.com/hangtight/bookingd/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "bookingd")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	coverageRepo := coverage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	geoStore := geo.NewFileStore(config.String("ZCTA_GEOJSON_PATH", "data/zcta.geojson"))
	geoResolver := geo.NewResolver(geoStore)

	emailSender := notify.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", ""),
	)
	var smsSender notify.SMSSender
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		smsSender = notify.NewWebhookSMSSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	} else {
		smsSender = notify.NewNoopSMSSender()
	}
	notifier := notify.NewNotifier(emailSender, smsSender, config.String("ADMIN_ALERT_EMAIL", ""), logger)

	stripeClient := payments.NewStripeClient(config.String("STRIPE_SECRET_KEY", ""))
	lifecycle := payments.NewLifecycle(stripeClient, repo, notifier, logger)
	coordinator := reconcile.NewCoordinator(stripeClient, repo, logger)

	candidateCache := coverage.NewCachedCandidates(coverageRepo, time.Minute)
	assigner := assign.NewAssigner(candidateCache, repo, coverageRepo, logger)

	sweepStore := &cleanupStore{Repository: repo, offers: coverageRepo}
	canceller := &holdCanceller{lifecycle: lifecycle}
	abandonedSweep := cleanup.NewSweeper(sweepStore, canceller, logger, cleanup.SweeperConfig{
		Name:     "abandoned",
		MaxAge:   cleanup.AbandonedAfter,
		Statuses: []model.BookingStatus{model.BookingPending},
		Interval: 10 * time.Minute,
	})
	janitorSweep := cleanup.NewSweeper(sweepStore, canceller, logger, cleanup.SweeperConfig{
		Name:     "payment-pending",
		MaxAge:   cleanup.PaymentPendingAfter,
		Statuses: []model.BookingStatus{model.BookingPending, model.BookingPaymentPending},
		Interval: 30 * time.Minute,
	})
	go abandonedSweep.Run(ctx)
	go janitorSweep.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reconcileSweeper := reconcile.NewSweeper(pool, coordinator, repo, logger, reconcile.SweeperConfig{
		Interval:        durationSeconds("RECONCILE_INTERVAL_SECONDS", 300),
		BatchSize:       intEnv("RECONCILE_BATCH_SIZE", 50),
		AdvisoryLockKey: int64Env("RECONCILE_LOCK_KEY", 7731002),
	})
	go reconcileSweeper.Run(ctx)

	feedManager := feed.NewManager(brokers, logger)
	feedManager.Subscribe(feed.Subscription{
		Topic:   outbox.TopicCoverageOffer,
		GroupID: service + "-feed",
		Handler: offerDispatcher(smsSender, config.String("WORKER_DISPATCH_SMS", ""), logger),
	})
	go feedManager.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	h := handlers.New(repo, coverageRepo, geoResolver, assigner, lifecycle, coordinator, outboxRepo, notifier,
		[]*cleanup.Sweeper{abandonedSweep, janitorSweep}, logger, handlers.Config{
			StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
			StripeWebhookTolerance: durationSeconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		})
	h.Register(mux)

	var rateLimitMW httpx.Middleware
	limitPerMinute := intEnv("RATE_LIMIT_PER_MINUTE", 120)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       intEnv("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	// The booking UI is a browser app on another origin; preflights must be
	// answered before rate limiting sees them.
	corsMW := httpx.WithCORS(httpx.CORSPolicy{
		AllowedOrigins: splitList(config.String("CORS_ALLOWED_ORIGINS", "")),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Request-Id"},
		MaxAge:         10 * time.Minute,
	})

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		corsMW,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(durationSeconds("REQUEST_TIMEOUT_SECONDS", 30)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// cleanupStore joins the booking repository with the coverage offers so the
// sweep can expire both from one surface.
type cleanupStore struct {
	*storage.Repository
	offers *coverage.Repository
}

func (s *cleanupStore) ExpireStaleOffers(ctx context.Context, cutoff time.Time) (int, error) {
	return s.offers.ExpireStaleOffers(ctx, cutoff)
}

// holdCanceller adapts the payment lifecycle's external-only hold release
// for the cleanup sweep. A full CancelAuthorization would write the booking
// cancelled before the sweep's conditional expiry update could match it.
type holdCanceller struct {
	lifecycle *payments.Lifecycle
}

func (c *holdCanceller) ReleaseHold(ctx context.Context, bookingID string) (bool, error) {
	return c.lifecycle.ReleaseHold(ctx, bookingID)
}

// offerDispatcher pushes a dispatch SMS for each coverage-offer event so
// on-call workers hear about open bookings without polling.
func offerDispatcher(sms notify.SMSSender, dispatchPhone string, logger *slog.Logger) feed.Handler {
	return func(ctx context.Context, msgs []kafka.Message) error {
		if dispatchPhone == "" {
			return nil
		}
		for _, msg := range msgs {
			var evt struct {
				BookingID string `json:"booking_id"`
				Zip       string `json:"zip"`
				Offers    int    `json:"offers"`
			}
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				logger.Warn("coverage offer event undecodable", "err", err)
				continue
			}
			body := "New booking in " + evt.Zip + " needs coverage (" + strconv.Itoa(evt.Offers) + " offers out)."
			if err := sms.Send(ctx, dispatchPhone, body); err != nil {
				logger.Warn("dispatch sms failed", "booking_id", evt.BookingID, "err", err)
			}
		}
		return nil
	}
}

func durationSeconds(key string, fallback int) time.Duration {
	return time.Duration(intEnv(key, fallback)) * time.Second
}

func intEnv(key string, fallback int) int {
	if v, err := strconv.Atoi(config.String(key, "")); err == nil {
		return v
	}
	return fallback
}

func int64Env(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(config.String(key, ""), 10, 64); err == nil {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
