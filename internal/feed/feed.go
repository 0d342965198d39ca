// Package feed consumes the change-feed topics. One manager owns every
// subscription; each subscription runs one reader, batches rapid-fire events
// into a short flush window, and reconnects with bounded backoff.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hangtight/bookingd/libs/kafkax"
)

// Handler receives a flushed batch. Batches are per topic and arrive in
// offset order; a handler error is logged, not retried, because the
// reconciliation sweep converges state independently of the feed.
type Handler func(ctx context.Context, msgs []kafka.Message) error

const (
	defaultFlushWindow  = 300 * time.Millisecond
	defaultMaxBatch     = 64
	maxReconnects       = 5
	reconnectBaseDelay  = time.Second
	reconnectDelayLimit = 30 * time.Second
)

type Subscription struct {
	Topic   string
	GroupID string
	Handler Handler

	// FlushWindow bounds how long an event waits for company before the
	// batch is dispatched. Zero means the default window.
	FlushWindow time.Duration
	MaxBatch    int
}

type Manager struct {
	brokers []string
	logger  *slog.Logger
	subs    []Subscription
}

func NewManager(brokers string, logger *slog.Logger) *Manager {
	return &Manager{brokers: kafkax.SplitBrokers(brokers), logger: logger}
}

func (m *Manager) Subscribe(sub Subscription) {
	if sub.FlushWindow <= 0 {
		sub.FlushWindow = defaultFlushWindow
	}
	if sub.MaxBatch <= 0 {
		sub.MaxBatch = defaultMaxBatch
	}
	m.subs = append(m.subs, sub)
}

// Run blocks until ctx is cancelled and every subscription has drained.
func (m *Manager) Run(ctx context.Context) {
	if len(m.brokers) == 0 {
		m.logger.Warn("change feed disabled (no kafka brokers configured)")
		return
	}

	var wg sync.WaitGroup
	for _, sub := range m.subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			m.consume(ctx, sub)
		}(sub)
	}
	wg.Wait()
}

func (m *Manager) consume(ctx context.Context, sub Subscription) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  m.brokers,
			GroupID:  sub.GroupID,
			Topic:    sub.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		err := m.readLoop(ctx, reader, sub)
		_ = reader.Close()
		if ctx.Err() != nil {
			return
		}

		attempts++
		if attempts > maxReconnects {
			m.logger.Error("change feed gave up reconnecting", "topic", sub.Topic, "attempts", attempts-1, "err", err)
			return
		}
		delay := reconnectBaseDelay << (attempts - 1)
		if delay > reconnectDelayLimit {
			delay = reconnectDelayLimit
		}
		m.logger.Warn("change feed reconnecting", "topic", sub.Topic, "attempt", attempts, "delay", delay.String(), "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// readLoop reads until an error. Messages accumulate until the flush window
// elapses or the batch cap is hit, then dispatch as one call.
func (m *Manager) readLoop(ctx context.Context, reader messageReader, sub Subscription) error {
	var batch []kafka.Message
	var flushAt <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		meta := kafkax.ExtractEventMeta(batch[0])
		msgCtx := kafkax.ExtractTraceContext(ctx, batch[0])
		spanCtx, span := otel.Tracer("feed").Start(msgCtx, "feed.dispatch",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", sub.Topic),
				attribute.String("messaging.message_id", meta.EventID),
				attribute.String("event.type", meta.EventType),
				attribute.Int("messaging.batch.message_count", len(batch)),
			),
		)
		if err := sub.Handler(spanCtx, batch); err != nil {
			m.logger.Error("feed handler error",
				"topic", sub.Topic, "event_id", meta.EventID, "event_type", meta.EventType, "batch", len(batch), "err", err)
			span.RecordError(err)
		}
		span.End()
		batch = nil
		flushAt = nil
	}

	msgs := make(chan kafka.Message)
	errs := make(chan error, 1)
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			msg, err := reader.ReadMessage(readCtx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- msg:
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case err := <-errs:
			flush()
			return err
		case msg := <-msgs:
			batch = append(batch, msg)
			if len(batch) >= sub.MaxBatch {
				flush()
				continue
			}
			if flushAt == nil {
				flushAt = time.After(sub.FlushWindow)
			}
		case <-flushAt:
			flush()
		}
	}
}
