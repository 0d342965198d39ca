package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type scriptedReader struct {
	msgs []kafka.Message
	// after the script runs out, ReadMessage blocks until ctx is done and
	// then returns errDone.
}

var errDone = errors.New("reader closed")

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, errDone
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func testManager() *Manager {
	return &Manager{logger: slog.New(slog.DiscardHandler)}
}

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Topic: "booking.changed.v1", Value: []byte{byte(i)}}
	}
	return out
}

func TestReadLoop_BatchesWithinFlushWindow(t *testing.T) {
	var batches [][]kafka.Message
	sub := Subscription{
		Topic:       "booking.changed.v1",
		FlushWindow: 50 * time.Millisecond,
		MaxBatch:    64,
		Handler: func(ctx context.Context, msgs []kafka.Message) error {
			batches = append(batches, msgs)
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := testManager().readLoop(ctx, &scriptedReader{msgs: messages(5)}, sub)
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errDone) {
		t.Fatalf("readLoop err = %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1 (rapid-fire events should coalesce)", len(batches))
	}
	if len(batches[0]) != 5 {
		t.Fatalf("batch size = %d, want 5", len(batches[0]))
	}
}

func TestReadLoop_MaxBatchForcesDispatch(t *testing.T) {
	var batches [][]kafka.Message
	sub := Subscription{
		Topic:       "booking.changed.v1",
		FlushWindow: time.Minute,
		MaxBatch:    3,
		Handler: func(ctx context.Context, msgs []kafka.Message) error {
			batches = append(batches, msgs)
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_ = testManager().readLoop(ctx, &scriptedReader{msgs: messages(7)}, sub)

	// 7 messages with cap 3: two full batches, the remainder flushed on
	// shutdown.
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[0]) != 3 || len(batches[1]) != 3 || len(batches[2]) != 1 {
		t.Fatalf("batch sizes = %d/%d/%d, want 3/3/1", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestReadLoop_FlushesPendingOnReaderError(t *testing.T) {
	var got []kafka.Message
	sub := Subscription{
		Topic:       "booking.changed.v1",
		FlushWindow: time.Minute,
		MaxBatch:    64,
		Handler: func(ctx context.Context, msgs []kafka.Message) error {
			got = append(got, msgs...)
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_ = testManager().readLoop(ctx, &scriptedReader{msgs: messages(2)}, sub)
	if len(got) != 2 {
		t.Fatalf("flushed %d messages, want 2", len(got))
	}
}

func TestReadLoop_HandlerErrorDoesNotStopLoop(t *testing.T) {
	calls := 0
	sub := Subscription{
		Topic:       "booking.changed.v1",
		FlushWindow: 20 * time.Millisecond,
		MaxBatch:    1,
		Handler: func(ctx context.Context, msgs []kafka.Message) error {
			calls++
			return io.ErrUnexpectedEOF
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_ = testManager().readLoop(ctx, &scriptedReader{msgs: messages(3)}, sub)
	if calls != 3 {
		t.Fatalf("handler calls = %d, want 3", calls)
	}
}
