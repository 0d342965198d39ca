package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stripe/stripe-go/v79"

	"github.com/hangtight/bookingd/internal/model"
)

const testBookingID = "7b6c1a9e-4d2f-4b8a-9c3d-5e6f7a8b9c0d"

type fakeClient struct {
	intent     Intent
	captureErr error
	cancels    int
	refunds    int
	increments int
}

func (c *fakeClient) Authorize(_ context.Context, p AuthorizeParams) (Intent, error) {
	c.intent = Intent{
		ID:                    "pi_test_1",
		Status:                "requires_capture",
		ClientSecret:          "pi_test_1_secret",
		AmountCents:           p.AmountCents,
		AmountCapturableCents: p.AmountCents,
	}
	return c.intent, nil
}

func (c *fakeClient) Capture(_ context.Context, _ string, amountCents int64) (Intent, error) {
	if c.captureErr != nil {
		return Intent{}, c.captureErr
	}
	c.intent.Status = "succeeded"
	if amountCents == 0 {
		amountCents = c.intent.AmountCapturableCents
	}
	c.intent.AmountReceivedCents = amountCents
	c.intent.AmountCapturableCents = 0
	return c.intent, nil
}

func (c *fakeClient) IncrementAuthorization(_ context.Context, _ string, newAmountCents int64) (Intent, error) {
	c.increments++
	c.intent.AmountCents = newAmountCents
	c.intent.AmountCapturableCents = newAmountCents
	return c.intent, nil
}

func (c *fakeClient) Cancel(_ context.Context, _ string) (Intent, error) {
	c.cancels++
	c.intent.Status = "canceled"
	return c.intent, nil
}

func (c *fakeClient) Refund(_ context.Context, _ string) error {
	c.refunds++
	return nil
}

func (c *fakeClient) Get(_ context.Context, _ string) (Intent, error) {
	return c.intent, nil
}

type fakeStore struct {
	booking        model.Booking
	paymentHistory []model.PaymentStatus
	transactions   []model.Transaction
	ops            []string
}

func (s *fakeStore) GetBooking(_ context.Context, id string) (model.Booking, error) {
	if id != s.booking.ID {
		return model.Booking{}, errors.New("booking not found")
	}
	return s.booking, nil
}

func (s *fakeStore) SetBookingIntent(_ context.Context, _, intentID string) error {
	s.booking.PaymentIntentID = intentID
	return nil
}

func (s *fakeStore) SetBookingPaymentState(_ context.Context, _ string, st model.BookingStatus, ps model.PaymentStatus) error {
	s.booking.Status = st
	s.booking.PaymentStatus = ps
	s.paymentHistory = append(s.paymentHistory, ps)
	s.ops = append(s.ops, "booking:"+string(st))
	return nil
}

func (s *fakeStore) CreateTransaction(_ context.Context, tx model.Transaction) (string, error) {
	s.transactions = append(s.transactions, tx)
	s.ops = append(s.ops, "tx:"+string(tx.Status))
	return fmt.Sprintf("tx-%d", len(s.transactions)), nil
}

func (s *fakeStore) UpdateTransactionStatusByIntent(_ context.Context, _ string, st model.TransactionStatus) error {
	s.ops = append(s.ops, "txupdate:"+string(st))
	return nil
}

type fakeNotifier struct {
	increaseEmails int
}

func (n *fakeNotifier) CaptureIncreaseEmail(_ context.Context, _ model.Booking, _ int64) error {
	n.increaseEmails++
	return nil
}

func newTestLifecycle(store *fakeStore, client *fakeClient, notifier *fakeNotifier) *Lifecycle {
	return NewLifecycle(client, store, notifier, discardLogger())
}

func pendingBooking() model.Booking {
	return model.Booking{
		ID:            testBookingID,
		Status:        model.BookingPaymentPending,
		PaymentStatus: model.PaymentPending,
		CustomerEmail: "c@example.com",
	}
}

func TestAuthorizeThenCapture(t *testing.T) {
	store := &fakeStore{booking: pendingBooking()}
	store.paymentHistory = append(store.paymentHistory, store.booking.PaymentStatus)
	client := &fakeClient{}
	lc := newTestLifecycle(store, client, &fakeNotifier{})

	auth, err := lc.Authorize(context.Background(), testBookingID, 10000, "usd", "pm_card_visa")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.PaymentIntentID == "" || auth.ClientSecret == "" || auth.TransactionID == "" {
		t.Fatalf("incomplete authorize result: %+v", auth)
	}
	if store.booking.PaymentStatus != model.PaymentAuthorized {
		t.Fatalf("expected payment authorized, got %s", store.booking.PaymentStatus)
	}
	if store.transactions[0].AmountCents != 10000 {
		t.Fatalf("expected 10000 cents recorded, got %d", store.transactions[0].AmountCents)
	}

	capRes, err := lc.Capture(context.Background(), testBookingID, 10000)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capRes.AmountCapturedCents != 10000 {
		t.Fatalf("expected 10000 captured, got %d", capRes.AmountCapturedCents)
	}

	want := []model.PaymentStatus{model.PaymentPending, model.PaymentAuthorized, model.PaymentCaptured}
	if len(store.paymentHistory) != len(want) {
		t.Fatalf("payment status history %v, want %v", store.paymentHistory, want)
	}
	for i := range want {
		if store.paymentHistory[i] != want[i] {
			t.Fatalf("payment status history %v, want %v", store.paymentHistory, want)
		}
	}
	if !model.ConfirmedFamily(store.booking.Status) {
		t.Fatalf("captured payment must leave booking confirmed-family, got %s", store.booking.Status)
	}
}

func TestCapture_AlreadyCapturedIsNoOp(t *testing.T) {
	b := pendingBooking()
	b.PaymentStatus = model.PaymentCaptured
	b.Status = model.BookingConfirmed
	b.PaymentIntentID = "pi_test_1"
	store := &fakeStore{booking: b}
	lc := newTestLifecycle(store, &fakeClient{}, &fakeNotifier{})

	res, err := lc.Capture(context.Background(), testBookingID, 10000)
	if err != nil {
		t.Fatalf("capture of captured payment must succeed as no-op: %v", err)
	}
	if !res.NoOp {
		t.Fatalf("expected no-op result")
	}
	if len(store.transactions) != 0 {
		t.Fatalf("no-op capture must not write a ledger row")
	}
}

func TestCapture_TerminalStateRaceIsNoOp(t *testing.T) {
	b := pendingBooking()
	b.PaymentStatus = model.PaymentAuthorized
	b.Status = model.BookingPaymentAuthorized
	b.PaymentIntentID = "pi_test_1"
	store := &fakeStore{booking: b}
	client := &fakeClient{
		intent:     Intent{ID: "pi_test_1", Status: "requires_capture", AmountCapturableCents: 10000},
		captureErr: &stripe.Error{Code: stripe.ErrorCodePaymentIntentUnexpectedState},
	}
	lc := newTestLifecycle(store, client, &fakeNotifier{})

	res, err := lc.Capture(context.Background(), testBookingID, 10000)
	if err != nil {
		t.Fatalf("terminal-state race must be tolerated: %v", err)
	}
	if !res.NoOp {
		t.Fatalf("expected no-op result")
	}
}

func TestCapture_IncrementSendsEmail(t *testing.T) {
	b := pendingBooking()
	b.PaymentStatus = model.PaymentAuthorized
	b.Status = model.BookingPaymentAuthorized
	b.PaymentIntentID = "pi_test_1"
	store := &fakeStore{booking: b}
	client := &fakeClient{intent: Intent{ID: "pi_test_1", Status: "requires_capture", AmountCents: 10000, AmountCapturableCents: 10000}}
	notifier := &fakeNotifier{}
	lc := newTestLifecycle(store, client, notifier)

	res, err := lc.Capture(context.Background(), testBookingID, 15000)
	if err != nil {
		t.Fatalf("capture with increment: %v", err)
	}
	if client.increments != 1 {
		t.Fatalf("expected one authorization increment, got %d", client.increments)
	}
	if notifier.increaseEmails != 1 {
		t.Fatalf("an increment must email the customer, got %d emails", notifier.increaseEmails)
	}
	if res.AmountCapturedCents != 15000 {
		t.Fatalf("expected 15000 captured, got %d", res.AmountCapturedCents)
	}
}

func TestAuthorize_PreBookingHold(t *testing.T) {
	store := &fakeStore{booking: pendingBooking()}
	client := &fakeClient{}
	lc := newTestLifecycle(store, client, &fakeNotifier{})

	res, err := lc.Authorize(context.Background(), "", 10000, "usd", "pm_card_visa")
	if err != nil {
		t.Fatalf("pre-booking authorize: %v", err)
	}
	if res.PaymentIntentID == "" || res.TransactionID == "" {
		t.Fatalf("hold must record both intent and ledger row, got %+v", res)
	}
	if len(store.transactions) != 1 {
		t.Fatalf("expected one transaction row, got %d", len(store.transactions))
	}
	if store.transactions[0].BookingID != "" {
		t.Fatalf("pre-booking row must carry no booking id, got %q", store.transactions[0].BookingID)
	}
	if store.transactions[0].PaymentIntentID != res.PaymentIntentID {
		t.Fatalf("ledger row must reference the intent, got %+v", store.transactions[0])
	}
	// No booking exists yet, so no booking state may be touched.
	for _, op := range store.ops {
		if op != "tx:"+string(store.transactions[0].Status) {
			t.Fatalf("unexpected store write %q", op)
		}
	}
}

func TestAuthorize_RejectsSyntheticBookingID(t *testing.T) {
	store := &fakeStore{booking: pendingBooking()}
	lc := newTestLifecycle(store, &fakeClient{}, &fakeNotifier{})

	if _, err := lc.Authorize(context.Background(), "00000000-0000-0000-0000-000000000000", 10000, "usd", "pm"); !errors.Is(err, model.ErrInvalidBookingID) {
		t.Fatalf("placeholder booking id must be rejected, got %v", err)
	}
	if _, err := lc.Authorize(context.Background(), testBookingID, 10, "usd", "pm"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("out-of-range amount must be rejected, got %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	b := pendingBooking()
	b.PaymentStatus = model.PaymentAuthorized
	b.Status = model.BookingPaymentAuthorized
	b.PaymentIntentID = "pi_test_1"
	store := &fakeStore{booking: b}
	client := &fakeClient{intent: Intent{ID: "pi_test_1", Status: "requires_capture"}}
	lc := newTestLifecycle(store, client, &fakeNotifier{})

	res, err := lc.CancelAuthorization(context.Background(), testBookingID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Refunded {
		t.Fatalf("uncaptured hold must be cancelled, not refunded")
	}
	if client.cancels != 1 || client.refunds != 0 {
		t.Fatalf("expected one cancel and no refunds, got %d/%d", client.cancels, client.refunds)
	}
	if store.booking.PaymentStatus != model.PaymentCancelled {
		t.Fatalf("expected payment cancelled, got %s", store.booking.PaymentStatus)
	}
}

func TestReleaseHold_LeavesLocalStateUntouched(t *testing.T) {
	store := &fakeStore{booking: pendingBooking()}
	store.booking.PaymentIntentID = "pi_test_1"
	client := &fakeClient{intent: Intent{ID: "pi_test_1", Status: "requires_capture"}}
	lc := newTestLifecycle(store, client, &fakeNotifier{})

	released, err := lc.ReleaseHold(context.Background(), testBookingID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !released || client.cancels != 1 {
		t.Fatalf("expected the hold voided once, released=%v cancels=%d", released, client.cancels)
	}
	if len(store.ops) != 0 {
		t.Fatalf("release must not write local state, got %v", store.ops)
	}
	if store.booking.Status != model.BookingPaymentPending || store.booking.PaymentStatus != model.PaymentPending {
		t.Fatalf("booking state changed: %+v", store.booking)
	}
}

func TestReleaseHold_NoIntentIsNoOp(t *testing.T) {
	store := &fakeStore{booking: pendingBooking()}
	lc := newTestLifecycle(store, &fakeClient{}, &fakeNotifier{})

	released, err := lc.ReleaseHold(context.Background(), testBookingID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released {
		t.Fatalf("no hold to void, must report released=false")
	}
}

func TestCancelAuthorization_CapturedIssuesRefund(t *testing.T) {
	b := pendingBooking()
	b.PaymentStatus = model.PaymentCaptured
	b.Status = model.BookingConfirmed
	b.PaymentIntentID = "pi_test_1"
	store := &fakeStore{booking: b}
	client := &fakeClient{intent: Intent{ID: "pi_test_1", Status: "succeeded", AmountReceivedCents: 10000}}
	lc := newTestLifecycle(store, client, &fakeNotifier{})

	res, err := lc.CancelAuthorization(context.Background(), testBookingID)
	if err != nil {
		t.Fatalf("cancel captured: %v", err)
	}
	if !res.Refunded {
		t.Fatalf("captured payment must be refunded")
	}
	if client.refunds != 1 || client.cancels != 0 {
		t.Fatalf("expected one refund and no cancels, got %d/%d", client.refunds, client.cancels)
	}
	if store.booking.PaymentStatus != model.PaymentRefunded {
		t.Fatalf("expected payment refunded, got %s", store.booking.PaymentStatus)
	}
	last := store.transactions[len(store.transactions)-1]
	if last.Kind != model.TxKindRefund || last.AmountCents != 10000 {
		t.Fatalf("expected refund ledger row for 10000, got %+v", last)
	}
}
