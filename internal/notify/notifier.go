package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hangtight/bookingd/internal/model"
)

// Notifier composes the concrete senders into the messages the booking and
// payment flows need. Send failures are logged and returned; callers decide
// whether a missed notification fails the operation (it usually doesn't).
type Notifier struct {
	email      EmailSender
	sms        SMSSender
	adminEmail string
	logger     *slog.Logger
}

func NewNotifier(email EmailSender, sms SMSSender, adminEmail string, logger *slog.Logger) *Notifier {
	return &Notifier{email: email, sms: sms, adminEmail: adminEmail, logger: logger}
}

// CaptureIncreaseEmail tells the customer their authorization grew before
// capture, usually because services were added on site.
func (n *Notifier) CaptureIncreaseEmail(ctx context.Context, b model.Booking, newTotalCents int64) error {
	if b.CustomerEmail == "" {
		n.logger.Warn("capture increase email skipped: no customer email", "booking_id", b.ID)
		return nil
	}
	subject := "Updated total for your booking"
	body := fmt.Sprintf(
		"Hi %s,\n\nThe total for your booking on %s was updated to $%.2f. "+
			"Your card will be charged this amount when the work is completed.\n",
		b.CustomerName,
		b.ScheduledAt.Format("Jan 2, 2006 at 3:04 PM"),
		float64(newTotalCents)/100,
	)
	if err := n.email.Send(b.CustomerEmail, subject, body); err != nil {
		n.logger.Error("capture increase email failed", "booking_id", b.ID, "err", err)
		return err
	}
	return nil
}

// OfferSMS tells an out-of-area worker a booking near them needs coverage.
func (n *Notifier) OfferSMS(ctx context.Context, phone string, b model.Booking) error {
	if phone == "" {
		return nil
	}
	body := fmt.Sprintf("New booking available in %s on %s. Open the app to accept or decline.",
		b.Zip, b.ScheduledAt.Format("Jan 2 3:04 PM"))
	if err := n.sms.Send(ctx, phone, body); err != nil {
		n.logger.Error("offer sms failed", "booking_id", b.ID, "err", err)
		return err
	}
	return nil
}

// AdminAlert flags a data-integrity problem for manual follow-up.
func (n *Notifier) AdminAlert(ctx context.Context, subject, detail string) error {
	if n.adminEmail == "" {
		n.logger.Warn("admin alert dropped: no admin email configured", "subject", subject)
		return nil
	}
	if err := n.email.Send(n.adminEmail, "[bookingd] "+subject, detail); err != nil {
		n.logger.Error("admin alert failed", "subject", subject, "err", err)
		return err
	}
	return nil
}
