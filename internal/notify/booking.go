package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// BookingNotifier emails staff a summary of each booking hand-off.
type BookingNotifier struct {
	sender EmailSender
	to     string
	logger *logging.Logger
}

// NewBookingNotifier returns nil when there is no recipient, so callers can
// skip the option.
func NewBookingNotifier(sender EmailSender, to string, logger *logging.Logger) *BookingNotifier {
	if sender == nil || strings.TrimSpace(to) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingNotifier{sender: sender, to: to, logger: logger}
}

func (n *BookingNotifier) NotifyBooking(ctx context.Context, rec booking.Record) error {
	msg := EmailMessage{
		To:      n.to,
		Subject: fmt.Sprintf("New booking request from %s", rec.Name),
		Body:    bookingText(rec),
		HTML:    bookingHTML(rec),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: booking email: %w", err)
	}
	n.logger.Info("notify: staff notified of booking", "booking_id", rec.ID, "user_id", rec.UserID)
	return nil
}

func bookingText(rec booking.Record) string {
	return fmt.Sprintf("Name: %s\nMessenger user: %s\nRequested at: %s\n\n%s",
		rec.Name, rec.UserID, rec.Timestamp.Format(time.RFC1123), rec.Message)
}

func bookingHTML(rec booking.Record) string {
	var b strings.Builder
	b.WriteString("<h2>New booking request</h2><table>")
	fmt.Fprintf(&b, "<tr><td><b>Name</b></td><td>%s</td></tr>", html.EscapeString(rec.Name))
	fmt.Fprintf(&b, "<tr><td><b>Messenger user</b></td><td>%s</td></tr>", html.EscapeString(rec.UserID))
	fmt.Fprintf(&b, "<tr><td><b>Requested at</b></td><td>%s</td></tr>", rec.Timestamp.Format(time.RFC1123))
	b.WriteString("</table><p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(rec.Message), "\n", "<br>"))
	b.WriteString("</p>")
	return b.String()
}
