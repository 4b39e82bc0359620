package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "test@example.com"}, nil))
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "test@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, defaultFromName, sender.fromName)
}

type fakeSendGrid struct {
	got    *mail.SGMailV3
	status int
	err    error
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.got = m
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	sender := newSendGridSender(fake, SendGridConfig{FromEmail: "bot@example.com"}, logging.Discard())

	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "staff@example.com", Subject: "Hi", Body: "body"}))
	require.NotNil(t, fake.got)
	assert.Equal(t, "Hi", fake.got.Subject)

	fake.status = 401
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "staff@example.com"}))

	fake.err = errors.New("network")
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "staff@example.com"}))
}

func TestSendGridSender_NilReceiver(t *testing.T) {
	var sender *SendGridSender
	assert.Error(t, sender.Send(context.Background(), EmailMessage{}))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "bot@example.com"}, logging.Discard())

	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "staff@example.com", Subject: "S", Body: "text", HTML: "<p>x</p>"}))
	assert.Equal(t, "Messenger Concierge <bot@example.com>", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"staff@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "text", aws.ToString(fake.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>x</p>", aws.ToString(fake.input.Content.Simple.Body.Html.Data))
}

type capturingSender struct{ msgs []EmailMessage }

func (c *capturingSender) Send(_ context.Context, msg EmailMessage) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestBookingNotifier(t *testing.T) {
	assert.Nil(t, NewBookingNotifier(&capturingSender{}, "", nil))

	sender := &capturingSender{}
	n := NewBookingNotifier(sender, "staff@example.com", logging.Discard())
	require.NotNil(t, n)

	rec := booking.Record{
		ID:        "b-1",
		Timestamp: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		UserID:    "u1",
		Name:      "Lan <Nguyen>",
		Message:   "Friday\nafternoon",
	}
	require.NoError(t, n.NotifyBooking(context.Background(), rec))
	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, "staff@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Lan <Nguyen>")
	assert.Contains(t, msg.Body, "Friday\nafternoon")
	assert.Contains(t, msg.HTML, "Lan &lt;Nguyen&gt;")
	assert.Contains(t, msg.HTML, "Friday<br>afternoon")
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(nil).Send(context.Background(), EmailMessage{To: "x@example.com"}))
}
