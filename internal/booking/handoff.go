package booking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/messenger-concierge/internal/channels/messenger"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

const (
	DefaultAcknowledgement = "Thank you for booking with us. Our team will contact you shortly to confirm your appointment."
	DefaultFallbackName    = "Customer"
)

// ProfileLookup resolves a user's display profile.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (messenger.Profile, error)
}

// TaggedSender sends text outside the standard reply window.
type TaggedSender interface {
	SendTaggedText(ctx context.Context, recipientID, text, tag string) error
}

// Notifier tells staff about a new booking.
type Notifier interface {
	NotifyBooking(ctx context.Context, rec Record) error
}

// Archiver keeps the conversation that led to a booking.
type Archiver interface {
	ArchiveBooking(ctx context.Context, rec Record) error
}

// Config tunes the hand-off.
type Config struct {
	Acknowledgement string
	FallbackName    string
}

// Handoff acknowledges a booking request to the user and records it for staff.
type Handoff struct {
	profiles ProfileLookup
	sender   TaggedSender
	recorder Recorder
	notifier Notifier
	archiver Archiver
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

// Option customises a Handoff.
type Option func(*Handoff)

func WithNotifier(n Notifier) Option {
	return func(h *Handoff) { h.notifier = n }
}

func WithArchiver(a Archiver) Option {
	return func(h *Handoff) { h.archiver = a }
}

// NewHandoff builds a hand-off. profiles, sender and recorder are required.
func NewHandoff(profiles ProfileLookup, sender TaggedSender, recorder Recorder, cfg Config, logger *logging.Logger, opts ...Option) *Handoff {
	if profiles == nil {
		panic("booking: profile lookup cannot be nil")
	}
	if sender == nil {
		panic("booking: sender cannot be nil")
	}
	if recorder == nil {
		panic("booking: recorder cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.Acknowledgement) == "" {
		cfg.Acknowledgement = DefaultAcknowledgement
	}
	if strings.TrimSpace(cfg.FallbackName) == "" {
		cfg.FallbackName = DefaultFallbackName
	}
	h := &Handoff{
		profiles: profiles,
		sender:   sender,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle runs the hand-off for userID. message is the consolidated user turn
// that triggered it. Only a failure to record the booking is returned;
// acknowledgement, notification and archive failures are logged.
func (h *Handoff) Handle(ctx context.Context, userID, message string) (Record, error) {
	name := h.resolveName(ctx, userID)

	if err := h.sender.SendTaggedText(ctx, userID, h.cfg.Acknowledgement, messenger.TagConfirmedEventUpdate); err != nil {
		h.logger.Error("booking: failed to send acknowledgement",
			"user_id", userID,
			"error", err,
		)
	}

	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: h.now().UTC(),
		UserID:    userID,
		Name:      name,
		Message:   message,
	}
	if err := h.recorder.Record(ctx, rec); err != nil {
		h.logger.Error("booking: failed to record booking",
			"user_id", userID,
			"booking_id", rec.ID,
			"error", err,
		)
		return rec, err
	}
	h.logger.Info("booking: hand-off recorded", "user_id", userID, "booking_id", rec.ID)

	if h.notifier != nil {
		if err := h.notifier.NotifyBooking(ctx, rec); err != nil {
			h.logger.Warn("booking: staff notification failed", "booking_id", rec.ID, "error", err)
		}
	}
	if h.archiver != nil {
		if err := h.archiver.ArchiveBooking(ctx, rec); err != nil {
			h.logger.Warn("booking: transcript archive failed", "booking_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

func (h *Handoff) resolveName(ctx context.Context, userID string) string {
	profile, err := h.profiles.GetProfile(ctx, userID)
	if err != nil {
		h.logger.Warn("booking: profile lookup failed, using fallback name",
			"user_id", userID,
			"error", err,
		)
		return h.cfg.FallbackName
	}
	if name := strings.TrimSpace(profile.FullName()); name != "" {
		return name
	}
	return h.cfg.FallbackName
}
