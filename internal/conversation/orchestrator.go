// Package conversation runs one consolidated Messenger turn end to end:
// permission, assistant reply, decomposition and ordered dispatch.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/internal/channels/messenger"
	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	"github.com/wolfman30/messenger-concierge/internal/inbound"
	"github.com/wolfman30/messenger-concierge/internal/knowledge"
	"github.com/wolfman30/messenger-concierge/internal/observability/metrics"
	"github.com/wolfman30/messenger-concierge/internal/permission"
	"github.com/wolfman30/messenger-concierge/internal/reply"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("concierge.internal.conversation")

const (
	DefaultIntroDelay    = 2 * time.Second
	DefaultFollowUpDelay = 3 * time.Second
	DefaultIntroImageURL = "https://i.imgur.com/I0IFANJ.png"
	DefaultFallbackName  = "Customer"
)

// Assistant produces the reply for a consolidated turn.
type Assistant interface {
	Ask(ctx context.Context, text, userID string) (reply.Reply, error)
}

// Gateway delivers outbound messages.
type Gateway interface {
	SendText(ctx context.Context, userID, text string) error
	SendTaggedText(ctx context.Context, userID, text, tag string) error
	SendImage(ctx context.Context, userID, imageURL string) error
}

// Directory is the user registry consulted on first contact.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Register(ctx context.Context, userID, name string, chatbotOn bool) error
	SetChatbot(ctx context.Context, userID string, on bool) error
}

// Profiles resolves display names for new users.
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (messenger.Profile, error)
}

// Messages serves canned texts such as the introduction.
type Messages interface {
	ConstantMessage(ctx context.Context, kind string) (string, error)
}

// BookingHandler hands a user over to staff.
type BookingHandler interface {
	Handle(ctx context.Context, userID, message string) (booking.Record, error)
}

// Config carries the tunables of a turn.
type Config struct {
	// PageID is the page's own id; turns from it are suppressed.
	PageID string
	// OptimisticNewUser is the cached permission given to a first-contact
	// user before the directory knows them.
	OptimisticNewUser bool
	IntroImageURL     string
	IntroDelay        time.Duration
	FollowUpDelay     time.Duration
	FallbackName      string
	// MessageTag is attached to main and follow-up sends.
	MessageTag string
}

// Deps are the collaborators of an Orchestrator. Observer and Metrics are
// optional.
type Deps struct {
	Permissions *permission.Cache
	Directory   Directory
	Profiles    Profiles
	Assistant   Assistant
	Decomposer  *reply.Decomposer
	Gateway     Gateway
	History     chatstore.Store
	Messages    Messages
	Booking     BookingHandler
	Observer    Observer
	Metrics     *metrics.ConciergeMetrics
	Logger      *logging.Logger
}

// Orchestrator runs the per-turn state machine
// Idle -> Debouncing -> Resolving -> Dispatching -> Idle.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	states *stateTable
	sleep  func(time.Duration)
	now    func() time.Time
	logger *logging.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the pacing delay (tests).
func WithSleep(fn func(time.Duration)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// NewOrchestrator validates deps and applies config defaults.
func NewOrchestrator(deps Deps, cfg Config, opts ...Option) *Orchestrator {
	switch {
	case deps.Permissions == nil:
		panic("conversation: permission cache cannot be nil")
	case deps.Directory == nil:
		panic("conversation: directory cannot be nil")
	case deps.Assistant == nil:
		panic("conversation: assistant cannot be nil")
	case deps.Gateway == nil:
		panic("conversation: gateway cannot be nil")
	case deps.History == nil:
		panic("conversation: chat store cannot be nil")
	case deps.Booking == nil:
		panic("conversation: booking handler cannot be nil")
	}
	if deps.Decomposer == nil {
		deps.Decomposer = reply.NewDecomposer(nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if cfg.IntroImageURL == "" {
		cfg.IntroImageURL = DefaultIntroImageURL
	}
	if cfg.IntroDelay <= 0 {
		cfg.IntroDelay = DefaultIntroDelay
	}
	if cfg.FollowUpDelay <= 0 {
		cfg.FollowUpDelay = DefaultFollowUpDelay
	}
	if cfg.FallbackName == "" {
		cfg.FallbackName = DefaultFallbackName
	}
	if cfg.MessageTag == "" {
		cfg.MessageTag = messenger.TagConfirmedEventUpdate
	}
	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		states: newStateTable(),
		sleep:  time.Sleep,
		now:    time.Now,
		logger: deps.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetObserver attaches an observer built after the orchestrator, such as
// one that reads States. Call it before the first turn.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.deps.Observer = obs
}

// State reports the sender's current state.
func (o *Orchestrator) State(senderID string) State {
	return o.states.get(senderID)
}

// States returns every sender that is not idle.
func (o *Orchestrator) States() map[string]State {
	return o.states.snapshot()
}

// MarkDebouncing records that a fragment for senderID is buffered.
func (o *Orchestrator) MarkDebouncing(senderID string) {
	if o.states.debounce(senderID) {
		o.publish(senderID, StateDebouncing, "", "")
	}
}

// HandleTurn runs one consolidated turn. It never panics on collaborator
// failures; every failure is logged. The sender returns to Idle, or to
// Debouncing when another fragment arrived during the turn.
func (o *Orchestrator) HandleTurn(ctx context.Context, senderID, text string) inbound.Outcome {
	ctx, span := tracer.Start(ctx, "conversation.turn")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.sender_id", senderID))

	outcome := o.handle(ctx, senderID, text)

	settled := o.states.finish(senderID)
	o.publish(senderID, settled, outcome.String(), "")
	o.deps.Metrics.ObserveTurn(outcome.String())
	span.SetAttributes(attribute.String("concierge.turn.outcome", outcome.String()))
	return outcome
}

func (o *Orchestrator) handle(ctx context.Context, senderID, text string) inbound.Outcome {
	if strings.TrimSpace(text) == "" {
		return inbound.OutcomeSuppressed
	}
	o.enter(senderID, StateResolving)

	if o.cfg.PageID != "" && senderID == o.cfg.PageID {
		o.logger.Debug("conversation: page's own message skipped", "sender_id", senderID)
		return inbound.OutcomeSuppressed
	}
	o.registerIfNew(ctx, senderID)

	if !o.deps.Permissions.IsAllowed(ctx, senderID) {
		o.appendHistory(ctx, senderID, []chatstore.Message{chatstore.User(text)}, true)
		o.logger.Info("conversation: auto-reply disabled for sender", "sender_id", senderID)
		return inbound.OutcomeSuppressed
	}

	o.enter(senderID, StateDispatching)
	answer, err := o.deps.Assistant.Ask(ctx, text, senderID)
	if err != nil {
		o.logger.Error("conversation: assistant failed, turn dropped",
			"sender_id", senderID,
			"error", err,
		)
		return inbound.OutcomeSuppressed
	}

	if reply.HasToolInvocation(answer) {
		o.introduce(ctx, senderID)
	}

	history, err := o.deps.History.Recent(ctx, senderID)
	if err != nil {
		o.logger.Warn("conversation: history unavailable for follow-up check",
			"sender_id", senderID,
			"error", err,
		)
	}

	d := &dispatch{o: o, senderID: senderID, userText: text, history: history}
	for _, segment := range reply.PlainSegments(answer) {
		if d.run(ctx, segment) {
			break
		}
	}
	return inbound.OutcomeProcessed
}

// registerIfNew records a first-contact sender with an optimistic cached
// permission so concurrent turns do not register twice.
func (o *Orchestrator) registerIfNew(ctx context.Context, senderID string) {
	if o.deps.Permissions.HasCached(senderID) {
		return
	}
	exists, err := o.deps.Directory.Exists(ctx, senderID)
	if err != nil {
		o.logger.Warn("conversation: directory lookup failed, skipping registration",
			"sender_id", senderID,
			"error", err,
		)
		return
	}
	if exists {
		return
	}
	o.deps.Permissions.Set(senderID, o.cfg.OptimisticNewUser)
	name := o.displayName(ctx, senderID)
	if err := o.deps.Directory.Register(ctx, senderID, name, true); err != nil {
		o.logger.Error("conversation: failed to register new user",
			"sender_id", senderID,
			"error", err,
		)
		return
	}
	o.logger.Info("conversation: registered new user", "sender_id", senderID)
	o.publish(senderID, StateResolving, "", "registered")
}

func (o *Orchestrator) displayName(ctx context.Context, senderID string) string {
	if o.deps.Profiles == nil {
		return o.cfg.FallbackName
	}
	profile, err := o.deps.Profiles.GetProfile(ctx, senderID)
	if err != nil {
		o.logger.Warn("conversation: profile lookup failed", "sender_id", senderID, "error", err)
		return o.cfg.FallbackName
	}
	if name := strings.TrimSpace(profile.FullName()); name != "" {
		return name
	}
	return o.cfg.FallbackName
}

func (o *Orchestrator) introduce(ctx context.Context, senderID string) {
	if o.deps.Messages != nil {
		intro, err := o.deps.Messages.ConstantMessage(ctx, knowledge.MessageIntroduce)
		if err != nil {
			o.logger.Warn("conversation: introduce message unavailable", "error", err)
		} else if err := o.deps.Gateway.SendText(ctx, senderID, intro); err != nil {
			o.logSendError(senderID, "introduce", err)
		}
	}
	o.sleep(o.cfg.IntroDelay)
	if err := o.deps.Gateway.SendImage(ctx, senderID, o.cfg.IntroImageURL); err != nil {
		o.logSendError(senderID, "image", err)
	}
	o.publish(senderID, StateDispatching, "", "introduced")
}

// dispatch sends the segments of one reply in order.
type dispatch struct {
	o          *Orchestrator
	senderID   string
	userText   string
	history    []chatstore.Message
	userLogged bool
}

// run handles one segment and reports whether the turn should stop.
func (d *dispatch) run(ctx context.Context, segment string) bool {
	o := d.o
	plan := o.deps.Decomposer.Decompose(segment, d.history)

	switch plan.Kind {
	case reply.KindBooking:
		if _, err := o.deps.Booking.Handle(ctx, d.senderID, d.userText); err != nil {
			o.logger.Error("conversation: booking hand-off failed", "sender_id", d.senderID, "error", err)
		}
		o.deps.Permissions.Set(d.senderID, false)
		if err := o.deps.Directory.SetChatbot(ctx, d.senderID, false); err != nil {
			o.logger.Warn("conversation: failed to persist chatbot off", "sender_id", d.senderID, "error", err)
		}
		o.publish(d.senderID, StateDispatching, "", "booking")
		return true

	case reply.KindPayload:
		combined := plan.Combined()
		if err := o.deps.Gateway.SendText(ctx, d.senderID, combined); err != nil {
			o.logSendError(d.senderID, "payload", err)
			return false
		}
		d.record(ctx, chatstore.Assistant(combined))
		return false
	}

	if strings.TrimSpace(plan.Main) == "" && strings.TrimSpace(plan.FollowUp) == "" {
		o.logger.Warn("conversation: empty reply segment skipped", "sender_id", d.senderID)
		return false
	}

	d.logUser(ctx)
	if strings.TrimSpace(plan.Main) != "" {
		if err := o.deps.Gateway.SendTaggedText(ctx, d.senderID, plan.Main, o.cfg.MessageTag); err != nil {
			o.logSendError(d.senderID, "main", err)
		}
		d.record(ctx, chatstore.Assistant(plan.Main))
	}
	if strings.TrimSpace(plan.FollowUp) != "" {
		o.sleep(o.cfg.FollowUpDelay)
		if err := o.deps.Gateway.SendTaggedText(ctx, d.senderID, plan.FollowUp, o.cfg.MessageTag); err != nil {
			o.logSendError(d.senderID, "follow_up", err)
		}
		d.record(ctx, chatstore.Assistant(plan.FollowUp))
	}
	return false
}

// logUser appends the consolidated user text once per turn, touching activity.
func (d *dispatch) logUser(ctx context.Context) {
	if d.userLogged {
		return
	}
	d.userLogged = true
	d.o.appendHistory(ctx, d.senderID, []chatstore.Message{chatstore.User(d.userText)}, true)
}

// record stores an assistant message. A payload send stores the user text
// alongside it in one write.
func (d *dispatch) record(ctx context.Context, msg chatstore.Message) {
	if !d.userLogged {
		d.userLogged = true
		d.o.appendHistory(ctx, d.senderID, []chatstore.Message{chatstore.User(d.userText), msg}, true)
	} else {
		d.o.appendHistory(ctx, d.senderID, []chatstore.Message{msg}, false)
	}
	d.history = append(d.history, msg)
}

func (o *Orchestrator) appendHistory(ctx context.Context, senderID string, msgs []chatstore.Message, touch bool) {
	if err := o.deps.History.Append(ctx, senderID, msgs, touch); err != nil {
		o.logger.Error("conversation: failed to append history",
			"sender_id", senderID,
			"error", err,
		)
	}
}

func (o *Orchestrator) enter(senderID string, s State) {
	o.states.set(senderID, s)
	o.publish(senderID, s, "", "")
}

func (o *Orchestrator) publish(senderID string, s State, outcome, detail string) {
	if o.deps.Observer == nil {
		return
	}
	o.deps.Observer.Publish(Event{
		SenderID: senderID,
		State:    s.String(),
		Outcome:  outcome,
		Detail:   detail,
		At:       o.now().UTC(),
	})
}

func (o *Orchestrator) logSendError(senderID, kind string, err error) {
	o.logger.Error("conversation: send failed",
		"sender_id", senderID,
		"kind", kind,
		"error", err,
	)
}
