package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/internal/channels/messenger"
	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	"github.com/wolfman30/messenger-concierge/internal/customers"
	"github.com/wolfman30/messenger-concierge/internal/inbound"
	"github.com/wolfman30/messenger-concierge/internal/knowledge"
	"github.com/wolfman30/messenger-concierge/internal/permission"
	"github.com/wolfman30/messenger-concierge/internal/reply"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type sent struct {
	Kind string
	To   string
	Body string
	Tag  string
}

type fakeGateway struct {
	mu    sync.Mutex
	sends []sent
	err   error
}

func (g *fakeGateway) SendText(_ context.Context, userID, text string) error {
	return g.add(sent{Kind: "text", To: userID, Body: text})
}

func (g *fakeGateway) SendTaggedText(_ context.Context, userID, text, tag string) error {
	return g.add(sent{Kind: "tagged", To: userID, Body: text, Tag: tag})
}

func (g *fakeGateway) SendImage(_ context.Context, userID, imageURL string) error {
	return g.add(sent{Kind: "image", To: userID, Body: imageURL})
}

func (g *fakeGateway) add(s sent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, s)
	return g.err
}

func (g *fakeGateway) all() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sends...)
}

type fakeAssistant struct {
	mu      sync.Mutex
	answers []reply.Reply
	err     error
	asked   []string
	onAsk   func()
}

func (a *fakeAssistant) Ask(_ context.Context, text, _ string) (reply.Reply, error) {
	if a.onAsk != nil {
		a.onAsk()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asked = append(a.asked, text)
	if a.err != nil {
		return nil, a.err
	}
	if len(a.answers) == 0 {
		return reply.PlainReply{Text: "ok"}, nil
	}
	next := a.answers[0]
	if len(a.answers) > 1 {
		a.answers = a.answers[1:]
	}
	return next, nil
}

func (a *fakeAssistant) questions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.asked...)
}

type fakeBooking struct {
	calls []string
}

func (b *fakeBooking) Handle(_ context.Context, userID, message string) (booking.Record, error) {
	b.calls = append(b.calls, userID+":"+message)
	return booking.Record{UserID: userID, Message: message}, nil
}

type fakeProfiles struct {
	profile messenger.Profile
	err     error
}

func (p fakeProfiles) GetProfile(context.Context, string) (messenger.Profile, error) {
	return p.profile, p.err
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.State)
	}
	return out
}

type harness struct {
	o         *Orchestrator
	gateway   *fakeGateway
	assistant *fakeAssistant
	booking   *fakeBooking
	directory *customers.InMemoryDirectory
	history   *chatstore.MemoryStore
	perms     *permission.Cache
	observer  *recordingObserver
	sleeps    []time.Duration
}

func newHarness(t *testing.T, answers ...reply.Reply) *harness {
	t.Helper()
	h := &harness{
		gateway:   &fakeGateway{},
		assistant: &fakeAssistant{answers: answers},
		booking:   &fakeBooking{},
		directory: customers.NewInMemoryDirectory(),
		history:   chatstore.NewMemoryStore(20),
		observer:  &recordingObserver{},
	}
	h.perms = permission.NewCache(h.directory, time.Minute, logging.Discard())
	snapshot := &knowledge.Snapshot{Messages: map[string]string{knowledge.MessageIntroduce: "Let me introduce our studio."}}
	h.o = NewOrchestrator(Deps{
		Permissions: h.perms,
		Directory:   h.directory,
		Profiles:    fakeProfiles{profile: messenger.Profile{FirstName: "Lan", LastName: "Tran"}},
		Assistant:   h.assistant,
		Decomposer:  reply.NewDecomposer([]string{"follow up"}, nil),
		Gateway:     h.gateway,
		History:     h.history,
		Messages:    snapshot,
		Booking:     h.booking,
		Observer:    h.observer,
		Logger:      logging.Discard(),
	}, Config{
		PageID:            "page-1",
		OptimisticNewUser: true,
		IntroImageURL:     "https://example.com/intro.png",
	}, WithSleep(func(d time.Duration) { h.sleeps = append(h.sleeps, d) }))
	return h
}

func (h *harness) roles(t *testing.T, userID string) []chatstore.Message {
	t.Helper()
	msgs, err := h.history.Recent(context.Background(), userID)
	require.NoError(t, err)
	out := make([]chatstore.Message, len(msgs))
	for i, m := range msgs {
		out[i] = chatstore.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func TestHandleTurn_MainThenFollowUp(t *testing.T) {
	h := newHarness(t, reply.PlainReply{Text: "Thanks!\n\nWe'll follow up soon"})

	out := h.o.HandleTurn(context.Background(), "u1", "Hi\nthere")

	assert.Equal(t, inbound.OutcomeProcessed, out)
	assert.Equal(t, []sent{
		{Kind: "tagged", To: "u1", Body: "Thanks!", Tag: messenger.TagConfirmedEventUpdate},
		{Kind: "tagged", To: "u1", Body: "We'll follow up soon", Tag: messenger.TagConfirmedEventUpdate},
	}, h.gateway.all())
	assert.Equal(t, []time.Duration{DefaultFollowUpDelay}, h.sleeps)
	assert.Equal(t, []chatstore.Message{
		chatstore.User("Hi\nthere"),
		chatstore.Assistant("Thanks!"),
		chatstore.Assistant("We'll follow up soon"),
	}, h.roles(t, "u1"))
	assert.Equal(t, StateIdle, h.o.State("u1"))
}

func TestHandleTurn_FollowUpSentOnlyOnce(t *testing.T) {
	h := newHarness(t, reply.PlainReply{Text: "Thanks!\n\nWe'll follow up soon"})
	ctx := context.Background()

	h.o.HandleTurn(ctx, "u1", "first")
	h.o.HandleTurn(ctx, "u1", "second")

	sends := h.gateway.all()
	require.Len(t, sends, 3)
	assert.Equal(t, "Thanks!", sends[2].Body)
}

func TestHandleTurn_RegistersNewUser(t *testing.T) {
	h := newHarness(t)

	h.o.HandleTurn(context.Background(), "u1", "hello")

	c, err := h.directory.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Lan Tran", c.Name)
	assert.True(t, c.ChatbotOn)
	assert.True(t, c.FollowUpOn)
	assert.Contains(t, h.observer.states(), "resolving")
}

func TestHandleTurn_ProfileFailureUsesFallbackName(t *testing.T) {
	h := newHarness(t)
	h.o.deps.Profiles = fakeProfiles{err: errors.New("graph down")}

	h.o.HandleTurn(context.Background(), "u1", "hello")

	c, err := h.directory.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackName, c.Name)
}

func TestHandleTurn_DisallowedUserOnlyLogsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.directory.Register(ctx, "u1", "Lan", false))

	out := h.o.HandleTurn(ctx, "u1", "are you there?")

	assert.Equal(t, inbound.OutcomeSuppressed, out)
	assert.Empty(t, h.gateway.all())
	assert.Empty(t, h.assistant.questions())
	assert.Equal(t, []chatstore.Message{chatstore.User("are you there?")}, h.roles(t, "u1"))
}

func TestHandleTurn_PageOwnMessageSuppressed(t *testing.T) {
	h := newHarness(t)

	out := h.o.HandleTurn(context.Background(), "page-1", "hello")

	assert.Equal(t, inbound.OutcomeSuppressed, out)
	assert.Empty(t, h.gateway.all())
	exists, _ := h.directory.Exists(context.Background(), "page-1")
	assert.False(t, exists)
}

func TestHandleTurn_BookingHandsOff(t *testing.T) {
	h := newHarness(t, reply.MultiSegmentReply{Segments: []reply.Reply{
		reply.PlainReply{Text: "booking"},
		reply.PlainReply{Text: "never sent"},
	}})
	ctx := context.Background()

	out := h.o.HandleTurn(ctx, "u1", "book me for friday")

	assert.Equal(t, inbound.OutcomeProcessed, out)
	assert.Equal(t, []string{"u1:book me for friday"}, h.booking.calls)
	assert.Empty(t, h.gateway.all())
	entry, ok := h.perms.Lookup("u1")
	require.True(t, ok)
	assert.False(t, entry.Allowed)
	c, err := h.directory.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, c.ChatbotOn)

	// subsequent turns stay quiet
	assert.Equal(t, inbound.OutcomeSuppressed, h.o.HandleTurn(ctx, "u1", "hello?"))
}

func TestHandleTurn_PayloadSentUntaggedInOneMessage(t *testing.T) {
	h := newHarness(t, reply.PlainReply{Text: "Here you go\n```json\n{\"sku\":\"A1\"}\n```"})

	h.o.HandleTurn(context.Background(), "u1", "price list")

	sends := h.gateway.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "text", sends[0].Kind)
	assert.Equal(t, "Here you go\n\n{\"sku\":\"A1\"}", sends[0].Body)
	assert.Equal(t, []chatstore.Message{
		chatstore.User("price list"),
		chatstore.Assistant("Here you go\n\n{\"sku\":\"A1\"}"),
	}, h.roles(t, "u1"))
}

func TestHandleTurn_ToolInvocationSendsIntroAndImage(t *testing.T) {
	h := newHarness(t, reply.MultiSegmentReply{Segments: []reply.Reply{
		reply.ToolInvocation{Name: "introduce"},
		reply.PlainReply{Text: "Anything else?"},
	}})

	h.o.HandleTurn(context.Background(), "u1", "who are you")

	assert.Equal(t, []sent{
		{Kind: "text", To: "u1", Body: "Let me introduce our studio."},
		{Kind: "image", To: "u1", Body: "https://example.com/intro.png"},
		{Kind: "tagged", To: "u1", Body: "Anything else?", Tag: messenger.TagConfirmedEventUpdate},
	}, h.gateway.all())
	assert.Equal(t, []time.Duration{DefaultIntroDelay}, h.sleeps)
}

func TestHandleTurn_AssistantErrorSuppressed(t *testing.T) {
	h := newHarness(t)
	h.assistant.err = errors.New("upstream 500")

	out := h.o.HandleTurn(context.Background(), "u1", "hi")

	assert.Equal(t, inbound.OutcomeSuppressed, out)
	assert.Empty(t, h.gateway.all())
	assert.Equal(t, StateIdle, h.o.State("u1"))
}

func TestHandleTurn_SendFailureStillRecordsHistory(t *testing.T) {
	h := newHarness(t, reply.PlainReply{Text: "Sure"})
	h.gateway.err = errors.New("rate limited")

	out := h.o.HandleTurn(context.Background(), "u1", "hi")

	assert.Equal(t, inbound.OutcomeProcessed, out)
	assert.Equal(t, []chatstore.Message{chatstore.User("hi"), chatstore.Assistant("Sure")}, h.roles(t, "u1"))
}

func TestMarkDebouncing_PublishesOnce(t *testing.T) {
	h := newHarness(t)

	h.o.MarkDebouncing("u1")
	h.o.MarkDebouncing("u1")

	assert.Equal(t, StateDebouncing, h.o.State("u1"))
	assert.Equal(t, []string{"debouncing"}, h.observer.states())
	assert.Equal(t, map[string]State{"u1": StateDebouncing}, h.o.States())
}

func TestHandleTurn_FragmentDuringTurnStaysDebouncing(t *testing.T) {
	h := newHarness(t, reply.PlainReply{Text: "Sure"})
	h.assistant.onAsk = func() { h.o.MarkDebouncing("u1") }

	h.o.HandleTurn(context.Background(), "u1", "hi")

	assert.Equal(t, StateDebouncing, h.o.State("u1"))
	assert.Equal(t, map[string]State{"u1": StateDebouncing}, h.o.States())
	states := h.observer.states()
	require.NotEmpty(t, states)
	assert.Equal(t, "debouncing", states[len(states)-1])

	h.assistant.onAsk = nil
	h.o.HandleTurn(context.Background(), "u1", "again")
	assert.Equal(t, StateIdle, h.o.State("u1"))
}

func TestNewOrchestrator_PanicsOnMissingDeps(t *testing.T) {
	assert.Panics(t, func() { NewOrchestrator(Deps{}, Config{}) })
}

func TestEndToEnd_FragmentsCoalesceIntoOneReply(t *testing.T) {
	h := newHarness(t, reply.PlainReply{Text: "Thanks!\n\nWe'll follow up soon"})
	coalescer := inbound.NewCoalescer(40*time.Millisecond, h.o.HandleTurn, logging.Discard())
	t.Cleanup(coalescer.Close)
	receiver := inbound.NewReceiver(inbound.NewMemoryLedger(time.Minute, nil), coalescer, nil, logging.Discard(),
		inbound.WithDeferredHook(h.o.MarkDebouncing))
	ctx := context.Background()

	assert.Equal(t, inbound.OutcomeDeferred, receiver.Accept(ctx, inbound.Event{MessageID: "m1", SenderID: "u1", RecipientID: "page-1", Text: "Hi"}))
	assert.Equal(t, inbound.OutcomeDeferred, receiver.Accept(ctx, inbound.Event{MessageID: "m2", SenderID: "u1", RecipientID: "page-1", Text: "there"}))
	assert.Equal(t, inbound.OutcomeSuppressed, receiver.Accept(ctx, inbound.Event{MessageID: "m2", SenderID: "u1", RecipientID: "page-1", Text: "there"}))

	require.Eventually(t, func() bool { return len(h.gateway.all()) == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"Hi\nthere"}, h.assistant.questions())
	sends := h.gateway.all()
	assert.Equal(t, "Thanks!", sends[0].Body)
	assert.Equal(t, "We'll follow up soon", sends[1].Body)
	assert.Equal(t, []chatstore.Message{
		chatstore.User("Hi\nthere"),
		chatstore.Assistant("Thanks!"),
		chatstore.Assistant("We'll follow up soon"),
	}, h.roles(t, "u1"))
}
