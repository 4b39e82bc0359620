package inbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type turnRecorder struct {
	mu    sync.Mutex
	turns []string
	ch    chan string
}

func newTurnRecorder() *turnRecorder {
	return &turnRecorder{ch: make(chan string, 16)}
}

func (r *turnRecorder) handle(_ context.Context, senderID, text string) Outcome {
	r.mu.Lock()
	r.turns = append(r.turns, senderID+":"+text)
	r.mu.Unlock()
	r.ch <- senderID + ":" + text
	return OutcomeProcessed
}

func (r *turnRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case turn := <-r.ch:
		return turn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn")
		return ""
	}
}

func (r *turnRecorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case turn := <-r.ch:
		t.Fatalf("unexpected turn %q", turn)
	case <-time.After(d):
	}
}

func TestCoalescer_BurstBecomesOneTurn(t *testing.T) {
	rec := newTurnRecorder()
	c := NewCoalescer(50*time.Millisecond, rec.handle, logging.Discard())
	defer c.Close()

	assert.Equal(t, OutcomeDeferred, c.OnFragment("u1", "Hi"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, OutcomeDeferred, c.OnFragment("u1", "there"))
	assert.Equal(t, 2, c.Pending("u1"))

	assert.Equal(t, "u1:Hi\nthere", rec.wait(t))
	rec.expectNone(t, 100*time.Millisecond)
	assert.Equal(t, 0, c.Pending("u1"))
}

func TestCoalescer_DuplicateFragmentsCollapse(t *testing.T) {
	rec := newTurnRecorder()
	c := NewCoalescer(30*time.Millisecond, rec.handle, logging.Discard())
	defer c.Close()

	c.OnFragment("u1", "price?")
	c.OnFragment("u1", "price?")
	c.OnFragment("u1", "now")

	assert.Equal(t, "u1:price?\nnow", rec.wait(t))
}

func TestCoalescer_EmptyTurnDropped(t *testing.T) {
	rec := newTurnRecorder()
	c := NewCoalescer(30*time.Millisecond, rec.handle, logging.Discard())
	defer c.Close()

	c.OnFragment("u1", "")
	c.OnFragment("u1", "   ")
	rec.expectNone(t, 120*time.Millisecond)
}

func TestCoalescer_EmptyFragmentRearmsTimer(t *testing.T) {
	rec := newTurnRecorder()
	c := NewCoalescer(60*time.Millisecond, rec.handle, logging.Discard())
	defer c.Close()

	start := time.Now()
	c.OnFragment("u1", "hello")
	time.Sleep(40 * time.Millisecond)
	c.OnFragment("u1", "")

	assert.Equal(t, "u1:hello", rec.wait(t))
	assert.GreaterOrEqual(t, time.Since(start), 95*time.Millisecond)
}

func TestCoalescer_SendersAreIndependent(t *testing.T) {
	rec := newTurnRecorder()
	c := NewCoalescer(30*time.Millisecond, rec.handle, logging.Discard())
	defer c.Close()

	c.OnFragment("u1", "a")
	c.OnFragment("u2", "b")

	got := []string{rec.wait(t), rec.wait(t)}
	assert.ElementsMatch(t, []string{"u1:a", "u2:b"}, got)
}

func TestCoalescer_TurnsForOneSenderDoNotOverlap(t *testing.T) {
	var mu sync.Mutex
	active := 0
	maxActive := 0
	done := make(chan string, 4)
	handler := func(_ context.Context, _ string, text string) Outcome {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(80 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		done <- text
		return OutcomeProcessed
	}
	c := NewCoalescer(20*time.Millisecond, handler, logging.Discard())
	defer c.Close()

	c.OnFragment("u1", "first")
	time.Sleep(40 * time.Millisecond) // first turn now running
	c.OnFragment("u1", "second")

	var order []string
	for i := 0; i < 2; i++ {
		select {
		case text := <-done:
			order = append(order, text)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	assert.Equal(t, []string{"first", "second"}, order)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxActive)
}

func TestCoalescer_HandlerPanicIsContained(t *testing.T) {
	calls := make(chan string, 4)
	handler := func(_ context.Context, _ string, text string) Outcome {
		calls <- text
		if text == "boom" {
			panic("handler exploded")
		}
		return OutcomeProcessed
	}
	c := NewCoalescer(20*time.Millisecond, handler, logging.Discard())
	defer c.Close()

	c.OnFragment("u1", "boom")
	require.Equal(t, "boom", <-calls)
	time.Sleep(20 * time.Millisecond)

	c.OnFragment("u1", "after")
	select {
	case text := <-calls:
		assert.Equal(t, "after", text)
	case <-time.After(2 * time.Second):
		t.Fatal("sender stuck after panic")
	}
}

func TestCoalescer_CloseCancelsPending(t *testing.T) {
	rec := newTurnRecorder()
	c := NewCoalescer(40*time.Millisecond, rec.handle, logging.Discard())

	c.OnFragment("u1", "hello")
	c.Close()
	rec.expectNone(t, 100*time.Millisecond)
	assert.Equal(t, OutcomeSuppressed, c.OnFragment("u1", "again"))
}

func TestNewCoalescer_DefaultWindow(t *testing.T) {
	c := NewCoalescer(0, func(context.Context, string, string) Outcome { return OutcomeProcessed }, nil)
	assert.Equal(t, DefaultQuietPeriod, c.Window())
	assert.Panics(t, func() { NewCoalescer(time.Second, nil, nil) })
}
