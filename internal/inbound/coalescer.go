package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// DefaultQuietPeriod is the debounce window used when none is configured.
const DefaultQuietPeriod = 5 * time.Second

// TurnHandler consumes one consolidated turn for a sender.
type TurnHandler func(ctx context.Context, senderID, text string) Outcome

// Coalescer buffers fragments per sender and emits a single consolidated
// turn once the sender has been quiet for the configured window. Every new
// fragment cancels the pending flush and arms a new one.
//
// Turns for one sender run strictly in flush order and never overlap;
// different senders proceed independently.
type Coalescer struct {
	window  time.Duration
	handler TurnHandler
	logger  *logging.Logger

	mu      sync.Mutex
	senders map[string]*senderBuffer
	closed  bool
}

type senderBuffer struct {
	mu         sync.Mutex
	fragments  []string
	timer      *time.Timer
	generation uint64
	queue      []string
	running    bool
}

func (b *senderBuffer) idle() bool {
	return b.timer == nil && !b.running && len(b.fragments) == 0 && len(b.queue) == 0
}

// NewCoalescer creates a coalescer. A non-positive window uses DefaultQuietPeriod.
func NewCoalescer(window time.Duration, handler TurnHandler, logger *logging.Logger) *Coalescer {
	if handler == nil {
		panic("inbound: turn handler cannot be nil")
	}
	if window <= 0 {
		window = DefaultQuietPeriod
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Coalescer{
		window:  window,
		handler: handler,
		logger:  logger,
		senders: make(map[string]*senderBuffer),
	}
}

// Window returns the configured quiet period.
func (c *Coalescer) Window() time.Duration {
	return c.window
}

// OnFragment buffers text for senderID and (re)arms the flush timer.
// Empty text and verbatim repeats are not buffered but still reset the timer.
func (c *Coalescer) OnFragment(senderID, text string) Outcome {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("inbound: coalescer closed, dropping fragment", "sender_id", senderID)
		return OutcomeSuppressed
	}
	buf, ok := c.senders[senderID]
	if !ok {
		buf = &senderBuffer{}
		c.senders[senderID] = buf
	}
	buf.mu.Lock()
	c.mu.Unlock()
	defer buf.mu.Unlock()

	if text != "" && !containsExact(buf.fragments, text) {
		buf.fragments = append(buf.fragments, text)
	}

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.generation++
	gen := buf.generation
	buf.timer = time.AfterFunc(c.window, func() {
		c.flush(senderID, buf, gen)
	})
	return OutcomeDeferred
}

// Pending returns the number of buffered fragments for senderID.
func (c *Coalescer) Pending(senderID string) int {
	c.mu.Lock()
	buf, ok := c.senders[senderID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.fragments)
}

// Close cancels every pending flush. Turns already running finish normally.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, buf := range c.senders {
		buf.mu.Lock()
		if buf.timer != nil {
			buf.timer.Stop()
			buf.timer = nil
		}
		buf.generation++
		buf.fragments = nil
		buf.mu.Unlock()
	}
}

func (c *Coalescer) flush(senderID string, buf *senderBuffer, gen uint64) {
	buf.mu.Lock()
	if buf.generation != gen {
		// superseded after this timer had already started firing
		buf.mu.Unlock()
		return
	}
	fragments := buf.fragments
	buf.fragments = nil
	buf.timer = nil

	text := strings.Join(fragments, "\n")
	if strings.TrimSpace(text) == "" {
		buf.mu.Unlock()
		c.logger.Info("inbound: empty turn dropped", "sender_id", senderID)
		c.release(senderID, buf)
		return
	}

	buf.queue = append(buf.queue, text)
	if buf.running {
		buf.mu.Unlock()
		return
	}
	buf.running = true
	buf.mu.Unlock()

	for {
		buf.mu.Lock()
		if len(buf.queue) == 0 {
			buf.running = false
			buf.mu.Unlock()
			break
		}
		next := buf.queue[0]
		buf.queue = buf.queue[1:]
		buf.mu.Unlock()

		c.run(senderID, next)
	}
	c.release(senderID, buf)
}

func (c *Coalescer) run(senderID, text string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("inbound: turn handler panicked",
				"sender_id", senderID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	outcome := c.handler(context.Background(), senderID, text)
	c.logger.Debug("inbound: turn finished", "sender_id", senderID, "outcome", outcome.String())
}

// release drops the sender's buffer once nothing is pending for it.
func (c *Coalescer) release(senderID string, buf *senderBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.idle() && c.senders[senderID] == buf {
		delete(c.senders, senderID)
	}
}

func containsExact(fragments []string, text string) bool {
	for _, f := range fragments {
		if f == text {
			return true
		}
	}
	return false
}
