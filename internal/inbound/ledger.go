package inbound

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// DefaultDedupTTL is how long a message id stays resident in a ledger.
const DefaultDedupTTL = 300 * time.Second

const defaultLedgerCapacity = 10000

// Ledger remembers recently seen platform message ids.
//
// SeenOrMark reports true when id was already marked inside the TTL window
// (the caller should skip the event) and false when id was newly marked.
// An empty id is always new. Implementations never fail: backend errors are
// logged and degrade to "new".
type Ledger interface {
	SeenOrMark(ctx context.Context, messageID string) bool
}

// MemoryLedger is an in-process Ledger with passive expiry.
type MemoryLedger struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	expires  map[string]time.Time
	now      func() time.Time
	logger   *logging.Logger
}

// MemoryLedgerOption customises a MemoryLedger.
type MemoryLedgerOption func(*MemoryLedger)

// WithLedgerClock overrides the time source (tests).
func WithLedgerClock(now func() time.Time) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLedgerCapacity bounds the number of resident ids.
func WithLedgerCapacity(n int) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// NewMemoryLedger builds an in-memory ledger. A non-positive ttl uses DefaultDedupTTL.
func NewMemoryLedger(ttl time.Duration, logger *logging.Logger, opts ...MemoryLedgerOption) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &MemoryLedger{
		ttl:      ttl,
		capacity: defaultLedgerCapacity,
		expires:  make(map[string]time.Time),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SeenOrMark implements Ledger.
func (l *MemoryLedger) SeenOrMark(_ context.Context, messageID string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		l.logger.Debug("inbound: message without id treated as new")
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.expires[messageID]; ok {
		if now.Before(exp) {
			return true
		}
		delete(l.expires, messageID)
	}

	if len(l.expires) >= l.capacity {
		l.evictLocked(now)
	}
	l.expires[messageID] = now.Add(l.ttl)
	return false
}

// Len returns the number of resident ids, expired or not.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expires)
}

// evictLocked makes room at capacity: expired ids first, then the ids
// closest to expiry.
func (l *MemoryLedger) evictLocked(now time.Time) {
	for id, exp := range l.expires {
		if !now.Before(exp) {
			delete(l.expires, id)
		}
	}
	for len(l.expires) >= l.capacity {
		var oldestID string
		var oldest time.Time
		for id, exp := range l.expires {
			if oldestID == "" || exp.Before(oldest) {
				oldestID, oldest = id, exp
			}
		}
		delete(l.expires, oldestID)
	}
}
