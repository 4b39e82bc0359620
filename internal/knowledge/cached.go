package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// Loader produces a full snapshot.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// CachedSource serves a snapshot and reloads it after ttl. When a reload
// fails the previous snapshot keeps serving.
type CachedSource struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	logger *logging.Logger

	mu       sync.Mutex
	snapshot *Snapshot
	loadedAt time.Time
}

// NewCachedSource wraps loader. A non-positive ttl means five minutes.
func NewCachedSource(loader Loader, ttl time.Duration, logger *logging.Logger) *CachedSource {
	if loader == nil {
		panic("knowledge: loader cannot be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedSource{loader: loader, ttl: ttl, now: time.Now, logger: logger}
}

func (c *CachedSource) current(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil && c.now().Sub(c.loadedAt) < c.ttl {
		return c.snapshot, nil
	}
	snap, err := c.loader.Load(ctx)
	if err != nil {
		if c.snapshot != nil {
			c.logger.Warn("knowledge: reload failed, serving previous snapshot", "error", err)
			return c.snapshot, nil
		}
		return nil, err
	}
	c.snapshot = snap
	c.loadedAt = c.now()
	return snap, nil
}

// Invalidate forces the next read to reload.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *CachedSource) Prompt(ctx context.Context, kind string) (string, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return "", err
	}
	return snap.Prompt(ctx, kind)
}

func (c *CachedSource) ConstantMessage(ctx context.Context, kind string) (string, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return "", err
	}
	return snap.ConstantMessage(ctx, kind)
}

func (c *CachedSource) FAQ(ctx context.Context) ([]FAQEntry, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.FAQ(ctx)
}

func (c *CachedSource) Functions(ctx context.Context) ([]FunctionDef, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Functions(ctx)
}
