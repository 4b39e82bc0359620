package chatstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	limit int
	convs map[string]*memoryConversation
	now   func() time.Time
}

type memoryConversation struct {
	messages  []Message
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates an empty store. A non-positive limit uses DefaultLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{limit: limit, convs: make(map[string]*memoryConversation), now: time.Now}
}

func (s *MemoryStore) Append(_ context.Context, userID string, msgs []Message, touch bool) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	conv, ok := s.convs[userID]
	if !ok {
		conv = &memoryConversation{createdAt: now, updatedAt: now}
		s.convs[userID] = conv
	} else if touch {
		conv.updatedAt = now
	}
	conv.messages = append(conv.messages, stamp(msgs, now)...)
	if n := len(conv.messages); n > s.limit {
		conv.messages = append([]Message(nil), conv.messages[n-s.limit:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, userID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[userID]
	if !ok {
		return nil, nil
	}
	return append([]Message(nil), conv.messages...), nil
}

func (s *MemoryStore) ListInactive(_ context.Context, before time.Time) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Activity
	for id, conv := range s.convs {
		if conv.updatedAt.Before(before) {
			out = append(out, Activity{UserID: id, CreatedAt: conv.createdAt, UpdatedAt: conv.updatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
