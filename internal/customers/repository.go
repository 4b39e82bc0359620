package customers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Directory answers who the page has talked to and whether the assistant may
// reply to them.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	// AutoReplyEnabled is true when the customer has the chatbot on, or is
	// not in the directory yet.
	AutoReplyEnabled(ctx context.Context, userID string) (bool, error)
	// Register adds a customer; an existing row is left untouched.
	Register(ctx context.Context, userID, name string, chatbotOn bool) error
	Get(ctx context.Context, userID string) (*Customer, error)
	SetChatbot(ctx context.Context, userID string, on bool) error
	FollowUpEligible(ctx context.Context) ([]string, error)
	SetFollowUp(ctx context.Context, userIDs []string, on bool) error
}

// InMemoryDirectory is a Directory for tests and single-node demos.
type InMemoryDirectory struct {
	mu        sync.RWMutex
	customers map[string]*Customer
}

// NewInMemoryDirectory creates an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{customers: make(map[string]*Customer)}
}

func (d *InMemoryDirectory) Exists(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.customers[userID]
	return ok, nil
}

func (d *InMemoryDirectory) AutoReplyEnabled(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[userID]
	return !ok || c.ChatbotOn, nil
}

func (d *InMemoryDirectory) Register(_ context.Context, userID, name string, chatbotOn bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.customers[userID]; ok {
		return nil
	}
	d.customers[userID] = &Customer{
		UserID:     userID,
		Name:       name,
		ChatbotOn:  chatbotOn,
		FollowUpOn: true,
		CreatedAt:  time.Now().UTC(),
	}
	return nil
}

func (d *InMemoryDirectory) Get(_ context.Context, userID string) (*Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *InMemoryDirectory) SetChatbot(_ context.Context, userID string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[userID]
	if !ok {
		return ErrNotFound
	}
	c.ChatbotOn = on
	return nil
}

func (d *InMemoryDirectory) FollowUpEligible(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for id, c := range d.customers {
		if c.FollowUpOn {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *InMemoryDirectory) SetFollowUp(_ context.Context, userIDs []string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range userIDs {
		if c, ok := d.customers[id]; ok {
			c.FollowUpOn = on
		}
	}
	return nil
}
