package conversation

import (
	"sync"
	"time"
)

// State is where a sender currently is in the turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateResolving
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateDebouncing:
		return "debouncing"
	case StateResolving:
		return "resolving"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Event is a turn lifecycle notification for observers such as the operator
// console.
type Event struct {
	SenderID string    `json:"sender_id"`
	State    string    `json:"state"`
	Outcome  string    `json:"outcome,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Observer receives turn events. Implementations must not block.
type Observer interface {
	Publish(ev Event)
}

type stateTable struct {
	mu     sync.Mutex
	states map[string]State
	// senders that buffered a fragment while their turn was running
	pending map[string]bool
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[string]State), pending: make(map[string]bool)}
}

func (t *stateTable) get(senderID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[senderID]
}

func (t *stateTable) set(senderID string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == StateIdle {
		delete(t.states, senderID)
		return
	}
	t.states[senderID] = s
}

// debounce moves an idle sender to Debouncing and reports whether it did.
func (t *stateTable) debounce(senderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.states[senderID] {
	case StateIdle:
		t.states[senderID] = StateDebouncing
		return true
	case StateDebouncing:
	default:
		t.pending[senderID] = true
	}
	return false
}

// finish ends a turn. A sender that buffered a fragment mid-turn settles in
// Debouncing, everyone else in Idle.
func (t *stateTable) finish(senderID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[senderID] {
		delete(t.pending, senderID)
		t.states[senderID] = StateDebouncing
		return StateDebouncing
	}
	delete(t.states, senderID)
	return StateIdle
}

func (t *stateTable) snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}
