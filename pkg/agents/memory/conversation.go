package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/scottdavis/mathagent/pkg/errors"
)

// DefaultWindow is the number of turns kept when no capacity is given.
const DefaultWindow = 3

// ConversationMemory is a fixed-capacity FIFO of the latest turns. With a
// store attached every change is written through.
type ConversationMemory struct {
	mu        sync.RWMutex
	capacity  int
	turns     []Turn
	store     TurnStore
	sessionID string
	storeOpts []StoreOption
}

// Option configures a ConversationMemory.
type Option func(*ConversationMemory)

// WithStore persists the window under sessionID.
func WithStore(store TurnStore, sessionID string, opts ...StoreOption) Option {
	return func(m *ConversationMemory) {
		m.store = store
		m.sessionID = sessionID
		m.storeOpts = opts
	}
}

// NewConversationMemory creates a memory keeping the last capacity turns.
func NewConversationMemory(capacity int, opts ...Option) *ConversationMemory {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	m := &ConversationMemory{capacity: capacity}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Capacity returns k.
func (m *ConversationMemory) Capacity() int { return m.capacity }

// Load replaces the in-process window with the store's copy.
func (m *ConversationMemory) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	turns, err := m.store.Load(ctx, m.sessionID, m.capacity)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to load conversation"),
			errors.Fields{"session_id": m.sessionID},
		)
	}

	m.mu.Lock()
	m.turns = turns
	m.mu.Unlock()
	return nil
}

// Record appends a turn, evicting the oldest when over capacity.
func (m *ConversationMemory) Record(ctx context.Context, input, output string) error {
	turn := Turn{Input: input, Output: output, Time: time.Now()}

	m.mu.Lock()
	m.turns = append(m.turns, turn)
	if over := len(m.turns) - m.capacity; over > 0 {
		m.turns = append([]Turn(nil), m.turns[over:]...)
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.Append(ctx, m.sessionID, turn, m.capacity, m.storeOpts...); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to persist turn"),
			errors.Fields{"session_id": m.sessionID},
		)
	}
	return nil
}

// Render flattens the window into role-tagged lines, oldest first.
func (m *ConversationMemory) Render() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("Human: ")
		sb.WriteString(t.Input)
		sb.WriteString("\nAI: ")
		sb.WriteString(t.Output)
	}
	return sb.String()
}

// Reset clears every turn, including the persisted copy.
func (m *ConversationMemory) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.turns = nil
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx, m.sessionID); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to clear conversation"),
			errors.Fields{"session_id": m.sessionID},
		)
	}
	return nil
}

// Turns returns a copy of the window, oldest first.
func (m *ConversationMemory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn{}, m.turns...)
}

// Len returns the number of turns held.
func (m *ConversationMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}
