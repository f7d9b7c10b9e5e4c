// Package store defines persistence for conversation snapshots.
package store

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/nstogner/expertchat/pkg/domain"
)

// KeyPrefix prefixes every conversation key.
const KeyPrefix = "chat_history_"

// ErrNotFound is returned when no snapshot exists for a persona.
var ErrNotFound = errors.New("conversation not found")

// Key returns the storage key of the conversation with a persona.
func Key(personaID string) string {
	return KeyPrefix + personaID
}

// ConversationStore persists the ordered message list of one conversation
// per persona. Save replaces the whole snapshot.
type ConversationStore interface {
	// Load returns the stored messages, or ErrNotFound if there are none.
	Load(ctx context.Context, personaID string) ([]domain.Message, error)

	// Save replaces the snapshot for personaID.
	Save(ctx context.Context, personaID string, messages []domain.Message) error

	// Clear deletes the snapshot. Clearing a missing snapshot is not an error.
	Clear(ctx context.Context, personaID string) error
}

// Memory is a ConversationStore that keeps snapshots in process memory.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]domain.Message
}

// Verify interface compliance at compile time.
var _ ConversationStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]domain.Message)}
}

func (m *Memory) Load(_ context.Context, personaID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs, ok := m.items[Key(personaID)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(msgs), nil
}

func (m *Memory) Save(_ context.Context, personaID string, messages []domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[Key(personaID)] = slices.Clone(messages)
	return nil
}

func (m *Memory) Clear(_ context.Context, personaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, Key(personaID))
	return nil
}
