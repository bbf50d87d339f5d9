// Package registry declares the chat registry's operation set and provides
// an in-memory implementation used in tests and single-process
// deployments without a durable store. internal/store/postgres.Store
// implements the same interface backed by PostgreSQL.
package registry

import (
	"context"
	"sync"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/postgres"
)

// ErrNotFound is returned when a chat id has no registry entry.
var ErrNotFound = postgres.ErrNotFound

// Store is the chat registry's operation set: lookup, upsert (registration
// and mutation by the external command surface), and enumeration of active
// destinations for fan-out.
type Store interface {
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	UpsertChat(ctx context.Context, c model.Chat) error
	ListActiveDestinations(ctx context.Context) ([]model.Chat, error)
	// Migrate reassigns a chat's id in place, used on the platform's
	// "chat migrated" signal.
	Migrate(ctx context.Context, oldID, newID string) error
	// Deactivate soft-deletes a chat after a permanent send failure.
	Deactivate(ctx context.Context, id string) error
}

var _ Store = (*postgres.Store)(nil)

// Memory is an in-process chat registry, guarded by a mutex like the
// teacher's channel registry.
type Memory struct {
	mu    sync.RWMutex
	chats map[string]model.Chat
}

func NewMemory() *Memory {
	return &Memory{chats: make(map[string]model.Chat)}
}

func (m *Memory) GetChat(_ context.Context, id string) (*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) UpsertChat(_ context.Context, c model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = c
	return nil
}

func (m *Memory) ListActiveDestinations(_ context.Context) ([]model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Chat
	for _, c := range m.chats {
		if c.Active && c.IsDestination {
			out = append(out, c)
		}
	}
	return out, nil
}

// Migrate reassigns a chat's id in place, used on the platform's
// "chat migrated" signal (a group upgraded to a supergroup, typically).
// The caller re-enqueues the affected task once under the new id.
func (m *Memory) Migrate(ctx context.Context, oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[oldID]
	if !ok {
		return ErrNotFound
	}
	delete(m.chats, oldID)
	c.ID = newID
	m.chats[newID] = c
	return nil
}

// Deactivate soft-deletes a chat after a permanent send failure (forbidden
// or chat-not-found).
func (m *Memory) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	m.chats[id] = c
	return nil
}
