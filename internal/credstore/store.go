// Package credstore persists tokens and cached session data between restarts.
// It is a cache, never the source of truth for a live session: every
// operation is total and failures degrade to "nothing cached".
package credstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/odyssey-commerce/console/internal/shared"
)

// Logical keys persisted by the session manager.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	KeyEnvelope     = "auth-storage"
)

// Keys lists every key owned by the session manager.
func Keys() []string {
	return []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyEnvelope}
}

// Store is durable key/value persistence for credentials.
type Store interface {
	// Get returns the value for key, or false when absent or unreadable.
	Get(ctx context.Context, key string) (string, bool)
	// Set stores value under key. Failures wrap shared.ErrStorageUnavailable.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Clear removes every session key, continuing past failures.
func Clear(ctx context.Context, s Store) error {
	var errs []error
	for _, key := range Keys() {
		if err := s.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func unavailable(op, key string, err error) error {
	if err == nil {
		return fmt.Errorf("credstore: %s %s: %w", op, key, shared.ErrStorageUnavailable)
	}
	return fmt.Errorf("credstore: %s %s: %w: %w", op, key, shared.ErrStorageUnavailable, err)
}

// Noop is the store used where no durable medium exists.
type Noop struct{}

// Get always reports absent.
func (Noop) Get(context.Context, string) (string, bool) { return "", false }

// Set always fails.
func (Noop) Set(_ context.Context, key, _ string) error { return unavailable("set", key, nil) }

// Remove always fails.
func (Noop) Remove(_ context.Context, key string) error { return unavailable("remove", key, nil) }

// Memory keeps values in process memory.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the stored value.
func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Set stores value.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

var (
	_ Store = Noop{}
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)
