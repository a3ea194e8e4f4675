package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-commerce/console/internal/auth"
	"github.com/odyssey-commerce/console/internal/credstore"
	"github.com/odyssey-commerce/console/internal/observability"
)

// StoreFactory returns the credential store for one browser session.
type StoreFactory func(sessionID string) credstore.Store

// Sessions owns one auth.Manager per browser session. Managers idle longer
// than the TTL are closed; their credential store outlives them, so the next
// request rehydrates from cache.
type Sessions struct {
	gateway auth.Gateway
	stores  StoreFactory
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
	onEvict func(sessionID string)
}

type sessionEntry struct {
	manager  *auth.Manager
	lastSeen time.Time
}

// NewSessions constructs an empty registry.
func NewSessions(gateway auth.Gateway, stores StoreFactory, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	if stores == nil {
		stores = func(string) credstore.Store { return credstore.Noop{} }
	}
	return &Sessions{
		gateway: gateway,
		stores:  stores,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		entries: make(map[string]*sessionEntry),
	}
}

// Acquire returns the manager for sessionID, creating it on first use.
func (s *Sessions) Acquire(sessionID string) *auth.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sessionID]; ok {
		e.lastSeen = s.now()
		return e.manager
	}
	m := auth.NewManager(s.gateway, s.stores(sessionID), auth.Options{
		Logger:  s.logger.With(slog.String("session_id", sessionID)),
		Metrics: s.metrics,
	})
	s.entries[sessionID] = &sessionEntry{manager: m, lastSeen: s.now()}
	s.metrics.SetBrowserSessions(len(s.entries))
	return m
}

// OnEvict registers fn to run after the manager of a session is evicted.
// It is skipped when the session was acquired again in the meantime.
func (s *Sessions) OnEvict(fn func(sessionID string)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

// Len reports the number of live managers.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evict closes managers idle for longer than the TTL and returns how many
// were removed.
func (s *Sessions) Evict() int {
	cutoff := s.now().Add(-s.ttl)
	idle := make(map[string]*auth.Manager)
	s.mu.Lock()
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			idle[id] = e.manager
			delete(s.entries, id)
		}
	}
	s.metrics.SetBrowserSessions(len(s.entries))
	s.mu.Unlock()

	for _, m := range idle {
		m.Close()
	}
	s.mu.Lock()
	if s.onEvict != nil {
		for id := range idle {
			if _, back := s.entries[id]; !back {
				s.onEvict(id)
			}
		}
	}
	s.mu.Unlock()
	if len(idle) > 0 {
		s.logger.Debug("evicted idle sessions", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// Run evicts idle managers every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}

// Close shuts down every manager.
func (s *Sessions) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*sessionEntry)
	s.metrics.SetBrowserSessions(0)
	s.mu.Unlock()
	for _, e := range entries {
		e.manager.Close()
	}
}
