package auth

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/odyssey-commerce/console/internal/credstore"
	"github.com/odyssey-commerce/console/internal/rbac"
)

// envelope is the reconstructable slice of Session kept for fast restarts.
type envelope struct {
	User              *User             `json:"user"`
	IsAuthenticated   bool              `json:"isAuthenticated"`
	Permissions       []rbac.Permission `json:"permissions"`
	PermissionsLoaded bool              `json:"permissionsLoaded"`
}

type cached struct {
	tokens   Tokens
	user     *User
	envelope *envelope
}

// readCache loads everything the store holds. Unreadable entries are absent.
func (m *Manager) readCache(ctx context.Context) cached {
	var c cached
	c.tokens.Access, _ = m.store.Get(ctx, credstore.KeyAccessToken)
	c.tokens.Refresh, _ = m.store.Get(ctx, credstore.KeyRefreshToken)
	if raw, ok := m.store.Get(ctx, credstore.KeyUser); ok {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			m.logger.Warn("discard cached user", slog.Any("error", err))
		} else if u.ID != 0 {
			u = u.normalized()
			c.user = &u
		}
	}
	if raw, ok := m.store.Get(ctx, credstore.KeyEnvelope); ok {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			m.logger.Warn("discard cached session", slog.Any("error", err))
		} else {
			c.envelope = &env
		}
	}
	return c
}

// persistSession writes tokens, user and envelope for s. Failures are logged
// and otherwise ignored.
func (m *Manager) persistSession(ctx context.Context, s *Session) {
	m.storeSet(ctx, credstore.KeyAccessToken, s.Tokens.Access)
	if s.Tokens.Refresh != "" {
		m.storeSet(ctx, credstore.KeyRefreshToken, s.Tokens.Refresh)
	} else if err := m.store.Remove(ctx, credstore.KeyRefreshToken); err != nil {
		m.logger.Warn("drop stale refresh token", slog.Any("error", err))
	}
	if s.User != nil {
		if data, err := json.Marshal(s.User); err == nil {
			m.storeSet(ctx, credstore.KeyUser, string(data))
		}
	}
	m.persistEnvelope(ctx, s)
}

func (m *Manager) persistEnvelope(ctx context.Context, s *Session) {
	data, err := json.Marshal(envelope{
		User:              s.User,
		IsAuthenticated:   s.IsAuthenticated,
		Permissions:       s.Permissions,
		PermissionsLoaded: s.PermissionsLoaded,
	})
	if err != nil {
		m.logger.Warn("encode session envelope", slog.Any("error", err))
		return
	}
	m.storeSet(ctx, credstore.KeyEnvelope, string(data))
}

func (m *Manager) clearCache(ctx context.Context) {
	if err := credstore.Clear(ctx, m.store); err != nil {
		m.logger.Warn("clear credential store", slog.Any("error", err))
	}
}

func (m *Manager) storeSet(ctx context.Context, key, value string) {
	if err := m.store.Set(ctx, key, value); err != nil {
		m.logger.Warn("persist credential", slog.String("key", key), slog.Any("error", err))
	}
}
